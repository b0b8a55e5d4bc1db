package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/quicklod/featureflag"
	lodhttp "github.com/aukilabs/quicklod/http"
	"github.com/aukilabs/quicklod/lod"
	"github.com/aukilabs/quicklod/recorder"
	"github.com/aukilabs/quicklod/sim"
	"github.com/aukilabs/quicklod/smoketest"
	lodwebsocket "github.com/aukilabs/quicklod/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// The QuickLod version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "quicklod_info",
		Help:        "QuickLod information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string          `cli:""        env:"QUICKLOD_ADDR"                 help:"Listening address for viewer connections."`
	AdminAddr          string          `cli:""        env:"QUICKLOD_ADMIN_ADDR"           help:"Admin listening address."`
	PublicEndpoint     string          `cli:""        env:"QUICKLOD_PUBLIC_ENDPOINT"      help:"The public endpoint where this server is reachable."`
	LogLevel           string          `cli:""        env:"QUICKLOD_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent          bool            `cli:""        env:"QUICKLOD_LOG_INDENT"           help:"Indent logs."`
	RecordFile         string          `cli:""        env:"QUICKLOD_RECORD_FILE"          help:"SQLite file where tick statistics are recorded. Empty disables recording."`
	RecordInterval     int             `cli:",hidden" env:"QUICKLOD_RECORD_INTERVAL"      help:"The number of frames between two recorded ticks."`
	ClientIdleTimeout  time.Duration   `cli:",hidden" env:"QUICKLOD_CLIENT_IDLE_TIMEOUT"  help:"Time until an idle viewer will be disconnected."`
	FrameDuration      time.Duration   `cli:",hidden" env:"QUICKLOD_FRAME_DURATION"       help:"The duration of a simulation frame."`
	FrameStride        int             `cli:",hidden" env:"QUICKLOD_FRAME_STRIDE"         help:"Only every n-th frame is streamed to viewers."`
	LogSummaryInterval time.Duration   `cli:",hidden" env:"QUICKLOD_LOG_SUMMARY_INTERVAL" help:"The duration between each log summary by connection."`
	Scheduler          schedulerConfig `cli:",hidden" env:"-"                             help:"Scheduler configuration."`
	World              worldConfig     `cli:",hidden" env:"-"                             help:"Simulated world configuration."`
	Events             eventsConfig    `cli:",hidden" env:"-"                             help:"Event pusher configuration."`
	FeatureFlags       []string        `cli:",hidden" env:"QUICKLOD_FEATURE_FLAGS"        help:"Comma separated feature flags."`
	Version            bool            `cli:""        env:"-"                             help:"Show version."`
	Help               bool            `cli:""        env:"-"                             help:"Show help."`
}

type schedulerConfig struct {
	Name                     string  `cli:",hidden" env:"QUICKLOD_SCHEDULER_NAME"                help:"The scheduler name used in logs and metrics."`
	GridExtent               float64 `cli:",hidden" env:"QUICKLOD_GRID_EXTENT"                   help:"The size of the grid on every axis."`
	CellSize                 float64 `cli:",hidden" env:"QUICKLOD_CELL_SIZE"                     help:"The size of a cell on every axis."`
	ClampToGrid              bool    `cli:",hidden" env:"QUICKLOD_CLAMP_TO_GRID"                 help:"Put objects outside the grid in the nearest edge cell."`
	TierCount                int     `cli:",hidden" env:"QUICKLOD_TIER_COUNT"                    help:"The number of priority tiers."`
	UpdatesPerFrame          int     `cli:",hidden" env:"QUICKLOD_UPDATES_PER_FRAME"             help:"The object update budget of a frame."`
	ClassifyInterval         int     `cli:",hidden" env:"QUICKLOD_CLASSIFY_INTERVAL"             help:"The number of frames between two classifications."`
	ObjectCheckInterval      int     `cli:",hidden" env:"QUICKLOD_OBJECT_CHECK_INTERVAL"         help:"The number of frames between two checks of moved objects."`
	MaxDeactivationsPerFrame int     `cli:",hidden" env:"QUICKLOD_MAX_DEACTIVATIONS_PER_FRAME"   help:"The maximum number of cells hidden per frame."`
}

type worldConfig struct {
	Seed              uint64   `cli:",hidden" env:"QUICKLOD_WORLD_SEED"               help:"The seed of the simulated world."`
	ObjectCount       int      `cli:",hidden" env:"QUICKLOD_WORLD_OBJECT_COUNT"       help:"The number of simulated objects."`
	StaticShare       float64  `cli:",hidden" env:"QUICKLOD_WORLD_STATIC_SHARE"       help:"The share of objects that never move."`
	RelocateRate      float64  `cli:",hidden" env:"QUICKLOD_WORLD_RELOCATE_RATE"      help:"The probability per frame that a static object is relocated."`
	WalkSpeed         float64  `cli:",hidden" env:"QUICKLOD_WORLD_WALK_SPEED"         help:"The distance moving objects travel per frame."`
	SourceCount       int      `cli:",hidden" env:"QUICKLOD_WORLD_SOURCE_COUNT"       help:"The number of simulated sources."`
	OrbitSpeed        float64  `cli:",hidden" env:"QUICKLOD_WORLD_ORBIT_SPEED"        help:"The angle in radians sources travel per frame."`
	MaxUpdateDistance float64  `cli:",hidden" env:"QUICKLOD_SOURCE_MAX_DISTANCE"      help:"The distance beyond which objects are hidden."`
	TierDistances     []string `cli:",hidden" env:"QUICKLOD_SOURCE_TIER_DISTANCES"    help:"Comma separated tier distance thresholds."`
	ViewAngleMode     string   `cli:",hidden" env:"QUICKLOD_SOURCE_VIEW_ANGLE_MODE"   help:"View angle mode (none|hard|hard-border|smooth)."`
	ViewAngleMargin   float64  `cli:",hidden" env:"QUICKLOD_SOURCE_VIEW_ANGLE_MARGIN" help:"The view angle margin in degrees."`
	ViewAngleBorder   float64  `cli:",hidden" env:"QUICKLOD_SOURCE_VIEW_ANGLE_BORDER" help:"The view angle border in degrees."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"QUICKLOD_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed. Empty disables pushing."`
	FlushInterval time.Duration `cli:",hidden" env:"QUICKLOD_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"QUICKLOD_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"QUICKLOD_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:               ":4100",
		AdminAddr:          ":18191",
		PublicEndpoint:     "http://localhost:4100",
		LogLevel:           logs.InfoLevel.String(),
		RecordInterval:     10,
		ClientIdleTimeout:  time.Minute * 5,
		FrameDuration:      time.Second / 60,
		FrameStride:        6,
		LogSummaryInterval: time.Minute,
		Scheduler: schedulerConfig{
			Name:                     "quicklod",
			GridExtent:               200,
			CellSize:                 10,
			TierCount:                lod.DefaultTierCount,
			UpdatesPerFrame:          lod.DefaultUpdatesPerFrame,
			ClassifyInterval:         lod.DefaultClassifyInterval,
			ObjectCheckInterval:      lod.DefaultObjectCheckInterval,
			MaxDeactivationsPerFrame: lod.DefaultMaxDeactivationsPerFrame,
		},
		World: worldConfig{
			Seed:              1,
			ObjectCount:       sim.DefaultObjectCount,
			StaticShare:       0.3,
			RelocateRate:      0.01,
			WalkSpeed:         sim.DefaultWalkSpeed,
			SourceCount:       sim.DefaultSourceCount,
			OrbitSpeed:        sim.DefaultOrbitSpeed,
			MaxUpdateDistance: lod.DefaultMaxUpdateDistance,
			ViewAngleMode:     lod.ViewAngleNone.String(),
		},
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts a QuickLod server that streams a simulated LOD scheduler.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     metrics.HTTPTransport(http.DefaultTransport),
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "quicklod",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	schedulerConf, worldConf, err := simulationConfig(conf)
	if err != nil {
		logs.Fatal(err)
	}

	runner := &sim.Runner{
		World:          sim.NewWorld(worldConf, schedulerConf),
		FrameDuration:  conf.FrameDuration,
		RecordInterval: conf.RecordInterval,
	}

	var rec *recorder.Recorder
	if conf.RecordFile != "" {
		rec, err = recorder.Open(conf.RecordFile, schedulerConf.Name)
		if err != nil {
			logs.Fatal(err)
		}
		defer rec.Close()
		runner.Recorder = rec
	}

	var service http.ServeMux
	service.HandleFunc("/health", lodhttp.HandleHealthCheck)
	service.HandleFunc("/ready", lodhttp.HandleReadyCheck(runner.Ready))
	service.HandleFunc("/version", lodhttp.HandleVersion(version))
	service.HandleFunc("/snapshot", lodhttp.HandleSnapshot(runner.Snapshot))
	if rec != nil {
		service.HandleFunc("/summary", lodhttp.HandleSummary(rec))
	}

	service.HandleFunc("/smoke-test", smoketest.HandleSmokeTest(ctx, smoketest.Options{
		Endpoint:  conf.PublicEndpoint,
		UserAgent: fmt.Sprintf("QuickLod %s", version),
		SendResult: func(ctx context.Context, res smoketest.Results) error {
			logs.WithTag("from_endpoint", res.FromEndpoint).
				WithTag("to_endpoint", res.ToEndpoint).
				WithTag("latency_ms", res.LatencyMilliSec).
				WithTag("status", res.Status).
				Info("smoke test done")
			return nil
		},
	}))

	service.Handle("/stream", websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			var h lodwebsocket.Handler = &lodwebsocket.StreamHandler{
				ClientIdleTimeout: conf.ClientIdleTimeout,
				Frames:            runner,
				FrameStride:       conf.FrameStride,
			}
			h = lodwebsocket.HandlerWithLogs(h, conf.LogSummaryInterval)
			h = lodwebsocket.HandlerWithMetrics(h, conf.PublicEndpoint)
			defer h.Close()

			lodwebsocket.Handle(ctx, conn, h)
		},
	})

	service.Handle("/ping", websocket.Server{
		Handler: func(ws *websocket.Conn) {
			defer ws.Close()
			io.Copy(ws, ws)
		},
	})

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", lodhttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", lodhttp.HandleReadyCheck(runner.Ready))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("scheduler", schedulerConf.Name).
		WithTag("feature_flags", conf.FeatureFlags).
		Info("starting quicklod server")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx); err != nil {
			logs.Fatal(errors.New("running simulation failed").Wrap(err))
		}
	}()

	lodhttp.ListenAndServe(ctx,
		lodhttp.NewServer(conf.Addr, metrics.HTTPHandler(&service, lodhttp.MetricsPathFormatter)),
		lodhttp.NewServer(conf.AdminAddr, &admin),
	)

	wg.Wait()

	if rec != nil {
		summary, err := rec.Summary(context.Background())
		if err != nil {
			logs.Warn(err)
			return
		}
		logs.WithTag("summary", summary).Info("recorded tick statistics")
	}
}

// simulationConfig maps the command-line configuration to the scheduler and
// world configurations.
func simulationConfig(conf config) (lod.Config, sim.WorldConfig, error) {
	tierDistances, err := parseDistances(conf.World.TierDistances)
	if err != nil {
		return lod.Config{}, sim.WorldConfig{}, err
	}

	extent := conf.Scheduler.GridExtent
	cellSize := conf.Scheduler.CellSize

	schedulerConf := lod.Config{
		Name: conf.Scheduler.Name,
		Grid: lod.GridConfig{
			Origin:      r3.Vec{X: -extent / 2, Y: -extent / 2, Z: -extent / 2},
			Extent:      r3.Vec{X: extent, Y: extent, Z: extent},
			CellSize:    r3.Vec{X: cellSize, Y: cellSize, Z: cellSize},
			ClampToGrid: conf.Scheduler.ClampToGrid,
		},
		TierCount:                conf.Scheduler.TierCount,
		UpdatesPerFrame:          conf.Scheduler.UpdatesPerFrame,
		ClassifyInterval:         conf.Scheduler.ClassifyInterval,
		ObjectCheckInterval:      conf.Scheduler.ObjectCheckInterval,
		MaxDeactivationsPerFrame: conf.Scheduler.MaxDeactivationsPerFrame,
		FeatureFlags:             featureflag.New(conf.FeatureFlags),
	}

	worldConf := sim.WorldConfig{
		Seed:         conf.World.Seed,
		ObjectCount:  conf.World.ObjectCount,
		StaticShare:  conf.World.StaticShare,
		RelocateRate: conf.World.RelocateRate,
		WalkSpeed:    conf.World.WalkSpeed,
		SourceCount:  conf.World.SourceCount,
		OrbitSpeed:   conf.World.OrbitSpeed,
		Source: lod.SourceConfig{
			MaxUpdateDistance: conf.World.MaxUpdateDistance,
			TierDistances:     tierDistances,
			ViewAngle: lod.ViewAngleConfig{
				Mode:   lod.ParseViewAngleMode(conf.World.ViewAngleMode),
				Margin: conf.World.ViewAngleMargin,
				Border: conf.World.ViewAngleBorder,
			},
		},
	}

	return schedulerConf, worldConf, nil
}

func parseDistances(values []string) ([]float64, error) {
	var distances []float64

	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}

		d, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errors.New("invalid tier distance").
				WithTag("value", v).
				Wrap(err)
		}
		distances = append(distances, d)
	}
	return distances, nil
}

func validateConfig(conf config) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}

	if conf.FrameDuration <= 0 {
		return errors.New("frame duration must be positive").
			WithTag("frame_duration", conf.FrameDuration)
	}

	return nil
}
