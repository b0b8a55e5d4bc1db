package websocket

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/quicklod/lod"
	"github.com/stretchr/testify/require"
)

func TestHandlerWithLogsIncCounter(t *testing.T) {
	h := HandlerWithLogs(&StreamHandler{}, time.Second).(*handlerWithLogs)
	defer h.Close()

	h.incCounter("test")
	require.Equal(t, 1, h.counter["test"])
}

func TestHandlerWithLogsLogSummary(t *testing.T) {
	testClientID := "test-client"
	h := HandlerWithLogs(&StreamHandler{clientID: testClientID}, time.Second).(*handlerWithLogs)
	defer h.Close()

	h.incCounter("test-1")
	h.incCounter("test-1")
	h.incCounter("test-2")

	var b strings.Builder
	logs.SetInlineEncoder()
	logs.SetLogger(func(e logs.Entry) {
		fmt.Fprint(&b, e)
	})

	h.logSummary()
	require.Empty(t, h.counter)

	logString := b.String()
	clientIDTag := fmt.Sprintf(`"%s":"%s"`, logs.ClientIDTag, testClientID)
	require.Contains(t, logString, `"test-1":2`)
	require.Contains(t, logString, `"test-2":1`)
	require.Contains(t, logString, clientIDTag)
	t.Log(b.String())
}

func TestHandlerWithLogsCountsSnapshots(t *testing.T) {
	h := HandlerWithLogs(&StreamHandler{clientID: "test-client"}, time.Second).(*handlerWithLogs)
	defer h.Close()

	respond := responseSender(func(Msg) {})
	require.NoError(t, h.SendSnapshot(context.Background(), respond, &lod.Snapshot{Tick: 1}))
	require.NoError(t, h.SendSnapshot(context.Background(), respond, &lod.Snapshot{Tick: 2}))
	require.Error(t, h.SendSnapshot(context.Background(), respond, nil))
	require.Equal(t, 2, h.snapshots)

	var b strings.Builder
	logs.SetInlineEncoder()
	logs.SetLogger(func(e logs.Entry) {
		fmt.Fprint(&b, e)
	})

	h.logSummary()
	require.Zero(t, h.snapshots)
	require.Contains(t, b.String(), `"snapshots_sent":2`)
}

func TestHandlerWithLogsStartSummaryWorker(t *testing.T) {
	var wg sync.WaitGroup
	var once sync.Once

	var b strings.Builder
	logs.SetInlineEncoder()
	logs.SetLogger(func(e logs.Entry) {
		fmt.Fprint(&b, e)
		once.Do(wg.Done)
	})

	wg.Add(1)
	h := HandlerWithLogs(&StreamHandler{}, time.Millisecond).(*handlerWithLogs)
	defer h.Close()

	// This is to avoid the test block since no summary is sent if no counter is
	// incremented.
	h.incCounter("test-1")

	wg.Wait()
	out := b.String()
	require.NotEmpty(t, out)
	t.Log(out)
}
