package featureflag

type Flag string

const (
	// Ignores the view-angle configuration of every source.
	FlagDisableViewAngle Flag = "DISABLE_VIEW_ANGLE"

	// Hides cells as soon as they lose their last source instead of spreading
	// the work over several frames.
	FlagDisableDeactivationQueue Flag = "DISABLE_DEACTIVATION_QUEUE"

	// Stops source cell changes from triggering a classification. Cells are
	// then only classified on the configured interval or when the grid
	// topology changes.
	FlagDisableMovementReclassify Flag = "DISABLE_MOVEMENT_RECLASSIFY"
)
