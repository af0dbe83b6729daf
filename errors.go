package dadac

import "github.com/cockroachdb/errors"

// Sequencing errors: a stage was invoked before the stage it depends on.
// Callers recover by running the missing stage first.
var (
	ErrNeighborsNotComputed  = errors.New("dadac: neighbors not computed")
	ErrDimensionNotEstimated = errors.New("dadac: intrinsic dimension not estimated")
	ErrDensityNotComputed    = errors.New("dadac: density not computed")
	ErrCorrectionNotApplied  = errors.New("dadac: density correction not applied")
	ErrPeaksNotFound         = errors.New("dadac: peaks not computed")
	ErrClustersNotAllocated  = errors.New("dadac: clusters not allocated")
	ErrBordersNotBuilt       = errors.New("dadac: borders not built")
)

// Parameter errors. They are reported before any state is touched.
var (
	ErrInvalidNeighborCount = errors.New("dadac: invalid neighbor count")
	ErrInvalidZ             = errors.New("dadac: invalid Z")
	ErrMalformedInput       = errors.New("dadac: malformed input")
	ErrInvalidConfig        = errors.New("dadac: invalid config")
)

// ErrDegenerateData is returned when the data cannot support an estimate,
// e.g. every point has a coincident nearest neighbor.
var ErrDegenerateData = errors.New("dadac: degenerate data")

func invalidNeighborCount(k, n int) error {
	return errors.WithHint(
		errors.Wrapf(ErrInvalidNeighborCount, "k=%d, n=%d", k, n),
		"k must satisfy 1 <= k < n",
	)
}

func invalidZ(z float64) error {
	return errors.WithHint(
		errors.Wrapf(ErrInvalidZ, "z=%v", z),
		"Z is a number of standard errors and must be > 0",
	)
}
