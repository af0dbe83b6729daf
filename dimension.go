package dadac

import (
	"math"
	"sort"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/stat"
)

// EstimateDimension returns the TWO-NN intrinsic dimension estimate.
//
// For every point with a non-zero first-neighbor distance, μ = r2/r1 is the
// ratio of its second to first neighbor distance. Under local uniformity
// μ is Pareto distributed with shape d, so -ln(1-F(μ)) = d·ln μ. The sorted
// ratios give the empirical F; the top (1-fraction) tail is discarded and
// ln μ is regressed on -ln(1-F) through the origin. The reciprocal of that
// slope is d.
func EstimateDimension(nb *Neighbors, fraction float64) (float64, error) {
	if nb == nil {
		return 0, ErrNeighborsNotComputed
	}
	if nb.k < 2 {
		return 0, errors.WithHint(
			errors.Wrapf(ErrInvalidNeighborCount, "TWO-NN needs k >= 2, got k=%d", nb.k),
			"recompute neighbors with k >= 2",
		)
	}
	if !(fraction > 0 && fraction <= 1) {
		return 0, errors.Wrapf(ErrInvalidConfig, "fraction must be in (0, 1], got %v", fraction)
	}

	logMu := make([]float64, 0, nb.n)
	for i := 0; i < nb.n; i++ {
		r1 := nb.Dist2(i, 1)
		r2 := nb.Dist2(i, 2)
		if r1 == 0 {
			continue // coincident points carry no scale information
		}
		// Distances are squared: ln(r2/r1) = ½·ln(d2/d1).
		logMu = append(logMu, 0.5*math.Log(r2/r1))
	}
	sort.Float64s(logMu)

	total := len(logMu)
	keep := int(float64(total) * fraction)
	if keep == total {
		// F = 1 at the last ratio; -ln(0) cannot enter the fit.
		keep--
	}
	if keep < 2 {
		return 0, errors.Wrapf(ErrDegenerateData, "only %d usable TWO-NN ratios out of %d points", total, nb.n)
	}

	x := make([]float64, keep)
	for i := range x {
		x[i] = -math.Log(1 - float64(i+1)/float64(total))
	}
	_, slope := stat.LinearRegression(x, logMu[:keep], nil, true)

	id := 1 / slope
	if !(id > 0) || math.IsInf(id, 0) {
		return 0, errors.Wrapf(ErrDegenerateData, "TWO-NN fit slope %v", slope)
	}
	return id, nil
}
