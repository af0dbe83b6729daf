package dadac

import (
	"context"
	"math"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/stat/distuv"
)

// minKstarProbe is the first neighbor rank probed by the homogeneity test;
// the smallest neighborhood it can settle on is minKstarProbe-1 (or k, when
// k is smaller).
const minKstarProbe = 4

// Density holds the per-point adaptive density estimate.
type Density struct {
	// Kstar is the adaptive neighborhood size of each point, 1 <= Kstar <= k.
	Kstar []int
	// LogRho is ln(kstar) - ln(V), V the id-dimensional ball volume of
	// radius equal to the distance to the kstar-th neighbor.
	LogRho []float64
	// LogRhoErr is the standard error of LogRho, 1/sqrt(kstar).
	LogRhoErr []float64

	// LogRhoC is LogRho shifted by the global correction; nil until Correct.
	LogRhoC []float64
	// G is LogRhoC - LogRhoErr, the key points are ordered by; nil until Correct.
	G []float64

	ID float64
	Z  float64
}

// Corrected reports whether Correct has been applied.
func (d *Density) Corrected() bool { return d != nil && d.G != nil }

// logBallVolume returns ln of the volume of an id-dimensional ball with
// squared radius r2. logOmega is the log volume of the unit ball.
func logBallVolume(logOmega, id, r2 float64) float64 {
	return logOmega + 0.5*id*math.Log(r2)
}

// logUnitBall returns ln(π^(id/2) / Γ(id/2 + 1)).
func logUnitBall(id float64) float64 {
	lg, _ := math.Lgamma(0.5*id + 1)
	return 0.5*id*math.Log(math.Pi) - lg
}

// homogeneityStat is the likelihood-ratio statistic for two shells of the
// same neighbor count ksel and log volumes lvi, lvj being drawn from one
// Poisson intensity: -2·ksel·ln(4·vi·vj / (vi+vj)²).
func homogeneityStat(ksel int, lvi, lvj float64) float64 {
	if math.IsInf(lvi, -1) && math.IsInf(lvj, -1) {
		return 0 // both shells collapsed onto duplicates
	}
	if math.IsInf(lvi, -1) || math.IsInf(lvj, -1) {
		return math.Inf(1)
	}
	// ln(4x/(1+x)²) with x = vj/vi, written in t = ln x to stay finite.
	t := lvj - lvi
	ratio := math.Ln2*2 + t - 2*softplus(t)
	return -2 * float64(ksel) * ratio
}

// softplus returns ln(1 + e^t) without overflow.
func softplus(t float64) float64 {
	if t > 0 {
		return t + math.Log1p(math.Exp(-t))
	}
	return math.Log1p(math.Exp(t))
}

// ComputeDensity estimates the adaptive kstar-NN log density of every point
// using id as the dimension of the ball volume. Per-point work runs on up to
// cfg.Workers goroutines.
func ComputeDensity(ctx context.Context, nb *Neighbors, id float64, cfg Config) (*Density, error) {
	if nb == nil {
		return nil, ErrNeighborsNotComputed
	}
	if !(id > 0) || math.IsInf(id, 0) {
		return nil, errors.Wrapf(ErrDimensionNotEstimated, "id=%v", id)
	}
	cfg, err := prepareConfig(cfg)
	if err != nil {
		return nil, err
	}

	threshold := distuv.ChiSquared{K: 1}.Quantile(1 - cfg.KstarPValue)
	logOmega := logUnitBall(id)
	n := nb.n

	d := &Density{
		Kstar:     make([]int, n),
		LogRho:    make([]float64, n),
		LogRhoErr: make([]float64, n),
		ID:        id,
	}

	err = parallelFor(ctx, n, cfg.Workers, func(ctx context.Context, start, end int) error {
		for i := start; i < end; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			ks := selectKstar(nb, i, id, logOmega, threshold)
			d.Kstar[i] = ks
			d.LogRho[i] = math.Log(float64(ks)) - logBallVolume(logOmega, id, nb.Dist2(i, ks))
			d.LogRhoErr[i] = 1 / math.Sqrt(float64(ks))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "dadac: density")
	}
	return d, nil
}

// selectKstar grows the neighborhood of point i while the density seen from
// i and from its next neighbor stay statistically consistent. It stops at
// the neighbor count whose comparison first rejects homogeneity, or at k
// when the list runs out.
func selectKstar(nb *Neighbors, i int, id, logOmega, threshold float64) int {
	k := nb.k
	for j := minKstarProbe; j <= k; j++ {
		ksel := j - 1
		lvi := logBallVolume(logOmega, id, nb.Dist2(i, ksel))
		jj := nb.Index(i, j)
		lvj := logBallVolume(logOmega, id, nb.Dist2(jj, ksel))
		if homogeneityStat(ksel, lvi, lvj) >= threshold {
			return ksel
		}
	}
	return k
}

// Correct applies the global finite-sample correction for significance z:
// every log density is shifted so that the smallest lower confidence bound
// LogRho - z·LogRhoErr maps to 1. It sets LogRhoC and G and may be called
// again with another z.
func (d *Density) Correct(z float64) error {
	if d == nil {
		return ErrDensityNotComputed
	}
	if !(z > 0) || math.IsInf(z, 0) {
		return invalidZ(z)
	}

	minLow := math.Inf(1)
	for i, lr := range d.LogRho {
		if low := lr - z*d.LogRhoErr[i]; low < minLow {
			minLow = low
		}
	}

	logRhoC := make([]float64, len(d.LogRho))
	g := make([]float64, len(d.LogRho))
	for i, lr := range d.LogRho {
		logRhoC[i] = lr - minLow + 1
		g[i] = logRhoC[i] - d.LogRhoErr[i]
	}
	d.LogRhoC, d.G, d.Z = logRhoC, g, z
	return nil
}

func (d *Density) clone() *Density {
	if d == nil {
		return nil
	}
	c := *d
	c.Kstar = append([]int(nil), d.Kstar...)
	c.LogRho = append([]float64(nil), d.LogRho...)
	c.LogRhoErr = append([]float64(nil), d.LogRhoErr...)
	if d.Corrected() {
		c.LogRhoC = append([]float64(nil), d.LogRhoC...)
		c.G = append([]float64(nil), d.G...)
	}
	return &c
}

// denser reports whether point a ranks above point b: higher G first,
// lower index on ties.
func (d *Density) denser(a, b int) bool {
	if d.G[a] != d.G[b] {
		return d.G[a] > d.G[b]
	}
	return a < b
}
