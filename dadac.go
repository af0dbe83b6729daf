package dadac

import "context"

// Result contains the output of a density-peak clustering.
type Result struct {
	// Labels assigns each point to a cluster in [0, len(Centers)) or Halo.
	Labels []int

	// Centers[c] is the index of the peak point of cluster c. Clusters are
	// numbered by descending peak density.
	Centers []int

	// IsCenter[i] is true when point i is the peak of its cluster.
	IsCenter []bool

	// Kstar is the adaptive neighborhood size of each point.
	Kstar []int

	// LogRho is the raw log density, LogRhoC the corrected one and
	// LogRhoErr its standard error.
	LogRho    []float64
	LogRhoC   []float64
	LogRhoErr []float64

	// ID is the intrinsic dimension used for the density.
	ID float64

	// Z is the significance level used for the merge.
	Z float64

	// Borders relates the final clusters, sorted by (A, B).
	Borders []Border

	// Merges is the number of cluster merges performed.
	Merges int
}

// NumClusters returns the number of final clusters.
func (r *Result) NumClusters() int { return len(r.Centers) }

func newResult(d *Density, a *Assignment) *Result {
	return &Result{
		Labels:    append([]int(nil), a.Labels...),
		Centers:   append([]int(nil), a.Centers...),
		IsCenter:  append([]bool(nil), a.IsCenter...),
		Kstar:     append([]int(nil), d.Kstar...),
		LogRho:    append([]float64(nil), d.LogRho...),
		LogRhoC:   append([]float64(nil), d.LogRhoC...),
		LogRhoErr: append([]float64(nil), d.LogRhoErr...),
		ID:        d.ID,
		Z:         d.Z,
		Borders:   append([]Border(nil), a.Borders...),
		Merges:    a.Merges,
	}
}

// Cluster runs the whole pipeline on rows with k neighbors and
// significance z. With halo set, points below every border of their cluster
// are labelled Halo. The border store representation is chosen
// automatically.
func Cluster[F Float](ctx context.Context, rows [][]F, k int, z float64, halo bool, cfg Config) (*Result, error) {
	e, err := NewFromRows(rows, cfg)
	if err != nil {
		return nil, err
	}
	if !(z > 0) {
		return nil, invalidZ(z)
	}
	if err := e.SearchNeighbors(ctx, k); err != nil {
		return nil, err
	}
	if err := e.Cluster(ctx, z, halo, BorderAuto); err != nil {
		return nil, err
	}
	return e.Result()
}
