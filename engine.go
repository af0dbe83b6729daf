package dadac

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// PointInfo is the per-point view of a finished clustering.
type PointInfo struct {
	Kstar     int
	Cluster   int
	LogRho    float64
	LogRhoC   float64
	LogRhoErr float64
	IsCenter  bool
}

// Engine runs the pipeline stage by stage over one in-memory dataset.
//
// Each stage requires the previous one and fails with a sequencing error
// otherwise. A stage computes into locals and only commits on success, so a
// failing call leaves earlier results untouched. Committing a stage
// invalidates every stage after it. An Engine serialises its own calls.
type Engine[F Float] struct {
	mu  sync.Mutex
	cfg Config
	log *zap.Logger

	data    []F
	n, dims int

	nb     *Neighbors
	id     float64
	hasID  bool
	dens   *Density
	peaks  *Peaks
	cs     *ClusterSet
	built  bool
	assign *Assignment
}

// New returns an Engine over a copy of flat row-major data with n rows of
// dims columns.
func New[F Float](data []F, n, dims int, cfg Config) (*Engine[F], error) {
	cfg, err := prepareConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := validateInput(data, n, dims); err != nil {
		return nil, err
	}
	owned := make([]F, len(data))
	copy(owned, data)
	return &Engine[F]{
		cfg:  cfg,
		log:  cfg.Logger.With(zap.Int("n", n), zap.Int("dims", dims)),
		data: owned,
		n:    n,
		dims: dims,
	}, nil
}

// NewFromRows returns an Engine over rows, which must all have the same
// length.
func NewFromRows[F Float](rows [][]F, cfg Config) (*Engine[F], error) {
	if len(rows) == 0 {
		return nil, errors.Wrap(ErrMalformedInput, "no rows")
	}
	dims := len(rows[0])
	flat := make([]F, 0, len(rows)*dims)
	for i, r := range rows {
		if len(r) != dims {
			return nil, errors.Wrapf(ErrMalformedInput, "row %d has %d columns, want %d", i, len(r), dims)
		}
		flat = append(flat, r...)
	}
	return New(flat, len(rows), dims, cfg)
}

// N returns the number of points.
func (e *Engine[F]) N() int { return e.n }

// Dims returns the number of features per point.
func (e *Engine[F]) Dims() int { return e.dims }

// SearchNeighbors computes the k nearest neighbors of every point. It
// replaces any previous neighbor tables and clears every later stage.
func (e *Engine[F]) SearchNeighbors(ctx context.Context, k int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.searchNeighbors(ctx, k)
}

func (e *Engine[F]) searchNeighbors(ctx context.Context, k int) error {
	start := time.Now()
	nb, err := SearchNeighbors(ctx, e.data, e.n, e.dims, k, e.cfg)
	if err != nil {
		return err
	}
	e.nb = nb
	e.hasID = false
	e.clearDensity()
	e.log.Debug("neighbors computed", zap.Int("k", k), zap.Duration("duration", time.Since(start)))
	return nil
}

// EstimateDimension runs the TWO-NN estimate on the current neighbors and
// stores the result for ComputeDensity.
func (e *Engine[F]) EstimateDimension() (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.estimateDimension()
}

func (e *Engine[F]) estimateDimension() (float64, error) {
	id, err := EstimateDimension(e.nb, e.cfg.IDFraction)
	if err != nil {
		return 0, err
	}
	e.id, e.hasID = id, true
	e.clearDensity()
	e.log.Debug("intrinsic dimension estimated", zap.Float64("id", id))
	return id, nil
}

// SetDimension overrides the intrinsic dimension used by ComputeDensity.
func (e *Engine[F]) SetDimension(id float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.nb == nil {
		return ErrNeighborsNotComputed
	}
	if !(id > 0) || math.IsInf(id, 0) {
		return errors.Wrapf(ErrInvalidConfig, "dimension must be finite and > 0, got %v", id)
	}
	e.id, e.hasID = id, true
	e.clearDensity()
	return nil
}

// ComputeDensity estimates kstar and the raw log density of every point.
func (e *Engine[F]) ComputeDensity(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.computeDensity(ctx)
}

func (e *Engine[F]) computeDensity(ctx context.Context) error {
	if e.nb == nil {
		return ErrNeighborsNotComputed
	}
	if !e.hasID {
		return ErrDimensionNotEstimated
	}
	start := time.Now()
	d, err := ComputeDensity(ctx, e.nb, e.id, e.cfg)
	if err != nil {
		return err
	}
	e.clearDensity()
	e.dens = d
	e.log.Debug("density computed", zap.Float64("id", e.id), zap.Duration("duration", time.Since(start)))
	return nil
}

// ComputeCorrection applies the global density correction for z and
// clears any clustering built on a previous correction.
func (e *Engine[F]) ComputeCorrection(z float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.computeCorrection(z)
}

func (e *Engine[F]) computeCorrection(z float64) error {
	if e.dens == nil {
		return ErrDensityNotComputed
	}
	if err := e.dens.Correct(z); err != nil {
		return err
	}
	e.clearPeaks()
	return nil
}

// ClusterPeaks runs peak detection and provisional assignment.
func (e *Engine[F]) ClusterPeaks() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clusterPeaks()
}

func (e *Engine[F]) clusterPeaks() error {
	if e.dens == nil {
		return ErrDensityNotComputed
	}
	p, err := FindPeaks(e.nb, e.dens)
	if err != nil {
		return err
	}
	e.clearPeaks()
	e.peaks = p
	e.log.Debug("peaks found", zap.Int("clusters", p.Count()))
	return nil
}

// AllocateClusters prepares the border store for the provisional clusters.
func (e *Engine[F]) AllocateClusters(mode BorderMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.allocateClusters(mode)
}

func (e *Engine[F]) allocateClusters(mode BorderMode) error {
	cs, err := AllocateClusters(e.peaks, mode, e.cfg)
	if err != nil {
		return err
	}
	e.cs, e.built, e.assign = cs, false, nil
	e.log.Debug("clusters allocated", zap.Int("clusters", cs.InitialCount()), zap.Bool("sparse", cs.Sparse()))
	return nil
}

// BuildBorders fills the border store from mutual kstar neighbors.
func (e *Engine[F]) BuildBorders() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buildBorders()
}

func (e *Engine[F]) buildBorders() error {
	if e.cs == nil {
		return ErrClustersNotAllocated
	}
	if e.built {
		return nil
	}
	// A failed build must not leave half-filled borders behind.
	cs, err := AllocateClusters(e.peaks, borderModeOf(e.cs), e.cfg)
	if err != nil {
		return err
	}
	if err := BuildBorders(cs, e.nb, e.dens); err != nil {
		return err
	}
	e.cs, e.built, e.assign = cs, true, nil
	e.log.Debug("borders built", zap.Int("borders", cs.Borders.Len()))
	return nil
}

func borderModeOf(cs *ClusterSet) BorderMode {
	if cs.Sparse() {
		return BorderSparse
	}
	return BorderDense
}

// MergeAndHalo merges non-significant borders at level z and resolves the
// final labels. It consumes the built borders: call ClusterPeaks or
// BuildBorders again before another merge.
func (e *Engine[F]) MergeAndHalo(z float64, halo bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mergeAndHalo(z, halo)
}

func (e *Engine[F]) mergeAndHalo(z float64, halo bool) error {
	if e.dens == nil || !e.dens.Corrected() {
		return ErrDensityNotComputed
	}
	if e.cs == nil || !e.built {
		return ErrBordersNotBuilt
	}
	if !(z > 0) {
		return invalidZ(z)
	}
	a, err := MergeAndHalo(e.cs, e.dens, z, halo)
	if err != nil {
		return err
	}
	e.built, e.assign = false, a
	e.log.Debug("clusters merged",
		zap.Int("clusters", len(a.Centers)),
		zap.Int("merges", a.Merges),
		zap.Bool("halo", halo))
	return nil
}

// Cluster runs every stage from the density correction on, computing the
// dimension and density first if they are missing. Neighbors must already
// be computed.
func (e *Engine[F]) Cluster(ctx context.Context, z float64, halo bool, mode BorderMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.nb == nil {
		return ErrNeighborsNotComputed
	}
	if !(z > 0) {
		return invalidZ(z)
	}
	if !validBorderMode(mode) {
		return errors.Wrapf(ErrInvalidConfig, "unknown BorderMode %q", mode)
	}

	start := time.Now()
	if !e.hasID {
		if _, err := e.estimateDimension(); err != nil {
			return err
		}
	}
	if e.dens == nil {
		if err := e.computeDensity(ctx); err != nil {
			return err
		}
	}
	steps := []func() error{
		func() error { return e.computeCorrection(z) },
		e.clusterPeaks,
		func() error { return e.allocateClusters(mode) },
		e.buildBorders,
		func() error { return e.mergeAndHalo(z, halo) },
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step(); err != nil {
			return err
		}
	}

	e.log.Info("clustering complete",
		zap.Int("k", e.nb.k),
		zap.Float64("id", e.id),
		zap.Float64("z", z),
		zap.Int("clusters", len(e.assign.Centers)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Release drops every computed stage. The input data is kept.
func (e *Engine[F]) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nb = nil
	e.hasID = false
	e.clearDensity()
}

func (e *Engine[F]) clearDensity() {
	e.dens = nil
	e.clearPeaks()
}

func (e *Engine[F]) clearPeaks() {
	e.peaks, e.cs, e.built, e.assign = nil, nil, false, nil
}

// Neighbors returns the current neighbor tables, or nil.
func (e *Engine[F]) Neighbors() *Neighbors {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nb
}

// Dimension returns the current intrinsic dimension estimate.
func (e *Engine[F]) Dimension() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id, e.hasID
}

// Density returns a copy of the current density estimate, or nil.
func (e *Engine[F]) Density() *Density {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dens.clone()
}

// Labels returns a copy of the final labels, or nil before MergeAndHalo.
func (e *Engine[F]) Labels() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.assign == nil {
		return nil
	}
	out := make([]int, len(e.assign.Labels))
	copy(out, e.assign.Labels)
	return out
}

// Result returns a snapshot of the finished clustering.
func (e *Engine[F]) Result() (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.assign == nil {
		return nil, ErrBordersNotBuilt
	}
	return newResult(e.dens, e.assign), nil
}

// Point returns the clustering of point i.
func (e *Engine[F]) Point(i int) (PointInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.assign == nil {
		return PointInfo{}, ErrBordersNotBuilt
	}
	if i < 0 || i >= e.n {
		return PointInfo{}, errors.Wrapf(ErrMalformedInput, "point %d out of range [0, %d)", i, e.n)
	}
	return PointInfo{
		Kstar:     e.dens.Kstar[i],
		Cluster:   e.assign.Labels[i],
		LogRho:    e.dens.LogRho[i],
		LogRhoC:   e.dens.LogRhoC[i],
		LogRhoErr: e.dens.LogRhoErr[i],
		IsCenter:  e.assign.IsCenter[i],
	}, nil
}
