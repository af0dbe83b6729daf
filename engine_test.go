package dadac

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestEngine(t *testing.T, seed int64) *Engine[float64] {
	t.Helper()
	data, n, dims := gaussianBlobs(seed, 50, []float64{0, 0}, []float64{20, 0})
	e, err := New(data, n, dims, testConfig(2))
	require.NoError(t, err)
	return e
}

func TestEngine_SequencingErrors(t *testing.T) {
	ctx := t.Context()
	e := newTestEngine(t, 81)

	_, err := e.EstimateDimension()
	assert.ErrorIs(t, err, ErrNeighborsNotComputed)
	assert.ErrorIs(t, e.ComputeDensity(ctx), ErrNeighborsNotComputed)
	assert.ErrorIs(t, e.ComputeCorrection(2), ErrDensityNotComputed)
	assert.ErrorIs(t, e.ClusterPeaks(), ErrDensityNotComputed)
	assert.ErrorIs(t, e.AllocateClusters(BorderAuto), ErrPeaksNotFound)
	assert.ErrorIs(t, e.BuildBorders(), ErrClustersNotAllocated)
	assert.ErrorIs(t, e.MergeAndHalo(2, true), ErrDensityNotComputed)
	assert.ErrorIs(t, e.Cluster(ctx, 2, true, BorderAuto), ErrNeighborsNotComputed)
	_, err = e.Result()
	assert.ErrorIs(t, err, ErrBordersNotBuilt)
	assert.Nil(t, e.Labels())

	require.NoError(t, e.SearchNeighbors(ctx, 10))
	assert.ErrorIs(t, e.ComputeDensity(ctx), ErrDimensionNotEstimated)

	_, err = e.EstimateDimension()
	require.NoError(t, err)
	require.NoError(t, e.ComputeDensity(ctx))
	assert.ErrorIs(t, e.ClusterPeaks(), ErrCorrectionNotApplied)

	require.NoError(t, e.ComputeCorrection(2))
	require.NoError(t, e.ClusterPeaks())
	require.NoError(t, e.AllocateClusters(BorderDense))
	assert.ErrorIs(t, e.MergeAndHalo(2, true), ErrBordersNotBuilt)

	require.NoError(t, e.BuildBorders())
	require.NoError(t, e.MergeAndHalo(2, true))
	assert.ErrorIs(t, e.MergeAndHalo(2, true), ErrBordersNotBuilt, "merging consumes the borders")

	require.NoError(t, e.BuildBorders())
	require.NoError(t, e.MergeAndHalo(2, true))
}

func TestEngine_StagesMatchCluster(t *testing.T) {
	ctx := t.Context()
	staged := newTestEngine(t, 82)
	require.NoError(t, staged.SearchNeighbors(ctx, 10))
	_, err := staged.EstimateDimension()
	require.NoError(t, err)
	require.NoError(t, staged.ComputeDensity(ctx))
	require.NoError(t, staged.ComputeCorrection(2))
	require.NoError(t, staged.ClusterPeaks())
	require.NoError(t, staged.AllocateClusters(BorderSparse))
	require.NoError(t, staged.BuildBorders())
	require.NoError(t, staged.MergeAndHalo(2, true))

	oneShot := newTestEngine(t, 82)
	require.NoError(t, oneShot.SearchNeighbors(ctx, 10))
	require.NoError(t, oneShot.Cluster(ctx, 2, true, BorderSparse))

	a, err := staged.Result()
	require.NoError(t, err)
	b, err := oneShot.Result()
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 2, a.NumClusters())
}

func TestEngine_ReclusterWithNewZ(t *testing.T) {
	ctx := t.Context()
	e := newTestEngine(t, 83)
	require.NoError(t, e.SearchNeighbors(ctx, 10))
	require.NoError(t, e.Cluster(ctx, 2, false, BorderAuto))
	first := e.Labels()
	dens := e.Density()

	require.NoError(t, e.Cluster(ctx, 0.01, false, BorderAuto))
	again := e.Density()
	assert.Equal(t, dens.Kstar, again.Kstar, "re-clustering reuses the density")
	assert.Equal(t, dens.LogRho, again.LogRho)
	assert.Equal(t, 2.0, dens.Z, "earlier snapshots do not follow the correction")
	assert.Equal(t, 0.01, again.Z)
	res, err := e.Result()
	require.NoError(t, err)
	assert.Equal(t, 0.01, res.Z)

	require.NoError(t, e.Cluster(ctx, 2, false, BorderAuto))
	assert.True(t, labelsEquivalent(first, e.Labels()), "same Z gives the same partition")
}

func TestEngine_FailedStageKeepsState(t *testing.T) {
	ctx := t.Context()
	e := newTestEngine(t, 84)
	require.NoError(t, e.SearchNeighbors(ctx, 10))
	require.NoError(t, e.Cluster(ctx, 2, true, BorderAuto))
	nb := e.Neighbors()
	labels := e.Labels()
	id, ok := e.Dimension()
	require.True(t, ok)

	require.ErrorIs(t, e.SearchNeighbors(ctx, 0), ErrInvalidNeighborCount)
	require.ErrorIs(t, e.SearchNeighbors(ctx, e.N()), ErrInvalidNeighborCount)
	require.ErrorIs(t, e.ComputeCorrection(0), ErrInvalidZ)
	require.ErrorIs(t, e.MergeAndHalo(-1, true), ErrBordersNotBuilt)
	require.ErrorIs(t, e.Cluster(ctx, -1, true, BorderAuto), ErrInvalidZ)
	require.ErrorIs(t, e.Cluster(ctx, 2, true, "hybrid"), ErrInvalidConfig)
	require.ErrorIs(t, e.AllocateClusters("hybrid"), ErrInvalidConfig)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(t, e.SearchNeighbors(cancelled, 5), context.Canceled)

	assert.Same(t, nb, e.Neighbors())
	assert.Equal(t, labels, e.Labels())
	got, ok := e.Dimension()
	assert.True(t, ok)
	assert.Equal(t, id, got)
	_, err := e.Result()
	assert.NoError(t, err)
}

func TestEngine_NewNeighborsInvalidateLaterStages(t *testing.T) {
	ctx := t.Context()
	e := newTestEngine(t, 85)
	require.NoError(t, e.SearchNeighbors(ctx, 10))
	require.NoError(t, e.Cluster(ctx, 2, true, BorderAuto))

	require.NoError(t, e.SearchNeighbors(ctx, 8))
	assert.Nil(t, e.Density())
	assert.Nil(t, e.Labels())
	_, ok := e.Dimension()
	assert.False(t, ok)
	assert.Equal(t, 8, e.Neighbors().K())

	require.NoError(t, e.Cluster(ctx, 2, true, BorderAuto))
	assert.NotNil(t, e.Labels())
}

func TestEngine_SetDimension(t *testing.T) {
	ctx := t.Context()
	e := newTestEngine(t, 86)
	require.ErrorIs(t, e.SetDimension(2), ErrNeighborsNotComputed)
	require.NoError(t, e.SearchNeighbors(ctx, 10))
	require.ErrorIs(t, e.SetDimension(0), ErrInvalidConfig)
	require.ErrorIs(t, e.SetDimension(math.Inf(1)), ErrInvalidConfig)
	require.ErrorIs(t, e.SetDimension(math.NaN()), ErrInvalidConfig)
	require.NoError(t, e.SetDimension(2))
	require.NoError(t, e.ComputeDensity(ctx))
	assert.Equal(t, 2.0, e.Density().ID)
}

func TestEngine_CopiesInput(t *testing.T) {
	data, n, dims := gaussianBlobs(87, 50, []float64{0, 0}, []float64{20, 0})
	e, err := New(data, n, dims, testConfig(1))
	require.NoError(t, err)
	for i := range data {
		data[i] = 0
	}
	require.NoError(t, e.SearchNeighbors(t.Context(), 10))
	require.NoError(t, e.Cluster(t.Context(), 2, false, BorderAuto))
	res, err := e.Result()
	require.NoError(t, err)
	assert.Equal(t, 2, res.NumClusters())
}

func TestEngine_PointAndRelease(t *testing.T) {
	ctx := t.Context()
	e := newTestEngine(t, 88)
	_, err := e.Point(0)
	require.ErrorIs(t, err, ErrBordersNotBuilt)

	require.NoError(t, e.SearchNeighbors(ctx, 10))
	require.NoError(t, e.Cluster(ctx, 2, false, BorderAuto))
	res, err := e.Result()
	require.NoError(t, err)

	for _, i := range []int{0, 17, 99} {
		p, err := e.Point(i)
		require.NoError(t, err)
		assert.Equal(t, res.Labels[i], p.Cluster)
		assert.Equal(t, res.Kstar[i], p.Kstar)
		assert.Equal(t, res.LogRho[i], p.LogRho)
		assert.Equal(t, res.LogRhoC[i], p.LogRhoC)
		assert.Equal(t, res.IsCenter[i], p.IsCenter)
	}
	_, err = e.Point(-1)
	require.ErrorIs(t, err, ErrMalformedInput)
	_, err = e.Point(e.N())
	require.ErrorIs(t, err, ErrMalformedInput)

	e.Release()
	assert.Nil(t, e.Neighbors())
	_, err = e.Result()
	require.ErrorIs(t, err, ErrBordersNotBuilt)
	assert.ErrorIs(t, e.Cluster(ctx, 2, false, BorderAuto), ErrNeighborsNotComputed)
	assert.Equal(t, 2, e.Dims(), "release keeps the input")
}

func TestEngine_ResultIsSnapshot(t *testing.T) {
	ctx := t.Context()
	e := newTestEngine(t, 89)
	require.NoError(t, e.SearchNeighbors(ctx, 10))
	require.NoError(t, e.Cluster(ctx, 2, false, BorderAuto))
	res, err := e.Result()
	require.NoError(t, err)
	res.Labels[0] = 42
	assert.NotEqual(t, 42, e.Labels()[0])
}

func TestEngine_Float32(t *testing.T) {
	data, n, dims := gaussianBlobs(90, 50, []float64{0, 0}, []float64{20, 0})
	e, err := New(toFloat32(data), n, dims, testConfig(2))
	require.NoError(t, err)
	require.NoError(t, e.SearchNeighbors(t.Context(), 10))
	require.NoError(t, e.Cluster(t.Context(), 2, true, BorderAuto))
	res, err := e.Result()
	require.NoError(t, err)
	assert.Equal(t, 2, res.NumClusters())
}

func TestEngine_ConcurrentCallsSerialise(t *testing.T) {
	ctx := t.Context()
	e := newTestEngine(t, 91)
	require.NoError(t, e.SearchNeighbors(ctx, 10))
	require.NoError(t, e.Cluster(ctx, 2, false, BorderAuto))
	want := e.Labels()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for g := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[g] = e.Cluster(ctx, 2, false, BorderAuto)
			_ = e.Labels()
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, want, e.Labels())
}

func TestEngine_Logging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	data, n, dims := gaussianBlobs(92, 50, []float64{0, 0}, []float64{20, 0})
	cfg := testConfig(1)
	cfg.Logger = zap.New(core)
	e, err := New(data, n, dims, cfg)
	require.NoError(t, err)
	require.NoError(t, e.SearchNeighbors(t.Context(), 10))
	require.NoError(t, e.Cluster(t.Context(), 2, false, BorderAuto))

	for _, msg := range []string{"neighbors computed", "intrinsic dimension estimated", "density computed", "peaks found", "borders built", "clusters merged"} {
		assert.Equal(t, 1, logs.FilterMessage(msg).Len(), msg)
	}
	done := logs.FilterMessage("clustering complete").All()
	require.Len(t, done, 1)
	assert.Equal(t, zapcore.InfoLevel, done[0].Level)
	fields := done[0].ContextMap()
	assert.EqualValues(t, 2, fields["clusters"])
	assert.EqualValues(t, 100, fields["n"])
}

func TestNewFromRows(t *testing.T) {
	_, err := NewFromRows[float64](nil, DefaultConfig())
	require.ErrorIs(t, err, ErrMalformedInput)
	_, err = NewFromRows([][]float64{{1, 2}, {3}}, DefaultConfig())
	require.ErrorIs(t, err, ErrMalformedInput)
	_, err = NewFromRows([][]float64{{1, 2}}, DefaultConfig())
	require.ErrorIs(t, err, ErrMalformedInput, "a single point cannot be clustered")

	e, err := NewFromRows([][]float64{{1, 2}, {3, 4}, {5, 6}}, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 3, e.N())
	assert.Equal(t, 2, e.Dims())

	_, err = New([]float64{1, 2, 3}, 2, 2, Config{Search: "bogus"})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEngine_DensityIsSnapshot(t *testing.T) {
	ctx := t.Context()
	e := newTestEngine(t, 93)
	require.NoError(t, e.SearchNeighbors(ctx, 10))
	require.NoError(t, e.Cluster(ctx, 2, false, BorderAuto))

	d := e.Density()
	logRhoC := append([]float64(nil), d.LogRhoC...)
	d.Kstar[0] = -1
	require.NoError(t, e.ComputeCorrection(0.5))

	assert.Equal(t, logRhoC, d.LogRhoC)
	assert.Equal(t, 2.0, d.Z)
	assert.NotEqual(t, -1, e.Density().Kstar[0])
}

func TestEngine_ClusterCancelled(t *testing.T) {
	ctx := t.Context()
	e := newTestEngine(t, 94)
	require.NoError(t, e.SearchNeighbors(ctx, 10))
	require.NoError(t, e.Cluster(ctx, 2, false, BorderAuto))
	labels := e.Labels()

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(t, e.Cluster(cancelled, 0.5, false, BorderAuto), context.Canceled)
	assert.Equal(t, labels, e.Labels())
	assert.Equal(t, 2.0, e.Density().Z)
}
