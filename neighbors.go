package dadac

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Neighbors holds the k nearest neighbors of every point. Each point has
// k+1 entries: rank 0 is the point itself at distance 0, ranks 1..k are
// sorted ascending by (squared distance, index).
type Neighbors struct {
	n, k int
	// idx[i*(k+1)+r] is the index of the r-th neighbor of point i.
	idx []int
	// dist2[i*(k+1)+r] is its squared Euclidean distance.
	dist2 []float64
}

// N returns the number of points.
func (nb *Neighbors) N() int { return nb.n }

// K returns the number of non-self neighbors per point.
func (nb *Neighbors) K() int { return nb.k }

// Index returns the index of the r-th neighbor of point i (r = 0 is i).
func (nb *Neighbors) Index(i, r int) int { return nb.idx[i*(nb.k+1)+r] }

// Dist2 returns the squared distance to the r-th neighbor of point i.
func (nb *Neighbors) Dist2(i, r int) float64 { return nb.dist2[i*(nb.k+1)+r] }

// Row returns the neighbor indices and squared distances of point i,
// self included. The slices alias internal storage and must not be modified.
func (nb *Neighbors) Row(i int) (idx []int, dist2 []float64) {
	stride := nb.k + 1
	return nb.idx[i*stride : (i+1)*stride], nb.dist2[i*stride : (i+1)*stride]
}

// within reports whether j is among the first r non-self neighbors of i.
func (nb *Neighbors) within(i, j, r int) bool {
	base := i * (nb.k + 1)
	for q := 1; q <= r; q++ {
		if nb.idx[base+q] == j {
			return true
		}
	}
	return false
}

// validateInput checks the shape of flat row-major data.
func validateInput[F Float](data []F, n, dims int) error {
	if n < 2 || dims < 1 {
		return errors.Wrapf(ErrMalformedInput, "need n >= 2 and dims >= 1, got n=%d dims=%d", n, dims)
	}
	if len(data) != n*dims {
		return errors.Wrapf(ErrMalformedInput, "data length %d does not match n*dims = %d (n=%d, dims=%d)", len(data), n*dims, n, dims)
	}
	return nil
}

// SearchNeighbors computes the k nearest neighbors of every point of flat
// row-major data (n rows, dims columns) by squared Euclidean distance.
// Per-point work runs on up to cfg.Workers goroutines; ctx is checked
// before every point.
func SearchNeighbors[F Float](ctx context.Context, data []F, n, dims, k int, cfg Config) (*Neighbors, error) {
	cfg, err := prepareConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := validateInput(data, n, dims); err != nil {
		return nil, err
	}
	if k < 1 || k >= n {
		return nil, invalidNeighborCount(k, n)
	}

	algo, err := selectSearch(cfg.Search, dims)
	if err != nil {
		return nil, err
	}

	nb := &Neighbors{
		n:     n,
		k:     k,
		idx:   make([]int, n*(k+1)),
		dist2: make([]float64, n*(k+1)),
	}

	var tree *KDTree[F]
	if algo == SearchKDTree {
		tree = NewKDTree(data, n, dims, cfg.LeafSize)
	}

	err = parallelFor(ctx, n, cfg.Workers, func(ctx context.Context, start, end int) error {
		h := NewNeighborHeap(k)
		dist := newSqDist[F](dims)
		sorted := make([]Candidate, 0, k)
		for i := start; i < end; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			h.Reset()
			if tree != nil {
				tree.queryKNN(i, h, dist)
			} else {
				scanAll(data, n, dims, i, h, dist)
			}
			sorted = h.ExtractSorted(sorted[:0])
			nb.store(i, sorted)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "dadac: neighbor search")
	}
	return nb, nil
}

// scanAll offers every point except self to h.
func scanAll[F Float](data []F, n, dims, self int, h *NeighborHeap, dist sqDistFunc[F]) {
	query := row(data, dims, self)
	for j := 0; j < n; j++ {
		if j == self {
			continue
		}
		h.Offer(dist(query, row(data, dims, j)), j)
	}
}

// store writes the self entry followed by the sorted candidates into the
// row of point i.
func (nb *Neighbors) store(i int, sorted []Candidate) {
	base := i * (nb.k + 1)
	nb.idx[base] = i
	nb.dist2[base] = 0
	for r, c := range sorted {
		nb.idx[base+1+r] = c.Index
		nb.dist2[base+1+r] = c.Dist2
	}
}
