package dadac

import "github.com/cockroachdb/errors"

// ClusterSet carries the cluster-level state between the border and merge
// heuristics.
type ClusterSet struct {
	// Centers[c] is the peak point of provisional cluster c.
	Centers []int
	// Borders holds one record per pair of adjacent clusters. After
	// MergeAndHalo it only relates surviving clusters.
	Borders BorderStore

	labels []int // provisional point labels, owned
	uf     *UnionFind
	alive  int
	merged bool
}

// Count returns the number of clusters currently alive.
func (cs *ClusterSet) Count() int { return cs.alive }

// InitialCount returns the number of provisional clusters.
func (cs *ClusterSet) InitialCount() int { return len(cs.Centers) }

// Sparse reports whether the border store is the sparse representation.
func (cs *ClusterSet) Sparse() bool { return cs.Borders.Sparse() }

// Survivor returns the surviving provisional cluster that c was merged into.
func (cs *ClusterSet) Survivor(c int) int { return cs.uf.Rep(c) }

// AllocateClusters prepares an empty ClusterSet for the provisional
// clusters in p. mode picks the border representation; BorderAuto resolves
// it from the number of points and clusters.
func AllocateClusters(p *Peaks, mode BorderMode, cfg Config) (*ClusterSet, error) {
	if p == nil {
		return nil, ErrPeaksNotFound
	}
	if !validBorderMode(mode) {
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown BorderMode %q", mode)
	}
	cfg, err := prepareConfig(cfg)
	if err != nil {
		return nil, err
	}

	c := p.Count()
	labels := make([]int, len(p.Labels))
	copy(labels, p.Labels)
	centers := make([]int, c)
	copy(centers, p.Centers)

	return &ClusterSet{
		Centers: centers,
		Borders: newBorderStore(c, useSparseBorders(mode, len(labels), c, cfg)),
		labels:  labels,
		uf:      NewUnionFind(c),
		alive:   c,
	}, nil
}

// BuildBorders fills the border store. Every pair of mutual kstar
// neighbors that sit in different provisional clusters proposes the denser
// of the two as a border point; each cluster pair keeps its densest
// proposal.
func BuildBorders(cs *ClusterSet, nb *Neighbors, d *Density) error {
	if cs == nil {
		return ErrClustersNotAllocated
	}
	if nb == nil {
		return ErrNeighborsNotComputed
	}
	if d == nil {
		return ErrDensityNotComputed
	}
	if !d.Corrected() {
		return ErrCorrectionNotApplied
	}
	if len(cs.labels) != nb.n || len(d.G) != nb.n {
		return errors.Wrapf(ErrMalformedInput, "cluster set has %d points, neighbors %d, density %d", len(cs.labels), nb.n, len(d.G))
	}

	for i := 0; i < nb.n; i++ {
		ci := cs.labels[i]
		for r := 1; r <= d.Kstar[i]; r++ {
			j := nb.Index(i, r)
			// Each mutual pair is seen from both ends; handle it once.
			if j < i {
				continue
			}
			cj := cs.labels[j]
			if cj == ci || !nb.within(j, i, d.Kstar[j]) {
				continue
			}
			p := i
			if d.denser(j, i) {
				p = j
			}
			if cur, ok := cs.Borders.Get(ci, cj); ok && !d.denser(p, cur.Point) {
				continue
			}
			cs.Borders.Put(makeBorder(ci, cj, p, d.LogRhoC[p], d.LogRhoErr[p]))
		}
	}
	return nil
}
