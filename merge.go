package dadac

import (
	"container/heap"
	"math"
)

// Halo labels points that fail the halo test.
const Halo = -1

// Assignment is the final clustering produced by MergeAndHalo.
type Assignment struct {
	// Labels[i] is the cluster of point i in [0, len(Centers)), or Halo.
	Labels []int
	// Centers[c] is the peak point of final cluster c. Clusters are numbered
	// by descending peak density.
	Centers []int
	// IsCenter[i] is true only for the peak of a surviving cluster.
	IsCenter []bool
	// Borders relates final clusters, sorted by (A, B).
	Borders []Border
	// Merges is the number of merges performed.
	Merges int
}

// borderQueue is a max-heap of borders: highest density first, then the
// smallest (A, B) pair.
type borderQueue []Border

func (q borderQueue) Len() int { return len(q) }
func (q borderQueue) Less(i, j int) bool {
	if q[i].Density != q[j].Density {
		return q[i].Density > q[j].Density
	}
	if q[i].A != q[j].A {
		return q[i].A < q[j].A
	}
	return q[i].B < q[j].B
}
func (q borderQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *borderQueue) Push(x any)   { *q = append(*q, x.(Border)) }
func (q *borderQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// peakDenser reports whether the peak of cluster a beats the peak of
// cluster b by corrected density, lower cluster id on ties.
func (cs *ClusterSet) peakDenser(d *Density, a, b int) bool {
	ra, rb := d.LogRhoC[cs.Centers[a]], d.LogRhoC[cs.Centers[b]]
	if ra != rb {
		return ra > rb
	}
	return a < b
}

// mergeable reports whether border b fails the z-sigma significance test:
// the lower of the two peaks does not rise above the border by more than
// z times their combined error.
func (cs *ClusterSet) mergeable(d *Density, b Border, z float64) bool {
	low := cs.Centers[b.B]
	if cs.peakDenser(d, b.B, b.A) {
		low = cs.Centers[b.A]
	}
	return d.LogRhoC[low]-b.Density < z*(d.LogRhoErr[low]+b.Error)
}

// MergeAndHalo merges clusters across borders that are not significant at
// level z until none is left, then flattens the labels. The densest
// mergeable border is resolved first; the cluster with the denser peak
// survives and inherits the loser's borders, keeping the denser record
// for every third cluster both touched. With halo set, a point whose
// corrected density is below every border of its final cluster is
// labelled Halo.
//
// MergeAndHalo consumes the ClusterSet: its border store afterwards only
// relates surviving clusters, and a second call returns ErrBordersNotBuilt.
func MergeAndHalo(cs *ClusterSet, d *Density, z float64, halo bool) (*Assignment, error) {
	if d == nil || !d.Corrected() {
		return nil, ErrDensityNotComputed
	}
	if cs == nil {
		return nil, ErrClustersNotAllocated
	}
	if cs.merged {
		return nil, ErrBordersNotBuilt
	}
	if !(z > 0) || math.IsInf(z, 0) {
		return nil, invalidZ(z)
	}
	cs.merged = true

	q := borderQueue{}
	for _, b := range cs.Borders.All() {
		if cs.mergeable(d, b, z) {
			q = append(q, b)
		}
	}
	heap.Init(&q)

	merges := 0
	var moved []Border
	for q.Len() > 0 {
		b := heap.Pop(&q).(Border)
		if cur, ok := cs.Borders.Get(b.A, b.B); !ok || cur != b {
			continue // stale: merged away or reconciled since it was queued
		}

		winner, loser := b.A, b.B
		if cs.peakDenser(d, loser, winner) {
			winner, loser = loser, winner
		}
		cs.Borders.Delete(winner, loser)

		moved = moved[:0]
		cs.Borders.Adjacent(loser, func(lb Border) bool {
			moved = append(moved, lb)
			return true
		})
		for _, lb := range moved {
			third := lb.Other(loser)
			cs.Borders.Delete(loser, third)
			if cur, ok := cs.Borders.Get(winner, third); ok && cur.Density >= lb.Density {
				continue
			}
			nb := makeBorder(winner, third, lb.Point, lb.Density, lb.Error)
			cs.Borders.Put(nb)
			if cs.mergeable(d, nb, z) {
				heap.Push(&q, nb)
			}
		}

		cs.uf.Merge(winner, loser)
		cs.alive--
		merges++
	}

	return cs.flatten(d, halo, merges), nil
}

// flatten renumbers surviving clusters 0..alive-1 in provisional order
// (descending peak density) and resolves every point's final label.
func (cs *ClusterSet) flatten(d *Density, halo bool, merges int) *Assignment {
	c := len(cs.Centers)
	final := make([]int, c)
	var centers []int
	for p := 0; p < c; p++ {
		if cs.uf.Rep(p) == p {
			final[p] = len(centers)
			centers = append(centers, cs.Centers[p])
		}
	}

	// Lowest border density around each surviving cluster.
	minBorder := make([]float64, c)
	hasBorder := make([]bool, c)
	var borders []Border
	for _, b := range cs.Borders.All() {
		for _, side := range [2]int{b.A, b.B} {
			if !hasBorder[side] || b.Density < minBorder[side] {
				minBorder[side] = b.Density
				hasBorder[side] = true
			}
		}
		borders = append(borders, makeBorder(final[b.A], final[b.B], b.Point, b.Density, b.Error))
	}

	n := len(cs.labels)
	labels := make([]int, n)
	isCenter := make([]bool, n)
	for i := 0; i < n; i++ {
		s := cs.uf.Rep(cs.labels[i])
		// A cluster without borders has no threshold, so it has no halo.
		if halo && hasBorder[s] && d.LogRhoC[i] < minBorder[s] {
			labels[i] = Halo
			continue
		}
		labels[i] = final[s]
	}
	for _, p := range centers {
		isCenter[p] = true
	}

	return &Assignment{
		Labels:   labels,
		Centers:  centers,
		IsCenter: isCenter,
		Borders:  borders,
		Merges:   merges,
	}
}
