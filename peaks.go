package dadac

import "sort"

// Peaks is the provisional clustering produced by FindPeaks.
type Peaks struct {
	// Labels[i] is the provisional cluster of point i.
	Labels []int
	// Centers[c] is the peak point of provisional cluster c. Clusters are
	// numbered by descending peak density.
	Centers []int
}

// Count returns the number of provisional clusters.
func (p *Peaks) Count() int { return len(p.Centers) }

// densityOrder returns all point indices sorted densest first.
func densityOrder(d *Density) []int {
	order := make([]int, len(d.G))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return d.denser(order[a], order[b]) })
	return order
}

// FindPeaks detects density peaks and assigns every other point to one of
// them. A point is a peak when none of its kstar nearest neighbors is
// denser. Points are then visited densest first; each non-peak takes the
// label of the densest point in its kstar neighborhood, which is denser
// than itself and therefore already labelled.
func FindPeaks(nb *Neighbors, d *Density) (*Peaks, error) {
	if nb == nil {
		return nil, ErrNeighborsNotComputed
	}
	if d == nil {
		return nil, ErrDensityNotComputed
	}
	if !d.Corrected() {
		return nil, ErrCorrectionNotApplied
	}

	n := nb.n
	order := densityOrder(d)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}
	var centers []int

	for _, i := range order {
		best := i
		for r := 1; r <= d.Kstar[i]; r++ {
			if j := nb.Index(i, r); d.denser(j, best) {
				best = j
			}
		}
		if best == i {
			labels[i] = len(centers)
			centers = append(centers, i)
			continue
		}
		labels[i] = labels[best]
	}

	return &Peaks{Labels: labels, Centers: centers}, nil
}
