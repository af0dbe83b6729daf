package dadac

import "container/heap"

// Candidate is a (squared distance, point index) pair offered to a
// NeighborHeap.
type Candidate struct {
	Index int
	Dist2 float64
}

// closer reports whether a ranks before b: smaller distance first, lower
// index on ties. This total order keeps neighbor lists reproducible.
func closer(a, b Candidate) bool {
	if a.Dist2 != b.Dist2 {
		return a.Dist2 < b.Dist2
	}
	return a.Index < b.Index
}

// candidateHeap is a max-heap under closer: the worst kept candidate sits
// at the root.
type candidateHeap []Candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return closer(h[j], h[i]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)        { *h = append(*h, x.(Candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// NeighborHeap is a fixed-capacity max-heap that keeps the k best
// candidates it has been offered.
type NeighborHeap struct {
	items candidateHeap
	k     int
}

// NewNeighborHeap returns an empty heap with capacity k.
func NewNeighborHeap(k int) *NeighborHeap {
	return &NeighborHeap{items: make(candidateHeap, 0, k), k: k}
}

// Cap returns the heap capacity.
func (h *NeighborHeap) Cap() int { return h.k }

// Len returns the number of kept candidates.
func (h *NeighborHeap) Len() int { return len(h.items) }

// Full reports whether the heap holds k candidates.
func (h *NeighborHeap) Full() bool { return len(h.items) >= h.k }

// Worst returns the current maximum. ok is false when the heap is empty.
func (h *NeighborHeap) Worst() (c Candidate, ok bool) {
	if len(h.items) == 0 {
		return Candidate{}, false
	}
	return h.items[0], true
}

// Offer considers a candidate. Below capacity it is always inserted;
// otherwise it replaces the maximum only if it is strictly closer.
// Reports whether the candidate was kept.
func (h *NeighborHeap) Offer(dist2 float64, index int) bool {
	if h.k <= 0 {
		return false
	}
	c := Candidate{Index: index, Dist2: dist2}
	if len(h.items) < h.k {
		heap.Push(&h.items, c)
		return true
	}
	if !closer(c, h.items[0]) {
		return false
	}
	h.items[0] = c
	heap.Fix(&h.items, 0)
	return true
}

// ExtractSorted drains the heap into dst in ascending order and returns the
// extended slice. The heap is empty afterwards and can be reused.
func (h *NeighborHeap) ExtractSorted(dst []Candidate) []Candidate {
	n := len(h.items)
	start := len(dst)
	dst = append(dst, make([]Candidate, n)...)
	for i := n - 1; i >= 0; i-- {
		dst[start+i] = heap.Pop(&h.items).(Candidate)
	}
	return dst
}

// Reset empties the heap, keeping its storage.
func (h *NeighborHeap) Reset() { h.items = h.items[:0] }
