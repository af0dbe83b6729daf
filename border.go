package dadac

import (
	"sort"
	"unsafe"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/shirou/gopsutil/v3/mem"
)

// Border is the densest interface point between two clusters. A and B are
// cluster ids with A < B; Point is the point index realizing the border.
type Border struct {
	A, B    int
	Point   int
	Density float64
	Error   float64
}

// makeBorder orders the pair so that A < B.
func makeBorder(a, b, point int, density, err float64) Border {
	if a > b {
		a, b = b, a
	}
	return Border{A: a, B: b, Point: point, Density: density, Error: err}
}

// Other returns the cluster on the opposite side of c.
func (b Border) Other(c int) int {
	if b.A == c {
		return b.B
	}
	return b.A
}

// BorderStore holds at most one border per unordered cluster pair.
type BorderStore interface {
	// Get returns the border between a and b in either order.
	Get(a, b int) (Border, bool)
	// Put inserts or replaces the border for the pair (b.A, b.B).
	Put(b Border)
	// Delete removes the border between a and b, if any.
	Delete(a, b int)
	// Adjacent calls fn for every border touching cluster c, in ascending
	// order of the other cluster id, until fn returns false. fn must not
	// modify the store.
	Adjacent(c int, fn func(Border) bool)
	// All returns every border sorted by (A, B).
	All() []Border
	// Len returns the number of borders.
	Len() int
	// Sparse reports the representation.
	Sparse() bool
}

// denseBorders stores borders in a contiguous c×c matrix addressed by
// a*c+b. Both (a,b) and (b,a) cells are kept in sync.
type denseBorders struct {
	c     int
	cells []Border
	ok    []bool
	count int
}

func newDenseBorders(c int) *denseBorders {
	return &denseBorders{c: c, cells: make([]Border, c*c), ok: make([]bool, c*c)}
}

func (s *denseBorders) at(a, b int) int { return a*s.c + b }

func (s *denseBorders) Get(a, b int) (Border, bool) {
	i := s.at(a, b)
	return s.cells[i], s.ok[i]
}

func (s *denseBorders) Put(b Border) {
	i, j := s.at(b.A, b.B), s.at(b.B, b.A)
	if !s.ok[i] {
		s.count++
	}
	s.cells[i], s.cells[j] = b, b
	s.ok[i], s.ok[j] = true, true
}

func (s *denseBorders) Delete(a, b int) {
	i, j := s.at(a, b), s.at(b, a)
	if s.ok[i] {
		s.count--
	}
	s.ok[i], s.ok[j] = false, false
}

func (s *denseBorders) Adjacent(c int, fn func(Border) bool) {
	base := c * s.c
	for o := 0; o < s.c; o++ {
		if s.ok[base+o] && !fn(s.cells[base+o]) {
			return
		}
	}
}

func (s *denseBorders) All() []Border {
	out := make([]Border, 0, s.count)
	for a := 0; a < s.c; a++ {
		for b := a + 1; b < s.c; b++ {
			if i := s.at(a, b); s.ok[i] {
				out = append(out, s.cells[i])
			}
		}
	}
	return out
}

func (s *denseBorders) Len() int     { return s.count }
func (s *denseBorders) Sparse() bool { return false }

// sparseBorders keeps only observed adjacencies: the records in a map keyed
// by the unordered pair, and one bitmap of adjacent cluster ids per cluster.
type sparseBorders struct {
	records map[uint64]Border
	adj     []*roaring.Bitmap
}

func newSparseBorders(c int) *sparseBorders {
	adj := make([]*roaring.Bitmap, c)
	for i := range adj {
		adj[i] = roaring.New()
	}
	return &sparseBorders{records: make(map[uint64]Border), adj: adj}
}

// pairKey packs an unordered pair of cluster ids into one map key.
func pairKey(a, b int) uint64 {
	if a > b {
		a, b = b, a
	}
	return uint64(uint32(a))<<32 | uint64(uint32(b))
}

func (s *sparseBorders) Get(a, b int) (Border, bool) {
	r, ok := s.records[pairKey(a, b)]
	return r, ok
}

func (s *sparseBorders) Put(b Border) {
	s.records[pairKey(b.A, b.B)] = b
	s.adj[b.A].Add(uint32(b.B))
	s.adj[b.B].Add(uint32(b.A))
}

func (s *sparseBorders) Delete(a, b int) {
	delete(s.records, pairKey(a, b))
	s.adj[a].Remove(uint32(b))
	s.adj[b].Remove(uint32(a))
}

func (s *sparseBorders) Adjacent(c int, fn func(Border) bool) {
	it := s.adj[c].Iterator()
	for it.HasNext() {
		o := int(it.Next())
		if !fn(s.records[pairKey(c, o)]) {
			return
		}
	}
}

func (s *sparseBorders) All() []Border {
	out := make([]Border, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

func (s *sparseBorders) Len() int     { return len(s.records) }
func (s *sparseBorders) Sparse() bool { return true }

// newBorderStore returns an empty store for c clusters.
func newBorderStore(c int, sparse bool) BorderStore {
	if sparse {
		return newSparseBorders(c)
	}
	return newDenseBorders(c)
}

// availableMemory reports the bytes of memory available to new
// allocations. It is a variable so tests can pin it.
var availableMemory = func() (uint64, bool) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, false
	}
	return vm.Available, true
}

// useSparseBorders resolves a BorderMode for n points and c clusters.
// BorderAuto goes sparse above cfg.SparsePointThreshold points, or when the
// dense matrix would exceed cfg.DenseMemoryFraction of available memory.
func useSparseBorders(mode BorderMode, n, c int, cfg Config) bool {
	switch mode {
	case BorderSparse:
		return true
	case BorderDense:
		return false
	}
	if n > cfg.SparsePointThreshold {
		return true
	}
	if cfg.DenseMemoryFraction > 0 {
		if avail, ok := availableMemory(); ok {
			need := float64(c) * float64(c) * float64(unsafe.Sizeof(Border{})+1)
			if need > cfg.DenseMemoryFraction*float64(avail) {
				return true
			}
		}
	}
	return false
}
