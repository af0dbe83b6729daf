package dadac

// UnionFind implements a disjoint-set data structure with path compression
// and union by size. Each set additionally carries a representative chosen
// by the caller, so the tree shape (driven by size) and the surviving label
// (driven by density) are independent.
type UnionFind struct {
	parent []int
	size   []int
	// rep[root] is the element that names the set rooted at root.
	rep []int
}

// NewUnionFind creates a UnionFind for n singleton sets.
func NewUnionFind(n int) *UnionFind {
	parent := make([]int, n)
	size := make([]int, n)
	rep := make([]int, n)
	for i := range parent {
		parent[i] = -1 // -1 means "is a root"
		size[i] = 1
		rep[i] = i
	}
	return &UnionFind{parent: parent, size: size, rep: rep}
}

// Find returns the root of the set containing x, with path compression.
func (uf *UnionFind) Find(x int) int {
	root := x
	for uf.parent[root] != -1 {
		root = uf.parent[root]
	}
	for uf.parent[x] != -1 {
		x, uf.parent[x] = uf.parent[x], root
	}
	return root
}

// Rep returns the representative of the set containing x.
func (uf *UnionFind) Rep(x int) int { return uf.rep[uf.Find(x)] }

// Size returns the number of elements in the set containing x.
func (uf *UnionFind) Size(x int) int { return uf.size[uf.Find(x)] }

// Merge joins the sets of winner and loser. The merged set is named by the
// representative of winner's set. Returns the new root.
func (uf *UnionFind) Merge(winner, loser int) int {
	rootW := uf.Find(winner)
	rootL := uf.Find(loser)
	if rootW == rootL {
		return rootW
	}
	name := uf.rep[rootW]

	// Attach smaller to larger.
	if uf.size[rootW] < uf.size[rootL] {
		rootW, rootL = rootL, rootW
	}
	uf.parent[rootL] = rootW
	uf.size[rootW] += uf.size[rootL]
	uf.rep[rootW] = name
	return rootW
}
