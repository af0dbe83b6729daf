package dadac

import (
	"math"
	"sort"
)

// kdNode describes a single node of a KDTree.
type kdNode struct {
	IdxStart, IdxEnd int
	IsLeaf           bool
}

// KDTree is a KD-tree spatial index for squared-Euclidean nearest-neighbor
// queries. Points are referenced in place and reordered through an index
// permutation array.
//
// The tree is stored as a complete binary tree in array form:
//   - node i has children at 2*i+1 and 2*i+2
//   - node bounds are stored as min/max per dimension per node
type KDTree[F Float] struct {
	data     []F // flat row-major point data (n * dims), not owned
	n        int
	dims     int
	leafSize int
	idxArray []int // permutation: tree-order position → original index
	nodes    []kdNode
	// nodeBoundsMin[node*dims + j] = min value of feature j in node
	nodeBoundsMin []float64
	// nodeBoundsMax[node*dims + j] = max value of feature j in node
	nodeBoundsMax []float64
}

// NewKDTree builds a KD-tree over flat row-major data with n points of
// dimensionality dims. data must not be modified while the tree is in use.
func NewKDTree[F Float](data []F, n, dims, leafSize int) *KDTree[F] {
	if leafSize < 1 {
		leafSize = 1
	}

	idxArray := make([]int, n)
	for i := range idxArray {
		idxArray[i] = i
	}

	maxNodes := kdMaxNodes(n, leafSize)

	t := &KDTree[F]{
		data:          data,
		n:             n,
		dims:          dims,
		leafSize:      leafSize,
		idxArray:      idxArray,
		nodes:         make([]kdNode, maxNodes),
		nodeBoundsMin: make([]float64, maxNodes*dims),
		nodeBoundsMax: make([]float64, maxNodes*dims),
	}

	if n > 0 {
		t.buildNode(0, 0, n)
	}

	return t
}

// kdMaxNodes returns an upper bound on the number of nodes needed for a
// binary tree with n points and the given leaf size.
func kdMaxNodes(n, leafSize int) int {
	if n == 0 {
		return 1
	}
	// Depth of tree: ceil(log2(ceil(n/leafSize))) + 1.
	leaves := (n + leafSize - 1) / leafSize
	depth := 0
	v := 1
	for v < leaves {
		v *= 2
		depth++
	}
	return (1 << (depth + 1)) - 1 + 2
}

// buildNode recursively builds the tree for points in idxArray[start:end].
func (t *KDTree[F]) buildNode(nodeID, start, end int) {
	for nodeID >= len(t.nodes) {
		t.nodes = append(t.nodes, kdNode{})
		t.nodeBoundsMin = append(t.nodeBoundsMin, make([]float64, t.dims)...)
		t.nodeBoundsMax = append(t.nodeBoundsMax, make([]float64, t.dims)...)
	}

	t.computeNodeBounds(nodeID, start, end)

	count := end - start
	if count <= t.leafSize {
		t.nodes[nodeID] = kdNode{IdxStart: start, IdxEnd: end, IsLeaf: true}
		return
	}

	// Split along the dimension with greatest spread.
	splitDim := 0
	maxSpread := -1.0
	for d := 0; d < t.dims; d++ {
		spread := t.nodeBoundsMax[nodeID*t.dims+d] - t.nodeBoundsMin[nodeID*t.dims+d]
		if spread > maxSpread {
			maxSpread = spread
			splitDim = d
		}
	}

	t.sortByDimension(start, end, splitDim)
	mid := start + count/2

	t.nodes[nodeID] = kdNode{IdxStart: start, IdxEnd: end, IsLeaf: false}

	t.buildNode(2*nodeID+1, start, mid)
	t.buildNode(2*nodeID+2, mid, end)
}

// computeNodeBounds computes min/max per dimension for points idxArray[start:end].
func (t *KDTree[F]) computeNodeBounds(nodeID, start, end int) {
	base := nodeID * t.dims
	for d := 0; d < t.dims; d++ {
		t.nodeBoundsMin[base+d] = math.Inf(1)
		t.nodeBoundsMax[base+d] = math.Inf(-1)
	}
	for i := start; i < end; i++ {
		ptIdx := t.idxArray[i]
		for d := 0; d < t.dims; d++ {
			v := float64(t.data[ptIdx*t.dims+d])
			if v < t.nodeBoundsMin[base+d] {
				t.nodeBoundsMin[base+d] = v
			}
			if v > t.nodeBoundsMax[base+d] {
				t.nodeBoundsMax[base+d] = v
			}
		}
	}
}

// sortByDimension sorts idxArray[start:end] by the given dimension. Ties
// keep index order so the build is deterministic.
func (t *KDTree[F]) sortByDimension(start, end, dim int) {
	sub := t.idxArray[start:end]
	dims := t.dims
	data := t.data
	sort.SliceStable(sub, func(i, j int) bool {
		return data[sub[i]*dims+dim] < data[sub[j]*dims+dim]
	})
}

// queryKNN offers every point except self that can enter the k best of
// point self to h. h must be empty and have capacity k. dist is the
// caller's distance kernel.
func (t *KDTree[F]) queryKNN(self int, h *NeighborHeap, dist sqDistFunc[F]) {
	query := row(t.data, t.dims, self)
	t.knnSearch(0, self, query, h, dist)
}

// pruneSlack widens the pruning test so that rounding in the distance
// kernel (float32 accumulation in particular) never drops a candidate the
// all-pairs scan would keep.
const pruneSlack = 1e-4

// knnSearch performs a single-tree traversal. Subtrees whose lower bound
// equals the current worst distance are still visited, because a point at
// exactly that distance with a lower index would win the tie.
func (t *KDTree[F]) knnSearch(nodeID, self int, query []F, h *NeighborHeap, dist sqDistFunc[F]) {
	if nodeID >= len(t.nodes) {
		return
	}
	node := t.nodes[nodeID]
	if node.IdxStart == node.IdxEnd && nodeID != 0 {
		return // uninitialized node
	}

	if node.IsLeaf {
		for i := node.IdxStart; i < node.IdxEnd; i++ {
			ptIdx := t.idxArray[i]
			if ptIdx == self {
				continue
			}
			h.Offer(dist(query, row(t.data, t.dims, ptIdx)), ptIdx)
		}
		return
	}

	left := 2*nodeID + 1
	right := 2*nodeID + 2

	leftRdist := t.minRdistPoint(left, query)
	rightRdist := t.minRdistPoint(right, query)

	nearChild, farChild := left, right
	farRdist := rightRdist
	if rightRdist < leftRdist {
		nearChild, farChild = right, left
		farRdist = leftRdist
	}

	t.knnSearch(nearChild, self, query, h, dist)

	worst, _ := h.Worst()
	if !h.Full() || farRdist*(1-pruneSlack) <= worst.Dist2 {
		t.knnSearch(farChild, self, query, h, dist)
	}
}

// minRdistPoint returns a lower bound on the squared distance between a
// point and any point in the given node.
func (t *KDTree[F]) minRdistPoint(node int, point []F) float64 {
	if node >= len(t.nodes) {
		return math.Inf(1)
	}
	base := node * t.dims
	var rdist float64
	for j := 0; j < t.dims; j++ {
		lo := t.nodeBoundsMin[base+j]
		hi := t.nodeBoundsMax[base+j]
		p := float64(point[j])
		var d float64
		if p < lo {
			d = lo - p
		} else if p > hi {
			d = p - hi
		}
		rdist += d * d
	}
	return rdist
}
