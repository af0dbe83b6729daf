// Package dadac implements density-peak clustering with adaptive
// k-nearest-neighbor densities (ADP).
//
// The pipeline has four stages: k-nearest-neighbor search, TWO-NN
// intrinsic dimension estimation, adaptive kstar density estimation with a
// global correction, and cluster extraction. Extraction finds density
// peaks, builds the graph of borders between their basins, and merges
// clusters whose separating border is not significant at Z standard
// errors. Points below every border of their cluster can optionally be
// labelled as halo.
//
// Basic usage:
//
//	result, err := dadac.Cluster(ctx, rows, 10, 2.0, true, dadac.DefaultConfig())
//	// result.Labels[i] is the cluster of point i (dadac.Halo = -1 for halo)
//	// result.Centers[c] is the peak point of cluster c
//
// Stage by stage, for re-clustering the same density with another Z:
//
//	e, err := dadac.New(data, n, dims, dadac.DefaultConfig())
//	err = e.SearchNeighbors(ctx, 10)
//	err = e.Cluster(ctx, 2.0, false, dadac.BorderAuto)
//	err = e.Cluster(ctx, 3.5, false, dadac.BorderAuto)
//
// # Precision
//
// Engine and Cluster are generic over float32 and float64 input. Distances,
// densities and all derived statistics are kept in float64.
//
// # Border storage
//
// The border graph is held in a dense c×c matrix or, for many clusters, a
// sparse map with per-cluster roaring bitmaps. BorderAuto picks sparse above
// Config.SparsePointThreshold points or when the matrix would not fit the
// memory budget.
package dadac
