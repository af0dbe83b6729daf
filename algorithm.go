package dadac

import "github.com/cockroachdb/errors"

// kdTreeMaxDims is the dimensionality above which KD-tree pruning stops
// paying for itself and SearchAuto falls back to the all-pairs scan.
const kdTreeMaxDims = 60

// selectSearch resolves SearchAuto into a concrete strategy based on the
// data dimensionality, and rejects unknown strategies.
func selectSearch(algo SearchAlgorithm, dims int) (SearchAlgorithm, error) {
	switch algo {
	case SearchAuto:
		if dims <= kdTreeMaxDims {
			return SearchKDTree, nil
		}
		return SearchBrute, nil
	case SearchBrute, SearchKDTree:
		return algo, nil
	default:
		return "", errors.Wrapf(ErrInvalidConfig, "unknown Search %q", algo)
	}
}
