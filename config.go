package dadac

import (
	"math"
	"runtime"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// SearchAlgorithm selects the nearest-neighbor search strategy.
type SearchAlgorithm string

const (
	SearchAuto   SearchAlgorithm = "auto"
	SearchBrute  SearchAlgorithm = "brute"
	SearchKDTree SearchAlgorithm = "kdtree"
)

// BorderMode selects the BorderStore representation.
type BorderMode string

const (
	BorderAuto   BorderMode = "auto"
	BorderDense  BorderMode = "dense"
	BorderSparse BorderMode = "sparse"
)

// Config controls the pipeline. Start with [DefaultConfig] and override the
// fields you need. A Config is fixed for the lifetime of an [Engine].
type Config struct {
	// Search selects how k-nearest neighbors are found. "auto" uses a
	// KD-tree for dims <= 60 and the all-pairs scan otherwise. Both
	// strategies return identical neighbor lists. Default: "auto".
	Search SearchAlgorithm

	// LeafSize is the maximum number of points in a KD-tree leaf.
	// Default: 40.
	LeafSize int

	// Workers bounds the goroutines used for per-point work. 0 means
	// runtime.NumCPU(). Default: 0.
	Workers int

	// IDFraction is the fraction of sorted TWO-NN ratios kept for the
	// dimension fit; the rest is discarded as tail noise.
	// Must be in (0, 1]. Default: 0.9.
	IDFraction float64

	// KstarPValue is the significance level of the homogeneity test that
	// picks each point's adaptive neighborhood size. The test threshold is
	// the chi-squared(1) quantile at 1-KstarPValue.
	// Must be in (0, 1). Default: 1e-6.
	KstarPValue float64

	// SparsePointThreshold switches BorderAuto to the sparse store above
	// this many points. Default: 2,000,000.
	SparsePointThreshold int

	// DenseMemoryFraction switches BorderAuto to the sparse store when the
	// dense border matrix would take more than this fraction of available
	// memory. 0 disables the check. Default: 0.25.
	DenseMemoryFraction float64

	// Logger receives stage-level diagnostics. Default: no-op.
	Logger *zap.Logger
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		Search:               SearchAuto,
		LeafSize:             40,
		IDFraction:           0.9,
		KstarPValue:          1e-6,
		SparsePointThreshold: 2_000_000,
		DenseMemoryFraction:  0.25,
	}
}

// applyDefaults fills in zero-valued config fields with their defaults.
func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Search == "" {
		cfg.Search = def.Search
	}
	if cfg.LeafSize == 0 {
		cfg.LeafSize = def.LeafSize
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.IDFraction == 0 {
		cfg.IDFraction = def.IDFraction
	}
	if cfg.KstarPValue == 0 {
		cfg.KstarPValue = def.KstarPValue
	}
	if cfg.SparsePointThreshold == 0 {
		cfg.SparsePointThreshold = def.SparsePointThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
}

// validateConfig checks that cfg fields are valid and returns a descriptive error if not.
func validateConfig(cfg *Config) error {
	switch cfg.Search {
	case SearchAuto, SearchBrute, SearchKDTree:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown Search %q", cfg.Search)
	}
	if cfg.LeafSize < 1 {
		return errors.Wrapf(ErrInvalidConfig, "LeafSize must be >= 1, got %d", cfg.LeafSize)
	}
	if cfg.Workers < 0 {
		return errors.Wrapf(ErrInvalidConfig, "Workers must be >= 0, got %d", cfg.Workers)
	}
	if !(cfg.IDFraction > 0 && cfg.IDFraction <= 1) {
		return errors.Wrapf(ErrInvalidConfig, "IDFraction must be in (0, 1], got %v", cfg.IDFraction)
	}
	if !(cfg.KstarPValue > 0 && cfg.KstarPValue < 1) {
		return errors.Wrapf(ErrInvalidConfig, "KstarPValue must be in (0, 1), got %v", cfg.KstarPValue)
	}
	if cfg.SparsePointThreshold < 1 {
		return errors.Wrapf(ErrInvalidConfig, "SparsePointThreshold must be >= 1, got %d", cfg.SparsePointThreshold)
	}
	if cfg.DenseMemoryFraction < 0 || math.IsNaN(cfg.DenseMemoryFraction) {
		return errors.Wrapf(ErrInvalidConfig, "DenseMemoryFraction must be >= 0, got %v", cfg.DenseMemoryFraction)
	}
	return nil
}

// prepareConfig applies defaults and validates in one step.
func prepareConfig(cfg Config) (Config, error) {
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validBorderMode(m BorderMode) bool {
	switch m {
	case BorderAuto, BorderDense, BorderSparse:
		return true
	}
	return false
}
