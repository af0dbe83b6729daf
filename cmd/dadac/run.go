package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/TrevorS/dadac"
	"github.com/TrevorS/dadac/internal/dataio"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// runOptions is the resolved configuration of one run.
type runOptions struct {
	Input      string
	Output     string
	BordersOut string
	Dims       int
	K          int
	Z          float64
	Halo       bool
	Borders    dadac.BorderMode
	Float32    bool
	Workers    int
	Search     dadac.SearchAlgorithm
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Cluster a raw binary matrix",
		Long: `Cluster a raw little-endian float64 (or --float32) matrix with --dims
columns. Files ending in .zst are decompressed on the fly.

Every flag can also be set through a DADAC_ environment variable
(DADAC_K, DADAC_BORDERS_OUT, ...) or a config file given with --config.
Flags win over the environment, which wins over the config file.

Output has one line per point: kstar, cluster (-1 for halo), log density
and a 0/1 center flag, tab separated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := loadViper(cmd)
			if err != nil {
				return err
			}
			opts := optionsFrom(v)
			err = runPipeline(cmd.Context(), opts, cmd.OutOrStdout())
			if err != nil {
				if hint := errors.FlattenHints(err); hint != "" {
					logger.Warn("run failed", zap.String("hint", hint))
				}
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringP("input", "i", "", "input matrix file (required)")
	f.StringP("output", "o", "", "point info output file (default stdout)")
	f.String("borders-out", "", "write border point indices per cluster to this file")
	f.IntP("dims", "d", 0, "number of columns per point (required)")
	f.IntP("k", "k", 1001, "number of nearest neighbors")
	f.Float64P("z", "z", 2, "merge significance in standard errors")
	f.Bool("halo", true, "label low-confidence points as halo (-1)")
	f.String("borders", string(dadac.BorderAuto), "border storage: auto, dense or sparse")
	f.Bool("float32", false, "input holds float32 values")
	f.Int("workers", 0, "worker goroutines (0 = number of CPUs)")
	f.String("search", string(dadac.SearchAuto), "neighbor search: auto, brute or kdtree")
	f.String("config", "", "config file (toml, yaml or json)")
	return cmd
}

// loadViper layers defaults, the optional config file, DADAC_ environment
// variables and the command's flags.
func loadViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("DADAC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, errors.Wrap(err, "bind flags")
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}
	return v, nil
}

func optionsFrom(v *viper.Viper) runOptions {
	return runOptions{
		Input:      v.GetString("input"),
		Output:     v.GetString("output"),
		BordersOut: v.GetString("borders-out"),
		Dims:       v.GetInt("dims"),
		K:          v.GetInt("k"),
		Z:          v.GetFloat64("z"),
		Halo:       v.GetBool("halo"),
		Borders:    dadac.BorderMode(v.GetString("borders")),
		Float32:    v.GetBool("float32"),
		Workers:    v.GetInt("workers"),
		Search:     dadac.SearchAlgorithm(v.GetString("search")),
	}
}

func runPipeline(ctx context.Context, opts runOptions, stdout io.Writer) error {
	if opts.Input == "" {
		return errors.WithHint(errors.New("no input file"), "pass --input FILE")
	}
	if opts.Dims < 1 {
		return errors.WithHint(
			errors.Wrapf(dadac.ErrMalformedInput, "dims=%d", opts.Dims),
			"pass --dims with the number of columns per point",
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Float32 {
		return run[float32](ctx, opts, stdout)
	}
	return run[float64](ctx, opts, stdout)
}

func run[F dadac.Float](ctx context.Context, opts runOptions, stdout io.Writer) error {
	start := time.Now()
	m, err := dataio.ReadMatrix[F](opts.Input, opts.Dims)
	if err != nil {
		return err
	}
	logger.Info("input loaded",
		zap.String("path", opts.Input),
		zap.Int("n", m.N),
		zap.Int("dims", m.Dims),
		zap.Bool("float32", opts.Float32),
		zap.String("fingerprint", fingerprint(m.Fingerprint)))

	cfg := dadac.DefaultConfig()
	cfg.Workers = opts.Workers
	cfg.Search = opts.Search
	cfg.Logger = logger

	e, err := dadac.New(m.Data, m.N, m.Dims, cfg)
	if err != nil {
		return err
	}
	if err := e.SearchNeighbors(ctx, opts.K); err != nil {
		return err
	}
	if err := e.Cluster(ctx, opts.Z, opts.Halo, opts.Borders); err != nil {
		return err
	}
	res, err := e.Result()
	if err != nil {
		return err
	}

	if err := writeTo(opts.Output, stdout, func(w io.Writer) error {
		return dataio.WritePointInfo(w, res, opts.Float32)
	}); err != nil {
		return errors.Wrap(err, "write point info")
	}
	if opts.BordersOut != "" {
		if err := writeTo(opts.BordersOut, nil, func(w io.Writer) error {
			return dataio.WriteBorders(w, res)
		}); err != nil {
			return errors.Wrap(err, "write borders")
		}
	}

	logger.Info("done",
		zap.Int("clusters", res.NumClusters()),
		zap.Float64("id", res.ID),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// writeTo runs write against path, or against fallback when path is empty.
func writeTo(path string, fallback io.Writer, write func(io.Writer) error) error {
	if path == "" {
		return write(fallback)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func fingerprint(h uint64) string { return fmt.Sprintf("%016x", h) }
