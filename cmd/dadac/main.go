package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger is replaced by initLogger before any command runs.
var logger = zap.NewNop()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dadac",
		Short: "Density-peak clustering with adaptive densities",
		Long: `dadac clusters a raw binary point matrix.

It finds the k nearest neighbors of every point, estimates the intrinsic
dimension, computes adaptive kstar densities and extracts density peaks,
merging clusters whose border is not significant at Z standard errors.

Examples:
  dadac run --input points.bin --dims 3 --k 30 --z 2.5 --output labels.tsv
  dadac run --input points.bin.zst --dims 64 --float32 --halo=false`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			jsonLog, _ := cmd.Flags().GetBool("json-log")
			verbose, _ := cmd.Flags().GetBool("verbose")
			l, err := initLogger(jsonLog, verbose)
			if err != nil {
				return errors.Wrap(err, "failed to initialize logger")
			}
			logger = l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}
	root.PersistentFlags().Bool("json-log", false, "emit structured JSON logs")
	root.PersistentFlags().BoolP("verbose", "v", false, "log every pipeline stage")
	root.AddCommand(newRunCmd())
	return root
}

// initLogger builds a JSON production logger or a console logger on stderr.
func initLogger(jsonOutput, verbose bool) (*zap.Logger, error) {
	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}
	if jsonOutput {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(level)
		return config.Build()
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(os.Stderr),
		level,
	)), nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
