package main

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TrevorS/dadac"
	"github.com/TrevorS/dadac/internal/dataio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// writeBlobs writes two well separated 2-D blobs of per points each.
func writeBlobs(t *testing.T, per int) string {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	data := make([]float64, 0, 4*per)
	for _, cx := range []float64{0, 30} {
		for i := 0; i < per; i++ {
			data = append(data, cx+rng.NormFloat64(), rng.NormFloat64())
		}
	}
	var buf bytes.Buffer
	require.NoError(t, dataio.WriteMatrix(&buf, data))
	path := filepath.Join(t.TempDir(), "points.bin")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func baseOptions(input string) runOptions {
	return runOptions{
		Input:   input,
		Dims:    2,
		K:       10,
		Z:       2,
		Halo:    true,
		Borders: dadac.BorderAuto,
		Search:  dadac.SearchAuto,
		Workers: 2,
	}
}

func TestRunPipeline_WritesOneLinePerPoint(t *testing.T) {
	opts := baseOptions(writeBlobs(t, 40))
	opts.BordersOut = filepath.Join(t.TempDir(), "borders.txt")

	var out bytes.Buffer
	require.NoError(t, runPipeline(t.Context(), opts, &out))

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 80)
	clusters := map[string]bool{}
	centers := 0
	for _, line := range lines {
		fields := strings.Split(line, "\t")
		require.Len(t, fields, 5, "line %q", line)
		assert.Empty(t, fields[4])
		clusters[fields[1]] = true
		if fields[3] == "1" {
			centers++
		}
	}
	assert.Len(t, clusters, 2)
	assert.Equal(t, 2, centers)

	borders, err := os.ReadFile(opts.BordersOut)
	require.NoError(t, err)
	assert.Equal(t, "\n\n", string(borders), "separated blobs share no border")
}

func TestRunPipeline_OutputFile(t *testing.T) {
	opts := baseOptions(writeBlobs(t, 30))
	opts.Output = filepath.Join(t.TempDir(), "labels.tsv")

	var out bytes.Buffer
	require.NoError(t, runPipeline(t.Context(), opts, &out))
	assert.Zero(t, out.Len())

	raw, err := os.ReadFile(opts.Output)
	require.NoError(t, err)
	assert.Equal(t, 60, strings.Count(string(raw), "\n"))
}

func TestRunPipeline_Errors(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, runPipeline(t.Context(), runOptions{Dims: 2}, &out))

	opts := baseOptions(writeBlobs(t, 10))
	opts.Dims = 0
	assert.ErrorIs(t, runPipeline(t.Context(), opts, &out), dadac.ErrMalformedInput)

	opts = baseOptions(writeBlobs(t, 10))
	opts.K = 500
	assert.ErrorIs(t, runPipeline(t.Context(), opts, &out), dadac.ErrInvalidNeighborCount)

	opts = baseOptions(writeBlobs(t, 10))
	opts.Z = -1
	assert.ErrorIs(t, runPipeline(t.Context(), opts, &out), dadac.ErrInvalidZ)

	opts = baseOptions(writeBlobs(t, 10))
	opts.Borders = "hybrid"
	assert.ErrorIs(t, runPipeline(t.Context(), opts, &out), dadac.ErrInvalidConfig)
}

func TestLoadViper_Layering(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "dadac.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("k: 25\nz: 3.5\ndims: 4\n"), 0o600))
	t.Setenv("DADAC_BORDERS_OUT", "/tmp/b.txt")
	t.Setenv("DADAC_DIMS", "8")

	cmd := newRunCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--config", cfgPath, "--input", "x.bin", "--halo=false"}))
	v, err := loadViper(cmd)
	require.NoError(t, err)
	opts := optionsFrom(v)

	assert.Equal(t, "x.bin", opts.Input)
	assert.Equal(t, 25, opts.K, "config file beats the flag default")
	assert.Equal(t, 3.5, opts.Z)
	assert.Equal(t, 8, opts.Dims, "environment beats the config file")
	assert.Equal(t, "/tmp/b.txt", opts.BordersOut)
	assert.False(t, opts.Halo)
	assert.Equal(t, dadac.BorderAuto, opts.Borders)
}

func TestLoadViper_MissingConfig(t *testing.T) {
	cmd := newRunCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml")}))
	_, err := loadViper(cmd)
	assert.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	for _, jsonLog := range []bool{false, true} {
		l, err := initLogger(jsonLog, true)
		require.NoError(t, err)
		assert.True(t, l.Core().Enabled(zapcore.DebugLevel), "json=%v", jsonLog)
	}
	l, err := initLogger(false, false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))

	root := newRootCmd()
	root.SetArgs([]string{"run", "--dims", "2"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	assert.Error(t, root.Execute(), "missing --input")
}
