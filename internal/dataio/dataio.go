// Package dataio reads raw point matrices and writes clustering output in
// the plain-text layout of the command-line driver.
package dataio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"unsafe"

	"github.com/TrevorS/dadac"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/edsrzf/mmap-go"
	"github.com/klauspost/compress/zstd"
)

// ZstdSuffix marks compressed input files.
const ZstdSuffix = ".zst"

// Matrix is a decoded row-major point matrix.
type Matrix[F dadac.Float] struct {
	Data []F
	N    int
	Dims int
	// Fingerprint is the xxhash of the uncompressed bytes.
	Fingerprint uint64
}

// ReadMatrix reads a raw little-endian matrix of F with dims columns.
// Plain files are memory-mapped; files ending in ZstdSuffix are
// decompressed first.
func ReadMatrix[F dadac.Float](path string, dims int) (*Matrix[F], error) {
	if dims < 1 {
		return nil, errors.Wrapf(dadac.ErrMalformedInput, "dims must be >= 1, got %d", dims)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open input %s", path)
	}
	defer f.Close()

	if strings.HasSuffix(path, ZstdSuffix) {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "zstd reader")
		}
		defer dec.Close()
		raw, err := io.ReadAll(dec)
		if err != nil {
			return nil, errors.Wrapf(err, "decompress input %s", path)
		}
		return decode[F](raw, dims)
	}

	stat, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "stat input %s", path)
	}
	if stat.Size() == 0 {
		return nil, errors.Wrapf(dadac.ErrMalformedInput, "input %s is empty", path)
	}
	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap input %s", path)
	}
	m, err := decode[F]([]byte(mm), dims)
	if uerr := mm.Unmap(); uerr != nil && err == nil {
		err = errors.Wrap(uerr, "unmap input")
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ParseMatrix decodes an in-memory raw matrix.
func ParseMatrix[F dadac.Float](raw []byte, dims int) (*Matrix[F], error) {
	if dims < 1 {
		return nil, errors.Wrapf(dadac.ErrMalformedInput, "dims must be >= 1, got %d", dims)
	}
	return decode[F](raw, dims)
}

// decode copies raw into a fresh []F. raw may be a mapping that is
// released afterwards.
func decode[F dadac.Float](raw []byte, dims int) (*Matrix[F], error) {
	var zero F
	size := int(unsafe.Sizeof(zero))
	rowBytes := size * dims
	if len(raw) == 0 || len(raw)%rowBytes != 0 {
		return nil, errors.Wrapf(dadac.ErrMalformedInput,
			"%d bytes is not a whole number of %d-byte rows (dims=%d)", len(raw), rowBytes, dims)
	}

	data := make([]F, len(raw)/size)
	switch out := any(data).(type) {
	case []float32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case []float64:
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
	}

	return &Matrix[F]{
		Data:        data,
		N:           len(raw) / rowBytes,
		Dims:        dims,
		Fingerprint: xxhash.Sum64(raw),
	}, nil
}

// WriteMatrix encodes data as a raw little-endian matrix.
func WriteMatrix[F dadac.Float](w io.Writer, data []F) error {
	bw := bufio.NewWriter(w)
	var buf [8]byte
	for _, v := range data {
		switch x := any(v).(type) {
		case float32:
			binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(x))
			if _, err := bw.Write(buf[:4]); err != nil {
				return err
			}
		case float64:
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(x))
			if _, err := bw.Write(buf[:]); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// WritePointInfo writes one line per point:
//
//	kstar <TAB> cluster <TAB> log_rho <TAB> is_center <TAB>
//
// log_rho is printed with 6 decimals for single precision runs and 11
// otherwise. is_center is 0 or 1.
func WritePointInfo(w io.Writer, r *dadac.Result, single bool) error {
	format := "%d\t%d\t%.11f\t%d\t\n"
	if single {
		format = "%d\t%d\t%.6f\t%d\t\n"
	}
	bw := bufio.NewWriter(w)
	for i, label := range r.Labels {
		center := 0
		if r.IsCenter[i] {
			center = 1
		}
		if _, err := fmt.Fprintf(bw, format, r.Kstar[i], label, r.LogRho[i], center); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteBorders writes one line per final cluster listing the border point
// of each of its adjacent clusters, in ascending order of the neighbor
// cluster id.
func WriteBorders(w io.Writer, r *dadac.Result) error {
	adj := make([][]int, r.NumClusters())
	for _, b := range r.Borders {
		adj[b.A] = append(adj[b.A], b.Point)
		adj[b.B] = append(adj[b.B], b.Point)
	}
	bw := bufio.NewWriter(w)
	for _, points := range adj {
		for _, p := range points {
			if _, err := fmt.Fprintf(bw, "%d ", p); err != nil {
				return err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}
