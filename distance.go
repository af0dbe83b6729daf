package dadac

import (
	"github.com/viterin/vek"
	"github.com/viterin/vek/vek32"
)

// Float is the storage precision of an Engine's points. It is fixed once per
// Engine through the type parameter.
type Float interface {
	float32 | float64
}

// sqDistFunc returns the squared Euclidean distance between two rows.
type sqDistFunc[F Float] func(a, b []F) float64

// newSqDist returns a squared Euclidean distance kernel for rows of length
// dims. The kernel owns a scratch buffer and must not be shared between
// goroutines; every worker builds its own.
func newSqDist[F Float](dims int) sqDistFunc[F] {
	switch any(F(0)).(type) {
	case float32:
		buf := make([]float32, dims)
		f := func(a, b []float32) float64 {
			vek32.Sub_Into(buf, a, b)
			return float64(vek32.Dot(buf, buf))
		}
		return any(sqDistFunc[float32](f)).(sqDistFunc[F])
	default:
		buf := make([]float64, dims)
		f := func(a, b []float64) float64 {
			vek.Sub_Into(buf, a, b)
			return vek.Dot(buf, buf)
		}
		return any(sqDistFunc[float64](f)).(sqDistFunc[F])
	}
}

// row returns point i of flat row-major data.
func row[F Float](data []F, dims, i int) []F {
	return data[i*dims : (i+1)*dims]
}
