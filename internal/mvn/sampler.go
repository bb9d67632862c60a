// Package mvn draws correlated vectors from a multivariate normal
// distribution through a Cholesky factor of the covariance matrix.
package mvn

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"ecoevo/internal/linalg"
)

var ErrNotPositiveDefinite = errors.New("covariance matrix is not positive-definite")

// Sampler draws from N(mean, cov). It is immutable after construction and
// can be shared; randomness comes from the source passed to Sample.
type Sampler struct {
	mean   linalg.Vector
	cov    linalg.SquareMatrix
	factor *mat.TriDense // nil for the null covariance
}

func NewSampler(mean linalg.Vector, cov linalg.SquareMatrix) (*Sampler, error) {
	if len(mean) != cov.Dim() {
		return nil, fmt.Errorf("%w: mean has %d components, covariance is %dx%d", linalg.ErrDimension, len(mean), cov.Dim(), cov.Dim())
	}
	s := &Sampler{mean: mean.Clone(), cov: cov}
	if cov.IsNull() {
		return s, nil
	}
	factor, err := Cholesky(cov)
	if err != nil {
		return nil, err
	}
	s.factor = factor
	return s, nil
}

// Cholesky computes the lower factor L with cov = L·Lᵗ, row by row
// (Cholesky–Banachiewicz).
func Cholesky(cov linalg.SquareMatrix) (*mat.TriDense, error) {
	n := cov.Dim()
	l := mat.NewTriDense(n, mat.Lower, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := 0.0
			for k := 0; k < j; k++ {
				sum += l.At(i, k) * l.At(j, k)
			}
			var v float64
			if i == j {
				radicand := cov.At(i, i) - sum
				if radicand < 0 {
					return nil, fmt.Errorf("%w: negative pivot %g at row %d", ErrNotPositiveDefinite, radicand, i)
				}
				v = math.Sqrt(radicand)
			} else {
				v = (cov.At(i, j) - sum) / l.At(j, j)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: entry (%d,%d) is %g", ErrNotPositiveDefinite, i, j, v)
			}
			l.SetTri(i, j, v)
		}
	}
	return l, nil
}

func (s *Sampler) Dim() int { return len(s.mean) }

// Factor returns the Cholesky factor, or nil for the null covariance.
func (s *Sampler) Factor() *mat.TriDense { return s.factor }

// Sample returns μ + L·z for S independent standard normals z. With a null
// covariance it returns a copy of μ and consumes no randomness.
func (s *Sampler) Sample(src rand.Source) linalg.Vector {
	out := s.mean.Clone()
	if s.factor == nil {
		return out
	}
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	n := len(out)
	z := make([]float64, n)
	for i := range z {
		z[i] = normal.Rand()
	}
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			out[i] += s.factor.At(i, j) * z[j]
		}
	}
	return out
}
