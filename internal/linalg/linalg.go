// Package linalg holds the small dense vector and square matrix types used to
// parameterize phenotype models, together with their binary encoding.
//
// Every encoded value is a row-major run of IEEE-754 little-endian float64s
// followed by a single tag byte: 0 marks the null (all-zero) matrix, 1 marks a
// present value.
package linalg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

const (
	TagNull    byte = 0
	TagPresent byte = 1
)

var (
	ErrDimension  = errors.New("dimension mismatch")
	ErrLength     = errors.New("wrong encoded length")
	ErrUnknownTag = errors.New("unrecognized tag byte")
)

// SquareMatrix is an S×S matrix or the null matrix. The null matrix reads as
// zero everywhere and is kept distinct so callers can skip decomposition.
type SquareMatrix struct {
	s    int
	data []float64
}

// Null returns the null S×S matrix.
func Null(s int) SquareMatrix {
	return SquareMatrix{s: s}
}

// NewSquareMatrix copies rows into a present matrix.
func NewSquareMatrix(rows [][]float64) (SquareMatrix, error) {
	s := len(rows)
	if s == 0 {
		return SquareMatrix{}, fmt.Errorf("%w: empty matrix", ErrDimension)
	}
	data := make([]float64, 0, s*s)
	for i, row := range rows {
		if len(row) != s {
			return SquareMatrix{}, fmt.Errorf("%w: row %d has %d columns, want %d", ErrDimension, i, len(row), s)
		}
		data = append(data, row...)
	}
	return SquareMatrix{s: s, data: data}, nil
}

// Uniform builds the matrix with diag on the diagonal and off elsewhere.
func Uniform(s int, diag, off float64) SquareMatrix {
	data := make([]float64, s*s)
	for i := 0; i < s; i++ {
		for j := 0; j < s; j++ {
			if i == j {
				data[i*s+j] = diag
			} else {
				data[i*s+j] = off
			}
		}
	}
	return SquareMatrix{s: s, data: data}
}

func (m SquareMatrix) Dim() int { return m.s }

func (m SquareMatrix) IsNull() bool { return m.data == nil }

func (m SquareMatrix) At(i, j int) float64 {
	if m.data == nil {
		return 0
	}
	return m.data[i*m.s+j]
}

// Dense returns a gonum copy of the matrix; the null matrix becomes zeros.
func (m SquareMatrix) Dense() *mat.Dense {
	d := mat.NewDense(m.s, m.s, nil)
	if m.data != nil {
		for i := 0; i < m.s; i++ {
			for j := 0; j < m.s; j++ {
				d.Set(i, j, m.data[i*m.s+j])
			}
		}
	}
	return d
}

func (m SquareMatrix) Equal(o SquareMatrix) bool {
	if m.s != o.s || m.IsNull() != o.IsNull() {
		return false
	}
	for i := range m.data {
		if m.data[i] != o.data[i] {
			return false
		}
	}
	return true
}

// EncodedMatrixLen is the byte length of an encoded S×S matrix.
func EncodedMatrixLen(s int) int { return s*s*8 + 1 }

func (m SquareMatrix) MarshalBinary() ([]byte, error) {
	out := make([]byte, EncodedMatrixLen(m.s))
	if m.data == nil {
		out[len(out)-1] = TagNull
		return out, nil
	}
	for i, v := range m.data {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	out[len(out)-1] = TagPresent
	return out, nil
}

// DecodeMatrix parses exactly one encoded S×S matrix.
func DecodeMatrix(s int, b []byte) (SquareMatrix, error) {
	if len(b) != EncodedMatrixLen(s) {
		return SquareMatrix{}, fmt.Errorf("%w: matrix has %d bytes, want %d", ErrLength, len(b), EncodedMatrixLen(s))
	}
	switch tag := b[len(b)-1]; tag {
	case TagNull:
		return Null(s), nil
	case TagPresent:
		data := make([]float64, s*s)
		for i := range data {
			data[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
		}
		return SquareMatrix{s: s, data: data}, nil
	default:
		return SquareMatrix{}, fmt.Errorf("%w: matrix tag %d", ErrUnknownTag, tag)
	}
}

func (m SquareMatrix) String() string {
	if m.data == nil {
		return "Null matrix"
	}
	var sb strings.Builder
	for i := 0; i < m.s; i++ {
		for j := 0; j < m.s; j++ {
			fmt.Fprintf(&sb, "\t%g", m.data[i*m.s+j])
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Vector is a dense S vector. Vectors are always present.
type Vector []float64

// Filled returns a vector of length s with every component set to v.
func Filled(s int, v float64) Vector {
	out := make(Vector, s)
	for i := range out {
		out[i] = v
	}
	return out
}

func (v Vector) Clone() Vector {
	return append(Vector(nil), v...)
}

func (v Vector) Equal(o Vector) bool {
	if len(v) != len(o) {
		return false
	}
	for i := range v {
		if v[i] != o[i] {
			return false
		}
	}
	return true
}

func EncodedVectorLen(s int) int { return s*8 + 1 }

func (v Vector) MarshalBinary() ([]byte, error) {
	out := make([]byte, EncodedVectorLen(len(v)))
	for i, x := range v {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(x))
	}
	out[len(out)-1] = TagPresent
	return out, nil
}

func DecodeVector(s int, b []byte) (Vector, error) {
	if len(b) != EncodedVectorLen(s) {
		return nil, fmt.Errorf("%w: vector has %d bytes, want %d", ErrLength, len(b), EncodedVectorLen(s))
	}
	if tag := b[len(b)-1]; tag != TagPresent {
		return nil, fmt.Errorf("%w: vector tag %d", ErrUnknownTag, tag)
	}
	out := make(Vector, s)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return out, nil
}
