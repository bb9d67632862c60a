package phenotype

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"ecoevo/internal/linalg"
)

const (
	TagHoC      byte = 0
	TagAdditive byte = 1
	TagRMF      byte = 2
)

var (
	ErrParams     = errors.New("invalid fitness model parameters")
	ErrUnknownTag = errors.New("unrecognized fitness model tag")
	ErrLength     = errors.New("wrong encoded length")
)

// FitnessModel is the statistical model phenotypes are drawn from. The
// concrete types are HoC, Additive and RoughMountFuji.
type FitnessModel interface {
	Dim() int
	Name() string
	Tag() byte
	MarshalBinary() ([]byte, error)
	isModel()
}

// HoC is the house-of-cards model: every genotype gets an independent draw
// from N(0, Cb).
type HoC struct {
	Cb linalg.SquareMatrix
}

// Additive draws one locus effect per locus from N(Mu, Ca); a phenotype is the
// sum of the effects of its derived alleles.
type Additive struct {
	Mu linalg.Vector
	Ca linalg.SquareMatrix
}

// RoughMountFuji adds an idiosyncratic N(0, Cb) term to the additive model.
type RoughMountFuji struct {
	Mu linalg.Vector
	Ca linalg.SquareMatrix
	Cb linalg.SquareMatrix
}

func (HoC) isModel()            {}
func (Additive) isModel()       {}
func (RoughMountFuji) isModel() {}

func (m HoC) Dim() int            { return m.Cb.Dim() }
func (m Additive) Dim() int       { return len(m.Mu) }
func (m RoughMountFuji) Dim() int { return len(m.Mu) }

func (HoC) Tag() byte            { return TagHoC }
func (Additive) Tag() byte       { return TagAdditive }
func (RoughMountFuji) Tag() byte { return TagRMF }

// NewHoC takes (cb_diagonal, cb_offdiagonal).
func NewHoC(s int, params []float64) (HoC, error) {
	if err := checkParams("HoC", s, params, 2); err != nil {
		return HoC{}, err
	}
	return HoC{Cb: linalg.Uniform(s, params[0], params[1])}, nil
}

// NewAdditive takes (mu, ca_diagonal, ca_offdiagonal).
func NewAdditive(s int, params []float64) (Additive, error) {
	if err := checkParams("Additive", s, params, 3); err != nil {
		return Additive{}, err
	}
	return Additive{
		Mu: linalg.Filled(s, params[0]),
		Ca: linalg.Uniform(s, params[1], params[2]),
	}, nil
}

// NewRoughMountFuji takes (mu, ca_diagonal, ca_offdiagonal, cb_diagonal,
// cb_offdiagonal). A non-positive diagonal disables that component.
func NewRoughMountFuji(s int, params []float64) (RoughMountFuji, error) {
	if err := checkParams("RoughMountFuji", s, params, 5); err != nil {
		return RoughMountFuji{}, err
	}
	return RoughMountFuji{
		Mu: linalg.Filled(s, params[0]),
		Ca: covarianceOrNull(s, params[1], params[2]),
		Cb: covarianceOrNull(s, params[3], params[4]),
	}, nil
}

// ParseModel builds a model from its configuration name and parameter list.
func ParseModel(kind string, s int, params []float64) (FitnessModel, error) {
	switch strings.ToLower(kind) {
	case "hoc":
		return NewHoC(s, params)
	case "additive":
		return NewAdditive(s, params)
	case "roughmountfuji", "rmf":
		return NewRoughMountFuji(s, params)
	default:
		return nil, fmt.Errorf("%w: unknown model %q", ErrParams, kind)
	}
}

func checkParams(kind string, s int, params []float64, want int) error {
	if s < 1 {
		return fmt.Errorf("%w: %s needs at least one phenotype dimension, got %d", ErrParams, kind, s)
	}
	if len(params) != want {
		return fmt.Errorf("%w: %s takes %d parameters, got %d", ErrParams, kind, want, len(params))
	}
	for i, p := range params {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("%w: %s parameter %d is %g", ErrParams, kind, i, p)
		}
	}
	return nil
}

func covarianceOrNull(s int, diag, off float64) linalg.SquareMatrix {
	if diag <= 0 {
		return linalg.Null(s)
	}
	return linalg.Uniform(s, diag, off)
}

func trunc5(a float64) float64 {
	return math.Trunc(a*100_000) / 100_000
}

func diag(m linalg.SquareMatrix) float64 { return trunc5(m.At(0, 0)) }

func offdiag(m linalg.SquareMatrix) float64 {
	if m.Dim() < 2 {
		return 0
	}
	return trunc5(m.At(0, 1))
}

func (m HoC) Name() string {
	return fmt.Sprintf("HoC_S%d_cd%.5f_co%.5f", m.Dim(), diag(m.Cb), offdiag(m.Cb))
}

func (m Additive) Name() string {
	return fmt.Sprintf("additive_S%d_mu%.5f_cd%.5f_co%.5f", m.Dim(), trunc5(m.Mu[0]), diag(m.Ca), offdiag(m.Ca))
}

func (m RoughMountFuji) Name() string {
	return fmt.Sprintf("RMF_S%d_mu%.5f_cad%.5f_cao%.5f_cbd%.5f_cbo%.5f",
		m.Dim(), trunc5(m.Mu[0]), diag(m.Ca), offdiag(m.Ca), diag(m.Cb), offdiag(m.Cb))
}

func (m HoC) MarshalBinary() ([]byte, error) {
	return encodeParts(TagHoC, m.Cb)
}

func (m Additive) MarshalBinary() ([]byte, error) {
	return encodeParts(TagAdditive, m.Ca, m.Mu)
}

func (m RoughMountFuji) MarshalBinary() ([]byte, error) {
	return encodeParts(TagRMF, m.Ca, m.Cb, m.Mu)
}

type binaryPart interface {
	MarshalBinary() ([]byte, error)
}

func encodeParts(tag byte, parts ...binaryPart) ([]byte, error) {
	var out []byte
	for _, p := range parts {
		b, err := p.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return append(out, tag), nil
}

// EncodedModelLen is the byte length of an encoded model with the given tag.
func EncodedModelLen(tag byte, s int) (int, error) {
	m, v := linalg.EncodedMatrixLen(s), linalg.EncodedVectorLen(s)
	switch tag {
	case TagHoC:
		return m + 1, nil
	case TagAdditive:
		return m + v + 1, nil
	case TagRMF:
		return 2*m + v + 1, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}
}

// DecodeModel parses a model of dimension s. The trailing byte selects the
// variant and the total length must match it exactly.
func DecodeModel(s int, b []byte) (FitnessModel, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty model", ErrLength)
	}
	tag := b[len(b)-1]
	want, err := EncodedModelLen(tag, s)
	if err != nil {
		return nil, err
	}
	if len(b) != want {
		return nil, fmt.Errorf("%w: model tag %d has %d bytes, want %d", ErrLength, tag, len(b), want)
	}
	m := linalg.EncodedMatrixLen(s)
	switch tag {
	case TagHoC:
		cb, err := linalg.DecodeMatrix(s, b[:m])
		if err != nil {
			return nil, err
		}
		return HoC{Cb: cb}, nil
	case TagAdditive:
		ca, err := linalg.DecodeMatrix(s, b[:m])
		if err != nil {
			return nil, err
		}
		mu, err := linalg.DecodeVector(s, b[m:len(b)-1])
		if err != nil {
			return nil, err
		}
		return Additive{Mu: mu, Ca: ca}, nil
	default:
		ca, err := linalg.DecodeMatrix(s, b[:m])
		if err != nil {
			return nil, err
		}
		cb, err := linalg.DecodeMatrix(s, b[m:2*m])
		if err != nil {
			return nil, err
		}
		mu, err := linalg.DecodeVector(s, b[2*m:len(b)-1])
		if err != nil {
			return nil, err
		}
		return RoughMountFuji{Mu: mu, Ca: ca, Cb: cb}, nil
	}
}

// EqualModels compares two models component by component.
func EqualModels(a, b FitnessModel) bool {
	switch x := a.(type) {
	case HoC:
		y, ok := b.(HoC)
		return ok && x.Cb.Equal(y.Cb)
	case Additive:
		y, ok := b.(Additive)
		return ok && x.Mu.Equal(y.Mu) && x.Ca.Equal(y.Ca)
	case RoughMountFuji:
		y, ok := b.(RoughMountFuji)
		return ok && x.Mu.Equal(y.Mu) && x.Ca.Equal(y.Ca) && x.Cb.Equal(y.Cb)
	default:
		return false
	}
}
