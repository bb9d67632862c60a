package genotype

import (
	"errors"
	"fmt"
	"math/bits"
	"math/rand/v2"
	"strings"
)

// MaxLength bounds the number of loci so that Order() stays within an int.
const MaxLength = 30

var (
	ErrLength   = errors.New("genotype length out of range")
	ErrAllele   = errors.New("allele must be 0 or 1")
	ErrLocus    = errors.New("locus out of range")
	ErrIndex    = errors.New("genotype index out of range")
	ErrMismatch = errors.New("genotype lengths differ")
)

// Genotype is a fixed-length biallelic sequence. Locus i is bit i of the
// canonical index. Values are comparable and safe to use as map keys.
type Genotype struct {
	seq uint32
	l   uint8
}

func ValidateLength(l int) error {
	if l < 1 || l > MaxLength {
		return fmt.Errorf("%w: %d (want 1..%d)", ErrLength, l, MaxLength)
	}
	return nil
}

// Wild returns the all-zero genotype of length l.
func Wild(l int) (Genotype, error) {
	if err := ValidateLength(l); err != nil {
		return Genotype{}, err
	}
	return Genotype{l: uint8(l)}, nil
}

func FromIndex(l, index int) (Genotype, error) {
	if err := ValidateLength(l); err != nil {
		return Genotype{}, err
	}
	if index < 0 || index >= Size(l) {
		return Genotype{}, fmt.Errorf("%w: %d for length %d", ErrIndex, index, l)
	}
	return Genotype{seq: uint32(index), l: uint8(l)}, nil
}

func FromSequence(alleles []uint8) (Genotype, error) {
	if err := ValidateLength(len(alleles)); err != nil {
		return Genotype{}, err
	}
	var seq uint32
	for i, a := range alleles {
		switch a {
		case 0:
		case 1:
			seq |= 1 << uint(i)
		default:
			return Genotype{}, fmt.Errorf("%w: locus %d has %d", ErrAllele, i, a)
		}
	}
	return Genotype{seq: seq, l: uint8(len(alleles))}, nil
}

// MustFromSequence is FromSequence for literals in tests and fixtures.
func MustFromSequence(alleles ...uint8) Genotype {
	g, err := FromSequence(alleles)
	if err != nil {
		panic(err)
	}
	return g
}

// Random draws every allele uniformly.
func Random(l int, rng *rand.Rand) (Genotype, error) {
	if err := ValidateLength(l); err != nil {
		return Genotype{}, err
	}
	return Genotype{seq: uint32(rng.IntN(Size(l))), l: uint8(l)}, nil
}

// Size is the number of genotypes with l loci.
func Size(l int) int {
	return 1 << uint(l)
}

// All enumerates every genotype of length l in canonical binary counting order.
func All(l int) ([]Genotype, error) {
	if err := ValidateLength(l); err != nil {
		return nil, err
	}
	out := make([]Genotype, Size(l))
	for i := range out {
		out[i] = Genotype{seq: uint32(i), l: uint8(l)}
	}
	return out, nil
}

func (g Genotype) Len() int { return int(g.l) }

func (g Genotype) Index() int { return int(g.seq) }

// Sum is the number of derived alleles.
func (g Genotype) Sum() int { return bits.OnesCount32(g.seq) }

// Order sorts by mutation count first, then by index.
func (g Genotype) Order() int {
	return g.Index() + Size(g.Len())*g.Sum()
}

func (g Genotype) Allele(i int) uint8 {
	return uint8(g.seq>>uint(i)) & 1
}

func (g Genotype) Alleles() []uint8 {
	out := make([]uint8, g.l)
	for i := range out {
		out[i] = g.Allele(i)
	}
	return out
}

// Flip returns a copy of g with locus i switched. It panics on an out of
// range locus, like slice indexing.
func (g Genotype) Flip(i int) Genotype {
	if i < 0 || i >= int(g.l) {
		panic(fmt.Sprintf("%v: %d for length %d", ErrLocus, i, g.l))
	}
	g.seq ^= 1 << uint(i)
	return g
}

// FlipAll flips every listed locus, in order.
func (g Genotype) FlipAll(loci []int) Genotype {
	for _, i := range loci {
		g = g.Flip(i)
	}
	return g
}

// Complement flips every locus of g.
func Complement(g Genotype) Genotype {
	g.seq ^= uint32(Size(int(g.l)) - 1)
	return g
}

func Distance(a, b Genotype) (int, error) {
	if a.l != b.l {
		return 0, fmt.Errorf("%w: %d vs %d", ErrMismatch, a.l, b.l)
	}
	return bits.OnesCount32(a.seq ^ b.seq), nil
}

func (g Genotype) String() string {
	var sb strings.Builder
	for i := 0; i < int(g.l); i++ {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte('0' + g.Allele(i))
	}
	return sb.String()
}
