// Package fitness holds scalar fitness landscapes over genotypes and the
// statistics used to characterize them.
package fitness

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"ecoevo/internal/genotype"
)

// Kind says how stored values are expressed. Additive values are the natural
// log of multiplicative ones.
type Kind int

const (
	Multiplicative Kind = iota
	Additive
)

func (k Kind) String() string {
	switch k {
	case Multiplicative:
		return "multiplicative"
	case Additive:
		return "additive"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

var (
	ErrTiedFitness    = errors.New("fitness values are not pairwise distinct")
	ErrDomainMismatch = errors.New("landscapes cover different genotypes")
)

// Landscape maps genotypes of one length to a fitness value.
type Landscape struct {
	l      int
	kind   Kind
	values map[genotype.Genotype]float64
}

func New(l int, kind Kind) *Landscape {
	return &Landscape{l: l, kind: kind, values: make(map[genotype.Genotype]float64)}
}

func (f *Landscape) L() int { return f.l }

func (f *Landscape) Kind() Kind { return f.kind }

func (f *Landscape) Len() int { return len(f.values) }

func (f *Landscape) Set(g genotype.Genotype, v float64) {
	f.values[g] = v
}

// Get returns the stored value of g.
func (f *Landscape) Get(g genotype.Genotype) (float64, bool) {
	v, ok := f.values[g]
	return v, ok
}

// Fitness returns the value of g converted to kind.
func (f *Landscape) Fitness(g genotype.Genotype, kind Kind) (float64, bool) {
	v, ok := f.values[g]
	if !ok {
		return 0, false
	}
	if kind == f.kind {
		return v, true
	}
	if f.kind == Multiplicative {
		return math.Log(v), true
	}
	return math.Exp(v), true
}

// Genotypes lists the domain in canonical index order.
func (f *Landscape) Genotypes() []genotype.Genotype {
	out := make([]genotype.Genotype, 0, len(f.values))
	for g := range f.values {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index() < out[j].Index() })
	return out
}

// Normalize divides every value by norm.
func (f *Landscape) Normalize(norm float64) {
	for g, v := range f.values {
		f.values[g] = v / norm
	}
}

func (f *Landscape) Clone() *Landscape {
	out := New(f.l, f.kind)
	for g, v := range f.values {
		out.values[g] = v
	}
	return out
}

// FitnessEffect is the effect of flipping locus i of g, as a difference for
// Additive and a ratio for Multiplicative.
func (f *Landscape) FitnessEffect(g genotype.Genotype, i int, kind Kind) (float64, bool) {
	v, ok := f.Fitness(g, kind)
	if !ok {
		return 0, false
	}
	vi, ok := f.Fitness(g.Flip(i), kind)
	if !ok {
		return 0, false
	}
	if kind == Additive {
		return vi - v, true
	}
	return vi / v, true
}

// FitnessEffects collects every single-locus effect present in the landscape.
func (f *Landscape) FitnessEffects(kind Kind) []float64 {
	out := make([]float64, 0, len(f.values)*f.l)
	for _, g := range f.Genotypes() {
		for i := 0; i < f.l; i++ {
			if s, ok := f.FitnessEffect(g, i, kind); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// Gamma is the correlation of an additive fitness effect with the same effect
// measured one mutation away. It is 1 without epistasis.
func (f *Landscape) Gamma() float64 {
	var cov, variance float64
	for _, g := range f.Genotypes() {
		for j := 0; j < f.l; j++ {
			sj, ok := f.FitnessEffect(g, j, Additive)
			if !ok {
				continue
			}
			for i := 0; i < f.l; i++ {
				if i == j {
					continue
				}
				sij, ok := f.FitnessEffect(g.Flip(i), j, Additive)
				if !ok {
					continue
				}
				cov += sj * sij
				variance += sj * sj
			}
		}
	}
	return cov / variance
}

// Maxima lists genotypes fitter than every neighbour present in the landscape.
func (f *Landscape) Maxima() []genotype.Genotype {
	return f.extrema(func(v, neighbour float64) bool { return v > neighbour })
}

// Minima lists genotypes less fit than every neighbour present in the landscape.
func (f *Landscape) Minima() []genotype.Genotype {
	return f.extrema(func(v, neighbour float64) bool { return v < neighbour })
}

func (f *Landscape) extrema(beats func(v, neighbour float64) bool) []genotype.Genotype {
	var out []genotype.Genotype
	for _, g := range f.Genotypes() {
		v := f.values[g]
		extreme := true
		for i := 0; i < f.l && extreme; i++ {
			if n, ok := f.values[g.Flip(i)]; ok && !beats(v, n) {
				extreme = false
			}
		}
		if extreme {
			out = append(out, g)
		}
	}
	return out
}

// Max returns the fittest genotype; ok is false on an empty landscape.
func (f *Landscape) Max() (genotype.Genotype, float64, bool) {
	return f.best(func(a, b float64) bool { return a > b })
}

func (f *Landscape) Min() (genotype.Genotype, float64, bool) {
	return f.best(func(a, b float64) bool { return a < b })
}

func (f *Landscape) best(better func(a, b float64) bool) (genotype.Genotype, float64, bool) {
	var (
		bestG genotype.Genotype
		bestV float64
		found bool
	)
	for _, g := range f.Genotypes() {
		v := f.values[g]
		if !found || better(v, bestV) {
			bestG, bestV, found = g, v, true
		}
	}
	return bestG, bestV, found
}

// MeanVar is the population mean and variance of all stored values.
func (f *Landscape) MeanVar() (mean, variance float64) {
	if len(f.values) == 0 {
		return math.NaN(), math.NaN()
	}
	xs := make([]float64, 0, len(f.values))
	for _, g := range f.Genotypes() {
		xs = append(xs, f.values[g])
	}
	return stat.PopMeanVariance(xs, nil)
}

// StrainsSelected lists genotypes with fitness above 1, in index order.
func (f *Landscape) StrainsSelected() []genotype.Genotype {
	var out []genotype.Genotype
	for _, g := range f.Genotypes() {
		if f.values[g] > 1 {
			out = append(out, g)
		}
	}
	return out
}

// RankOrder sorts the domain by increasing fitness.
func (f *Landscape) RankOrder() []genotype.Genotype {
	out := f.Genotypes()
	sort.SliceStable(out, func(i, j int) bool { return f.values[out[i]] < f.values[out[j]] })
	return out
}

// SpearmanRho is the rank correlation with other over the same domain.
func (f *Landscape) SpearmanRho(other *Landscape) (float64, error) {
	n := len(f.values)
	if n != len(other.values) {
		return 0, fmt.Errorf("%w: %d vs %d genotypes", ErrDomainMismatch, n, len(other.values))
	}
	if n < 2 {
		return 0, fmt.Errorf("%w: need at least two genotypes", ErrDomainMismatch)
	}
	r1, err := f.distinctRanks()
	if err != nil {
		return 0, err
	}
	r2, err := other.distinctRanks()
	if err != nil {
		return 0, err
	}
	var d2 float64
	for g, i := range r1 {
		j, ok := r2[g]
		if !ok {
			return 0, fmt.Errorf("%w: %v missing", ErrDomainMismatch, g)
		}
		d := float64(i - j)
		d2 += d * d
	}
	nf := float64(n)
	return 1 - 6*d2/(nf*(nf*nf-1)), nil
}

func (f *Landscape) distinctRanks() (map[genotype.Genotype]int, error) {
	order := f.RankOrder()
	ranks := make(map[genotype.Genotype]int, len(order))
	for i, g := range order {
		if i > 0 && f.values[order[i-1]] == f.values[g] {
			return nil, fmt.Errorf("%w: %v and %v", ErrTiedFitness, order[i-1], g)
		}
		ranks[g] = i
	}
	return ranks, nil
}

// WriteTo writes one "alleles<TAB>value" line per genotype in index order.
func (f *Landscape) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	for _, g := range f.Genotypes() {
		c, err := fmt.Fprintf(bw, "%s\t%v\n", g, f.values[g])
		n += int64(c)
		if err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}
