// Package population implements a fixed-size haploid population stored as
// sparse genotype counts, evolved by mutation and Wright–Fisher selection.
package population

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat/combin"
	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/gonum/stat/sampleuv"

	"ecoevo/internal/fitness"
	"ecoevo/internal/genotype"
	"ecoevo/internal/linalg"
)

var (
	ErrSize           = errors.New("invalid population size")
	ErrMutationRate   = errors.New("mutation rate must be in [0, 1]")
	ErrProbability    = errors.New("probability must be in [0, 1]")
	ErrInvalidWeights = errors.New("selection weights must be finite and positive")
	ErrFormat         = errors.New("malformed population file")
)

// FitnessMapper assigns fitness to the genotypes a population occupies.
// Values are per-capita fitness; selection weighs them by count.
type FitnessMapper interface {
	OccupiedFitness(p *Population, resources linalg.Vector) (*fitness.Landscape, error)
}

// Initial selects how Initialize seeds the population.
type Initial interface {
	isInitial()
}

// SingleGenotype gives every individual the same genotype.
type SingleGenotype struct {
	Genotype genotype.Genotype
}

// Binomial makes each allele of each individual derived with probability P.
type Binomial struct {
	P float64
}

// RandomSingle draws one uniformly random genotype shared by everyone.
type RandomSingle struct{}

func (SingleGenotype) isInitial() {}
func (Binomial) isInitial()       {}
func (RandomSingle) isInitial()   {}

// Population holds N individuals of genotype length L. Entries with zero
// count are never kept.
type Population struct {
	l, n   int
	counts map[genotype.Genotype]int
}

func New(l, n int) (*Population, error) {
	if err := genotype.ValidateLength(l); err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, fmt.Errorf("%w: %d", ErrSize, n)
	}
	return &Population{l: l, n: n, counts: make(map[genotype.Genotype]int)}, nil
}

// Initialize replaces the contents according to init.
func (p *Population) Initialize(init Initial, src rand.Source) error {
	clear(p.counts)
	switch v := init.(type) {
	case SingleGenotype:
		if v.Genotype.Len() != p.l {
			return fmt.Errorf("%w: initial genotype has length %d, population has %d", genotype.ErrMismatch, v.Genotype.Len(), p.l)
		}
		p.counts[v.Genotype] = p.n
	case Binomial:
		if v.P < 0 || v.P > 1 || math.IsNaN(v.P) {
			return fmt.Errorf("%w: derived allele probability %g", ErrProbability, v.P)
		}
		allele := distuv.Bernoulli{P: v.P, Src: src}
		seq := make([]uint8, p.l)
		for i := 0; i < p.n; i++ {
			for k := range seq {
				seq[k] = uint8(allele.Rand())
			}
			g, err := genotype.FromSequence(seq)
			if err != nil {
				return err
			}
			p.counts[g]++
		}
	case RandomSingle:
		g, err := genotype.Random(p.l, rand.New(src))
		if err != nil {
			return err
		}
		p.counts[g] = p.n
	default:
		return fmt.Errorf("unsupported initial population %T", init)
	}
	return nil
}

// Add puts n individuals of genotype g into the population without touching
// the nominal size. Used when assembling a population from records.
func (p *Population) Add(g genotype.Genotype, n int) error {
	if g.Len() != p.l {
		return fmt.Errorf("%w: %d vs %d", genotype.ErrMismatch, g.Len(), p.l)
	}
	if n < 0 {
		return fmt.Errorf("%w: negative count %d", ErrSize, n)
	}
	if n > 0 {
		p.counts[g] += n
	}
	return nil
}

func (p *Population) prune() {
	for g, n := range p.counts {
		if n <= 0 {
			delete(p.counts, g)
		}
	}
}

// Mutate applies one round of mutation with per-locus rate mu.
func (p *Population) Mutate(mu float64, src rand.Source) error {
	if mu < 0 || mu > 1 || math.IsNaN(mu) {
		return fmt.Errorf("%w: %g", ErrMutationRate, mu)
	}
	if mu == 0 {
		return nil
	}
	if mu == 1 {
		next := make(map[genotype.Genotype]int, len(p.counts))
		for g, n := range p.counts {
			next[genotype.Complement(g)] += n
		}
		p.counts = next
		return nil
	}
	pMutant := 1 - math.Pow(1-mu, float64(p.l))
	loci := mutationCountDistribution(p.l, mu, src)

	// iterate a snapshot in index order so a seeded source replays exactly;
	// individuals created in this round are not mutated again
	before := p.Genotypes()
	sizes := make([]int, len(before))
	for i, g := range before {
		sizes[i] = p.counts[g]
	}
	for i, g := range before {
		mutants := binomialDraw(sizes[i], pMutant, src)
		if mutants == 0 {
			continue
		}
		p.counts[g] -= mutants
		for m := 0; m < mutants; m++ {
			k := int(loci.Rand()) + 1
			idxs := make([]int, k)
			sampleuv.WithoutReplacement(idxs, p.l, src)
			p.counts[g.FlipAll(idxs)]++
		}
	}
	p.prune()
	return nil
}

// mutationCountDistribution is the binomial number of mutated loci
// conditioned on at least one; index i stands for i+1 loci.
func mutationCountDistribution(l int, mu float64, src rand.Source) distuv.Categorical {
	weights := make([]float64, l)
	for k := 1; k <= l; k++ {
		weights[k-1] = float64(combin.Binomial(l, k)) * math.Pow(mu, float64(k)) * math.Pow(1-mu, float64(l-k))
	}
	return distuv.NewCategorical(weights, src)
}

func binomialDraw(n int, prob float64, src rand.Source) int {
	switch {
	case n == 0 || prob <= 0:
		return 0
	case prob >= 1:
		return n
	}
	return int(distuv.Binomial{N: float64(n), P: prob, Src: src}.Rand())
}

// Select resamples N individuals with probability proportional to
// count × fitness of the occupied genotypes.
func (p *Population) Select(mapper FitnessMapper, resources linalg.Vector, src rand.Source) error {
	landscape, err := mapper.OccupiedFitness(p, resources)
	if err != nil {
		return err
	}
	genotypes := p.Genotypes()
	weights := make([]float64, len(genotypes))
	total := 0.0
	for i, g := range genotypes {
		w, ok := landscape.Get(g)
		if !ok {
			return fmt.Errorf("%w: no fitness for %v", ErrInvalidWeights, g)
		}
		weights[i] = float64(p.counts[g]) * w
		if math.IsNaN(weights[i]) || math.IsInf(weights[i], 0) || weights[i] < 0 {
			return fmt.Errorf("%w: %v has weight %g", ErrInvalidWeights, g, weights[i])
		}
		total += weights[i]
	}
	if !(total > 0) || math.IsInf(total, 0) {
		return fmt.Errorf("%w: total weight %g", ErrInvalidWeights, total)
	}

	draws := distuv.NewCategorical(weights, src)
	next := make([]int, len(genotypes))
	for i := 0; i < p.n; i++ {
		next[int(draws.Rand())]++
	}
	clear(p.counts)
	for i, g := range genotypes {
		if next[i] > 0 {
			p.counts[g] = next[i]
		}
	}
	return nil
}

func (p *Population) L() int { return p.l }

// Size is the nominal number of individuals N.
func (p *Population) Size() int { return p.n }

// Total is the current sum of counts; it equals Size after every operator.
func (p *Population) Total() int {
	t := 0
	for _, n := range p.counts {
		t += n
	}
	return t
}

// Len is the number of distinct genotypes present.
func (p *Population) Len() int { return len(p.counts) }

func (p *Population) Count(g genotype.Genotype) int { return p.counts[g] }

// Genotypes lists the occupied genotypes in index order.
func (p *Population) Genotypes() []genotype.Genotype {
	out := make([]genotype.Genotype, 0, len(p.counts))
	for g := range p.counts {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index() < out[j].Index() })
	return out
}

// Distribution gives the frequency n/N of each occupied genotype.
func (p *Population) Distribution() map[genotype.Genotype]float64 {
	out := make(map[genotype.Genotype]float64, len(p.counts))
	for g, n := range p.counts {
		out[g] = float64(n) / float64(p.n)
	}
	return out
}

func (p *Population) ShannonEntropy() float64 {
	h := 0.0
	for _, g := range p.Genotypes() {
		f := float64(p.counts[g]) / float64(p.n)
		h -= f * math.Log(f)
	}
	return h
}

// HaplotypeDiversity is 1 - Σ f², without sample-size correction.
func (p *Population) HaplotypeDiversity() float64 {
	h := 1.0
	for _, g := range p.Genotypes() {
		f := float64(p.counts[g]) / float64(p.n)
		h -= f * f
	}
	return h
}

// NucleotideDiversity is the frequency-weighted mean pairwise distance.
func (p *Population) NucleotideDiversity() float64 {
	gs := p.Genotypes()
	size := float64(p.n)
	pi := 0.0
	for _, a := range gs {
		xa := float64(p.counts[a]) / size
		for _, b := range gs {
			d, _ := genotype.Distance(a, b)
			pi += xa * float64(p.counts[b]) / size * float64(d)
		}
	}
	return pi
}

func (p *Population) Clone() *Population {
	out := &Population{l: p.l, n: p.n, counts: make(map[genotype.Genotype]int, len(p.counts))}
	for g, n := range p.counts {
		out.counts[g] = n
	}
	return out
}

// Equal compares sizes and every count.
func (p *Population) Equal(o *Population) bool {
	if p.l != o.l || p.n != o.n || len(p.counts) != len(o.counts) {
		return false
	}
	for g, n := range p.counts {
		if o.counts[g] != n {
			return false
		}
	}
	return true
}
