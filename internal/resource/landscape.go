// Package resource maps phenotypes to population-dependent fitness under
// competition for S resources, or under the null model without competition.
package resource

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"ecoevo/internal/fitness"
	"ecoevo/internal/genotype"
	"ecoevo/internal/linalg"
	"ecoevo/internal/phenotype"
	"ecoevo/internal/population"
)

var ErrResources = errors.New("invalid resource vector")

// Landscape turns phenotypes into fitness. Phenotype components are log
// uptake rates: α(g,k) = exp(phenotype(g)[k]).
type Landscape struct {
	phenotypes *phenotype.Map
	nullModel  bool
}

var _ population.FitnessMapper = (*Landscape)(nil)

func NewLandscape(m *phenotype.Map) *Landscape {
	return &Landscape{phenotypes: m}
}

// Build draws a fresh phenotype map from model and wraps it.
func Build(model phenotype.FitnessModel, l int, src rand.Source) (*Landscape, error) {
	m, err := phenotype.Build(model, l, src)
	if err != nil {
		return nil, err
	}
	return NewLandscape(m), nil
}

// AsNullModel switches to fitness without competition. Call it before the
// landscape is shared between runs.
func (r *Landscape) AsNullModel() { r.nullModel = true }

func (r *Landscape) IsNullModel() bool { return r.nullModel }

func (r *Landscape) Phenotypes() *phenotype.Map { return r.phenotypes }

func (r *Landscape) L() int { return r.phenotypes.L() }

func (r *Landscape) S() int { return r.phenotypes.S() }

// ValidateResources checks that there is one positive, finite abundance per
// phenotype dimension.
func ValidateResources(resources linalg.Vector, s int) error {
	if len(resources) != s {
		return fmt.Errorf("%w: %d abundances for %d resources", ErrResources, len(resources), s)
	}
	for k, v := range resources {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: resource %d has abundance %g", ErrResources, k, v)
		}
	}
	return nil
}

func (r *Landscape) checkPopulation(pop *population.Population) error {
	if pop.L() != r.phenotypes.L() {
		return fmt.Errorf("%w: population L=%d, landscape L=%d", genotype.ErrMismatch, pop.L(), r.phenotypes.L())
	}
	return nil
}

type occupant struct {
	g     genotype.Genotype
	n     float64
	alpha linalg.Vector
}

func (r *Landscape) occupants(pop *population.Population) ([]occupant, error) {
	gs := pop.Genotypes()
	out := make([]occupant, len(gs))
	for i, g := range gs {
		alpha, err := r.phenotypes.Multiplicative(g)
		if err != nil {
			return nil, err
		}
		out[i] = occupant{g: g, n: float64(pop.Count(g)), alpha: alpha}
	}
	return out, nil
}

// uptake is A_k = Σ_g n(g)·α(g,k).
func uptake(occ []occupant, s int) linalg.Vector {
	a := make(linalg.Vector, s)
	for _, o := range occ {
		for k, v := range o.alpha {
			a[k] += o.n * v
		}
	}
	return a
}

// share is Σ_k α(g,k)·r_k/A_k, the resources a single individual of g
// receives.
func share(alpha, resources, a linalg.Vector) float64 {
	w := 0.0
	for k, v := range alpha {
		w += v * resources[k] / a[k]
	}
	return w
}

// OccupiedFitness returns the per-capita fitness of every genotype present in
// pop, scaled so that the count-weighted mean is 1.
func (r *Landscape) OccupiedFitness(pop *population.Population, resources linalg.Vector) (*fitness.Landscape, error) {
	if err := r.checkPopulation(pop); err != nil {
		return nil, err
	}
	occ, err := r.occupants(pop)
	if err != nil {
		return nil, err
	}

	w := make([]float64, len(occ))
	if r.nullModel {
		for i, o := range occ {
			for _, v := range o.alpha {
				w[i] += v
			}
		}
	} else {
		if err := ValidateResources(resources, r.S()); err != nil {
			return nil, err
		}
		a := uptake(occ, r.S())
		for i, o := range occ {
			w[i] = share(o.alpha, resources, a)
		}
	}

	mean := 0.0
	for i, o := range occ {
		mean += o.n * w[i]
	}
	mean /= float64(pop.Size())

	out := fitness.New(r.L(), fitness.Multiplicative)
	for i, o := range occ {
		out.Set(o.g, w[i]/mean)
	}
	return out, nil
}

// FullFitness evaluates every genotype of the domain against the resource
// uptake of pop. Used for characterization, not on the generation loop.
func (r *Landscape) FullFitness(pop *population.Population, resources linalg.Vector) (*fitness.Landscape, error) {
	if err := r.checkPopulation(pop); err != nil {
		return nil, err
	}
	all, err := genotype.All(r.L())
	if err != nil {
		return nil, err
	}
	out := fitness.New(r.L(), fitness.Multiplicative)
	s := float64(r.S())

	if r.nullModel {
		for _, g := range all {
			alpha, err := r.phenotypes.Multiplicative(g)
			if err != nil {
				return nil, err
			}
			w := 0.0
			for _, v := range alpha {
				w += v
			}
			out.Set(g, w/s)
		}
		mean := 0.0
		for _, g := range pop.Genotypes() {
			w, _ := out.Get(g)
			mean += float64(pop.Count(g)) * w
		}
		out.Normalize(mean / float64(pop.Size()))
		return out, nil
	}

	if err := ValidateResources(resources, r.S()); err != nil {
		return nil, err
	}
	occ, err := r.occupants(pop)
	if err != nil {
		return nil, err
	}
	a := uptake(occ, r.S())
	total := 0.0
	for _, v := range resources {
		total += v
	}
	perCapita := total / float64(pop.Size())
	for _, g := range all {
		alpha, err := r.phenotypes.Multiplicative(g)
		if err != nil {
			return nil, err
		}
		out.Set(g, share(alpha, resources, a)/perCapita)
	}
	return out, nil
}

// MeanPhenotypicDistance is the mean Euclidean distance between the uptake
// vectors of two distinct individuals.
func (r *Landscape) MeanPhenotypicDistance(pop *population.Population) (float64, error) {
	if err := r.checkPopulation(pop); err != nil {
		return 0, err
	}
	occ, err := r.occupants(pop)
	if err != nil {
		return 0, err
	}
	size := float64(pop.Size())
	if size < 2 {
		return 0, nil
	}
	total := 0.0
	for _, a := range occ {
		for _, b := range occ {
			d2 := 0.0
			for k := range a.alpha {
				diff := a.alpha[k] - b.alpha[k]
				d2 += diff * diff
			}
			total += math.Sqrt(d2) * a.n * b.n
		}
	}
	return total / (size * (size - 1)), nil
}
