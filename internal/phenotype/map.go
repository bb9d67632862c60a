// Package phenotype builds the genotype to phenotype map of a landscape from
// a FitnessModel and persists it in a compact binary layout.
package phenotype

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"ecoevo/internal/genotype"
	"ecoevo/internal/linalg"
	"ecoevo/internal/mvn"
)

var ErrGenotypeMissing = errors.New("phenotype not found for genotype")

// Map assigns an S-dimensional phenotype to genotypes of length L. Maps built
// by Build cover the whole 2^L domain; a Map is never modified once built.
type Map struct {
	l, s       int
	model      FitnessModel
	phenotypes []linalg.Vector // by genotype index, nil when absent
}

// Entry is one persisted (genotype, phenotype) pair.
type Entry struct {
	Genotype  genotype.Genotype
	Phenotype linalg.Vector
}

// Build draws a complete map. Locus effects are drawn first, then one
// idiosyncratic vector per genotype in canonical index order.
func Build(model FitnessModel, l int, src rand.Source) (*Map, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: nil model", ErrParams)
	}
	all, err := genotype.All(l)
	if err != nil {
		return nil, err
	}
	s := model.Dim()

	var (
		effects       []linalg.Vector
		idiosyncratic *mvn.Sampler
	)
	switch m := model.(type) {
	case HoC:
		idiosyncratic, err = mvn.NewSampler(linalg.Filled(s, 0), m.Cb)
	case Additive:
		effects, err = locusEffects(m.Mu, m.Ca, l, src)
	case RoughMountFuji:
		effects, err = locusEffects(m.Mu, m.Ca, l, src)
		if err == nil {
			idiosyncratic, err = mvn.NewSampler(linalg.Filled(s, 0), m.Cb)
		}
	default:
		err = fmt.Errorf("%w: unsupported model %T", ErrParams, model)
	}
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", model.Name(), err)
	}

	out := &Map{l: l, s: s, model: model, phenotypes: make([]linalg.Vector, len(all))}
	for _, g := range all {
		var p linalg.Vector
		if idiosyncratic != nil {
			p = idiosyncratic.Sample(src)
		} else {
			p = linalg.Filled(s, 0)
		}
		for i, e := range effects {
			if g.Allele(i) == 1 {
				for k := range p {
					p[k] += e[k]
				}
			}
		}
		out.phenotypes[g.Index()] = p
	}
	return out, nil
}

func locusEffects(mu linalg.Vector, ca linalg.SquareMatrix, l int, src rand.Source) ([]linalg.Vector, error) {
	sampler, err := mvn.NewSampler(mu, ca)
	if err != nil {
		return nil, err
	}
	effects := make([]linalg.Vector, l)
	for i := range effects {
		effects[i] = sampler.Sample(src)
	}
	return effects, nil
}

// NewMap rebuilds a map from persisted entries. Entries may be partial;
// lookups of absent genotypes fail with ErrGenotypeMissing.
func NewMap(l, s int, model FitnessModel, entries []Entry) (*Map, error) {
	if err := genotype.ValidateLength(l); err != nil {
		return nil, err
	}
	if model != nil && model.Dim() != s {
		return nil, fmt.Errorf("%w: model has dimension %d, map has %d", linalg.ErrDimension, model.Dim(), s)
	}
	out := &Map{l: l, s: s, model: model, phenotypes: make([]linalg.Vector, genotype.Size(l))}
	for _, e := range entries {
		if e.Genotype.Len() != l {
			return nil, fmt.Errorf("%w: entry has length %d, map has %d", genotype.ErrMismatch, e.Genotype.Len(), l)
		}
		if len(e.Phenotype) != s {
			return nil, fmt.Errorf("%w: phenotype for %v has %d components, want %d", linalg.ErrDimension, e.Genotype, len(e.Phenotype), s)
		}
		out.phenotypes[e.Genotype.Index()] = e.Phenotype.Clone()
	}
	return out, nil
}

func (m *Map) L() int { return m.l }

func (m *Map) S() int { return m.s }

func (m *Map) Model() FitnessModel { return m.model }

// Len is the number of genotypes with a phenotype.
func (m *Map) Len() int {
	n := 0
	for _, p := range m.phenotypes {
		if p != nil {
			n++
		}
	}
	return n
}

// Complete reports whether every genotype of the domain has a phenotype.
func (m *Map) Complete() bool { return m.Len() == len(m.phenotypes) }

func (m *Map) lookup(g genotype.Genotype) (linalg.Vector, error) {
	if g.Len() != m.l {
		return nil, fmt.Errorf("%w: %v has length %d, map has %d", ErrGenotypeMissing, g, g.Len(), m.l)
	}
	p := m.phenotypes[g.Index()]
	if p == nil {
		return nil, fmt.Errorf("%w: %v", ErrGenotypeMissing, g)
	}
	return p, nil
}

// Phenotype returns a copy of the log-effect vector of g.
func (m *Map) Phenotype(g genotype.Genotype) (linalg.Vector, error) {
	p, err := m.lookup(g)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// Multiplicative returns exp of every phenotype component of g.
func (m *Map) Multiplicative(g genotype.Genotype) (linalg.Vector, error) {
	p, err := m.lookup(g)
	if err != nil {
		return nil, err
	}
	out := make(linalg.Vector, len(p))
	for k, v := range p {
		out[k] = math.Exp(v)
	}
	return out, nil
}

// Entries lists the present pairs in index order.
func (m *Map) Entries() []Entry {
	out := make([]Entry, 0, len(m.phenotypes))
	for i, p := range m.phenotypes {
		if p == nil {
			continue
		}
		g, _ := genotype.FromIndex(m.l, i)
		out = append(out, Entry{Genotype: g, Phenotype: p.Clone()})
	}
	return out
}

// Equal compares dimensions, models and every phenotype bit for bit.
func (m *Map) Equal(o *Map) bool {
	if m.l != o.l || m.s != o.s || len(m.phenotypes) != len(o.phenotypes) {
		return false
	}
	if (m.model == nil) != (o.model == nil) || (m.model != nil && !EqualModels(m.model, o.model)) {
		return false
	}
	for i := range m.phenotypes {
		if (m.phenotypes[i] == nil) != (o.phenotypes[i] == nil) || !m.phenotypes[i].Equal(o.phenotypes[i]) {
			return false
		}
	}
	return true
}
