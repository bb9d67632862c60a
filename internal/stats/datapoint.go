package stats

import (
	"math"
	"slices"

	"ecoevo/internal/evo"
	"ecoevo/internal/fitness"
	"ecoevo/internal/genotype"
	"ecoevo/internal/model"
)

const MaxTopGenotypes = 10

// FullLandscape evaluates every genotype against the current population.
func FullLandscape(gc evo.GenerationContext) (*fitness.Landscape, error) {
	return gc.Landscape.FullFitness(gc.Population, gc.Resources)
}

// NewDataPoint characterizes the population of gc on its full fitness
// landscape.
func NewDataPoint(gc evo.GenerationContext) (model.DataPoint, error) {
	full, err := FullLandscape(gc)
	if err != nil {
		return model.DataPoint{}, err
	}
	return dataPointOn(gc, full)
}

func dataPointOn(gc evo.GenerationContext, full *fitness.Landscape) (model.DataPoint, error) {
	pop := gc.Population
	distance, err := gc.Landscape.MeanPhenotypicDistance(pop)
	if err != nil {
		return model.DataPoint{}, err
	}

	maximum, minimum := math.NaN(), math.NaN()
	if _, v, ok := full.Max(); ok {
		maximum = v
	}
	if _, v, ok := full.Min(); ok {
		minimum = v
	}
	mean, variance := full.MeanVar()

	wildtype := math.NaN()
	if wild, err := genotype.Wild(pop.L()); err == nil {
		if v, ok := full.Get(wild); ok {
			wildtype = v
		}
	}

	top := make([]int64, MaxTopGenotypes)
	counts := make([]int, MaxTopGenotypes)
	for i := range top {
		top[i] = -1
	}
	k := 0
	for _, g := range pop.Genotypes() {
		if k == MaxTopGenotypes {
			break
		}
		if w, ok := full.Get(g); ok && w > 1 {
			top[k] = int64(g.Index())
			counts[k] = pop.Count(g)
			k++
		}
	}

	return model.DataPoint{
		PopulationSize:         pop.Size(),
		LandscapeIndex:         gc.LandscapeIndex,
		Replicate:              gc.Replicate,
		Generation:             gc.Generation,
		Entropy:                model.Float(pop.ShannonEntropy()),
		HaplotypeDiversity:     model.Float(pop.HaplotypeDiversity()),
		NucleotideDiversity:    model.Float(pop.NucleotideDiversity()),
		Strains:                pop.Len(),
		Maxima:                 len(full.Maxima()),
		Minima:                 len(full.Minima()),
		Maximum:                model.Float(maximum),
		Minimum:                model.Float(minimum),
		Gamma:                  model.Float(full.Gamma()),
		Mean:                   model.Float(mean),
		Var:                    model.Float(variance),
		FitnessWildtype:        model.Float(wildtype),
		MeanPhenotypicDistance: model.Float(distance),
		TopGenotypes:           top,
		TopCounts:              counts,
	}, nil
}

// PersistentGenotypes lists, in index order, the genotypes that appear among
// the top genotypes of more than threshold of the given points.
func PersistentGenotypes(points []model.DataPoint, threshold float64) []int64 {
	if len(points) == 0 {
		return nil
	}
	seen := make(map[int64]int)
	for _, p := range points {
		for _, g := range p.TopGenotypes {
			if g < 0 {
				break
			}
			seen[g]++
		}
	}
	out := make([]int64, 0, len(seen))
	for g, n := range seen {
		if float64(n)/float64(len(points)) > threshold {
			out = append(out, g)
		}
	}
	slices.Sort(out)
	return out
}
