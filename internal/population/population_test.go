package population

import (
	"bytes"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecoevo/internal/fitness"
	"ecoevo/internal/genotype"
	"ecoevo/internal/linalg"
)

// constMapper gives every occupied genotype the same fitness, or the value
// set in overrides.
type constMapper struct {
	value     float64
	overrides map[genotype.Genotype]float64
}

func (m constMapper) OccupiedFitness(p *Population, _ linalg.Vector) (*fitness.Landscape, error) {
	f := fitness.New(p.L(), fitness.Multiplicative)
	for _, g := range p.Genotypes() {
		v, ok := m.overrides[g]
		if !ok {
			v = m.value
		}
		f.Set(g, v)
	}
	return f, nil
}

func wildPopulation(t *testing.T, l, n int) *Population {
	t.Helper()
	p, err := New(l, n)
	require.NoError(t, err)
	wild, err := genotype.Wild(l)
	require.NoError(t, err)
	require.NoError(t, p.Initialize(SingleGenotype{Genotype: wild}, nil))
	return p
}

func TestMutationExtremes(t *testing.T) {
	p := wildPopulation(t, 5, 100)
	src := rand.NewPCG(1, 2)

	require.NoError(t, p.Mutate(0, src))
	assert.Equal(t, 100, p.Count(genotype.MustFromSequence(0, 0, 0, 0, 0)))
	assert.Equal(t, 0, p.Count(genotype.MustFromSequence(0, 1, 0, 1, 0)))
	assert.Equal(t, 1, p.Len())

	require.NoError(t, p.Mutate(1, src))
	assert.Equal(t, 0, p.Count(genotype.MustFromSequence(0, 0, 0, 0, 0)))
	assert.Equal(t, 100, p.Count(genotype.MustFromSequence(1, 1, 1, 1, 1)))
	assert.Equal(t, 1, p.Len())
}

func TestMutationRateValidated(t *testing.T) {
	p := wildPopulation(t, 3, 10)
	require.ErrorIs(t, p.Mutate(-0.1, nil), ErrMutationRate)
	require.ErrorIs(t, p.Mutate(1.5, nil), ErrMutationRate)
	require.ErrorIs(t, p.Mutate(math.NaN(), nil), ErrMutationRate)
}

func TestCountsStayAtN(t *testing.T) {
	const n = 500
	p := wildPopulation(t, 6, n)
	src := rand.NewPCG(3, 4)
	mapper := constMapper{value: 1, overrides: map[genotype.Genotype]float64{
		genotype.MustFromSequence(1, 0, 0, 0, 0, 0): 1.5,
	}}
	for gen := 0; gen < 200; gen++ {
		require.NoError(t, p.Mutate(0.01, src))
		require.Equal(t, n, p.Total(), "after mutation in generation %d", gen)
		require.NoError(t, p.Select(mapper, nil, src))
		require.Equal(t, n, p.Total(), "after selection in generation %d", gen)
		for _, g := range p.Genotypes() {
			require.Positive(t, p.Count(g))
		}
	}
}

func TestMutationIsReproducible(t *testing.T) {
	a := wildPopulation(t, 8, 1000)
	b := a.Clone()
	require.NoError(t, a.Mutate(0.05, rand.NewPCG(9, 9)))
	require.NoError(t, b.Mutate(0.05, rand.NewPCG(9, 9)))
	assert.True(t, a.Equal(b))
	assert.Greater(t, a.Len(), 1)
}

func TestSelectRejectsBadWeights(t *testing.T) {
	p := wildPopulation(t, 3, 10)
	require.NoError(t, p.Add(genotype.MustFromSequence(1, 0, 0), 5))

	err := p.Select(constMapper{value: 0}, nil, rand.NewPCG(1, 1))
	require.ErrorIs(t, err, ErrInvalidWeights)

	err = p.Select(constMapper{value: -1}, nil, rand.NewPCG(1, 1))
	require.ErrorIs(t, err, ErrInvalidWeights)

	err = p.Select(constMapper{value: math.Inf(1)}, nil, rand.NewPCG(1, 1))
	require.ErrorIs(t, err, ErrInvalidWeights)
}

func TestSelectionFavoursFitter(t *testing.T) {
	p, err := New(2, 1000)
	require.NoError(t, err)
	a, b := genotype.MustFromSequence(0, 0), genotype.MustFromSequence(1, 1)
	require.NoError(t, p.Add(a, 500))
	require.NoError(t, p.Add(b, 500))

	mapper := constMapper{value: 1, overrides: map[genotype.Genotype]float64{b: 1e-9}}
	require.NoError(t, p.Select(mapper, nil, rand.NewPCG(5, 6)))
	assert.Equal(t, 1000, p.Count(a))
	assert.Equal(t, 1, p.Len())
}

func TestInitializeVariants(t *testing.T) {
	p, err := New(4, 200)
	require.NoError(t, err)

	require.NoError(t, p.Initialize(Binomial{P: 0}, rand.NewPCG(1, 1)))
	assert.Equal(t, 200, p.Count(genotype.MustFromSequence(0, 0, 0, 0)))

	require.NoError(t, p.Initialize(Binomial{P: 0.5}, rand.NewPCG(1, 1)))
	assert.Equal(t, 200, p.Total())
	assert.Greater(t, p.Len(), 1)

	require.NoError(t, p.Initialize(RandomSingle{}, rand.NewPCG(1, 1)))
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, 200, p.Total())

	require.ErrorIs(t, p.Initialize(Binomial{P: 2}, nil), ErrProbability)
	require.ErrorIs(t, p.Initialize(SingleGenotype{Genotype: genotype.MustFromSequence(0)}, nil), genotype.ErrMismatch)

	_, err = New(4, 0)
	require.ErrorIs(t, err, ErrSize)
}

func TestDiversity(t *testing.T) {
	p, err := New(3, 10)
	require.NoError(t, err)
	require.NoError(t, p.Add(genotype.MustFromSequence(0, 0, 0), 5))
	require.NoError(t, p.Add(genotype.MustFromSequence(1, 1, 0), 5))

	assert.InDelta(t, math.Ln2, p.ShannonEntropy(), 1e-12)
	assert.InDelta(t, 0.5, p.HaplotypeDiversity(), 1e-12)
	assert.InDelta(t, 1.0, p.NucleotideDiversity(), 1e-12)
	assert.Equal(t, 0.5, p.Distribution()[genotype.MustFromSequence(1, 1, 0)])
}

func TestTextRoundTrip(t *testing.T) {
	p, err := New(3, 10)
	require.NoError(t, err)
	require.NoError(t, p.Add(genotype.MustFromSequence(0, 1, 0), 4))
	require.NoError(t, p.Add(genotype.MustFromSequence(1, 1, 0), 6))

	var buf bytes.Buffer
	_, err = p.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, "#g0\tg1\tg2\tn\n0\t1\t0\t4\n1\t1\t0\t6\n", buf.String())

	back, err := Read(&buf)
	require.NoError(t, err)
	assert.True(t, p.Equal(back))

	_, err = Read(strings.NewReader("0\t2\t1\n"))
	require.ErrorIs(t, err, ErrFormat)
	_, err = Read(strings.NewReader("0\t1\t1\n0\t1\n"))
	require.ErrorIs(t, err, ErrFormat)
	_, err = Read(strings.NewReader("#g0\tn\n"))
	require.ErrorIs(t, err, ErrFormat)
}
