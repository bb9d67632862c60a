package genotype

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSequenceMatchesFlip(t *testing.T) {
	g1 := MustFromSequence(0, 0, 0, 1, 0)
	g2, err := Wild(5)
	require.NoError(t, err)
	g2 = g2.Flip(3)

	assert.Equal(t, g1, g2)
	assert.Equal(t, 8, g1.Index())
	assert.Equal(t, 1, g1.Sum())
	assert.Equal(t, 8+32, g1.Order())
}

func TestFlipDoesNotAlias(t *testing.T) {
	g := MustFromSequence(1, 0, 1)
	keys := map[Genotype]int{g: 7}

	flipped := g.Flip(1)
	assert.Equal(t, "1 0 1", g.String())
	assert.Equal(t, "1 1 1", flipped.String())
	assert.Equal(t, 7, keys[g])
	_, ok := keys[flipped]
	assert.False(t, ok)
}

func TestAllCanonicalOrder(t *testing.T) {
	all, err := All(3)
	require.NoError(t, err)
	require.Len(t, all, 8)
	for i, g := range all {
		assert.Equal(t, i, g.Index())
		back, err := FromSequence(g.Alleles())
		require.NoError(t, err)
		assert.Equal(t, g, back)
	}
	assert.Equal(t, "1 1 0", all[3].String())
}

func TestFromIndexBounds(t *testing.T) {
	_, err := FromIndex(3, 8)
	require.True(t, errors.Is(err, ErrIndex))
	_, err = FromIndex(0, 0)
	require.True(t, errors.Is(err, ErrLength))
	_, err = FromSequence([]uint8{0, 2})
	require.True(t, errors.Is(err, ErrAllele))
}

func TestDistance(t *testing.T) {
	a := MustFromSequence(0, 1, 1, 0)
	b := MustFromSequence(1, 1, 0, 0)
	d, err := Distance(a, b)
	require.NoError(t, err)
	assert.Equal(t, 2, d)

	_, err = Distance(a, MustFromSequence(1, 1))
	require.ErrorIs(t, err, ErrMismatch)
}

func TestRandomStaysInDomain(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 100; i++ {
		g, err := Random(4, rng)
		require.NoError(t, err)
		assert.Equal(t, 4, g.Len())
		assert.Less(t, g.Index(), 16)
	}
}

func TestFlipAll(t *testing.T) {
	g := MustFromSequence(0, 0, 0, 0, 0)
	assert.Equal(t, MustFromSequence(1, 1, 1, 1, 1), g.FlipAll([]int{0, 1, 2, 3, 4}))
	assert.Panics(t, func() { g.Flip(5) })
}
