package stability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecoevo/internal/fitness"
	"ecoevo/internal/genotype"
	"ecoevo/internal/population"
)

func single(k int, first int64) Snapshot {
	s := make(Snapshot, k)
	for i := range s {
		s[i] = Sentinel
	}
	s[0] = first
	return s
}

func TestStableAfterFullWindow(t *testing.T) {
	d, err := NewDetector(DefaultWindow, DefaultK)
	require.NoError(t, err)

	for i := 0; i < DefaultWindow; i++ {
		assert.False(t, d.Stable(), "window not full after %d snapshots", i)
		require.NoError(t, d.Observe(single(DefaultK, 0)))
	}
	assert.True(t, d.Stable())
}

func TestOneDifferentSnapshotBreaksStability(t *testing.T) {
	for _, at := range []int{0, 17, 499} {
		d, err := NewDetector(500, 10)
		require.NoError(t, err)
		for i := 0; i < 500; i++ {
			s := single(10, 0)
			if i == at {
				s = single(10, 3)
			}
			require.NoError(t, d.Observe(s))
		}
		assert.False(t, d.Stable(), "differing snapshot at %d", at)
	}
}

func TestOldSnapshotsRollOut(t *testing.T) {
	d, err := NewDetector(3, 2)
	require.NoError(t, err)
	require.NoError(t, d.Observe(Snapshot{5, -1}))
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Observe(Snapshot{1, 2}))
	}
	assert.True(t, d.Stable())
	assert.Equal(t, Snapshot{1, 2}, d.Latest())

	d.Reset()
	assert.False(t, d.Stable())
	assert.Nil(t, d.Latest())

	require.ErrorIs(t, d.Observe(Snapshot{1}), ErrSnapshot)
	_, err = NewDetector(0, 1)
	require.Error(t, err)
}

func TestDominantSet(t *testing.T) {
	d, err := NewDetector(10, 3)
	require.NoError(t, err)

	pop, err := population.New(3, 100)
	require.NoError(t, err)
	land := fitness.New(3, fitness.Multiplicative)
	all, err := genotype.All(3)
	require.NoError(t, err)
	for _, g := range all {
		require.NoError(t, pop.Add(g, 1))
		if g.Index()%2 == 1 {
			land.Set(g, 1.2)
		} else {
			land.Set(g, 0.8)
		}
	}
	assert.Equal(t, Snapshot{1, 3, 5}, d.Dominant(pop, land))

	few, err := population.New(3, 10)
	require.NoError(t, err)
	require.NoError(t, few.Add(all[6], 5))
	require.NoError(t, few.Add(all[7], 5))
	assert.Equal(t, Snapshot{7, -1, -1}, d.Dominant(few, land))
}
