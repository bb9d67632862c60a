package plot

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecoevo/internal/fitness"
	"ecoevo/internal/genotype"
)

func squareLandscape(t *testing.T) *fitness.Landscape {
	t.Helper()
	land := fitness.New(2, fitness.Multiplicative)
	all, err := genotype.All(2)
	require.NoError(t, err)
	for i, g := range all {
		land.Set(g, 0.5+0.25*float64(i))
	}
	return land
}

func TestWriteSVG(t *testing.T) {
	land := squareLandscape(t)
	freq := map[genotype.Genotype]float64{genotype.MustFromSequence(1, 1): 0.75}
	lp, err := NewLandscapePlot(land, freq)
	require.NoError(t, err)
	lp.Title = "L2"

	var buf bytes.Buffer
	require.NoError(t, lp.WriteSVG(&buf))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "<?xml"), "unexpected prefix %q", out[:min(len(out), 20)])
	assert.Contains(t, out, "<svg")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "</svg>"))
}

func TestPositionsGroupByMutations(t *testing.T) {
	lp, err := NewLandscapePlot(squareLandscape(t), nil)
	require.NoError(t, err)
	x := lp.positions()

	// 00 | 10 01 | 11
	assert.Equal(t, 0.0, x[genotype.MustFromSequence(0, 0)])
	assert.Equal(t, 3.0, x[genotype.MustFromSequence(1, 0)])
	assert.Equal(t, 4.0, x[genotype.MustFromSequence(0, 1)])
	assert.Equal(t, 7.0, x[genotype.MustFromSequence(1, 1)])

	ticks := lp.classTicks(x)
	require.Len(t, ticks, 3)
	assert.Equal(t, 3.5, ticks[1].Value)
	assert.Equal(t, "2", ticks[2].Label)
}

func TestSaveAndEmpty(t *testing.T) {
	lp, err := NewLandscapePlot(squareLandscape(t), nil)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "000001.svg")
	require.NoError(t, lp.Save(path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	_, err = NewLandscapePlot(fitness.New(2, fitness.Multiplicative), nil)
	require.ErrorIs(t, err, ErrEmptyLandscape)
}

func TestGradient(t *testing.T) {
	assert.Equal(t, markerLow, gradient(markerLow, markerHigh, 0))
	assert.Equal(t, markerHigh, gradient(markerLow, markerHigh, 1))
}
