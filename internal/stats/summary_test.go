package stats

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecoevo/internal/model"
)

func TestSummaryHeader(t *testing.T) {
	h := SummaryHeader()
	require.True(t, strings.HasSuffix(h, "\ttg9\tn9\n"))
	cols := strings.Split(strings.TrimSuffix(h, "\n"), "\t")
	assert.Len(t, cols, scalarColumns+2*MaxTopGenotypes)
	assert.Equal(t, "#n_pop", cols[0])
	assert.Equal(t, "mean_phenotypic_distance", cols[16])
	assert.Equal(t, "tg0", cols[17])
}

func TestSummaryFileName(t *testing.T) {
	name := SummaryFileName(10, "HoC_S2_cd0.10000_co0.00000", 0.001, []float64{1, 2.5}, false, 42)
	assert.Equal(t, "L10_HoC_S2_cd0.10000_co0.00000_m1e-3_r[1.000,2.500]_full_42.dat", name)

	name = SummaryFileName(0, "x", 2.5e-5, []float64{1}, true, 7)
	assert.Equal(t, "L0_x_m2.5e-5_r[1.000]_null_7.dat", name)

	assert.Equal(t, "1e0", compactExp(1))
	assert.Equal(t, "1.5e2", compactExp(150))
}

func TestSummaryRoundTrip(t *testing.T) {
	p := model.DataPoint{
		PopulationSize: 100, LandscapeIndex: 2, Replicate: 1, Generation: 14999,
		Entropy: 0.5, HaplotypeDiversity: 0.25, NucleotideDiversity: 1.5,
		Strains: 4, Maxima: 2, Minima: 3,
		Maximum: 1.75, Minimum: 0.125, Gamma: model.Float(math.NaN()),
		Mean: 1, Var: 0.0625,
		FitnessWildtype: 0.5, MeanPhenotypicDistance: 0.001,
		TopGenotypes: []int64{3, 9},
		TopCounts:    []int{60, 40},
	}

	var buf bytes.Buffer
	sw, err := NewSummaryWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, sw.Write(p, p))
	require.NoError(t, sw.Close())

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "100\t2\t1\t14999\t0.5\t0.25\t1.5\t4\t2\t3\t1.75\t0.125\tNaN\t1\t0.0625\t0.5\t0.001\t3\t60\t9\t40\t-1\t0"), lines[1])

	points, err := ReadSummary(&buf)
	require.NoError(t, err)
	require.Len(t, points, 2)
	got := points[0]
	assert.True(t, math.IsNaN(float64(got.Gamma)))
	got.Gamma, p.Gamma = 0, 0
	assert.Equal(t, []int64{3, 9, -1, -1, -1, -1, -1, -1, -1, -1}, got.TopGenotypes)
	assert.Equal(t, []int{60, 40, 0, 0, 0, 0, 0, 0, 0, 0}, got.TopCounts)
	got.TopGenotypes, got.TopCounts = p.TopGenotypes, p.TopCounts
	assert.Equal(t, p, got)
}

func TestReadSummaryRejectsMalformedLines(t *testing.T) {
	_, err := ReadSummary(strings.NewReader(SummaryHeader() + "1\t2\t3\n"))
	require.ErrorIs(t, err, ErrSummaryFormat)

	row := FormatDataPoint(model.DataPoint{})
	row = strings.Replace(row, "0", "zero", 1)
	_, err = ReadSummary(strings.NewReader(row))
	require.ErrorIs(t, err, ErrSummaryFormat)
}
