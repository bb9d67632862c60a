package ecoevo

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecoevo/internal/stats"
	"ecoevo/internal/storage"
)

var hoc = ModelRequest{Kind: "hoc", S: 2, Params: []float64{0.5, 0.1}}

func newTestClient(t *testing.T, base string) *Client {
	t.Helper()
	c, err := New(Options{
		StoreKind:     "memory",
		LandscapesDir: filepath.Join(base, "landscapes"),
		DataDir:       filepath.Join(base, "data"),
		ExportsDir:    filepath.Join(base, "exports"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func createLandscapes(t *testing.T, c *Client, count int) CreateLandscapesSummary {
	t.Helper()
	summary, err := c.CreateLandscapes(context.Background(), CreateLandscapesRequest{Model: hoc, L: 4, Count: count, Seed: 11})
	require.NoError(t, err)
	return summary
}

func TestCreateLandscapesSkipsExisting(t *testing.T) {
	base := t.TempDir()
	c := newTestClient(t, base)

	first := createLandscapes(t, c, 2)
	assert.Equal(t, "HoC_S2_cd0.50000_co0.10000", first.Model)
	assert.Equal(t, []string{
		storage.LandscapeID(4, first.Model, 0),
		storage.LandscapeID(4, first.Model, 1),
	}, first.Created)
	for i := 0; i < 2; i++ {
		_, err := os.Stat(c.LandscapeFile(4, first.Model, i))
		require.NoError(t, err)
	}

	second := createLandscapes(t, c, 3)
	assert.Len(t, second.Skipped, 2)
	assert.Equal(t, []string{storage.LandscapeID(4, first.Model, 2)}, second.Created)

	// a fresh store only sees the files
	fresh := newTestClient(t, base)
	third := createLandscapes(t, fresh, 3)
	assert.Empty(t, third.Created)
	assert.Len(t, third.Skipped, 3)

	_, err := c.CreateLandscapes(context.Background(), CreateLandscapesRequest{Model: ModelRequest{Kind: "nope"}, L: 4, Count: 1})
	require.Error(t, err)
	_, err = c.CreateLandscapes(context.Background(), CreateLandscapesRequest{Model: hoc, L: 31, Count: 1})
	require.Error(t, err)
}

func TestSimulateRecordsTails(t *testing.T) {
	base := t.TempDir()
	createLandscapes(t, newTestClient(t, base), 2)

	// landscapes come from disk
	c := newTestClient(t, base)
	ctx := context.Background()
	summary, err := c.Simulate(ctx, SimulateRequest{
		Model:           hoc,
		L:               4,
		FirstLandscape:  0,
		LastLandscape:   2,
		PopulationSizes: []int{20},
		Replicates:      2,
		MutationRate:    0.01,
		Resources:       []float64{1, 1},
		MaxGenerations:  60,
		MinGenerations:  20,
		Window:          10,
		TailSize:        5,
		Workers:         2,
		Seed:            3,
	})
	require.NoError(t, err)
	require.Len(t, summary.Runs, 4)
	assert.True(t, strings.HasSuffix(summary.SummaryFile, "_full_3.dat"), summary.SummaryFile)

	data, err := os.ReadFile(summary.SummaryFile)
	require.NoError(t, err)
	points, err := stats.ReadSummary(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Len(t, points, 4*5)

	tail, err := c.DataPoints(ctx, summary.Runs[0].ID)
	require.NoError(t, err)
	require.Len(t, tail, 5)
	assert.Equal(t, summary.Runs[0].ID, tail[0].RunID)
	assert.Equal(t, summary.Runs[0].Generations-1, tail[4].Generation)

	stored, err := c.StoredRuns(ctx, storage.LandscapeID(4, "HoC_S2_cd0.50000_co0.10000", 1))
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	items, err := c.Runs(ctx, RunsRequest{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, summary.RunID, items[0].RunID)
	assert.Equal(t, "simulate", items[0].Mode)
	assert.Equal(t, 4, items[0].Runs)

	report, err := c.Timings(ctx, "", true)
	require.NoError(t, err)
	assert.Len(t, report.Timings, 4)
	assert.True(t, strings.HasPrefix(report.String(), "#HoC_S2_cd0.50000_co0.10000\tfull model\n"))

	runs, err := c.SweepRuns(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Len(t, runs, 4)

	exported, err := c.Export(ctx, ExportRequest{Latest: true})
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(exported.Directory, filepath.Base(summary.SummaryFile)))
	require.NoError(t, err)
}

func TestSimulateValidation(t *testing.T) {
	c := newTestClient(t, t.TempDir())
	ctx := context.Background()

	_, err := c.Simulate(ctx, SimulateRequest{Model: hoc, L: 4, FirstLandscape: 1, LastLandscape: 1, PopulationSizes: []int{10}, Resources: []float64{1, 1}})
	require.Error(t, err)

	_, err = c.Simulate(ctx, SimulateRequest{Model: hoc, L: 4, LastLandscape: 1, PopulationSizes: []int{10}, Resources: []float64{1}})
	require.Error(t, err)

	_, err = c.Simulate(ctx, SimulateRequest{Model: hoc, L: 4, LastLandscape: 1, PopulationSizes: []int{10}, Resources: []float64{1, 1}})
	require.ErrorContains(t, err, "load landscape")

	_, err = c.Export(ctx, ExportRequest{})
	require.Error(t, err)
	_, err = c.Timings(ctx, "", true)
	require.Error(t, err)
}

func TestConvergeWritesEveryGeneration(t *testing.T) {
	c := newTestClient(t, t.TempDir())
	createLandscapes(t, c, 1)

	summary, err := c.Converge(context.Background(), ConvergeRequest{
		Model:          hoc,
		L:              4,
		PopulationSize: 10,
		MutationRate:   0.05,
		Resources:      []float64{1, 2},
		Generations:    5,
		Plots:          true,
		Seed:           1,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Run.Generations)
	assert.False(t, summary.Run.Stable)

	for gen := 0; gen < 5; gen++ {
		_, err := os.Stat(filepath.Join(summary.Directory, stats.LandscapeDumpName(gen)))
		require.NoError(t, err)
		_, err = os.Stat(filepath.Join(summary.Directory, stats.PlotName(gen)))
		require.NoError(t, err)
	}
	data, err := os.ReadFile(summary.SummaryFile)
	require.NoError(t, err)
	points, err := stats.ReadSummary(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Len(t, points, 5)
}

func TestLandscapeStats(t *testing.T) {
	base := t.TempDir()
	c := newTestClient(t, base)
	createLandscapes(t, c, 1)

	dump := filepath.Join(base, "full.dat")
	plotPath := filepath.Join(base, "full.svg")
	out, err := c.LandscapeStats(context.Background(), LandscapeStatsRequest{
		Model:     hoc,
		L:         4,
		Resources: []float64{1, 1},
		DumpPath:  dump,
		PlotPath:  plotPath,
	})
	require.NoError(t, err)
	assert.Equal(t, 16, out.Genotypes)
	assert.NotEmpty(t, out.Maxima)
	assert.NotEmpty(t, out.Minima)
	assert.GreaterOrEqual(t, out.Max, out.Min)
	assert.InDelta(t, 1.0, out.Mean, 1e-9)

	data, err := os.ReadFile(dump)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 16)
	_, err = os.Stat(plotPath)
	require.NoError(t, err)

	null, err := c.LandscapeStats(context.Background(), LandscapeStatsRequest{Model: hoc, L: 4, NullModel: true})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(null.RhoNull))
}
