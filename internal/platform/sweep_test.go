package platform

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecoevo/internal/evo"
	"ecoevo/internal/linalg"
	"ecoevo/internal/phenotype"
	"ecoevo/internal/resource"
	"ecoevo/internal/storage"
)

func newTestPlatform(t *testing.T) *Platform {
	t.Helper()
	p := New(Config{Store: storage.NewMemoryStore()})
	require.NoError(t, p.Init(context.Background()))
	return p
}

func rmfLandscape(t *testing.T, seed uint64) *resource.Landscape {
	t.Helper()
	rmf, err := phenotype.NewRoughMountFuji(2, []float64{0, 0.1, 0.02, 0.05, 0})
	require.NoError(t, err)
	land, err := resource.Build(rmf, 4, rand.NewPCG(seed, seed+1))
	require.NoError(t, err)
	return land
}

func registerLandscapes(t *testing.T, p *Platform, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := storage.LandscapeID(4, "RMF_test", i)
		require.NoError(t, p.SaveLandscape(context.Background(), LandscapeSpec{
			ID: id, Name: "RMF_test", Index: i, Landscape: rmfLandscape(t, uint64(i+1)),
		}))
		ids = append(ids, id)
	}
	return ids
}

func sweepConfig(ids []string, workers int) SweepConfig {
	return SweepConfig{
		RunID:           "sweep-1",
		Landscapes:      ids,
		PopulationSizes: []int{30, 60},
		Replicates:      3,
		MutationRate:    0.01,
		Resources:       linalg.Vector{1, 1},
		MaxGenerations:  40,
		MinGenerations:  5,
		Window:          10,
		Workers:         workers,
		Seed:            99,
	}
}

func TestSweepIsDeterministicAcrossWorkerCounts(t *testing.T) {
	serial := newTestPlatform(t)
	parallel := newTestPlatform(t)

	a, err := serial.Sweep(context.Background(), sweepConfig(registerLandscapes(t, serial, 2), 1))
	require.NoError(t, err)
	b, err := parallel.Sweep(context.Background(), sweepConfig(registerLandscapes(t, parallel, 2), 4))
	require.NoError(t, err)

	require.Len(t, a.Runs, 2*2*3)
	require.Len(t, b.Runs, len(a.Runs))
	for i := range a.Runs {
		ra, rb := a.Runs[i], b.Runs[i]
		assert.Equal(t, ra.ID, rb.ID)
		assert.Equal(t, ra.Generations, rb.Generations, ra.ID)
		assert.Equal(t, ra.Stable, rb.Stable, ra.ID)
		assert.Equal(t, ra.Dominant, rb.Dominant, ra.ID)
		assert.Equal(t, ra.Final, rb.Final, ra.ID)
	}

	first := a.Runs[0]
	assert.Equal(t, RunID("sweep-1", storage.LandscapeID(4, "RMF_test", 0), 30, 0), first.ID)
	assert.Equal(t, 30, first.PopulationSize)
	last := a.Runs[len(a.Runs)-1]
	assert.Equal(t, 1, last.LandscapeIndex)
	assert.Equal(t, 60, last.PopulationSize)
	assert.Equal(t, 2, last.Replicate)

	total := 0
	for _, gc := range first.Final {
		total += gc.Count
	}
	assert.Equal(t, 30, total)
}

func TestSweepPersistsRuns(t *testing.T) {
	p := newTestPlatform(t)
	ids := registerLandscapes(t, p, 1)
	cfg := sweepConfig(ids, 2)
	cfg.PopulationSizes = []int{20}
	cfg.Replicates = 2

	res, err := p.Sweep(context.Background(), cfg)
	require.NoError(t, err)

	runs, err := p.Store().ListRuns(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	got, ok, err := p.Store().GetRun(context.Background(), res.Runs[1].ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.Runs[1].Generations, got.Generations)
	assert.Empty(t, p.ActiveRuns())
}

func TestSweepSeparatesReplicates(t *testing.T) {
	s1, s2 := runSeed(1, 0, 100, 0)
	t1, t2 := runSeed(1, 0, 100, 1)
	assert.NotEqual(t, s1, t1)
	assert.NotEqual(t, s2, t2)
	u1, _ := runSeed(1, 0, 100, 0)
	assert.Equal(t, s1, u1)
}

func TestSweepValidation(t *testing.T) {
	p := newTestPlatform(t)
	ids := registerLandscapes(t, p, 1)
	ctx := context.Background()

	cfg := sweepConfig(nil, 1)
	_, err := p.Sweep(ctx, cfg)
	require.Error(t, err)

	cfg = sweepConfig([]string{"missing"}, 1)
	_, err = p.Sweep(ctx, cfg)
	require.ErrorContains(t, err, "not registered")

	cfg = sweepConfig(ids, 1)
	cfg.Replicates = 0
	_, err = p.Sweep(ctx, cfg)
	require.Error(t, err)

	cfg = sweepConfig(ids, 1)
	cfg.PopulationSizes = []int{0}
	_, err = p.Sweep(ctx, cfg)
	require.Error(t, err)

	_, err = New(Config{Store: storage.NewMemoryStore()}).Sweep(ctx, sweepConfig(ids, 1))
	require.ErrorContains(t, err, "not initialized")
}

func TestStopRunCancelsSweep(t *testing.T) {
	p := newTestPlatform(t)
	ids := registerLandscapes(t, p, 1)
	cfg := sweepConfig(ids, 1)
	cfg.MaxGenerations = 1000
	cfg.MinGenerations = 1000

	var stops atomic.Int32
	cfg.Recorder = evo.RecorderFunc(func(context.Context, evo.GenerationContext) error {
		if stops.Add(1) == 1 {
			assert.Equal(t, []string{"sweep-1"}, p.ActiveRuns())
			return p.StopRun("sweep-1")
		}
		return nil
	})
	_, err := p.Sweep(context.Background(), cfg)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, p.ActiveRuns())
	require.Error(t, p.StopRun("sweep-1"))
}

func TestLoadLandscapeFromStore(t *testing.T) {
	store := storage.NewMemoryStore()
	writer := New(Config{Store: store})
	require.NoError(t, writer.Init(context.Background()))
	land := rmfLandscape(t, 5)
	require.NoError(t, writer.SaveLandscape(context.Background(), LandscapeSpec{ID: "L4_x_0", Name: "x", Landscape: land}))
	require.Error(t, writer.RegisterLandscape(LandscapeSpec{ID: "L4_x_0", Landscape: land}))

	// second platform over the same initialized store
	reader := New(Config{Store: store})
	reader.started = true
	spec, err := reader.LoadLandscape(context.Background(), "L4_x_0", true)
	require.NoError(t, err)
	assert.True(t, spec.Landscape.IsNullModel())
	assert.True(t, spec.Landscape.Phenotypes().Equal(land.Phenotypes()))
	assert.Equal(t, []string{"L4_x_0/null"}, reader.RegisteredLandscapes())

	full, err := reader.LoadLandscape(context.Background(), "L4_x_0", false)
	require.NoError(t, err)
	assert.False(t, full.Landscape.IsNullModel())
	assert.Equal(t, "L4_x_0", full.Key())
	assert.Len(t, reader.RegisteredLandscapes(), 2)

	_, err = reader.LoadLandscape(context.Background(), "missing", false)
	require.ErrorContains(t, err, "not found")
}
