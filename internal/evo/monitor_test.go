package evo

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecoevo/internal/genotype"
	"ecoevo/internal/linalg"
	"ecoevo/internal/phenotype"
	"ecoevo/internal/population"
	"ecoevo/internal/resource"
	"ecoevo/internal/stability"
)

func testLandscape(t *testing.T) *resource.Landscape {
	t.Helper()
	model, err := phenotype.NewRoughMountFuji(2, []float64{0, 0.1, 0.02, 0.05, 0})
	require.NoError(t, err)
	r, err := resource.Build(model, 4, rand.NewPCG(10, 20))
	require.NoError(t, err)
	return r
}

type finishingRecorder struct {
	records  int
	finished []RunResult
	fail     bool
}

func (r *finishingRecorder) Record(_ context.Context, gc GenerationContext) error {
	r.records++
	if gc.Population.Total() != gc.Population.Size() {
		return errors.New("population size drifted")
	}
	if r.fail {
		return errors.New("disk full")
	}
	return nil
}

func (r *finishingRecorder) FinishRun(_ context.Context, _ RunParams, res RunResult) error {
	r.finished = append(r.finished, res)
	return nil
}

func TestRunKeepsPopulationSize(t *testing.T) {
	rec := &finishingRecorder{}
	m, err := NewMonitor(MonitorConfig{
		Landscape:      testLandscape(t),
		Resources:      linalg.Vector{1, 1},
		MutationRate:   0.01,
		PopulationSize: 200,
		MaxGenerations: 60,
		MinGenerations: 50,
		RecordFrom:     40,
		Recorder:       rec,
		Source:         rand.NewPCG(1, 2),
	})
	require.NoError(t, err)

	res, err := m.Run(context.Background(), RunParams{Initial: population.Binomial{P: 0.5}})
	require.NoError(t, err)
	assert.Equal(t, 60, res.Generations)
	assert.Equal(t, 200, res.Final.Total())
	assert.Equal(t, 20, rec.records)
	require.Len(t, rec.finished, 1)
	assert.Len(t, res.Dominant, stability.DefaultK)
	assert.Zero(t, res.RecordFailures)
}

func TestRunStopsWhenStable(t *testing.T) {
	d, err := stability.NewDetector(5, 3)
	require.NoError(t, err)
	wild, err := genotype.Wild(4)
	require.NoError(t, err)

	m, err := NewMonitor(MonitorConfig{
		Landscape:      testLandscape(t),
		Resources:      linalg.Vector{1, 2},
		MutationRate:   0,
		PopulationSize: 50,
		MaxGenerations: 1000,
		MinGenerations: 10,
		Detector:       d,
		Seed:           3,
	})
	require.NoError(t, err)

	res, err := m.Run(context.Background(), RunParams{Initial: population.SingleGenotype{Genotype: wild}})
	require.NoError(t, err)
	assert.True(t, res.Stable)
	assert.Equal(t, 12, res.Generations)
	assert.Equal(t, 50, res.Final.Count(wild))
	assert.Equal(t, stability.Snapshot{-1, -1, -1}, res.Dominant)
}

func TestRecorderFailuresAreLoggedNotFatal(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	rec := &finishingRecorder{fail: true}
	m, err := NewMonitor(MonitorConfig{
		Landscape:      testLandscape(t),
		Resources:      linalg.Vector{1, 1},
		MutationRate:   0.01,
		PopulationSize: 30,
		MaxGenerations: 5,
		Recorder:       rec,
		Logger:         logger,
		Seed:           4,
	})
	require.NoError(t, err)

	res, err := m.Run(context.Background(), RunParams{})
	require.NoError(t, err)
	assert.Equal(t, 5, res.RecordFailures)
	assert.Equal(t, 5, res.Generations)

	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
			assert.Equal(t, "disk full", e.Data[logrus.ErrorKey].(error).Error())
		}
	}
	assert.Equal(t, 5, warnings)
}

func TestRunHonoursCancellation(t *testing.T) {
	m, err := NewMonitor(MonitorConfig{
		Landscape:      testLandscape(t),
		Resources:      linalg.Vector{1, 1},
		MutationRate:   0.01,
		PopulationSize: 30,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Run(ctx, RunParams{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewMonitorValidates(t *testing.T) {
	land := testLandscape(t)
	cases := map[string]MonitorConfig{
		"no landscape":  {PopulationSize: 1, Resources: linalg.Vector{1, 1}},
		"no population": {Landscape: land, Resources: linalg.Vector{1, 1}},
		"bad rate":      {Landscape: land, PopulationSize: 1, MutationRate: 2, Resources: linalg.Vector{1, 1}},
		"bad resources": {Landscape: land, PopulationSize: 1, Resources: linalg.Vector{1}},
		"min over max":  {Landscape: land, PopulationSize: 1, Resources: linalg.Vector{1, 1}, MaxGenerations: 5, MinGenerations: 6},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewMonitor(cfg)
			require.Error(t, err)
		})
	}

	m, err := NewMonitor(MonitorConfig{Landscape: land, PopulationSize: 1, Resources: linalg.Vector{1, 1}})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxGenerations, m.cfg.MaxGenerations)
}

func TestRunFromStartPopulation(t *testing.T) {
	land := testLandscape(t)
	start, err := population.New(4, 20)
	require.NoError(t, err)
	require.NoError(t, start.Add(genotype.MustFromSequence(1, 0, 1, 0), 20))

	m, err := NewMonitor(MonitorConfig{
		Landscape: land, Resources: linalg.Vector{1, 1}, PopulationSize: 20, MaxGenerations: 3,
	})
	require.NoError(t, err)
	res, err := m.Run(context.Background(), RunParams{Start: start})
	require.NoError(t, err)
	assert.Equal(t, 20, res.Final.Count(genotype.MustFromSequence(1, 0, 1, 0)))
	assert.Equal(t, 20, start.Count(genotype.MustFromSequence(1, 0, 1, 0)))

	_, err = m.Run(context.Background(), RunParams{Start: mustPopulation(t, 4, 5)})
	require.Error(t, err)
}

func mustPopulation(t *testing.T, l, n int) *population.Population {
	t.Helper()
	p, err := population.New(l, n)
	require.NoError(t, err)
	return p
}
