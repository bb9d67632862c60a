package evo

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"

	"ecoevo/internal/linalg"
	"ecoevo/internal/population"
	"ecoevo/internal/resource"
	"ecoevo/internal/stability"
)

const (
	DefaultMaxGenerations = 100000
	DefaultMinGenerations = 15000
)

// GenerationContext is what a Recorder sees after each generation. The
// population and landscape must not be retained or modified.
type GenerationContext struct {
	LandscapeIndex int
	Replicate      int
	Generation     int
	Population     *population.Population
	Landscape      *resource.Landscape
	Resources      linalg.Vector
}

// Recorder receives generations as they complete. Errors are logged and do
// not stop the run.
type Recorder interface {
	Record(ctx context.Context, gc GenerationContext) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, gc GenerationContext) error

func (f RecorderFunc) Record(ctx context.Context, gc GenerationContext) error { return f(ctx, gc) }

// RunFinisher is implemented by recorders that flush once a run ends.
type RunFinisher interface {
	FinishRun(ctx context.Context, params RunParams, result RunResult) error
}

type MonitorConfig struct {
	Landscape      *resource.Landscape
	Resources      linalg.Vector
	MutationRate   float64
	PopulationSize int
	MaxGenerations int
	MinGenerations int
	// RecordFrom is the first generation handed to Recorder.
	RecordFrom int
	Detector   *stability.Detector
	Recorder   Recorder
	Logger     logrus.FieldLogger
	Source     rand.Source
	Seed       uint64
}

type RunParams struct {
	// RunID is carried through to recorders and log fields.
	RunID          string
	LandscapeIndex int
	Replicate      int
	Initial        population.Initial
	// Start, when set, is evolved in place of a freshly initialized population.
	Start *population.Population
}

type RunResult struct {
	Generations    int
	Stable         bool
	Dominant       stability.Snapshot
	Final          *population.Population
	RecordFailures int
	Elapsed        time.Duration
}

// Monitor runs the generation loop on one landscape. A Monitor is not safe
// for concurrent use; parallel runs each get their own.
type Monitor struct {
	cfg MonitorConfig
	src rand.Source
}

func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if cfg.Landscape == nil {
		return nil, fmt.Errorf("landscape is required")
	}
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	if cfg.MutationRate < 0 || cfg.MutationRate > 1 {
		return nil, fmt.Errorf("%w: %g", population.ErrMutationRate, cfg.MutationRate)
	}
	if !cfg.Landscape.IsNullModel() {
		if err := resource.ValidateResources(cfg.Resources, cfg.Landscape.S()); err != nil {
			return nil, err
		}
	}
	if cfg.MaxGenerations == 0 {
		cfg.MaxGenerations = DefaultMaxGenerations
	}
	if cfg.MaxGenerations < 0 {
		return nil, fmt.Errorf("max generations must be > 0")
	}
	if cfg.MinGenerations < 0 {
		return nil, fmt.Errorf("min generations must be >= 0")
	}
	if cfg.MinGenerations > cfg.MaxGenerations {
		return nil, fmt.Errorf("min generations %d exceeds max generations %d", cfg.MinGenerations, cfg.MaxGenerations)
	}
	if cfg.Detector == nil {
		d, err := stability.NewDetector(stability.DefaultWindow, stability.DefaultK)
		if err != nil {
			return nil, err
		}
		cfg.Detector = d
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		cfg.Logger = l
	}
	src := cfg.Source
	if src == nil {
		src = rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)
	}
	return &Monitor{cfg: cfg, src: src}, nil
}

// Run evolves one replicate until the dominant set has been stable for a
// full window after MinGenerations, or MaxGenerations is reached.
func (m *Monitor) Run(ctx context.Context, params RunParams) (RunResult, error) {
	started := time.Now()
	log := m.cfg.Logger.WithFields(logrus.Fields{
		"landscape": params.LandscapeIndex,
		"replicate": params.Replicate,
		"n":         m.cfg.PopulationSize,
	})
	if params.RunID != "" {
		log = log.WithField("run_id", params.RunID)
	}

	pop, err := m.startingPopulation(params)
	if err != nil {
		return RunResult{}, err
	}
	m.cfg.Detector.Reset()

	result := RunResult{}
	for gen := 0; gen < m.cfg.MaxGenerations; gen++ {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}
		if err := pop.Mutate(m.cfg.MutationRate, m.src); err != nil {
			return RunResult{}, err
		}
		if err := pop.Select(m.cfg.Landscape, m.cfg.Resources, m.src); err != nil {
			return RunResult{}, fmt.Errorf("generation %d: %w", gen, err)
		}
		result.Generations = gen + 1

		if m.cfg.Recorder != nil && gen >= m.cfg.RecordFrom {
			err := m.cfg.Recorder.Record(ctx, GenerationContext{
				LandscapeIndex: params.LandscapeIndex,
				Replicate:      params.Replicate,
				Generation:     gen,
				Population:     pop,
				Landscape:      m.cfg.Landscape,
				Resources:      m.cfg.Resources,
			})
			if err != nil {
				result.RecordFailures++
				log.WithError(err).WithField("generation", gen).Warn("record generation")
			}
		}

		occupied, err := m.cfg.Landscape.OccupiedFitness(pop, m.cfg.Resources)
		if err != nil {
			return RunResult{}, fmt.Errorf("generation %d: %w", gen, err)
		}
		if err := m.cfg.Detector.Observe(m.cfg.Detector.Dominant(pop, occupied)); err != nil {
			return RunResult{}, err
		}
		if gen > m.cfg.MinGenerations && m.cfg.Detector.Stable() {
			result.Stable = true
			break
		}
	}

	result.Dominant = m.cfg.Detector.Latest()
	result.Final = pop
	result.Elapsed = time.Since(started)

	if f, ok := m.cfg.Recorder.(RunFinisher); ok {
		if err := f.FinishRun(ctx, params, result); err != nil {
			result.RecordFailures++
			log.WithError(err).Warn("finish recording")
		}
	}
	log.WithFields(logrus.Fields{
		"generations": result.Generations,
		"stable":      result.Stable,
		"genotypes":   pop.Len(),
		"elapsed":     result.Elapsed,
	}).Debug("run finished")
	return result, nil
}

func (m *Monitor) startingPopulation(params RunParams) (*population.Population, error) {
	if params.Start != nil {
		if params.Start.Size() != m.cfg.PopulationSize {
			return nil, fmt.Errorf("initial population mismatch: got=%d want=%d", params.Start.Size(), m.cfg.PopulationSize)
		}
		return params.Start.Clone(), nil
	}
	pop, err := population.New(m.cfg.Landscape.L(), m.cfg.PopulationSize)
	if err != nil {
		return nil, err
	}
	initial := params.Initial
	if initial == nil {
		initial = population.RandomSingle{}
	}
	if err := pop.Initialize(initial, m.src); err != nil {
		return nil, err
	}
	return pop, nil
}
