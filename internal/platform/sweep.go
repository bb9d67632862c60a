package platform

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"ecoevo/internal/evo"
	"ecoevo/internal/linalg"
	"ecoevo/internal/model"
	"ecoevo/internal/population"
	"ecoevo/internal/stability"
	"ecoevo/internal/storage"
)

// SweepConfig describes landscapes × population sizes × replicates.
type SweepConfig struct {
	RunID string
	// Landscapes are registry keys, see LandscapeSpec.Key.
	Landscapes      []string
	PopulationSizes []int
	Replicates      int
	MutationRate    float64
	Resources       linalg.Vector
	MaxGenerations  int
	MinGenerations  int
	RecordFrom      int
	Window          int
	TopK            int
	Initial         population.Initial
	// Start replaces the initial population of every replicate. It requires
	// a single population size equal to Start.Size().
	Start *population.Population
	// Recorder is shared by all runs and must be safe for concurrent use
	// when Workers > 1.
	Recorder evo.Recorder
	Workers  int
	Seed     uint64
}

type SweepResult struct {
	RunID string
	// Runs are ordered by landscape, population size, then replicate.
	Runs []model.RunRecord
}

type sweepJob struct {
	landscape LandscapeSpec
	size      int
	replicate int
}

// Sweep runs every replicate in parallel, at most Workers at a time. Each
// run draws from its own PCG seeded by (Seed, landscape index, size,
// replicate) so results do not depend on scheduling. Finished runs are
// saved to the store as they complete.
func (p *Platform) Sweep(ctx context.Context, cfg SweepConfig) (SweepResult, error) {
	if !p.Started() {
		return SweepResult{}, fmt.Errorf("platform is not initialized")
	}
	if len(cfg.Landscapes) == 0 {
		return SweepResult{}, fmt.Errorf("at least one landscape is required")
	}
	if len(cfg.PopulationSizes) == 0 {
		return SweepResult{}, fmt.Errorf("at least one population size is required")
	}
	for _, n := range cfg.PopulationSizes {
		if n <= 0 {
			return SweepResult{}, fmt.Errorf("population size must be > 0, got %d", n)
		}
	}
	if cfg.Replicates <= 0 {
		return SweepResult{}, fmt.Errorf("replicates must be > 0")
	}
	if cfg.Start != nil && (len(cfg.PopulationSizes) != 1 || cfg.PopulationSizes[0] != cfg.Start.Size()) {
		return SweepResult{}, fmt.Errorf("initial population mismatch: got=%d want=%v", cfg.Start.Size(), cfg.PopulationSizes)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = stability.DefaultWindow
	}
	if cfg.TopK <= 0 {
		cfg.TopK = stability.DefaultK
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	jobs := make([]sweepJob, 0, len(cfg.Landscapes)*len(cfg.PopulationSizes)*cfg.Replicates)
	for _, key := range cfg.Landscapes {
		spec, ok := p.GetLandscape(key)
		if !ok {
			return SweepResult{}, fmt.Errorf("landscape not registered: %s", key)
		}
		for _, n := range cfg.PopulationSizes {
			for r := 0; r < cfg.Replicates; r++ {
				jobs = append(jobs, sweepJob{landscape: spec, size: n, replicate: r})
			}
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := p.registerRun(cfg.RunID, cancel); err != nil {
		return SweepResult{}, err
	}
	defer p.unregisterRun(cfg.RunID)

	log := p.log.WithField("sweep", cfg.RunID)
	log.WithFields(logrus.Fields{
		"landscapes": len(cfg.Landscapes),
		"runs":       len(jobs),
		"workers":    cfg.Workers,
	}).Info("sweep started")

	records := make([]model.RunRecord, len(jobs))
	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(cfg.Workers)
	for i, job := range jobs {
		g.Go(func() error {
			record, err := p.runJob(gctx, cfg, job, log)
			if err != nil {
				return fmt.Errorf("landscape %s n=%d replicate %d: %w", job.landscape.ID, job.size, job.replicate, err)
			}
			records[i] = record
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SweepResult{}, err
	}
	return SweepResult{RunID: cfg.RunID, Runs: records}, nil
}

func (p *Platform) runJob(ctx context.Context, cfg SweepConfig, job sweepJob, log logrus.FieldLogger) (model.RunRecord, error) {
	detector, err := stability.NewDetector(cfg.Window, cfg.TopK)
	if err != nil {
		return model.RunRecord{}, err
	}
	s1, s2 := runSeed(cfg.Seed, job.landscape.Index, job.size, job.replicate)
	monitor, err := evo.NewMonitor(evo.MonitorConfig{
		Landscape:      job.landscape.Landscape,
		Resources:      cfg.Resources,
		MutationRate:   cfg.MutationRate,
		PopulationSize: job.size,
		MaxGenerations: cfg.MaxGenerations,
		MinGenerations: cfg.MinGenerations,
		RecordFrom:     cfg.RecordFrom,
		Detector:       detector,
		Recorder:       cfg.Recorder,
		Logger:         log,
		Source:         rand.NewPCG(s1, s2),
	})
	if err != nil {
		return model.RunRecord{}, err
	}

	runID := RunID(cfg.RunID, job.landscape.ID, job.size, job.replicate)
	result, err := monitor.Run(ctx, evo.RunParams{
		RunID:          runID,
		LandscapeIndex: job.landscape.Index,
		Replicate:      job.replicate,
		Initial:        cfg.Initial,
		Start:          cfg.Start,
	})
	if err != nil {
		return model.RunRecord{}, err
	}

	record := toModelRun(runID, job, cfg, result)
	if err := p.store.SaveRun(ctx, record); err != nil {
		return model.RunRecord{}, fmt.Errorf("save run %s: %w", runID, err)
	}
	log.WithFields(logrus.Fields{
		"landscape_id": job.landscape.Index,
		"pop_size":     job.size,
		"replicate":    job.replicate,
		"time_s":       result.Elapsed.Seconds(),
		"generations":  result.Generations,
		"stable":       result.Stable,
	}).Info("replicate finished")
	return record, nil
}

// RunID names one replicate of a sweep.
func RunID(sweepID, landscapeID string, size, replicate int) string {
	return fmt.Sprintf("%s:%s:n%d:r%d", sweepID, landscapeID, size, replicate)
}

func toModelRun(runID string, job sweepJob, cfg SweepConfig, result evo.RunResult) model.RunRecord {
	final := make([]model.GenotypeCount, 0, result.Final.Len())
	for _, g := range result.Final.Genotypes() {
		final = append(final, model.GenotypeCount{Index: g.Index(), Count: result.Final.Count(g)})
	}
	return model.RunRecord{
		VersionedRecord: storage.Versioned(),
		ID:              runID,
		LandscapeID:     job.landscape.ID,
		LandscapeIndex:  job.landscape.Index,
		Replicate:       job.replicate,
		PopulationSize:  job.size,
		MutationRate:    cfg.MutationRate,
		Resources:       slices.Clone([]float64(cfg.Resources)),
		NullModel:       job.landscape.Landscape.IsNullModel(),
		Generations:     result.Generations,
		Stable:          result.Stable,
		Dominant:        slices.Clone([]int64(result.Dominant)),
		Final:           final,
		RecordFailures:  result.RecordFailures,
		ElapsedMS:       result.Elapsed.Milliseconds(),
		CreatedAtUTC:    time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func runSeed(seed uint64, landscape, size, replicate int) (uint64, uint64) {
	h := splitmix(seed)
	for _, v := range []int{landscape, size, replicate} {
		h = splitmix(h ^ uint64(v))
	}
	return h, splitmix(h)
}

func splitmix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
