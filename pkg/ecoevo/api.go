package ecoevo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ecoevo/internal/evo"
	"ecoevo/internal/genotype"
	"ecoevo/internal/model"
	"ecoevo/internal/phenotype"
	"ecoevo/internal/platform"
	"ecoevo/internal/population"
	"ecoevo/internal/resource"
	"ecoevo/internal/stability"
	"ecoevo/internal/stats"
	"ecoevo/internal/storage"
)

const (
	defaultLandscapesDir = "landscapes"
	defaultDataDir       = "data"
	defaultExportsDir    = "exports"
	defaultDBPath        = "ecoevo.db"

	// persistenceThreshold is the fraction of tail points a genotype must be
	// dominant in to be reported as persistent.
	persistenceThreshold = 0.5
)

type Options struct {
	StoreKind     string
	DBPath        string
	LandscapesDir string
	DataDir       string
	ExportsDir    string
	Logger        logrus.FieldLogger
}

type Client struct {
	store    storage.Store
	platform *platform.Platform
	log      logrus.FieldLogger

	landscapesDir string
	dataDir       string
	exportsDir    string
}

// ModelRequest selects a fitness model by name ("hoc", "additive", "rmf")
// and its parameter list.
type ModelRequest struct {
	Kind   string
	S      int
	Params []float64
}

func (m ModelRequest) build() (phenotype.FitnessModel, error) {
	s := m.S
	if s == 0 {
		s = 2
	}
	return phenotype.ParseModel(m.Kind, s, m.Params)
}

type CreateLandscapesRequest struct {
	Model ModelRequest
	L     int
	Count int
	Seed  uint64
}

type CreateLandscapesSummary struct {
	Model   string
	Created []string
	Skipped []string
}

type SimulateRequest struct {
	Model           ModelRequest
	L               int
	FirstLandscape  int
	LastLandscape   int
	PopulationSizes []int
	Replicates      int
	MutationRate    float64
	Resources       []float64
	NullModel       bool
	MaxGenerations  int
	MinGenerations  int
	Window          int
	TopK            int
	TailSize        int
	Workers         int
	Seed            uint64
}

type SimulateSummary struct {
	RunID        string
	Model        string
	ArtifactsDir string
	SummaryFile  string
	Runs         []model.RunRecord
	// Persistent maps each replicate's run ID to the genotypes dominant in
	// at least half of its recorded tail.
	Persistent map[string][]int64
}

type ConvergeRequest struct {
	Model          ModelRequest
	L              int
	Landscape      int
	PopulationSize int
	MutationRate   float64
	Resources      []float64
	NullModel      bool
	Generations    int
	Plots          bool
	Seed           uint64
	// Start, when set, replaces the random single-genotype start.
	Start *population.Population
}

type ConvergeSummary struct {
	RunID       string
	Model       string
	Directory   string
	SummaryFile string
	Run         model.RunRecord
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	landscapesDir := opts.LandscapesDir
	if landscapesDir == "" {
		landscapesDir = defaultLandscapesDir
	}
	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:         store,
		platform:      platform.New(platform.Config{Store: store, Logger: log}),
		log:           log,
		landscapesDir: landscapesDir,
		dataDir:       dataDir,
		exportsDir:    exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.platform.Init(ctx)
}

// LandscapeFile is where the index-th landscape of a model is kept on disk.
func (c *Client) LandscapeFile(l int, modelName string, index int) string {
	return filepath.Join(c.landscapesDir, storage.LandscapeID(l, modelName, index)+".dat")
}

// CreateLandscapes draws Count landscapes of a model. Landscapes already in
// the store or on disk are skipped, so repeated calls only fill gaps. The
// index-th landscape always draws from the same PCG stream.
func (c *Client) CreateLandscapes(ctx context.Context, req CreateLandscapesRequest) (CreateLandscapesSummary, error) {
	if req.Count <= 0 {
		return CreateLandscapesSummary{}, errors.New("landscape count must be > 0")
	}
	if err := genotype.ValidateLength(req.L); err != nil {
		return CreateLandscapesSummary{}, err
	}
	fm, err := req.Model.build()
	if err != nil {
		return CreateLandscapesSummary{}, err
	}
	if err := c.platform.Init(ctx); err != nil {
		return CreateLandscapesSummary{}, err
	}
	if err := os.MkdirAll(c.landscapesDir, 0o755); err != nil {
		return CreateLandscapesSummary{}, err
	}

	summary := CreateLandscapesSummary{Model: fm.Name()}
	for index := 0; index < req.Count; index++ {
		id := storage.LandscapeID(req.L, fm.Name(), index)
		path := c.LandscapeFile(req.L, fm.Name(), index)
		exists, err := c.landscapeExists(ctx, id, path)
		if err != nil {
			return CreateLandscapesSummary{}, err
		}
		if exists {
			c.log.WithField("landscape", id).Info("already exists, skipping")
			summary.Skipped = append(summary.Skipped, id)
			continue
		}

		land, err := resource.Build(fm, req.L, rand.NewPCG(req.Seed, uint64(index)))
		if err != nil {
			return CreateLandscapesSummary{}, fmt.Errorf("build landscape %s: %w", id, err)
		}
		if err := phenotype.WriteFile(path, land.Phenotypes()); err != nil {
			return CreateLandscapesSummary{}, fmt.Errorf("could not save file %s: %w", path, err)
		}
		spec := platform.LandscapeSpec{ID: id, Name: fm.Name(), Index: index, Landscape: land}
		if err := c.platform.SaveLandscape(ctx, spec); err != nil {
			return CreateLandscapesSummary{}, err
		}
		summary.Created = append(summary.Created, id)
	}
	return summary, nil
}

func (c *Client) landscapeExists(ctx context.Context, id, path string) (bool, error) {
	if _, ok, err := c.store.GetLandscape(ctx, id); err != nil || ok {
		return ok, err
	}
	if _, err := os.Stat(path); err == nil {
		return true, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	return false, nil
}

// loadLandscape finds a landscape in the store, falling back to its file.
// A file found on disk is imported into the store.
func (c *Client) loadLandscape(ctx context.Context, l int, modelName string, index int, nullModel bool) (platform.LandscapeSpec, error) {
	id := storage.LandscapeID(l, modelName, index)
	if _, ok, err := c.store.GetLandscape(ctx, id); err != nil {
		return platform.LandscapeSpec{}, err
	} else if !ok {
		path := c.LandscapeFile(l, modelName, index)
		m, err := phenotype.ReadFile(path)
		if err != nil {
			return platform.LandscapeSpec{}, fmt.Errorf("load landscape %s: %w", id, err)
		}
		if m.L() != l {
			return platform.LandscapeSpec{}, fmt.Errorf("landscape %s has L=%d, want %d", path, m.L(), l)
		}
		spec := platform.LandscapeSpec{ID: id, Name: modelName, Index: index, Landscape: resource.NewLandscape(m)}
		if err := c.platform.SaveLandscape(ctx, spec); err != nil {
			return platform.LandscapeSpec{}, err
		}
	}
	return c.platform.LoadLandscape(ctx, id, nullModel)
}

// Simulate evolves populations on landscapes [FirstLandscape, LastLandscape)
// until the dominant set is stable, keeping the last TailSize data points of
// every replicate.
func (c *Client) Simulate(ctx context.Context, req SimulateRequest) (SimulateSummary, error) {
	if req.LastLandscape <= req.FirstLandscape {
		return SimulateSummary{}, fmt.Errorf("landscape range [%d, %d) is empty", req.FirstLandscape, req.LastLandscape)
	}
	if req.Replicates <= 0 {
		req.Replicates = 1
	}
	if req.MaxGenerations <= 0 {
		req.MaxGenerations = evo.DefaultMaxGenerations
	}
	if req.MinGenerations <= 0 {
		req.MinGenerations = min(evo.DefaultMinGenerations, req.MaxGenerations)
	}
	if req.Window <= 0 {
		req.Window = stability.DefaultWindow
	}
	if req.TopK <= 0 {
		req.TopK = stability.DefaultK
	}
	if req.TailSize <= 0 {
		req.TailSize = stats.DefaultTailSize
	}
	if req.Workers <= 0 {
		req.Workers = 1
	}
	fm, err := req.Model.build()
	if err != nil {
		return SimulateSummary{}, err
	}
	if !req.NullModel {
		if err := resource.ValidateResources(req.Resources, fm.Dim()); err != nil {
			return SimulateSummary{}, err
		}
	}
	if err := c.platform.Init(ctx); err != nil {
		return SimulateSummary{}, err
	}

	keys := make([]string, 0, req.LastLandscape-req.FirstLandscape)
	for index := req.FirstLandscape; index < req.LastLandscape; index++ {
		spec, err := c.loadLandscape(ctx, req.L, fm.Name(), index, req.NullModel)
		if err != nil {
			return SimulateSummary{}, err
		}
		keys = append(keys, spec.Key())
	}

	runID := uuid.NewString()
	now := time.Now().UTC()
	runConfig := stats.RunConfig{
		RunID:           runID,
		Mode:            "simulate",
		Model:           fm.Name(),
		ModelKind:       req.Model.Kind,
		ModelParams:     slices.Clone(req.Model.Params),
		L:               req.L,
		S:               fm.Dim(),
		FirstLandscape:  req.FirstLandscape,
		LastLandscape:   req.LastLandscape,
		PopulationSizes: slices.Clone(req.PopulationSizes),
		Replicates:      req.Replicates,
		MutationRate:    req.MutationRate,
		Resources:       slices.Clone(req.Resources),
		NullModel:       req.NullModel,
		MaxGenerations:  req.MaxGenerations,
		MinGenerations:  req.MinGenerations,
		Window:          req.Window,
		TopK:            req.TopK,
		Seed:            req.Seed,
		Workers:         req.Workers,
		SummaryFile:     stats.SummaryFileName(req.L, fm.Name(), req.MutationRate, req.Resources, req.NullModel, int(req.Seed%10000)),
	}
	if err := stats.WriteRunConfig(c.dataDir, runID, runConfig); err != nil {
		return SimulateSummary{}, err
	}
	runDir := filepath.Join(c.dataDir, runID)
	summaryWriter, summaryPath, err := stats.CreateSummary(runDir, runConfig.SummaryFile)
	if err != nil {
		return SimulateSummary{}, err
	}
	defer summaryWriter.Close()

	var (
		persistentMu sync.Mutex
		persistent   = make(map[string][]int64)
	)
	recorder := stats.NewBufferedRecorder(summaryWriter, func(ctx context.Context, params evo.RunParams, result evo.RunResult, tail []model.DataPoint) error {
		if genotypes := stats.PersistentGenotypes(tail, persistenceThreshold); len(genotypes) > 0 {
			persistentMu.Lock()
			persistent[params.RunID] = genotypes
			persistentMu.Unlock()
		}
		return c.store.SaveDataPoints(ctx, params.RunID, tail)
	})
	recorder.TailSize = req.TailSize
	if req.TailSize > recorder.BufferSize {
		recorder.BufferSize = req.TailSize
	}

	result, err := c.platform.Sweep(ctx, platform.SweepConfig{
		RunID:           runID,
		Landscapes:      keys,
		PopulationSizes: req.PopulationSizes,
		Replicates:      req.Replicates,
		MutationRate:    req.MutationRate,
		Resources:       req.Resources,
		MaxGenerations:  req.MaxGenerations,
		MinGenerations:  req.MinGenerations,
		RecordFrom:      max(0, req.MinGenerations-req.TailSize),
		Window:          req.Window,
		TopK:            req.TopK,
		Initial:         population.RandomSingle{},
		Recorder:        recorder,
		Workers:         req.Workers,
		Seed:            req.Seed,
	})
	if err != nil {
		return SimulateSummary{}, err
	}
	if err := summaryWriter.Close(); err != nil {
		return SimulateSummary{}, err
	}

	artifactsDir, err := stats.WriteRunArtifacts(c.dataDir, stats.RunArtifacts{Config: runConfig, Runs: result.Runs})
	if err != nil {
		return SimulateSummary{}, err
	}
	if err := stats.AppendRunIndex(c.dataDir, indexEntry(runConfig, result.Runs, now)); err != nil {
		return SimulateSummary{}, err
	}

	return SimulateSummary{
		RunID:        runID,
		Model:        fm.Name(),
		ArtifactsDir: artifactsDir,
		SummaryFile:  summaryPath,
		Runs:         result.Runs,
		Persistent:   persistent,
	}, nil
}

// Converge follows one population on one landscape for a fixed number of
// generations, recording every generation with landscape dumps and plots.
func (c *Client) Converge(ctx context.Context, req ConvergeRequest) (ConvergeSummary, error) {
	if req.PopulationSize <= 0 {
		return ConvergeSummary{}, errors.New("population size must be > 0")
	}
	if req.Generations <= 0 {
		req.Generations = evo.DefaultMaxGenerations
	}
	fm, err := req.Model.build()
	if err != nil {
		return ConvergeSummary{}, err
	}
	if !req.NullModel {
		if err := resource.ValidateResources(req.Resources, fm.Dim()); err != nil {
			return ConvergeSummary{}, err
		}
	}
	if err := c.platform.Init(ctx); err != nil {
		return ConvergeSummary{}, err
	}
	spec, err := c.loadLandscape(ctx, req.L, fm.Name(), req.Landscape, req.NullModel)
	if err != nil {
		return ConvergeSummary{}, err
	}

	runID := uuid.NewString()
	now := time.Now().UTC()
	runConfig := stats.RunConfig{
		RunID:           runID,
		Mode:            "converge",
		Model:           fm.Name(),
		ModelKind:       req.Model.Kind,
		ModelParams:     slices.Clone(req.Model.Params),
		L:               req.L,
		S:               fm.Dim(),
		FirstLandscape:  req.Landscape,
		LastLandscape:   req.Landscape + 1,
		PopulationSizes: []int{req.PopulationSize},
		Replicates:      1,
		MutationRate:    req.MutationRate,
		Resources:       slices.Clone(req.Resources),
		NullModel:       req.NullModel,
		MaxGenerations:  req.Generations,
		MinGenerations:  req.Generations,
		Seed:            req.Seed,
		Workers:         1,
		SummaryFile:     stats.SummaryFileName(req.L, fm.Name(), req.MutationRate, req.Resources, req.NullModel, int(req.Seed%10000)),
	}
	if err := stats.WriteRunConfig(c.dataDir, runID, runConfig); err != nil {
		return ConvergeSummary{}, err
	}
	runDir := filepath.Join(c.dataDir, runID)
	summaryWriter, summaryPath, err := stats.CreateSummary(runDir, runConfig.SummaryFile)
	if err != nil {
		return ConvergeSummary{}, err
	}
	defer summaryWriter.Close()
	recorder, err := stats.NewConvergenceRecorder(runDir, summaryWriter, req.Plots, c.log.WithField("run_id", runID))
	if err != nil {
		return ConvergeSummary{}, err
	}

	// MinGenerations equal to MaxGenerations disables the early stop.
	result, err := c.platform.Sweep(ctx, platform.SweepConfig{
		RunID:           runID,
		Landscapes:      []string{spec.Key()},
		PopulationSizes: []int{req.PopulationSize},
		Replicates:      1,
		MutationRate:    req.MutationRate,
		Resources:       req.Resources,
		MaxGenerations:  req.Generations,
		MinGenerations:  req.Generations,
		Initial:         population.RandomSingle{},
		Start:           req.Start,
		Recorder:        recorder,
		Workers:         1,
		Seed:            req.Seed,
	})
	if err != nil {
		return ConvergeSummary{}, err
	}
	if err := summaryWriter.Close(); err != nil {
		return ConvergeSummary{}, err
	}
	if _, err := stats.WriteRunArtifacts(c.dataDir, stats.RunArtifacts{Config: runConfig, Runs: result.Runs}); err != nil {
		return ConvergeSummary{}, err
	}
	if err := stats.AppendRunIndex(c.dataDir, indexEntry(runConfig, result.Runs, now)); err != nil {
		return ConvergeSummary{}, err
	}
	return ConvergeSummary{
		RunID:       runID,
		Model:       fm.Name(),
		Directory:   runDir,
		SummaryFile: summaryPath,
		Run:         result.Runs[0],
	}, nil
}

func indexEntry(cfg stats.RunConfig, runs []model.RunRecord, created time.Time) stats.RunIndexEntry {
	stable := 0
	for _, r := range runs {
		if r.Stable {
			stable++
		}
	}
	return stats.RunIndexEntry{
		RunID:        cfg.RunID,
		Mode:         cfg.Mode,
		Model:        cfg.Model,
		L:            cfg.L,
		MutationRate: cfg.MutationRate,
		Seed:         cfg.Seed,
		Workers:      cfg.Workers,
		Runs:         len(runs),
		StableRuns:   stable,
		CreatedAtUTC: created.Format(time.RFC3339),
	}
}
