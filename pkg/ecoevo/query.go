package ecoevo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"ecoevo/internal/fitness"
	"ecoevo/internal/genotype"
	"ecoevo/internal/model"
	"ecoevo/internal/plot"
	"ecoevo/internal/population"
	"ecoevo/internal/resource"
	"ecoevo/internal/stats"
)

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Mode         string
	Model        string
	L            int
	MutationRate float64
	Seed         uint64
	Runs         int
	StableRuns   int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type TimingReport struct {
	RunID     string
	Model     string
	NullModel bool
	Timings   []stats.Timing
}

// String renders the report as the plain timing table.
func (r TimingReport) String() string {
	return stats.FormatTimingReport(r.Model, r.NullModel, r.Timings)
}

type LandscapeStatsRequest struct {
	Model     ModelRequest
	L         int
	Landscape int
	Resources []float64
	NullModel bool
	// Population defaults to one individual of every genotype.
	Population *population.Population
	// DumpPath and PlotPath, when set, receive the full landscape as text
	// and as SVG.
	DumpPath string
	PlotPath string
}

type LandscapeStats struct {
	LandscapeID string
	Genotypes   int
	Gamma       float64
	Maxima      []int
	Minima      []int
	Max         float64
	ArgMax      int
	Min         float64
	ArgMin      int
	Mean        float64
	Var         float64
	Selected    []int
	// RhoNull is the Spearman rank correlation between this landscape and
	// its null model counterpart. NaN when either has tied values or when
	// the request is for the null model.
	RhoNull                float64
	MeanPhenotypicDistance float64
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.dataDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:        e.RunID,
			CreatedAtUTC: e.CreatedAtUTC,
			Mode:         e.Mode,
			Model:        e.Model,
			L:            e.L,
			MutationRate: e.MutationRate,
			Seed:         e.Seed,
			Runs:         e.Runs,
			StableRuns:   e.StableRuns,
		})
	}
	return out, nil
}

// SweepRuns returns the replicates of one simulate or converge run as
// written to its artifacts directory.
func (c *Client) SweepRuns(_ context.Context, runID string) ([]model.RunRecord, error) {
	runID, err := c.resolveRunID(runID, false)
	if err != nil {
		return nil, err
	}
	runs, ok, err := stats.ReadRuns(c.dataDir, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	return runs, nil
}

// StoredRuns lists replicates kept in the store, optionally for one
// landscape.
func (c *Client) StoredRuns(ctx context.Context, landscapeID string) ([]model.RunRecord, error) {
	if err := c.platform.Init(ctx); err != nil {
		return nil, err
	}
	return c.store.ListRuns(ctx, landscapeID)
}

// DataPoints returns the recorded tail of one replicate.
func (c *Client) DataPoints(ctx context.Context, replicateID string) ([]model.DataPoint, error) {
	if err := c.platform.Init(ctx); err != nil {
		return nil, err
	}
	points, ok, err := c.store.GetDataPoints(ctx, replicateID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no data points for %s", replicateID)
	}
	return points, nil
}

func (c *Client) Timings(_ context.Context, runID string, latest bool) (TimingReport, error) {
	runID, err := c.resolveRunID(runID, latest)
	if err != nil {
		return TimingReport{}, err
	}
	cfg, ok, err := stats.ReadRunConfig(c.dataDir, runID)
	if err != nil {
		return TimingReport{}, err
	}
	if !ok {
		return TimingReport{}, fmt.Errorf("run not found: %s", runID)
	}
	timings, ok, err := stats.ReadTimings(c.dataDir, runID)
	if err != nil {
		return TimingReport{}, err
	}
	if !ok {
		return TimingReport{}, fmt.Errorf("run %s has no timings", runID)
	}
	return TimingReport{RunID: runID, Model: cfg.Model, NullModel: cfg.NullModel, Timings: timings}, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}
	exportedDir, err := stats.ExportRunArtifacts(c.dataDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) resolveRunID(runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID != "" {
		return runID, nil
	}
	if !latest {
		return "", errors.New("run id is required")
	}
	entries, err := stats.ListRunIndex(c.dataDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

// LandscapeStats evaluates the full fitness landscape a population sees and
// summarizes its ruggedness.
func (c *Client) LandscapeStats(ctx context.Context, req LandscapeStatsRequest) (LandscapeStats, error) {
	fm, err := req.Model.build()
	if err != nil {
		return LandscapeStats{}, err
	}
	if !req.NullModel {
		if err := resource.ValidateResources(req.Resources, fm.Dim()); err != nil {
			return LandscapeStats{}, err
		}
	}
	if err := c.platform.Init(ctx); err != nil {
		return LandscapeStats{}, err
	}
	spec, err := c.loadLandscape(ctx, req.L, fm.Name(), req.Landscape, req.NullModel)
	if err != nil {
		return LandscapeStats{}, err
	}
	pop := req.Population
	if pop == nil {
		if pop, err = everyGenotype(req.L); err != nil {
			return LandscapeStats{}, err
		}
	}
	full, err := spec.Landscape.FullFitness(pop, req.Resources)
	if err != nil {
		return LandscapeStats{}, err
	}

	out := LandscapeStats{
		LandscapeID: spec.ID,
		Genotypes:   full.Len(),
		Gamma:       full.Gamma(),
		Maxima:      indices(full.Maxima()),
		Minima:      indices(full.Minima()),
		Selected:    indices(full.StrainsSelected()),
		RhoNull:     math.NaN(),
	}
	if g, v, ok := full.Max(); ok {
		out.ArgMax, out.Max = g.Index(), v
	}
	if g, v, ok := full.Min(); ok {
		out.ArgMin, out.Min = g.Index(), v
	}
	out.Mean, out.Var = full.MeanVar()
	if out.MeanPhenotypicDistance, err = spec.Landscape.MeanPhenotypicDistance(pop); err != nil {
		return LandscapeStats{}, err
	}

	if !req.NullModel {
		nullSpec, err := c.loadLandscape(ctx, req.L, fm.Name(), req.Landscape, true)
		if err != nil {
			return LandscapeStats{}, err
		}
		nullFull, err := nullSpec.Landscape.FullFitness(pop, req.Resources)
		if err != nil {
			return LandscapeStats{}, err
		}
		rho, err := full.SpearmanRho(nullFull)
		switch {
		case err == nil:
			out.RhoNull = rho
		case errors.Is(err, fitness.ErrTiedFitness):
			c.log.WithField("landscape", spec.ID).Debug("tied fitness values, no rank correlation")
		default:
			return LandscapeStats{}, err
		}
	}

	if req.DumpPath != "" {
		if err := writeDump(req.DumpPath, full); err != nil {
			return LandscapeStats{}, err
		}
	}
	if req.PlotPath != "" {
		lp, err := plot.NewLandscapePlot(full, pop.Distribution())
		if err != nil {
			return LandscapeStats{}, err
		}
		if err := lp.Save(req.PlotPath); err != nil {
			return LandscapeStats{}, err
		}
	}
	return out, nil
}

func everyGenotype(l int) (*population.Population, error) {
	all, err := genotype.All(l)
	if err != nil {
		return nil, err
	}
	pop, err := population.New(l, len(all))
	if err != nil {
		return nil, err
	}
	for _, g := range all {
		if err := pop.Add(g, 1); err != nil {
			return nil, err
		}
	}
	return pop, nil
}

func indices(gs []genotype.Genotype) []int {
	out := make([]int, len(gs))
	for i, g := range gs {
		out[i] = g.Index()
	}
	return out
}

func writeDump(path string, full *fitness.Landscape) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = full.WriteTo(f)
	return err
}
