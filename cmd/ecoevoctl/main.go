package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ecoevo/internal/model"
	"ecoevo/internal/population"
	"ecoevo/internal/stats"
	api "ecoevo/pkg/ecoevo"
)

const exportsDir = "exports"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "create-landscapes":
		return runCreateLandscapes(ctx, args[1:])
	case "simulate":
		return runSimulate(ctx, args[1:])
	case "converge":
		return runConverge(ctx, args[1:])
	case "stats":
		return runStats(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "timings":
		return runTimings(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// commandFlags binds flags whose explicitly set values override the YAML
// config.
type commandFlags struct {
	fs       *flag.FlagSet
	config   *string
	defaults fileConfig
	values   map[string]any
}

func newCommandFlags(name string) *commandFlags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return &commandFlags{
		fs:       fs,
		config:   fs.String("config", "", "optional YAML config path"),
		defaults: defaultConfig(),
		values:   make(map[string]any),
	}
}

func (c *commandFlags) str(name, value, usage string) {
	c.values[name] = c.fs.String(name, value, usage)
}

func (c *commandFlags) integer(name string, value int, usage string) {
	c.values[name] = c.fs.Int(name, value, usage)
}

func (c *commandFlags) float(name string, value float64, usage string) {
	c.values[name] = c.fs.Float64(name, value, usage)
}

func (c *commandFlags) boolean(name string, value bool, usage string) {
	c.values[name] = c.fs.Bool(name, value, usage)
}

func (c *commandFlags) storeFlags() {
	d := c.defaults
	c.str("store", d.Store, "store backend: memory|sqlite")
	c.str("db-path", d.DBPath, "sqlite database path")
	c.str("landscapes-dir", d.LandscapesDir, "landscape file directory")
	c.str("data-dir", d.DataDir, "run artifact directory")
	c.str("log-level", d.LogLevel, "log level: debug|info|warn|error")
}

func (c *commandFlags) modelFlags() {
	d := c.defaults
	c.str("hoc", "", "house of cards model: cb_diag,cb_offdiag")
	c.str("add", "", "additive model: mu,ca_diag,ca_offdiag")
	c.str("rmf", "", "rough mount fuji model: mu,ca_diag,ca_offdiag,cb_diag,cb_offdiag")
	c.integer("s", d.Model.S, "phenotype dimensions")
	c.integer("l", d.L, "genotype length")
}

func (c *commandFlags) dynamicsFlags() {
	d := c.defaults
	c.float("mutation-rate", d.MutationRate, "mutation rate per locus")
	c.str("resources", joinFloats(d.Resources), "resource supply per phenotype dimension")
	c.boolean("null", d.NullModel, "use the null model (no resource competition)")
	c.values["seed"] = c.fs.Uint64("seed", d.Seed, "rng seed (0 uses the clock)")
}

func (c *commandFlags) parse(args []string) (fileConfig, error) {
	if err := c.fs.Parse(args); err != nil {
		return fileConfig{}, err
	}
	setFlags := make(map[string]bool)
	c.fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	cfg, err := loadOrDefaultConfig(*c.config)
	if err != nil {
		return fileConfig{}, err
	}
	values := make(map[string]any, len(c.values))
	for name, ptr := range c.values {
		switch p := ptr.(type) {
		case *string:
			values[name] = *p
		case *int:
			values[name] = *p
		case *float64:
			values[name] = *p
		case *bool:
			values[name] = *p
		case *uint64:
			values[name] = *p
		}
	}
	if err := overrideFromFlags(&cfg, setFlags, values); err != nil {
		return fileConfig{}, err
	}
	return cfg, nil
}

func newLogger(level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetLevel(lvl)
	return log, nil
}

func openClient(cfg fileConfig) (*api.Client, error) {
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return api.New(api.Options{
		StoreKind:     cfg.Store,
		DBPath:        cfg.DBPath,
		LandscapesDir: cfg.LandscapesDir,
		DataDir:       cfg.DataDir,
		ExportsDir:    cfg.ExportsDir,
		Logger:        log,
	})
}

func resolveSeed(seed uint64) uint64 {
	if seed != 0 {
		return seed
	}
	return uint64(time.Now().UnixNano())
}

func runCreateLandscapes(ctx context.Context, args []string) error {
	cf := newCommandFlags("create-landscapes")
	cf.storeFlags()
	cf.modelFlags()
	cf.integer("count", cf.defaults.LandscapeCount, "number of landscapes to create")
	cf.values["seed"] = cf.fs.Uint64("seed", cf.defaults.Seed, "rng seed (0 uses the clock)")
	cfg, err := cf.parse(args)
	if err != nil {
		return err
	}

	client, err := openClient(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	seed := resolveSeed(cfg.Seed)
	summary, err := client.CreateLandscapes(ctx, api.CreateLandscapesRequest{
		Model: cfg.Model.request(),
		L:     cfg.L,
		Count: cfg.LandscapeCount,
		Seed:  seed,
	})
	if err != nil {
		return err
	}
	fmt.Printf("model=%s created=%d skipped=%d seed=%d\n", summary.Model, len(summary.Created), len(summary.Skipped), seed)
	return nil
}

func runSimulate(ctx context.Context, args []string) error {
	cf := newCommandFlags("simulate")
	d := cf.defaults
	cf.storeFlags()
	cf.modelFlags()
	cf.dynamicsFlags()
	cf.integer("first", d.FirstLandscape, "first landscape index")
	cf.integer("last", d.LastLandscape, "last landscape index (exclusive)")
	cf.str("size", joinInts(d.PopulationSizes), "population sizes")
	cf.integer("replicates", d.Replicates, "replicates per landscape and population size")
	cf.integer("max-gens", d.MaxGenerations, "maximum generations per replicate")
	cf.integer("min-gens", d.MinGenerations, "generations before the stability check applies")
	cf.integer("window", d.Window, "stability window length")
	cf.integer("top-k", d.TopK, "dominant genotypes tracked for stability")
	cf.integer("tail", d.TailSize, "data points kept from the end of each replicate")
	cf.integer("workers", d.Workers, "parallel replicates")
	cfg, err := cf.parse(args)
	if err != nil {
		return err
	}

	client, err := openClient(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Simulate(ctx, api.SimulateRequest{
		Model:           cfg.Model.request(),
		L:               cfg.L,
		FirstLandscape:  cfg.FirstLandscape,
		LastLandscape:   cfg.LastLandscape,
		PopulationSizes: cfg.PopulationSizes,
		Replicates:      cfg.Replicates,
		MutationRate:    cfg.MutationRate,
		Resources:       cfg.Resources,
		NullModel:       cfg.NullModel,
		MaxGenerations:  cfg.MaxGenerations,
		MinGenerations:  cfg.MinGenerations,
		Window:          cfg.Window,
		TopK:            cfg.TopK,
		TailSize:        cfg.TailSize,
		Workers:         cfg.Workers,
		Seed:            resolveSeed(cfg.Seed),
	})
	if err != nil {
		return err
	}

	stable := 0
	for _, r := range summary.Runs {
		if r.Stable {
			stable++
		}
	}
	fmt.Printf("run_id=%s model=%s runs=%d stable=%d summary=%s\n", summary.RunID, summary.Model, len(summary.Runs), stable, summary.SummaryFile)
	ids := make([]string, 0, len(summary.Persistent))
	for id := range summary.Persistent {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("persistent replicate=%s genotypes=%s\n", id, joinInt64s(summary.Persistent[id]))
	}
	fmt.Println(stats.FormatTimingReport(summary.Model, cfg.NullModel, stats.TimingsFromRuns(summary.Runs)))
	return nil
}

func runConverge(ctx context.Context, args []string) error {
	cf := newCommandFlags("converge")
	d := cf.defaults
	cf.storeFlags()
	cf.modelFlags()
	cf.dynamicsFlags()
	cf.integer("landscape", d.Landscape, "landscape index")
	cf.str("size", joinInts(d.PopulationSizes[:1]), "population size")
	cf.integer("gens", d.Generations, "generations to record")
	cf.boolean("plots", d.Plots, "write an SVG plot every generation")
	cf.str("population", d.PopulationFile, "optional initial population file")
	cfg, err := cf.parse(args)
	if err != nil {
		return err
	}
	if len(cfg.PopulationSizes) != 1 {
		return errors.New("converge takes a single population size")
	}

	var start *population.Population
	if cfg.PopulationFile != "" {
		if start, err = readPopulation(cfg.PopulationFile); err != nil {
			return err
		}
		cfg.PopulationSizes = []int{start.Size()}
	}

	client, err := openClient(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Converge(ctx, api.ConvergeRequest{
		Model:          cfg.Model.request(),
		L:              cfg.L,
		Landscape:      cfg.Landscape,
		PopulationSize: cfg.PopulationSizes[0],
		MutationRate:   cfg.MutationRate,
		Resources:      cfg.Resources,
		NullModel:      cfg.NullModel,
		Generations:    cfg.Generations,
		Plots:          cfg.Plots,
		Seed:           resolveSeed(cfg.Seed),
		Start:          start,
	})
	if err != nil {
		return err
	}
	fmt.Printf("run_id=%s model=%s generations=%d dir=%s summary=%s\n",
		summary.RunID, summary.Model, summary.Run.Generations, summary.Directory, summary.SummaryFile)
	return nil
}

func readPopulation(path string) (*population.Population, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pop, err := population.Read(f)
	if err != nil {
		return nil, fmt.Errorf("read population %s: %w", path, err)
	}
	return pop, nil
}

func runStats(ctx context.Context, args []string) error {
	cf := newCommandFlags("stats")
	cf.storeFlags()
	cf.modelFlags()
	cf.integer("landscape", cf.defaults.Landscape, "landscape index")
	cf.str("resources", joinFloats(cf.defaults.Resources), "resource supply per phenotype dimension")
	cf.boolean("null", cf.defaults.NullModel, "use the null model (no resource competition)")
	dumpPath := cf.fs.String("dump", "", "write the full landscape as text")
	plotPath := cf.fs.String("plot", "", "write the full landscape as SVG")
	jsonOut := cf.fs.Bool("json", false, "emit statistics as JSON")
	cfg, err := cf.parse(args)
	if err != nil {
		return err
	}

	client, err := openClient(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	out, err := client.LandscapeStats(ctx, api.LandscapeStatsRequest{
		Model:     cfg.Model.request(),
		L:         cfg.L,
		Landscape: cfg.Landscape,
		Resources: cfg.Resources,
		NullModel: cfg.NullModel,
		DumpPath:  *dumpPath,
		PlotPath:  *plotPath,
	})
	if err != nil {
		return err
	}

	if *jsonOut {
		type statsItem struct {
			LandscapeID            string      `json:"landscape_id"`
			Genotypes              int         `json:"genotypes"`
			Gamma                  model.Float `json:"gamma"`
			Maxima                 []int       `json:"maxima"`
			Minima                 []int       `json:"minima"`
			Max                    float64     `json:"max"`
			ArgMax                 int         `json:"argmax"`
			Min                    float64     `json:"min"`
			ArgMin                 int         `json:"argmin"`
			Mean                   float64     `json:"mean"`
			Var                    float64     `json:"var"`
			Selected               []int       `json:"selected"`
			RhoNull                *float64    `json:"rho_null,omitempty"`
			MeanPhenotypicDistance float64     `json:"mean_phenotypic_distance"`
		}
		item := statsItem{
			LandscapeID:            out.LandscapeID,
			Genotypes:              out.Genotypes,
			Gamma:                  model.Float(out.Gamma),
			Maxima:                 out.Maxima,
			Minima:                 out.Minima,
			Max:                    out.Max,
			ArgMax:                 out.ArgMax,
			Min:                    out.Min,
			ArgMin:                 out.ArgMin,
			Mean:                   out.Mean,
			Var:                    out.Var,
			Selected:               out.Selected,
			MeanPhenotypicDistance: out.MeanPhenotypicDistance,
		}
		if !math.IsNaN(out.RhoNull) {
			rho := out.RhoNull
			item.RhoNull = &rho
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(item)
	}

	fmt.Printf("landscape=%s genotypes=%d gamma=%.6f maxima=%d minima=%d\n", out.LandscapeID, out.Genotypes, out.Gamma, len(out.Maxima), len(out.Minima))
	fmt.Printf("max=%.6f argmax=%d min=%.6f argmin=%d mean=%.6f var=%.6f\n", out.Max, out.ArgMax, out.Min, out.ArgMin, out.Mean, out.Var)
	fmt.Printf("selected=%d rho_null=%.6f mean_phenotypic_distance=%.6f\n", len(out.Selected), out.RhoNull, out.MeanPhenotypicDistance)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	cf := newCommandFlags("runs")
	cf.str("data-dir", cf.defaults.DataDir, "run artifact directory")
	limit := cf.fs.Int("limit", 20, "max runs to list")
	runID := cf.fs.String("run-id", "", "list the replicates of one run")
	jsonOut := cf.fs.Bool("json", false, "emit runs list as JSON")
	cfg, err := cf.parse(args)
	if err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := openClient(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if *runID != "" {
		runs, err := client.SweepRuns(ctx, *runID)
		if err != nil {
			return err
		}
		for _, r := range runs {
			fmt.Printf("replicate_id=%s landscape=%s pop_size=%d replicate=%d generations=%d stable=%t dominant=%s elapsed_ms=%d\n",
				r.ID, r.LandscapeID, r.PopulationSize, r.Replicate, r.Generations, r.Stable, joinInt64s(r.Dominant), r.ElapsedMS)
		}
		return nil
	}

	items, err := client.Runs(ctx, api.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	if *jsonOut {
		type runsItem struct {
			RunID        string  `json:"run_id"`
			CreatedAtUTC string  `json:"created_at_utc"`
			Mode         string  `json:"mode"`
			Model        string  `json:"model"`
			L            int     `json:"l"`
			MutationRate float64 `json:"mutation_rate"`
			Seed         uint64  `json:"seed"`
			Runs         int     `json:"runs"`
			StableRuns   int     `json:"stable_runs"`
		}
		out := make([]runsItem, 0, len(items))
		for _, e := range items {
			out = append(out, runsItem(e))
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	for _, e := range items {
		fmt.Printf("run_id=%s created_at=%s mode=%s model=%s l=%d mutation_rate=%g seed=%d runs=%d stable=%d\n",
			e.RunID, e.CreatedAtUTC, e.Mode, e.Model, e.L, e.MutationRate, e.Seed, e.Runs, e.StableRuns)
	}
	return nil
}

func runTimings(ctx context.Context, args []string) error {
	cf := newCommandFlags("timings")
	cf.str("data-dir", cf.defaults.DataDir, "run artifact directory")
	runID := cf.fs.String("run-id", "", "run id")
	latest := cf.fs.Bool("latest", false, "use the most recent run from run index")
	cfg, err := cf.parse(args)
	if err != nil {
		return err
	}
	if *runID == "" && !*latest {
		return errors.New("timings requires --run-id or --latest")
	}

	client, err := openClient(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	report, err := client.Timings(ctx, *runID, *latest)
	if err != nil {
		return err
	}
	fmt.Print(report.String())
	return nil
}

func runExport(ctx context.Context, args []string) error {
	cf := newCommandFlags("export")
	cf.str("data-dir", cf.defaults.DataDir, "run artifact directory")
	cf.str("out", cf.defaults.ExportsDir, "export output directory")
	runID := cf.fs.String("run-id", "", "run id")
	latest := cf.fs.Bool("latest", false, "export the most recent run from run index")
	cfg, err := cf.parse(args)
	if err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := openClient(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, api.ExportRequest{RunID: *runID, Latest: *latest, OutDir: cfg.ExportsDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: ecoevoctl <create-landscapes|simulate|converge|stats|runs|timings|export> [flags]", msg)
}

func joinFloats(xs []float64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}

func joinInt64s(xs []int64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.FormatInt(x, 10)
	}
	return strings.Join(parts, ",")
}
