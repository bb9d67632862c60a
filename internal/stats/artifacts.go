package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"ecoevo/internal/model"
)

const (
	runIndexFile = "run_index.json"
	timingsFile  = "timings.csv"
)

// RunConfig is everything needed to repeat a simulate or converge run.
type RunConfig struct {
	RunID           string    `json:"run_id"`
	Mode            string    `json:"mode"`
	Model           string    `json:"model"`
	ModelKind       string    `json:"model_kind"`
	ModelParams     []float64 `json:"model_params"`
	L               int       `json:"l"`
	S               int       `json:"s"`
	FirstLandscape  int       `json:"first_landscape"`
	LastLandscape   int       `json:"last_landscape"`
	PopulationSizes []int     `json:"population_sizes"`
	Replicates      int       `json:"replicates"`
	MutationRate    float64   `json:"mutation_rate"`
	Resources       []float64 `json:"resources"`
	NullModel       bool      `json:"null_model"`
	MaxGenerations  int       `json:"max_generations"`
	MinGenerations  int       `json:"min_generations"`
	Window          int       `json:"window"`
	TopK            int       `json:"top_k"`
	Seed            uint64    `json:"seed"`
	Workers         int       `json:"workers"`
	SummaryFile     string    `json:"summary_file,omitempty"`
}

type RunArtifacts struct {
	Config RunConfig         `json:"config"`
	Runs   []model.RunRecord `json:"runs"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Mode         string  `json:"mode"`
	Model        string  `json:"model"`
	L            int     `json:"l"`
	MutationRate float64 `json:"mutation_rate"`
	Seed         uint64  `json:"seed"`
	Workers      int     `json:"workers"`
	Runs         int     `json:"runs"`
	StableRuns   int     `json:"stable_runs"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

// Timing is one line of the per-replicate wall clock report.
type Timing struct {
	LandscapeIndex int
	PopulationSize int
	Replicate      int
	Seconds        float64
	Generations    int
	Stable         bool
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	runs := artifacts.Runs
	if runs == nil {
		runs = []model.RunRecord{}
	}
	if err := writeJSON(filepath.Join(runDir, "runs.json"), runs); err != nil {
		return "", err
	}

	if err := WriteTimings(runDir, TimingsFromRuns(runs)); err != nil {
		return "", err
	}
	return runDir, nil
}

func TimingsFromRuns(runs []model.RunRecord) []Timing {
	timings := make([]Timing, 0, len(runs))
	for _, r := range runs {
		timings = append(timings, Timing{
			LandscapeIndex: r.LandscapeIndex,
			PopulationSize: r.PopulationSize,
			Replicate:      r.Replicate,
			Seconds:        float64(r.ElapsedMS) / 1000,
			Generations:    r.Generations,
			Stable:         r.Stable,
		})
	}
	return timings
}

// FormatTimingReport renders the per-replicate wall clock table printed
// after a simulation.
func FormatTimingReport(modelName string, nullModel bool, timings []Timing) string {
	kind := "full"
	if nullModel {
		kind = "null"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "#%s\t%s model\n", modelName, kind)
	b.WriteString("#landscape_id\tpop_size\treplicate\ttime(s)\n")
	for _, t := range timings {
		fmt.Fprintf(&b, "%d\t%d\t%d\t%.3f\n", t.LandscapeIndex, t.PopulationSize, t.Replicate, t.Seconds)
	}
	return b.String()
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the index newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// later appends win ties
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory's JSON, CSV and summary files to
// outDir/runID.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{"config.json", "runs.json"} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".csv", ".dat":
			if err := copyFile(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
				return "", err
			}
		}
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	path := filepath.Join(baseDir, runID, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, "config.json"), cfg)
}

func ReadRuns(baseDir, runID string) ([]model.RunRecord, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, "runs.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var runs []model.RunRecord
	if err := json.Unmarshal(data, &runs); err != nil {
		return nil, false, err
	}
	return runs, true, nil
}

func WriteTimings(runDir string, timings []Timing) error {
	file, err := os.Create(filepath.Join(runDir, timingsFile))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"landscape_id", "pop_size", "replicate", "time_s", "generations", "stable"}); err != nil {
		return err
	}
	for _, t := range timings {
		if err := writer.Write([]string{
			strconv.Itoa(t.LandscapeIndex),
			strconv.Itoa(t.PopulationSize),
			strconv.Itoa(t.Replicate),
			strconv.FormatFloat(t.Seconds, 'f', -1, 64),
			strconv.Itoa(t.Generations),
			strconv.FormatBool(t.Stable),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadTimings(baseDir, runID string) ([]Timing, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, timingsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []Timing{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 6 {
		return nil, false, fmt.Errorf("timings header must have 6 columns")
	}

	out := make([]Timing, 0, 64)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 6 {
			return nil, false, fmt.Errorf("timings row must have 6 columns")
		}
		var t Timing
		ints := []*int{&t.LandscapeIndex, &t.PopulationSize, &t.Replicate}
		for i, dst := range ints {
			if *dst, err = strconv.Atoi(record[i]); err != nil {
				return nil, false, err
			}
		}
		if t.Seconds, err = strconv.ParseFloat(record[3], 64); err != nil {
			return nil, false, err
		}
		if t.Generations, err = strconv.Atoi(record[4]); err != nil {
			return nil, false, err
		}
		if t.Stable, err = strconv.ParseBool(record[5]); err != nil {
			return nil, false, err
		}
		out = append(out, t)
	}
	return out, true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
