package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"ecoevo/internal/storage"
	api "ecoevo/pkg/ecoevo"
)

type modelConfig struct {
	Kind   string    `yaml:"kind"`
	S      int       `yaml:"s"`
	Params []float64 `yaml:"params"`
}

func (m modelConfig) request() api.ModelRequest {
	return api.ModelRequest{Kind: m.Kind, S: m.S, Params: m.Params}
}

// fileConfig is the YAML run configuration. Flags given on the command line
// override whatever the file sets.
type fileConfig struct {
	Store         string `yaml:"store"`
	DBPath        string `yaml:"db_path"`
	LandscapesDir string `yaml:"landscapes_dir"`
	DataDir       string `yaml:"data_dir"`
	ExportsDir    string `yaml:"exports_dir"`
	LogLevel      string `yaml:"log_level"`

	Model          modelConfig `yaml:"model"`
	L              int         `yaml:"l"`
	LandscapeCount int         `yaml:"landscape_count"`
	FirstLandscape int         `yaml:"first_landscape"`
	LastLandscape  int         `yaml:"last_landscape"`
	Landscape      int         `yaml:"landscape"`

	PopulationSizes []int     `yaml:"population_sizes"`
	Replicates      int       `yaml:"replicates"`
	MutationRate    float64   `yaml:"mutation_rate"`
	Resources       []float64 `yaml:"resources"`
	NullModel       bool      `yaml:"null_model"`
	MaxGenerations  int       `yaml:"max_generations"`
	MinGenerations  int       `yaml:"min_generations"`
	Window          int       `yaml:"window"`
	TopK            int       `yaml:"top_k"`
	TailSize        int       `yaml:"tail_size"`
	Workers         int       `yaml:"workers"`

	Generations    int    `yaml:"generations"`
	Plots          bool   `yaml:"plots"`
	PopulationFile string `yaml:"population_file"`

	// Seed 0 draws one from the clock.
	Seed uint64 `yaml:"seed"`
}

func defaultConfig() fileConfig {
	return fileConfig{
		Store:           storage.DefaultStoreKind(),
		DBPath:          "ecoevo.db",
		LandscapesDir:   "landscapes",
		DataDir:         "data",
		ExportsDir:      exportsDir,
		LogLevel:        "info",
		Model:           modelConfig{Kind: "hoc", S: 2, Params: []float64{1, 0}},
		L:               10,
		LandscapeCount:  1,
		FirstLandscape:  0,
		LastLandscape:   1,
		PopulationSizes: []int{1000},
		Replicates:      1,
		MutationRate:    0.001,
		Resources:       []float64{1, 1},
		MaxGenerations:  100000,
		MinGenerations:  15000,
		Window:          500,
		TopK:            10,
		TailSize:        500,
		Workers:         1,
		Generations:     1000,
	}
}

// loadConfigFile decodes a YAML file on top of the defaults. Unknown keys
// are rejected.
func loadConfigFile(path string) (fileConfig, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return fileConfig{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

func loadOrDefaultConfig(path string) (fileConfig, error) {
	if path == "" {
		return defaultConfig(), nil
	}
	cfg, err := loadConfigFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// overrideFromFlags copies the explicitly set flags into cfg. List valued
// flags arrive as comma separated strings.
func overrideFromFlags(cfg *fileConfig, set map[string]bool, values map[string]any) error {
	models := 0
	for _, name := range []string{"hoc", "add", "rmf"} {
		if set[name] {
			models++
		}
	}
	if models > 1 {
		return errors.New("use only one of --hoc, --add, --rmf")
	}

	for name, v := range values {
		if !set[name] {
			continue
		}
		var err error
		switch name {
		case "store":
			cfg.Store = v.(string)
		case "db-path":
			cfg.DBPath = v.(string)
		case "landscapes-dir":
			cfg.LandscapesDir = v.(string)
		case "data-dir":
			cfg.DataDir = v.(string)
		case "out":
			cfg.ExportsDir = v.(string)
		case "log-level":
			cfg.LogLevel = v.(string)
		case "hoc":
			cfg.Model.Kind = "hoc"
			cfg.Model.Params, err = parseFloatList(v.(string))
		case "add":
			cfg.Model.Kind = "additive"
			cfg.Model.Params, err = parseFloatList(v.(string))
		case "rmf":
			cfg.Model.Kind = "rmf"
			cfg.Model.Params, err = parseFloatList(v.(string))
		case "s":
			cfg.Model.S = v.(int)
		case "l":
			cfg.L = v.(int)
		case "count":
			cfg.LandscapeCount = v.(int)
		case "first":
			cfg.FirstLandscape = v.(int)
		case "last":
			cfg.LastLandscape = v.(int)
		case "landscape":
			cfg.Landscape = v.(int)
		case "size":
			cfg.PopulationSizes, err = parseIntList(v.(string))
		case "replicates":
			cfg.Replicates = v.(int)
		case "mutation-rate":
			cfg.MutationRate = v.(float64)
		case "resources":
			cfg.Resources, err = parseFloatList(v.(string))
		case "null":
			cfg.NullModel = v.(bool)
		case "max-gens":
			cfg.MaxGenerations = v.(int)
		case "min-gens":
			cfg.MinGenerations = v.(int)
		case "window":
			cfg.Window = v.(int)
		case "top-k":
			cfg.TopK = v.(int)
		case "tail":
			cfg.TailSize = v.(int)
		case "workers":
			cfg.Workers = v.(int)
		case "gens":
			cfg.Generations = v.(int)
		case "plots":
			cfg.Plots = v.(bool)
		case "population":
			cfg.PopulationFile = v.(string)
		case "seed":
			cfg.Seed = v.(uint64)
		default:
			return fmt.Errorf("unsupported flag override: %s", name)
		}
		if err != nil {
			return fmt.Errorf("--%s: %w", name, err)
		}
	}
	return nil
}

func parseFloatList(s string) ([]float64, error) {
	fields := splitList(s)
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", f)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseIntList(s string) ([]int, error) {
	fields := splitList(s)
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", f)
		}
		out = append(out, v)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
