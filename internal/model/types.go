package model

import (
	"encoding/json"
	"math"
	"strconv"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// LandscapeRecord stores an encoded phenotype map together with the fields
// needed to find it again without decoding the payload.
type LandscapeRecord struct {
	VersionedRecord
	ID           string `json:"id"`
	Name         string `json:"name"`
	Index        int    `json:"index"`
	L            int    `json:"l"`
	S            int    `json:"s"`
	NullModel    bool   `json:"null_model"`
	Payload      []byte `json:"payload"`
	CreatedAtUTC string `json:"created_at_utc"`
}

type GenotypeCount struct {
	Index int `json:"index"`
	Count int `json:"count"`
}

type RunRecord struct {
	VersionedRecord
	ID             string          `json:"id"`
	LandscapeID    string          `json:"landscape_id"`
	LandscapeIndex int             `json:"landscape_index"`
	Replicate      int             `json:"replicate"`
	PopulationSize int             `json:"population_size"`
	MutationRate   float64         `json:"mutation_rate"`
	Resources      []float64       `json:"resources"`
	NullModel      bool            `json:"null_model"`
	Generations    int             `json:"generations"`
	Stable         bool            `json:"stable"`
	Dominant       []int64         `json:"dominant"`
	Final          []GenotypeCount `json:"final"`
	RecordFailures int             `json:"record_failures"`
	ElapsedMS      int64           `json:"elapsed_ms"`
	CreatedAtUTC   string          `json:"created_at_utc"`
}

// Float is a float64 that survives JSON when it is NaN or infinite. Gamma of
// a flat landscape is NaN.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return json.Marshal(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return json.Marshal(v)
}

func (f *Float) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = Float(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// DataPoint is the per-generation characterization of a population on its
// landscape. TopGenotypes and TopCounts are parallel.
type DataPoint struct {
	RunID                  string  `json:"run_id,omitempty"`
	PopulationSize         int     `json:"n_pop"`
	LandscapeIndex         int     `json:"landscape_idx"`
	Replicate              int     `json:"replicate"`
	Generation             int     `json:"t"`
	Entropy                Float   `json:"entropy"`
	HaplotypeDiversity     Float   `json:"haplotype_diversity"`
	NucleotideDiversity    Float   `json:"nucleotide_diversity"`
	Strains                int     `json:"strains"`
	Maxima                 int     `json:"n_maxima"`
	Minima                 int     `json:"n_minima"`
	Maximum                Float   `json:"maximum"`
	Minimum                Float   `json:"minimum"`
	Gamma                  Float   `json:"gamma"`
	Mean                   Float   `json:"mean"`
	Var                    Float   `json:"var"`
	FitnessWildtype        Float   `json:"fitness_wildtype"`
	MeanPhenotypicDistance Float   `json:"mean_phenotypic_distance"`
	TopGenotypes           []int64 `json:"top_genotypes"`
	TopCounts              []int   `json:"top_counts"`
}
