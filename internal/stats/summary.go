package stats

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"ecoevo/internal/model"
)

var ErrSummaryFormat = errors.New("malformed summary line")

const summaryColumns = "#n_pop\tlandscape_idx\treplicate\tt\tentropy\thaplotype_diversity\tnucleotide_diversity\tstrains\tn_maxima\tn_minima\tmaximum\tminimum\tgamma\tmean\tvar\tfitness_wildtype\tmean_phenotypic_distance"

// fixed columns before the top genotype pairs
const scalarColumns = 17

// SummaryHeader is the first line of every summary file.
func SummaryHeader() string {
	var b strings.Builder
	b.WriteString(summaryColumns)
	for i := 0; i < MaxTopGenotypes; i++ {
		fmt.Fprintf(&b, "\ttg%d\tn%d", i, i)
	}
	b.WriteByte('\n')
	return b.String()
}

// SummaryFileName names a summary the way the analysis scripts expect:
// L{genotype length}_{model}_m{rate}_r[{resources}]_{null|full}_{id}.dat.
func SummaryFileName(l int, modelName string, mutationRate float64, resources []float64, nullModel bool, id int) string {
	rs := make([]string, len(resources))
	for i, r := range resources {
		rs[i] = strconv.FormatFloat(r, 'f', 3, 64)
	}
	kind := "full"
	if nullModel {
		kind = "null"
	}
	return fmt.Sprintf("L%d_%s_m%s_r[%s]_%s_%d.dat", l, modelName, compactExp(mutationRate), strings.Join(rs, ","), kind, id)
}

// compactExp prints v in scientific notation without exponent padding or a
// plus sign, so 0.001 becomes 1e-3.
func compactExp(v float64) string {
	s := strconv.FormatFloat(v, 'e', -1, 64)
	mant, exp, ok := strings.Cut(s, "e")
	if !ok {
		return s
	}
	sign := ""
	switch exp[0] {
	case '-':
		sign = "-"
		exp = exp[1:]
	case '+':
		exp = exp[1:]
	}
	exp = strings.TrimLeft(exp, "0")
	if exp == "" {
		exp = "0"
		sign = ""
	}
	return mant + "e" + sign + exp
}

// SummaryWriter appends data points as tab-separated rows. It is safe for
// concurrent use.
type SummaryWriter struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
}

// NewSummaryWriter writes the header to w.
func NewSummaryWriter(w io.Writer) (*SummaryWriter, error) {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(SummaryHeader()); err != nil {
		return nil, err
	}
	return &SummaryWriter{w: bw}, nil
}

// CreateSummary creates dir/name and writes the header.
func CreateSummary(dir, name string) (*SummaryWriter, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", err
	}
	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		return nil, "", err
	}
	sw, err := NewSummaryWriter(file)
	if err != nil {
		file.Close()
		return nil, "", err
	}
	sw.closer = file
	return sw, path, nil
}

func (s *SummaryWriter) Write(points ...model.DataPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		if _, err := s.w.WriteString(FormatDataPoint(p)); err != nil {
			return err
		}
	}
	return nil
}

func (s *SummaryWriter) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// Close flushes and closes the underlying file. Later calls are no-ops.
func (s *SummaryWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

func formatFloat(v model.Float) string {
	return strconv.FormatFloat(float64(v), 'f', -1, 64)
}

// FormatDataPoint renders one summary row including the trailing newline.
func FormatDataPoint(p model.DataPoint) string {
	fields := []string{
		strconv.Itoa(p.PopulationSize),
		strconv.Itoa(p.LandscapeIndex),
		strconv.Itoa(p.Replicate),
		strconv.Itoa(p.Generation),
		formatFloat(p.Entropy),
		formatFloat(p.HaplotypeDiversity),
		formatFloat(p.NucleotideDiversity),
		strconv.Itoa(p.Strains),
		strconv.Itoa(p.Maxima),
		strconv.Itoa(p.Minima),
		formatFloat(p.Maximum),
		formatFloat(p.Minimum),
		formatFloat(p.Gamma),
		formatFloat(p.Mean),
		formatFloat(p.Var),
		formatFloat(p.FitnessWildtype),
		formatFloat(p.MeanPhenotypicDistance),
	}
	for i := 0; i < MaxTopGenotypes; i++ {
		g, n := int64(-1), 0
		if i < len(p.TopGenotypes) {
			g = p.TopGenotypes[i]
		}
		if i < len(p.TopCounts) {
			n = p.TopCounts[i]
		}
		fields = append(fields, strconv.FormatInt(g, 10), strconv.Itoa(n))
	}
	return strings.Join(fields, "\t") + "\n"
}

// ReadSummary parses a summary file, skipping comment and blank lines.
func ReadSummary(r io.Reader) ([]model.DataPoint, error) {
	var out []model.DataPoint
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		p, err := parseDataPoint(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, p)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseDataPoint(text string) (model.DataPoint, error) {
	fields := strings.Split(text, "\t")
	if len(fields) != scalarColumns+2*MaxTopGenotypes {
		return model.DataPoint{}, fmt.Errorf("%w: %d columns", ErrSummaryFormat, len(fields))
	}
	var firstErr error
	atoi := func(s string) int {
		v, err := strconv.Atoi(s)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: %v", ErrSummaryFormat, err)
		}
		return v
	}
	atof := func(s string) model.Float {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: %v", ErrSummaryFormat, err)
		}
		return model.Float(v)
	}

	p := model.DataPoint{
		PopulationSize:         atoi(fields[0]),
		LandscapeIndex:         atoi(fields[1]),
		Replicate:              atoi(fields[2]),
		Generation:             atoi(fields[3]),
		Entropy:                atof(fields[4]),
		HaplotypeDiversity:     atof(fields[5]),
		NucleotideDiversity:    atof(fields[6]),
		Strains:                atoi(fields[7]),
		Maxima:                 atoi(fields[8]),
		Minima:                 atoi(fields[9]),
		Maximum:                atof(fields[10]),
		Minimum:                atof(fields[11]),
		Gamma:                  atof(fields[12]),
		Mean:                   atof(fields[13]),
		Var:                    atof(fields[14]),
		FitnessWildtype:        atof(fields[15]),
		MeanPhenotypicDistance: atof(fields[16]),
		TopGenotypes:           make([]int64, MaxTopGenotypes),
		TopCounts:              make([]int, MaxTopGenotypes),
	}
	for i := 0; i < MaxTopGenotypes; i++ {
		p.TopGenotypes[i] = int64(atoi(fields[scalarColumns+2*i]))
		p.TopCounts[i] = atoi(fields[scalarColumns+2*i+1])
	}
	if firstErr != nil {
		return model.DataPoint{}, firstErr
	}
	return p, nil
}
