package population

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"ecoevo/internal/genotype"
)

// WriteTo writes the "#g0<TAB>g1…<TAB>n" header and one line per occupied
// genotype: its alleles then its count, tab separated, in index order.
func (p *Population) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var sb strings.Builder
	sb.WriteByte('#')
	for i := 0; i < p.l; i++ {
		fmt.Fprintf(&sb, "g%d\t", i)
	}
	sb.WriteString("n\n")
	for _, g := range p.Genotypes() {
		for _, a := range g.Alleles() {
			sb.WriteByte('0' + a)
			sb.WriteByte('\t')
		}
		sb.WriteString(strconv.Itoa(p.counts[g]))
		sb.WriteByte('\n')
	}
	n, err := bw.WriteString(sb.String())
	if err != nil {
		return int64(n), err
	}
	return int64(n), bw.Flush()
}

// Read parses the format written by WriteTo. The population size is the sum
// of the counts read.
func Read(r io.Reader) (*Population, error) {
	type row struct {
		g genotype.Genotype
		n int
	}
	var (
		rows  []row
		l     int
		total int
	)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: line %d has %d fields", ErrFormat, line, len(fields))
		}
		if l == 0 {
			l = len(fields) - 1
		} else if len(fields)-1 != l {
			return nil, fmt.Errorf("%w: line %d has %d loci, want %d", ErrFormat, line, len(fields)-1, l)
		}
		alleles := make([]uint8, l)
		for i, f := range fields[:l] {
			v, err := strconv.ParseUint(f, 10, 8)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d locus %d: %v", ErrFormat, line, i, err)
			}
			alleles[i] = uint8(v)
		}
		g, err := genotype.FromSequence(alleles)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrFormat, line, err)
		}
		n, err := strconv.Atoi(fields[l])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: line %d count %q", ErrFormat, line, fields[l])
		}
		rows = append(rows, row{g: g, n: n})
		total += n
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no genotypes", ErrFormat)
	}
	p, err := New(l, total)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if err := p.Add(r.g, r.n); err != nil {
			return nil, err
		}
	}
	return p, nil
}
