package phenotype

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"ecoevo/internal/genotype"
)

var magic = [4]byte{'E', 'C', 'O', 'L'}

const headerLen = 4 + 4 + 4 + 4

// Encode serializes the map. Layout, little endian: "ECOL", u32 L, u32 S,
// u32 count, count entries of (L allele bytes, S float64), u32 model length,
// model bytes.
func Encode(m *Map) ([]byte, error) {
	if m.model == nil {
		return nil, fmt.Errorf("%w: map has no model", ErrParams)
	}
	model, err := m.model.MarshalBinary()
	if err != nil {
		return nil, err
	}
	entries := m.Entries()
	entryLen := m.l + 8*m.s

	out := make([]byte, 0, headerLen+len(entries)*entryLen+4+len(model))
	out = append(out, magic[:]...)
	out = binary.LittleEndian.AppendUint32(out, uint32(m.l))
	out = binary.LittleEndian.AppendUint32(out, uint32(m.s))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(entries)))
	for _, e := range entries {
		out = append(out, e.Genotype.Alleles()...)
		for _, v := range e.Phenotype {
			out = binary.LittleEndian.AppendUint64(out, math.Float64bits(v))
		}
	}
	out = binary.LittleEndian.AppendUint32(out, uint32(len(model)))
	return append(out, model...), nil
}

// Decode parses bytes produced by Encode. Every length is checked exactly.
func Decode(b []byte) (*Map, error) {
	if len(b) < headerLen {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrLength, len(b))
	}
	if [4]byte(b[:4]) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrUnknownTag, b[:4])
	}
	l := int(binary.LittleEndian.Uint32(b[4:]))
	s := int(binary.LittleEndian.Uint32(b[8:]))
	count := int(binary.LittleEndian.Uint32(b[12:]))
	if err := genotype.ValidateLength(l); err != nil {
		return nil, err
	}
	if s < 1 || count > genotype.Size(l) {
		return nil, fmt.Errorf("%w: S=%d count=%d for L=%d", ErrLength, s, count, l)
	}

	// S is bounded by the body before the entry size is multiplied out.
	body := uint64(len(b) - headerLen)
	if uint64(s) > body/8 {
		return nil, fmt.Errorf("%w: S=%d does not fit %d bytes", ErrLength, s, len(b))
	}
	entryLen := l + 8*s
	off := headerLen
	if uint64(count)*uint64(entryLen)+4 > body {
		return nil, fmt.Errorf("%w: truncated entries", ErrLength)
	}
	entries := make([]Entry, count)
	for i := range entries {
		g, err := genotype.FromSequence(b[off : off+l])
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		off += l
		p := make([]float64, s)
		for k := range p {
			p[k] = math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
			off += 8
		}
		entries[i] = Entry{Genotype: g, Phenotype: p}
	}

	modelLen := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	if len(b)-off != modelLen {
		return nil, fmt.Errorf("%w: model section has %d bytes, header says %d", ErrLength, len(b)-off, modelLen)
	}
	model, err := DecodeModel(s, b[off:])
	if err != nil {
		return nil, err
	}
	return NewMap(l, s, model, entries)
}

// WriteFile stores the encoded map at path.
func WriteFile(path string, m *Map) error {
	b, err := Encode(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// ReadFile loads a map written by WriteFile.
func ReadFile(path string) (*Map, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Decode(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return m, nil
}
