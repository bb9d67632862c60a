// Package stability detects when the set of dominant genotypes of a
// population has stopped changing.
package stability

import (
	"errors"
	"fmt"
	"slices"

	"ecoevo/internal/fitness"
	"ecoevo/internal/population"
)

const (
	DefaultWindow = 500
	DefaultK      = 10

	// Sentinel pads a snapshot with fewer than K dominant genotypes.
	Sentinel int64 = -1
)

var ErrSnapshot = errors.New("snapshot has the wrong size")

// Snapshot is the ascending list of dominant genotype indices, padded with
// Sentinel to K entries.
type Snapshot []int64

// Detector keeps the last W snapshots in a ring.
type Detector struct {
	window, k int
	ring      []Snapshot
	pos       int
	filled    int
}

func NewDetector(window, k int) (*Detector, error) {
	if window < 1 {
		return nil, fmt.Errorf("stability window must be positive, got %d", window)
	}
	if k < 1 {
		return nil, fmt.Errorf("dominant set size must be positive, got %d", k)
	}
	return &Detector{window: window, k: k, ring: make([]Snapshot, window)}, nil
}

func (d *Detector) Window() int { return d.window }

func (d *Detector) K() int { return d.k }

// Dominant lists the occupied genotypes with fitness above 1 in index order,
// stopping after K of them.
func (d *Detector) Dominant(pop *population.Population, landscape *fitness.Landscape) Snapshot {
	out := make(Snapshot, 0, d.k)
	for _, g := range pop.Genotypes() {
		if len(out) == d.k {
			break
		}
		if w, ok := landscape.Get(g); ok && w > 1 {
			out = append(out, int64(g.Index()))
		}
	}
	for len(out) < d.k {
		out = append(out, Sentinel)
	}
	return out
}

// Observe records the snapshot of the latest generation, overwriting the
// oldest one once the window is full.
func (d *Detector) Observe(s Snapshot) error {
	if len(s) != d.k {
		return fmt.Errorf("%w: %d entries, want %d", ErrSnapshot, len(s), d.k)
	}
	d.ring[d.pos] = slices.Clone(s)
	d.pos = (d.pos + 1) % d.window
	if d.filled < d.window {
		d.filled++
	}
	return nil
}

// Stable is true once W snapshots were observed and all equal the latest.
func (d *Detector) Stable() bool {
	if d.filled < d.window {
		return false
	}
	latest := d.ring[(d.pos-1+d.window)%d.window]
	for _, s := range d.ring {
		if !slices.Equal(s, latest) {
			return false
		}
	}
	return true
}

// Latest returns the most recent snapshot, or nil before any observation.
func (d *Detector) Latest() Snapshot {
	if d.filled == 0 {
		return nil
	}
	return slices.Clone(d.ring[(d.pos-1+d.window)%d.window])
}

func (d *Detector) Reset() {
	clear(d.ring)
	d.pos, d.filled = 0, 0
}
