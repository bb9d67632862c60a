// Package plot renders fitness landscapes as SVG.
package plot

import (
	"errors"
	"image/color"
	"io"
	"os"
	"sort"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgsvg"

	"ecoevo/internal/fitness"
	"ecoevo/internal/genotype"
)

var ErrEmptyLandscape = errors.New("landscape has no genotypes")

var (
	markerLow  = color.RGBA{R: 0xAA, G: 0xAA, B: 0xAA, A: 0xFF}
	markerHigh = color.RGBA{R: 0xDC, G: 0x14, B: 0x3C, A: 0xFF}
	downhill   = color.RGBA{R: 0xFF, G: 0xB3, B: 0xBF, A: 0xFF}
	uphill     = color.RGBA{R: 0xCC, G: 0xCC, B: 0xFF, A: 0xFF}
)

// gap between mutation classes, in genotype slots
const classGap = 2

// LandscapePlot draws fitness against genotypes ordered by number of
// mutations, with edges between single-mutation neighbours.
type LandscapePlot struct {
	Title       string
	Width       vg.Length
	Height      vg.Length
	Connections bool
	MarkerSize  vg.Length

	landscape *fitness.Landscape
	frequency map[genotype.Genotype]float64
	genotypes []genotype.Genotype
}

// NewLandscapePlot prepares a plot of landscape. frequency may be nil; when
// set, markers are shaded and sized by it.
func NewLandscapePlot(landscape *fitness.Landscape, frequency map[genotype.Genotype]float64) (*LandscapePlot, error) {
	gs := landscape.Genotypes()
	if len(gs) == 0 {
		return nil, ErrEmptyLandscape
	}
	sort.SliceStable(gs, func(i, j int) bool { return gs[i].Order() < gs[j].Order() })
	return &LandscapePlot{
		Width:       10 * vg.Inch,
		Height:      6 * vg.Inch,
		Connections: true,
		MarkerSize:  vg.Points(2),
		landscape:   landscape,
		frequency:   frequency,
		genotypes:   gs,
	}, nil
}

func gradient(a, b color.RGBA, pos float64) color.RGBA {
	mix := func(x, y uint8) uint8 { return uint8(float64(x) + (float64(y)-float64(x))*pos) }
	return color.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: 0xFF}
}

// positions places genotypes left to right by Order, leaving a gap before
// each new mutation class.
func (lp *LandscapePlot) positions() map[genotype.Genotype]float64 {
	out := make(map[genotype.Genotype]float64, len(lp.genotypes))
	for i, g := range lp.genotypes {
		out[g] = float64(i + classGap*g.Sum())
	}
	return out
}

func (lp *LandscapePlot) classTicks(x map[genotype.Genotype]float64) []plot.Tick {
	first := map[int]float64{}
	last := map[int]float64{}
	for _, g := range lp.genotypes {
		s := g.Sum()
		if _, ok := first[s]; !ok {
			first[s] = x[g]
		}
		last[s] = x[g]
	}
	ticks := make([]plot.Tick, 0, len(first))
	for s := 0; s <= lp.landscape.L(); s++ {
		lo, ok := first[s]
		if !ok {
			continue
		}
		ticks = append(ticks, plot.Tick{Value: (lo + last[s]) / 2, Label: strconv.Itoa(s)})
	}
	return ticks
}

// Plot builds the gonum plot.
func (lp *LandscapePlot) Plot() (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = lp.Title
	p.X.Label.Text = "Mutations"
	p.Y.Label.Text = "Fitness"

	x := lp.positions()
	p.X.Tick.Marker = plot.ConstantTicks(lp.classTicks(x))

	if lp.Connections {
		for _, g := range lp.genotypes {
			f1, _ := lp.landscape.Get(g)
			for i := 0; i < g.Len(); i++ {
				if g.Allele(i) == 1 {
					continue
				}
				n := g.Flip(i)
				f2, ok := lp.landscape.Get(n)
				if !ok {
					continue
				}
				edge, err := plotter.NewLine(plotter.XYs{{X: x[g], Y: f1}, {X: x[n], Y: f2}})
				if err != nil {
					return nil, err
				}
				edge.LineStyle.Width = vg.Points(0.3)
				edge.LineStyle.Color = uphill
				if f1 > f2 {
					edge.LineStyle.Color = downhill
				}
				p.Add(edge)
			}
		}
	}

	lo, hi := x[lp.genotypes[0]], x[lp.genotypes[len(lp.genotypes)-1]]
	neutral, err := plotter.NewLine(plotter.XYs{{X: lo, Y: 1}, {X: hi, Y: 1}})
	if err != nil {
		return nil, err
	}
	neutral.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	neutral.LineStyle.Color = color.Black
	p.Add(neutral)

	pts := make(plotter.XYs, len(lp.genotypes))
	for i, g := range lp.genotypes {
		f, _ := lp.landscape.Get(g)
		pts[i].X = x[g]
		pts[i].Y = f
	}
	markers, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, err
	}
	markers.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		occupation := lp.frequency[lp.genotypes[i]]
		return draw.GlyphStyle{
			Color:  gradient(markerLow, markerHigh, occupation),
			Radius: lp.MarkerSize * vg.Length(1+occupation) * 1.5,
			Shape:  draw.CircleGlyph{},
		}
	}
	p.Add(markers)
	return p, nil
}

func (lp *LandscapePlot) WriteSVG(w io.Writer) error {
	p, err := lp.Plot()
	if err != nil {
		return err
	}
	c := vgsvg.New(lp.Width, lp.Height)
	p.Draw(draw.New(c))
	_, err = c.WriteTo(w)
	return err
}

func (lp *LandscapePlot) Save(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return lp.WriteSVG(f)
}
