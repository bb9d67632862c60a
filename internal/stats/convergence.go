package stats

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"ecoevo/internal/evo"
	"ecoevo/internal/plot"
)

// ConvergenceRecorder follows a single run generation by generation: every
// data point goes straight to the summary, and the full landscape is dumped
// as text and, when Plots is set, as SVG.
type ConvergenceRecorder struct {
	Dir     string
	Summary *SummaryWriter
	Plots   bool
	Logger  logrus.FieldLogger
}

var _ evo.Recorder = (*ConvergenceRecorder)(nil)

func NewConvergenceRecorder(dir string, summary *SummaryWriter, plots bool, logger logrus.FieldLogger) (*ConvergenceRecorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &ConvergenceRecorder{Dir: dir, Summary: summary, Plots: plots, Logger: logger}, nil
}

func LandscapeDumpName(generation int) string {
	return fmt.Sprintf("landscape_data_%06d.dat", generation)
}

func PlotName(generation int) string {
	return fmt.Sprintf("%06d.svg", generation)
}

func (c *ConvergenceRecorder) Record(_ context.Context, gc evo.GenerationContext) error {
	full, err := FullLandscape(gc)
	if err != nil {
		return err
	}
	point, err := dataPointOn(gc, full)
	if err != nil {
		return err
	}
	if c.Summary != nil {
		if err := c.Summary.Write(point); err != nil {
			return err
		}
		if err := c.Summary.Flush(); err != nil {
			return err
		}
	}

	if err := writeLandscape(filepath.Join(c.Dir, LandscapeDumpName(gc.Generation)), full); err != nil {
		return err
	}

	if c.Plots {
		path := filepath.Join(c.Dir, PlotName(gc.Generation))
		lp, err := plot.NewLandscapePlot(full, gc.Population.Distribution())
		if err == nil {
			lp.Title = fmt.Sprintf("t = %d", gc.Generation)
			err = lp.Save(path)
		}
		if err != nil {
			c.Logger.WithError(err).WithField("path", path).Warn("could not save plot, skipping")
		}
	}
	return nil
}

func writeLandscape(path string, full io.WriterTo) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	w := bufio.NewWriter(f)
	if _, err := full.WriteTo(w); err != nil {
		return err
	}
	return w.Flush()
}
