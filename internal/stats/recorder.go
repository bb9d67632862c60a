package stats

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ecoevo/internal/evo"
	"ecoevo/internal/model"
)

const (
	DefaultBufferSize = 5000
	DefaultTailSize   = 500
)

// RunKey identifies one replicate within a sweep.
type RunKey struct {
	LandscapeIndex int
	PopulationSize int
	Replicate      int
}

// FlushFunc receives the tail of a finished run, oldest point first. Points
// carry params.RunID.
type FlushFunc func(ctx context.Context, params evo.RunParams, result evo.RunResult, tail []model.DataPoint) error

type ring struct {
	points []model.DataPoint
	pos    int
	filled int
}

func (r *ring) push(p model.DataPoint) {
	r.points[r.pos] = p
	r.pos = (r.pos + 1) % len(r.points)
	if r.filled < len(r.points) {
		r.filled++
	}
}

// tail returns up to n of the most recent points in generation order.
func (r *ring) tail(n int) []model.DataPoint {
	if n > r.filled {
		n = r.filled
	}
	out := make([]model.DataPoint, 0, n)
	size := len(r.points)
	start := (r.pos - n + size) % size
	for i := 0; i < n; i++ {
		out = append(out, r.points[(start+i)%size])
	}
	return out
}

// BufferedRecorder keeps recent data points of every active run in memory
// and only writes the tail of a run once it finishes. Runs of a sweep may
// share one recorder.
type BufferedRecorder struct {
	BufferSize int
	TailSize   int
	Summary    *SummaryWriter
	OnFlush    FlushFunc

	mu    sync.Mutex
	rings map[RunKey]*ring
}

var (
	_ evo.Recorder    = (*BufferedRecorder)(nil)
	_ evo.RunFinisher = (*BufferedRecorder)(nil)
)

func NewBufferedRecorder(summary *SummaryWriter, onFlush FlushFunc) *BufferedRecorder {
	return &BufferedRecorder{
		BufferSize: DefaultBufferSize,
		TailSize:   DefaultTailSize,
		Summary:    summary,
		OnFlush:    onFlush,
	}
}

func (b *BufferedRecorder) Record(_ context.Context, gc evo.GenerationContext) error {
	point, err := NewDataPoint(gc)
	if err != nil {
		return err
	}
	key := RunKey{LandscapeIndex: gc.LandscapeIndex, PopulationSize: gc.Population.Size(), Replicate: gc.Replicate}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rings == nil {
		b.rings = make(map[RunKey]*ring)
	}
	r, ok := b.rings[key]
	if !ok {
		size := b.BufferSize
		if size <= 0 {
			size = DefaultBufferSize
		}
		r = &ring{points: make([]model.DataPoint, size)}
		b.rings[key] = r
	}
	r.push(point)
	return nil
}

// pending returns the most recent points of a run that has not finished yet.
func (b *BufferedRecorder) pending(key RunKey, n int) []model.DataPoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rings[key]
	if !ok {
		return nil
	}
	return r.tail(n)
}

// FinishRun writes the last TailSize points of the run to the summary, hands
// them to OnFlush and drops the buffer.
func (b *BufferedRecorder) FinishRun(ctx context.Context, params evo.RunParams, result evo.RunResult) error {
	if result.Final == nil {
		return fmt.Errorf("finished run has no final population")
	}
	key := RunKey{LandscapeIndex: params.LandscapeIndex, PopulationSize: result.Final.Size(), Replicate: params.Replicate}
	n := b.TailSize
	if n <= 0 {
		n = DefaultTailSize
	}

	b.mu.Lock()
	var tail []model.DataPoint
	if r, ok := b.rings[key]; ok {
		tail = r.tail(n)
		delete(b.rings, key)
	}
	b.mu.Unlock()
	for i := range tail {
		tail[i].RunID = params.RunID
	}

	var errs []error
	if b.Summary != nil && len(tail) > 0 {
		if err := b.Summary.Write(tail...); err != nil {
			errs = append(errs, err)
		} else if err := b.Summary.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	if b.OnFlush != nil {
		if err := b.OnFlush(ctx, params, result, tail); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
