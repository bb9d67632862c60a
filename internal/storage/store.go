package storage

import (
	"context"
	"fmt"

	"ecoevo/internal/model"
)

// Store persists landscapes, finished runs and their recorded data points.
type Store interface {
	Init(ctx context.Context) error
	SaveLandscape(ctx context.Context, landscape model.LandscapeRecord) error
	GetLandscape(ctx context.Context, id string) (model.LandscapeRecord, bool, error)
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns the runs on one landscape, or all runs when
	// landscapeID is empty, oldest first.
	ListRuns(ctx context.Context, landscapeID string) ([]model.RunRecord, error)
	SaveDataPoints(ctx context.Context, runID string, points []model.DataPoint) error
	GetDataPoints(ctx context.Context, runID string) ([]model.DataPoint, bool, error)
}

// LandscapeID names the index-th landscape of a model with genotype length l.
func LandscapeID(l int, modelName string, index int) string {
	return fmt.Sprintf("L%d_%s_%d", l, modelName, index)
}
