package platform

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ecoevo/internal/model"
	"ecoevo/internal/phenotype"
	"ecoevo/internal/resource"
	"ecoevo/internal/storage"
)

type Config struct {
	Store  storage.Store
	Logger logrus.FieldLogger
}

const nullSuffix = "/null"

// LandscapeSpec is a landscape available to sweeps. ID is the store ID; the
// registry key also distinguishes the null model.
type LandscapeSpec struct {
	ID        string
	Name      string
	Index     int
	Landscape *resource.Landscape
}

func (s LandscapeSpec) Key() string {
	return LandscapeKey(s.ID, s.Landscape != nil && s.Landscape.IsNullModel())
}

func LandscapeKey(id string, nullModel bool) string {
	if nullModel {
		return id + nullSuffix
	}
	return id
}

// Platform owns the store, the registered landscapes and the sweeps that
// are currently running.
type Platform struct {
	store storage.Store
	log   logrus.FieldLogger

	mu         sync.RWMutex
	landscapes map[string]LandscapeSpec
	started    bool
	runs       map[string]context.CancelFunc
}

func New(cfg Config) *Platform {
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Platform{
		store:      cfg.Store,
		log:        log,
		landscapes: make(map[string]LandscapeSpec),
		runs:       make(map[string]context.CancelFunc),
	}
}

func (p *Platform) Init(ctx context.Context) error {
	if p.store == nil {
		return fmt.Errorf("store is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if err := p.store.Init(ctx); err != nil {
		return err
	}
	p.started = true
	return nil
}

func (p *Platform) Started() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}

func (p *Platform) Store() storage.Store { return p.store }

func (p *Platform) RegisterLandscape(spec LandscapeSpec) error {
	if spec.Landscape == nil {
		return fmt.Errorf("landscape is nil")
	}
	if spec.ID == "" {
		return fmt.Errorf("landscape id is required")
	}
	key := spec.Key()
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.landscapes[key]; exists {
		return fmt.Errorf("duplicate landscape: %s", key)
	}
	p.landscapes[key] = spec
	return nil
}

func (p *Platform) GetLandscape(key string) (LandscapeSpec, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	spec, ok := p.landscapes[key]
	return spec, ok
}

func (p *Platform) RegisteredLandscapes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]string, 0, len(p.landscapes))
	for key := range p.landscapes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// SaveLandscape encodes a landscape into the store and registers it.
func (p *Platform) SaveLandscape(ctx context.Context, spec LandscapeSpec) error {
	if !p.Started() {
		return fmt.Errorf("platform is not initialized")
	}
	if spec.Landscape == nil {
		return fmt.Errorf("landscape is nil")
	}
	payload, err := phenotype.Encode(spec.Landscape.Phenotypes())
	if err != nil {
		return fmt.Errorf("encode landscape %s: %w", spec.ID, err)
	}
	record := model.LandscapeRecord{
		VersionedRecord: storage.Versioned(),
		ID:              spec.ID,
		Name:            spec.Name,
		Index:           spec.Index,
		L:               spec.Landscape.L(),
		S:               spec.Landscape.S(),
		NullModel:       spec.Landscape.IsNullModel(),
		Payload:         payload,
		CreatedAtUTC:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := p.store.SaveLandscape(ctx, record); err != nil {
		return err
	}
	return p.RegisterLandscape(spec)
}

// LoadLandscape returns a registered landscape, decoding it from the store
// on first use. The null and full variants are registered separately.
func (p *Platform) LoadLandscape(ctx context.Context, id string, nullModel bool) (LandscapeSpec, error) {
	key := LandscapeKey(id, nullModel)
	if spec, ok := p.GetLandscape(key); ok {
		return spec, nil
	}
	if !p.Started() {
		return LandscapeSpec{}, fmt.Errorf("platform is not initialized")
	}
	record, ok, err := p.store.GetLandscape(ctx, id)
	if err != nil {
		return LandscapeSpec{}, err
	}
	if !ok {
		return LandscapeSpec{}, fmt.Errorf("landscape not found: %s", id)
	}
	m, err := phenotype.Decode(record.Payload)
	if err != nil {
		return LandscapeSpec{}, fmt.Errorf("decode landscape %s: %w", id, err)
	}
	land := resource.NewLandscape(m)
	if nullModel {
		land.AsNullModel()
	}
	spec := LandscapeSpec{ID: record.ID, Name: record.Name, Index: record.Index, Landscape: land}
	if err := p.RegisterLandscape(spec); err != nil {
		// lost a race with another loader
		if existing, ok := p.GetLandscape(key); ok {
			return existing, nil
		}
		return LandscapeSpec{}, err
	}
	return spec, nil
}

// StopRun cancels an active sweep. Runs already finished stay persisted.
func (p *Platform) StopRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	p.mu.RLock()
	cancel, ok := p.runs[runID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("run not active: %s", runID)
	}
	cancel()
	return nil
}

func (p *Platform) ActiveRuns() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.runs))
	for id := range p.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *Platform) registerRun(runID string, cancel context.CancelFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return fmt.Errorf("platform is not initialized")
	}
	if _, exists := p.runs[runID]; exists {
		return fmt.Errorf("run already active: %s", runID)
	}
	p.runs[runID] = cancel
	return nil
}

func (p *Platform) unregisterRun(runID string) {
	p.mu.Lock()
	delete(p.runs, runID)
	p.mu.Unlock()
}
