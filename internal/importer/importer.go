// Package importer drives imports: it resolves a named importer, prepares
// the run environment, lets the importer fetch and upsert its feed through
// syncher sessions, and records the outcome as an import run.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/linkedevents/internal/archive"
	"github.com/hyperengineering/linkedevents/internal/config"
	"github.com/hyperengineering/linkedevents/internal/geo"
	"github.com/hyperengineering/linkedevents/internal/metrics"
	"github.com/hyperengineering/linkedevents/internal/source"
	"github.com/hyperengineering/linkedevents/internal/store"
	modelsync "github.com/hyperengineering/linkedevents/internal/sync"
	"github.com/hyperengineering/linkedevents/internal/types"
	"github.com/hyperengineering/linkedevents/internal/upsert"
)

// Staging drafts built by the mappers.
type (
	PlaceDraft   = upsert.PlaceDraft
	EventDraft   = upsert.EventDraft
	KeywordDraft = upsert.KeywordDraft
)

// Importer is a named feed driver. A fresh instance is created for every
// run, so implementations may keep per-run state set up in Setup.
type Importer interface {
	Name() string
	// Setup ensures the data sources and organizations the importer
	// writes with and loads any lookup tables.
	Setup(ctx context.Context, env *Env) error
}

// PlaceImporter imports places.
type PlaceImporter interface {
	Importer
	ImportPlaces(ctx context.Context, env *Env, opts Options) error
}

// EventImporter imports events.
type EventImporter interface {
	Importer
	ImportEvents(ctx context.Context, env *Env, opts Options) error
}

// KeywordImporter imports keywords.
type KeywordImporter interface {
	Importer
	ImportKeywords(ctx context.Context, env *Env, opts Options) error
}

// Options select what a run imports and how.
type Options struct {
	// Force lets Finish delete more than the safety guard allows.
	Force bool
	// Remap re-processes already deleted places so their events are moved.
	Remap bool
	// Single scopes the run to one origin id or, for importers that match
	// by name, one name. Deletion is skipped for single runs.
	Single string

	// Places, Events and Keywords select the entity kinds. When none is
	// set, every kind the importer supports is imported.
	Places   bool
	Events   bool
	Keywords bool
}

func (o Options) all() bool {
	return !o.Places && !o.Events && !o.Keywords
}

// Counts accumulates the syncher results of a run.
type Counts struct {
	Created   int `json:"created"`
	Changed   int `json:"changed"`
	Unchanged int `json:"unchanged"`
	Deleted   int `json:"deleted"`
}

// Env is what an importer gets to work with during one run.
type Env struct {
	Store   store.Store
	Config  *config.Config
	Fetcher *source.Fetcher
	Cache   *RunCache
	Now     func() time.Time

	name   string
	runner *Runner
	counts Counts
}

// Name returns the name of the running importer.
func (e *Env) Name() string { return e.name }

// Importer returns the feed settings of the running importer.
func (e *Env) Importer() config.ImporterConfig {
	return e.Config.Importer(e.name)
}

// Policy returns the default reconciliation rules adjusted to the import
// settings: local time zone and coordinate bounds.
func (e *Env) Policy() upsert.Policy {
	p := upsert.DefaultPolicy()
	p.Location = e.Config.Location()
	if bb := e.Config.Import.BoundingBox; len(bb) == 4 {
		p.Bounds = geo.BoundingBox(bb[0], bb[1], bb[2], bb[3])
	}
	return p
}

// NewEngine creates an upsert engine over the run's store.
func (e *Env) NewEngine(p upsert.Policy) *upsert.Engine {
	return upsert.NewEngine(e.Store, p)
}

// SyncOptions returns the syncher options of the run for kind.
func (e *Env) SyncOptions(kind string) []modelsync.Option {
	return []modelsync.Option{
		modelsync.WithName(e.name + " " + kind),
		modelsync.WithChunkSize(e.Config.Import.ChunkSize),
	}
}

// Record adds a finished syncher session to the run's counters.
func (e *Env) Record(kind string, res *modelsync.Result) {
	if res == nil {
		return
	}
	e.counts.Created += res.Created
	e.counts.Changed += res.Changed
	e.counts.Unchanged += res.Unchanged
	e.counts.Deleted += res.Deleted
	metrics.RecordEntities(e.name, kind, res.Created, res.Changed, res.Unchanged, res.Deleted)

	slog.Info("import session finished",
		"component", "importer",
		"importer", e.name,
		"kind", kind,
		"created", res.Created,
		"changed", res.Changed,
		"unchanged", res.Unchanged,
		"deleted", res.Deleted,
	)
}

// Counts returns the counters recorded so far.
func (e *Env) Counts() Counts { return e.counts }

// RunImporter runs another importer from within this run, for example to
// import a missing place on demand. It is recorded as a run of its own.
func (e *Env) RunImporter(ctx context.Context, name string, opts Options) error {
	if e.runner == nil {
		return fmt.Errorf("run %s: %w", name, ErrNoRunner)
	}
	_, err := e.runner.Run(ctx, name, opts)
	return err
}

// EnsureSource creates the data source and, when org is non-nil, the
// publisher organization. It returns the organization id.
func (e *Env) EnsureSource(ctx context.Context, ds types.DataSource, org *types.Organization) (string, error) {
	if _, err := e.Store.EnsureDataSource(ctx, ds); err != nil {
		return "", err
	}
	if org == nil {
		return "", nil
	}
	// The publisher's source is created on first use only, so its name is
	// left alone when another importer owns it.
	if _, err := e.Store.GetDataSource(ctx, org.DataSourceID); errors.Is(err, store.ErrNotFound) {
		if _, err := e.Store.EnsureDataSource(ctx, types.DataSource{ID: org.DataSourceID}); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}
	o, err := e.Store.EnsureOrganization(ctx, *org)
	if err != nil {
		return "", err
	}
	return o.ID, nil
}

// NewEnv builds a standalone environment, mainly for tests of single
// importers. Runs started through a Runner get theirs from it.
func NewEnv(name string, s store.Store, cfg *config.Config, f *source.Fetcher) *Env {
	if f == nil {
		f = source.New(source.OptionsFrom(name, cfg.Import), archive.NoopArchiver{})
	}
	return &Env{
		Store:   s,
		Config:  cfg,
		Fetcher: f,
		Cache:   NewRunCache(s),
		Now:     time.Now,
		name:    name,
	}
}
