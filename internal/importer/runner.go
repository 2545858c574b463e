package importer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hyperengineering/linkedevents/internal/archive"
	"github.com/hyperengineering/linkedevents/internal/config"
	"github.com/hyperengineering/linkedevents/internal/metrics"
	"github.com/hyperengineering/linkedevents/internal/source"
	"github.com/hyperengineering/linkedevents/internal/store"
	"github.com/hyperengineering/linkedevents/internal/types"
)

// Entity kinds, in the order a run imports them.
const (
	KindKeywords = "keywords"
	KindPlaces   = "places"
	KindEvents   = "events"
)

// Runner executes import runs and records them. Different importers may
// run concurrently; a second run of the same importer is rejected.
type Runner struct {
	store    store.Store
	cfg      *config.Config
	archiver archive.Archiver
	now      func() time.Time

	mu       sync.Mutex
	running  map[string]bool
	fetchers map[string]*source.Fetcher
}

// NewRunner creates a runner. A nil archiver disables payload archiving.
func NewRunner(s store.Store, cfg *config.Config, arch archive.Archiver) *Runner {
	if arch == nil {
		arch = archive.NoopArchiver{}
	}
	return &Runner{
		store:    s,
		cfg:      cfg,
		archiver: arch,
		now:      time.Now,
		running:  make(map[string]bool),
		fetchers: make(map[string]*source.Fetcher),
	}
}

// Run imports the selected kinds with the named importer and returns the
// recorded run. A run that fails is still recorded, with status failed.
func (r *Runner) Run(ctx context.Context, name string, opts Options) (*types.ImportRun, error) {
	imp, ok := Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownImporter, name)
	}
	if !r.acquire(name) {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, name)
	}
	defer r.release(name)

	run := &types.ImportRun{Importer: name, StartedAt: r.now()}
	if err := r.store.CreateImportRun(ctx, run); err != nil {
		return nil, err
	}

	slog.Info("import started",
		"component", "importer",
		"importer", name,
		"run", run.ID,
		"single", opts.Single,
		"force", opts.Force,
		"remap", opts.Remap,
	)

	start := time.Now()
	env := r.env(name)
	runErr := r.execute(ctx, imp, env, opts)

	counts := env.Counts()
	run.Created, run.Changed, run.Unchanged, run.Deleted = counts.Created, counts.Changed, counts.Unchanged, counts.Deleted
	run.Status = types.RunSucceeded
	if runErr != nil {
		run.Status = types.RunFailed
		run.Error = runErr.Error()
	}
	finished := r.now()
	run.FinishedAt = &finished

	// A canceled run is still recorded.
	if err := r.store.FinishImportRun(context.WithoutCancel(ctx), run); err != nil {
		slog.Error("failed to record import run",
			"component", "importer",
			"importer", name,
			"run", run.ID,
			"error", err,
		)
	}
	metrics.RecordRun(name, string(run.Status), time.Since(start).Seconds())

	if runErr != nil {
		slog.Error("import failed",
			"component", "importer",
			"importer", name,
			"run", run.ID,
			"error", runErr,
		)
		return run, runErr
	}

	slog.Info("import finished",
		"component", "importer",
		"importer", name,
		"run", run.ID,
		"created", run.Created,
		"changed", run.Changed,
		"unchanged", run.Unchanged,
		"deleted", run.Deleted,
		"duration", time.Since(start).String(),
	)
	return run, nil
}

func (r *Runner) execute(ctx context.Context, imp Importer, env *Env, opts Options) error {
	if err := imp.Setup(ctx, env); err != nil {
		return fmt.Errorf("setup %s: %w", imp.Name(), err)
	}

	ran := false
	if ki, ok := imp.(KeywordImporter); ok && (opts.all() || opts.Keywords) {
		ran = true
		if err := ki.ImportKeywords(ctx, env, opts); err != nil {
			return fmt.Errorf("import %s keywords: %w", imp.Name(), err)
		}
	}
	if pi, ok := imp.(PlaceImporter); ok && (opts.all() || opts.Places) {
		ran = true
		if err := pi.ImportPlaces(ctx, env, opts); err != nil {
			return fmt.Errorf("import %s places: %w", imp.Name(), err)
		}
	}
	if ei, ok := imp.(EventImporter); ok && (opts.all() || opts.Events) {
		ran = true
		if err := ei.ImportEvents(ctx, env, opts); err != nil {
			return fmt.Errorf("import %s events: %w", imp.Name(), err)
		}
	}
	if !ran {
		return fmt.Errorf("%s: %w", imp.Name(), ErrNothingToImport)
	}
	return nil
}

// env builds the environment of one run. Fetchers outlive runs so the
// circuit breaker of a feed remembers earlier failures.
func (r *Runner) env(name string) *Env {
	r.mu.Lock()
	f, ok := r.fetchers[name]
	if !ok {
		f = source.New(source.OptionsFrom(name, r.cfg.Import), r.archiver)
		r.fetchers[name] = f
	}
	r.mu.Unlock()

	return &Env{
		Store:   r.store,
		Config:  r.cfg,
		Fetcher: f,
		Cache:   NewRunCache(r.store),
		Now:     r.now,
		name:    name,
		runner:  r,
	}
}

func (r *Runner) acquire(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[name] {
		return false
	}
	r.running[name] = true
	return true
}

func (r *Runner) release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, name)
}

// Running returns the importers with a run in progress.
func (r *Runner) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.running))
	for name := range r.running {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Runs lists recorded runs, newest first.
func (r *Runner) Runs(ctx context.Context, importer string, limit int) ([]types.ImportRun, error) {
	return r.store.ListImportRuns(ctx, importer, limit)
}
