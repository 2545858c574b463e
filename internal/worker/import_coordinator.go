// Package worker runs scheduled imports in the background.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hyperengineering/linkedevents/internal/importer"
	"github.com/hyperengineering/linkedevents/internal/types"
)

// ImportRunner runs one importer. Implemented by importer.Runner.
type ImportRunner interface {
	Run(ctx context.Context, name string, opts importer.Options) (*types.ImportRun, error)
}

// ImportCoordinator runs each scheduled importer at its own interval.
type ImportCoordinator struct {
	runner    ImportRunner
	schedules map[string]time.Duration
}

// NewImportCoordinator creates a coordinator. Schedules with a
// non-positive interval are ignored.
func NewImportCoordinator(runner ImportRunner, schedules map[string]time.Duration) *ImportCoordinator {
	s := make(map[string]time.Duration, len(schedules))
	for name, interval := range schedules {
		if interval > 0 {
			s[name] = interval
		}
	}
	return &ImportCoordinator{runner: runner, schedules: s}
}

// Names returns the scheduled importers in name order.
func (c *ImportCoordinator) Names() []string {
	names := make([]string, 0, len(c.schedules))
	for name := range c.schedules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run starts one loop per scheduled importer and blocks until ctx is
// cancelled and every loop has returned.
//
// The first run of an importer happens one interval after start, so a
// restarted server does not import everything at once.
func (c *ImportCoordinator) Run(ctx context.Context) {
	slog.Info("import coordinator started",
		"component", "worker",
		"worker", "import-coordinator",
		"importers", c.Names(),
	)

	var wg sync.WaitGroup
	for _, name := range c.Names() {
		wg.Add(1)
		go func(name string, interval time.Duration) {
			defer wg.Done()
			c.loop(ctx, name, interval)
		}(name, c.schedules[name])
	}
	wg.Wait()

	slog.Info("import coordinator stopped",
		"component", "worker",
		"worker", "import-coordinator",
		"reason", "context_cancelled",
	)
}

func (c *ImportCoordinator) loop(ctx context.Context, name string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runImporter(ctx, name)
		}
	}
}

// RunOnce runs every scheduled importer once, in name order, continuing on
// individual failures. It returns the number of failed runs.
func (c *ImportCoordinator) RunOnce(ctx context.Context) int {
	var failed int
	for _, name := range c.Names() {
		if ctx.Err() != nil {
			return failed
		}
		if !c.runImporter(ctx, name) {
			failed++
		}
	}
	return failed
}

// runImporter runs one scheduled import. Returns true on success.
func (c *ImportCoordinator) runImporter(ctx context.Context, name string) bool {
	start := time.Now()
	run, err := c.runner.Run(ctx, name, importer.Options{})
	switch {
	case err == nil:
	case errors.Is(err, importer.ErrRunInProgress):
		// A manual run is still going; the next tick tries again.
		slog.Info("scheduled import skipped",
			"component", "worker",
			"worker", "import-coordinator",
			"importer", name,
			"reason", "run_in_progress",
		)
		return false
	case ctx.Err() != nil:
		return false
	default:
		slog.Error("scheduled import failed",
			"component", "worker",
			"worker", "import-coordinator",
			"importer", name,
			"error", err,
		)
		return false
	}

	slog.Info("scheduled import completed",
		"component", "worker",
		"worker", "import-coordinator",
		"importer", name,
		"run_id", run.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return true
}
