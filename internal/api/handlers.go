// Package api serves the admin HTTP API: health, importer status, the
// operations log of import runs, and manual import triggers.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync"

	"github.com/goccy/go-json"

	"github.com/hyperengineering/linkedevents/internal/importer"
	"github.com/hyperengineering/linkedevents/internal/store"
	"github.com/hyperengineering/linkedevents/internal/types"
	"github.com/hyperengineering/linkedevents/internal/validation"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 500
	maxSingleLength  = 200
)

// ImportRunner runs importers and reports on them. Implemented by
// importer.Runner.
type ImportRunner interface {
	Run(ctx context.Context, name string, opts importer.Options) (*types.ImportRun, error)
	Running() []string
	Runs(ctx context.Context, importer string, limit int) ([]types.ImportRun, error)
}

// StatsReader reports entity counts.
type StatsReader interface {
	GetStats(ctx context.Context) (*store.Stats, error)
}

// Handler implements the API handlers
type Handler struct {
	runner  ImportRunner
	stats   StatsReader
	apiKey  string
	version string

	// ctx bounds imports started in the background.
	ctx context.Context
	wg  sync.WaitGroup
}

// NewHandler creates a Handler. Background imports run until ctx is
// cancelled.
func NewHandler(ctx context.Context, runner ImportRunner, stats StatsReader, apiKey, version string) *Handler {
	return &Handler{
		runner:  runner,
		stats:   stats,
		apiKey:  apiKey,
		version: version,
		ctx:     ctx,
	}
}

// Wait blocks until every background import has returned.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}

// Health handles GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.GetStats(r.Context())
	if err != nil {
		slog.Error("health check failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Importers: importer.Names(),
		Places:    stats.Places,
		Events:    stats.Events,
		Keywords:  stats.Keywords,
	})
}

// Importers handles GET /api/v1/importers
func (h *Handler) Importers(w http.ResponseWriter, r *http.Request) {
	running := h.runner.Running()
	infos := make([]types.ImporterInfo, 0)
	for _, name := range importer.Names() {
		imp, ok := importer.Get(name)
		if !ok {
			continue
		}
		infos = append(infos, types.ImporterInfo{
			Name:    name,
			Kinds:   importer.Kinds(imp),
			Running: slices.Contains(running, name),
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

// Runs handles GET /api/v1/runs?importer=&limit=
func (h *Handler) Runs(w http.ResponseWriter, r *http.Request) {
	var errs validation.Errors

	name := r.URL.Query().Get("importer")
	if name != "" {
		if _, ok := importer.Get(name); !ok {
			errs.Add(&validation.FieldError{Field: "importer", Message: "is not a registered importer"})
		}
	}

	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs.Add(&validation.FieldError{Field: "limit", Message: "must be an integer"})
		} else {
			errs.Add(validation.IntRange("limit", n, 1, maxRunsLimit))
			limit = n
		}
	}
	if len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Query contains invalid parameters", errs)
		return
	}

	runs, err := h.runner.Runs(r.Context(), name, limit)
	if err != nil {
		slog.Error("list runs failed", "component", "api", "error", err)
		MapError(w, r, err)
		return
	}
	if runs == nil {
		runs = []types.ImportRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// TriggerImport handles POST /api/v1/imports/{name}. The import runs in
// the background and the response is 202, unless ?wait=true is given, in
// which case the finished run is returned.
func (h *Handler) TriggerImport(w http.ResponseWriter, r *http.Request) {
	imp, ok := ImporterFromContext(r.Context())
	if !ok {
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	name := imp.Name()

	var req types.ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	supported := importer.Kinds(imp)
	var errs validation.Errors
	for i, k := range req.Kinds {
		errs.Add(validation.OneOf(fmt.Sprintf("kinds[%d]", i), k, supported))
	}
	errs.Add(validation.Text("single", req.Single, maxSingleLength))
	if len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	opts := importer.Options{
		Force:    req.Force,
		Remap:    req.Remap,
		Single:   req.Single,
		Places:   slices.Contains(req.Kinds, importer.KindPlaces),
		Events:   slices.Contains(req.Kinds, importer.KindEvents),
		Keywords: slices.Contains(req.Kinds, importer.KindKeywords),
	}

	if r.URL.Query().Get("wait") == "true" {
		run, err := h.runner.Run(r.Context(), name, opts)
		if err != nil {
			slog.Warn("manual import failed", "component", "api", "importer", name, "error", err)
			MapError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
		return
	}

	if slices.Contains(h.runner.Running(), name) {
		MapError(w, r, importer.ErrRunInProgress)
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		run, err := h.runner.Run(h.ctx, name, opts)
		if err != nil {
			slog.Warn("manual import failed", "component", "api", "importer", name, "error", err)
			return
		}
		slog.Info("manual import completed", "component", "api", "importer", name, "run_id", run.ID)
	}()

	runs := "/api/v1/runs?importer=" + name
	w.Header().Set("Location", runs)
	writeJSON(w, http.StatusAccepted, types.ImportAccepted{Importer: name, Status: "accepted", Runs: runs})
}
