package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/hyperengineering/linkedevents/internal/importer"
	"github.com/hyperengineering/linkedevents/internal/store"
	modelsync "github.com/hyperengineering/linkedevents/internal/sync"
	"github.com/hyperengineering/linkedevents/internal/validation"
)

const problemBase = "https://linkedevents.hel.fi/errors/"

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

type problemType struct {
	slug  string
	title string
}

var problemTypes = map[int]problemType{
	http.StatusBadRequest:          {"bad-request", "Bad Request"},
	http.StatusUnauthorized:        {"unauthorized", "Unauthorized"},
	http.StatusNotFound:            {"not-found", "Not Found"},
	http.StatusConflict:            {"conflict", "Conflict"},
	http.StatusUnprocessableEntity: {"validation-error", "Validation Error"},
	http.StatusTooManyRequests:     {"rate-limit", "Too Many Requests"},
	http.StatusInternalServerError: {"internal-error", "Internal Server Error"},
}

func newProblem(r *http.Request, status int, detail string) Problem {
	pt, ok := problemTypes[status]
	if !ok {
		pt = problemType{"unknown", http.StatusText(status)}
	}
	return Problem{
		Type:     problemBase + pt.slug,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeProblemBody(w, status, newProblem(r, status, detail))
}

// ProblemWithErrors extends Problem with field errors.
type ProblemWithErrors struct {
	Problem
	Errors validation.Errors `json:"errors,omitempty"`
}

// WriteProblemWithErrors writes a 422 response listing the invalid fields.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs validation.Errors) {
	writeProblemBody(w, http.StatusUnprocessableEntity, ProblemWithErrors{
		Problem: newProblem(r, http.StatusUnprocessableEntity, detail),
		Errors:  errs,
	})
}

func writeProblemBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode problem response", "component", "api", "error", err)
	}
}

// MapError converts import and store errors to Problem Details responses.
func MapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, importer.ErrUnknownImporter), errors.Is(err, store.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, importer.ErrRunInProgress):
		WriteProblem(w, r, http.StatusConflict, "An import of this importer is already running")
	case errors.Is(err, modelsync.ErrTooManyDeletions):
		WriteProblem(w, r, http.StatusConflict, err.Error()+"; retry with force to delete anyway")
	case errors.Is(err, importer.ErrNothingToImport):
		WriteProblem(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		// Never expose internal error details to client
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
