package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/linkedevents/internal/importer"
)

type importerContextKey struct{}

// WithImporter returns a new context with the resolved importer attached.
func WithImporter(ctx context.Context, imp importer.Importer) context.Context {
	return context.WithValue(ctx, importerContextKey{}, imp)
}

// ImporterFromContext extracts the importer resolved by ImporterCtx.
func ImporterFromContext(ctx context.Context) (importer.Importer, bool) {
	imp, ok := ctx.Value(importerContextKey{}).(importer.Importer)
	return imp, ok && imp != nil
}

// ImporterCtx resolves the {name} URL parameter to a registered importer,
// responding 404 when there is none.
func ImporterCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		imp, ok := importer.Get(name)
		if !ok {
			WriteProblem(w, r, http.StatusNotFound, "Unknown importer: "+name)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithImporter(r.Context(), imp)))
	})
}
