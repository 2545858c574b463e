// Package matko imports tourist points of interest from the Helsinki
// Marketing feeds as places. The feed comes as one RSS document per
// language; items are merged by their id.
package matko

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/hyperengineering/linkedevents/internal/importer"
	"github.com/hyperengineering/linkedevents/internal/replace"
	"github.com/hyperengineering/linkedevents/internal/store"
	modelsync "github.com/hyperengineering/linkedevents/internal/sync"
	"github.com/hyperengineering/linkedevents/internal/types"
	"github.com/hyperengineering/linkedevents/internal/upsert"
)

// Name is the importer and data source name.
const Name = "matko"

func init() {
	importer.Register(Name, func() importer.Importer { return &Importer{} })
}

// Importer imports matko locations.
type Importer struct{}

func (i *Importer) Name() string { return Name }

func (i *Importer) Setup(ctx context.Context, env *importer.Env) error {
	_, err := env.EnsureSource(ctx, types.DataSource{ID: Name, Name: "Matkailu- ja kongressitoimisto"}, nil)
	return err
}

// ImportPlaces imports every location, or with Single only the locations
// named so. Tprek imports a missing replacement place this way.
func (i *Importer) ImportPlaces(ctx context.Context, env *importer.Env, opts importer.Options) error {
	locations, err := fetchLocations(ctx, env)
	if err != nil {
		return err
	}

	var seed modelsync.Seeder[*types.Place]
	if opts.Single == "" {
		seed = func(ctx context.Context, after string, limit int) ([]*types.Place, error) {
			return env.Store.ListPlaces(ctx, store.PlaceFilter{DataSourceID: Name}, after, limit)
		}
	}
	syncher, err := modelsync.New(ctx, seed, modelsync.EntityID[*types.Place],
		replace.NewPlacePolicy(env.Store), env.SyncOptions(importer.KindPlaces)...)
	if err != nil {
		return err
	}

	policy := env.Policy()
	policy.Unsupplied = []string{upsert.FieldImage}
	engine := env.NewEngine(policy)
	imported := 0
	for _, loc := range locations {
		if opts.Single != "" && !loc.matches(opts.Single) {
			continue
		}
		if replaced, err := replacedPlace(ctx, env.Store, loc.originID); err != nil {
			return err
		} else if replaced {
			// Its events live on the replacing place now.
			slog.Debug("skipping replaced location", "component", "importer", "importer", Name, "location", loc.originID)
			continue
		}
		p, err := engine.SavePlace(ctx, loc.draft(""))
		if errors.Is(err, store.ErrValidation) {
			slog.Warn("skipping invalid location",
				"component", "importer",
				"importer", Name,
				"location", loc.originID,
				"error", err,
			)
			continue
		}
		if err != nil {
			return err
		}
		if err := syncher.Mark(p); err != nil {
			return err
		}
		imported++
	}

	if opts.Single != "" && imported == 0 {
		slog.Warn("no location with the requested name",
			"component", "importer",
			"importer", Name,
			"name", opts.Single,
		)
	}

	res, err := syncher.Finish(ctx, opts.Force)
	if err != nil {
		return err
	}
	env.Record(importer.KindPlaces, res)
	return nil
}

func replacedPlace(ctx context.Context, s store.Store, originID string) (bool, error) {
	p, err := s.FindPlace(ctx, Name, originID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Deleted && p.ReplacedBy != "", nil
}

// fetchLocations reads the language feeds in language preference order and
// returns the merged locations, extra locations first.
func fetchLocations(ctx context.Context, env *importer.Env) ([]*location, error) {
	urls := env.Importer().LanguageURLs
	if len(urls) == 0 {
		return nil, fmt.Errorf("%s: no language feeds configured", Name)
	}

	byID := make(map[string]*location)
	var order []string
	for _, extra := range extraLocations {
		byID[extra.originID] = extra.clone()
		order = append(order, extra.originID)
	}

	for _, lang := range languages(env.Config.Import.Languages, urls) {
		var doc poiFeed
		if err := env.Fetcher.FetchXML(ctx, urls[lang], &doc); err != nil {
			return nil, fmt.Errorf("%s feed: %w", lang, err)
		}
		for _, it := range doc.Items {
			if it.ID == "" {
				continue
			}
			loc, ok := byID[it.ID]
			if !ok {
				loc = &location{originID: it.ID}
				byID[it.ID] = loc
				order = append(order, it.ID)
			}
			loc.merge(lang, it)
		}
	}

	out := make([]*location, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

// languages returns the configured languages that have a feed, followed by
// any other feed languages in sorted order.
func languages(preferred []string, urls map[string]string) []string {
	var out []string
	for _, lang := range preferred {
		if _, ok := urls[lang]; ok {
			out = append(out, lang)
		}
	}
	var rest []string
	for lang := range urls {
		if !slices.Contains(out, lang) {
			rest = append(rest, lang)
		}
	}
	slices.Sort(rest)
	return append(out, rest...)
}
