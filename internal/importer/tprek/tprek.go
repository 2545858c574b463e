// Package tprek imports places from the Helsinki service map unit
// register. Tprek is the most trusted place source: when a unit with events
// disappears, its events are moved to a replacement found among tprek and
// then matko places, importing the matko place on demand.
package tprek

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/hyperengineering/linkedevents/internal/importer"
	"github.com/hyperengineering/linkedevents/internal/replace"
	"github.com/hyperengineering/linkedevents/internal/store"
	modelsync "github.com/hyperengineering/linkedevents/internal/sync"
	"github.com/hyperengineering/linkedevents/internal/types"
	"github.com/hyperengineering/linkedevents/internal/upsert"
)

// Name is the importer and data source name.
const Name = "tprek"

// fallbackSource provides replacement places for deleted units.
const fallbackSource = "matko"

func init() {
	importer.Register(Name, func() importer.Importer { return &Importer{} })
}

// Importer imports tprek units as places.
type Importer struct {
	publisherID string
}

func (i *Importer) Name() string { return Name }

func (i *Importer) Setup(ctx context.Context, env *importer.Env) error {
	id, err := env.EnsureSource(ctx,
		types.DataSource{ID: Name, Name: "Toimipisterekisteri"},
		&types.Organization{DataSourceID: "ahjo", OriginID: "U021600", Name: "Tietotekniikka- ja viestintäosasto"},
	)
	if err != nil {
		return err
	}
	i.publisherID = id
	return nil
}

func (i *Importer) ImportPlaces(ctx context.Context, env *importer.Env, opts importer.Options) error {
	units, err := i.fetch(ctx, env, opts.Single)
	if err != nil {
		return err
	}
	slog.Info("units loaded", "component", "importer", "importer", Name, "units", len(units))

	// Single runs only touch one unit and never delete.
	var seed modelsync.Seeder[*types.Place]
	if opts.Single == "" {
		seed = func(ctx context.Context, after string, limit int) ([]*types.Place, error) {
			return env.Store.ListPlaces(ctx, store.PlaceFilter{DataSourceID: Name, IncludeDeleted: true}, after, limit)
		}
	}

	onDemand := func(ctx context.Context, name string) error {
		return env.RunImporter(ctx, fallbackSource, importer.Options{Places: true, Single: name})
	}
	deletion := replace.NewPlacePolicy(env.Store,
		replace.WithChain(
			replace.SameSource(env.Store),
			// A matko place may have been deleted by an earlier run.
			replace.FromSource(env.Store, fallbackSource, true),
			replace.ImportThen(onDemand, replace.FromSource(env.Store, fallbackSource, false)),
		),
		replace.WithRemap(opts.Remap),
	)

	syncher, err := modelsync.New(ctx, seed, modelsync.EntityID[*types.Place], deletion, env.SyncOptions(importer.KindPlaces)...)
	if err != nil {
		return err
	}

	engine := env.NewEngine(env.Policy())
	for idx, u := range units {
		if idx > 0 && idx%1000 == 0 {
			slog.Info("units processed", "component", "importer", "importer", Name, "processed", idx)
		}
		if err := i.importUnit(ctx, env, engine, syncher, u); err != nil {
			return err
		}
	}

	// Remap implies force: every deleted unit is a candidate again.
	res, err := syncher.Finish(ctx, opts.Force || opts.Remap)
	if err != nil {
		return err
	}
	env.Record(importer.KindPlaces, res)
	return nil
}

func (i *Importer) importUnit(ctx context.Context, env *importer.Env, engine *upsert.Engine, syncher *modelsync.Syncher[*types.Place], u unit) error {
	draft := mapUnit(u, i.publisherID)
	p, report, err := engine.SavePlaceReport(ctx, draft)
	if errors.Is(err, store.ErrValidation) {
		slog.Warn("skipping invalid unit",
			"component", "importer",
			"importer", Name,
			"unit", draft.OriginID,
			"error", err,
		)
		return nil
	}
	if err != nil {
		return err
	}

	// The unit is back: matko places standing in for it are replaced.
	if report[upsert.FieldDeleted] == upsert.FieldSet && !p.Created {
		if _, err := replace.ReinstatePlace(ctx, env.Store, p, fallbackSource); err != nil {
			return fmt.Errorf("reinstate %s: %w", p.ID, err)
		}
	}
	return syncher.Mark(p)
}

func (i *Importer) fetch(ctx context.Context, env *importer.Env, single string) ([]unit, error) {
	base := env.Importer().PlacesURL
	if base == "" {
		return nil, fmt.Errorf("%s: places URL is not configured", Name)
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	if single != "" {
		var u unit
		if err := env.Fetcher.FetchJSON(ctx, base+url.PathEscape(single)+"/", &u); err != nil {
			return nil, err
		}
		return []unit{u}, nil
	}

	var units []unit
	if err := env.Fetcher.FetchJSON(ctx, base, &units); err != nil {
		return nil, err
	}
	return units, nil
}
