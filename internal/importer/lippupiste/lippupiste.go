// Package lippupiste imports ticketed events from the Lippupiste CSV feed.
//
// Serie categories become keywords of the lippupiste source. Series with
// more than one event get a recurring super event; the super events are
// saved first so the leaves can point at them, and are finished last, once
// the leaves no longer need them.
package lippupiste

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
const Name = "lippupiste"

// venueSource holds the places venues are matched against by name.
const venueSource = "tprek"

func init() {
	importer.Register(Name, func() importer.Importer { return &Importer{} })
}

// Importer imports Lippupiste events.
type Importer struct {
	publisherID string
}

func (i *Importer) Name() string { return Name }

func (i *Importer) Setup(ctx context.Context, env *importer.Env) error {
	id, err := env.EnsureSource(ctx,
		types.DataSource{ID: Name, Name: "Lippupiste"},
		&types.Organization{DataSourceID: "ytj", OriginID: "1789232-4", Name: "Lippupiste Oy"},
	)
	if err != nil {
		return err
	}
	i.publisherID = id
	return nil
}

// ImportEvents imports the serie keywords, the super events and the
// events of the feed. With Single only the event with that id and its
// super event are imported, and nothing is deleted.
func (i *Importer) ImportEvents(ctx context.Context, env *importer.Env, opts importer.Options) error {
	rows, err := fetchRows(ctx, env)
	if err != nil {
		return err
	}
	if err := i.importKeywords(ctx, env, rows, opts); err != nil {
		return err
	}

	leaves := make([]importer.EventDraft, 0, len(rows))
	for _, r := range rows {
		d, err := i.leafDraft(ctx, env, r)
		if err != nil {
			return err
		}
		leaves = append(leaves, d)
	}

	// Group the leaves by serie.
	series := make(map[string][]int)
	var serieOrder []string
	for idx, r := range rows {
		if r.SerieID == "" {
			continue
		}
		if _, ok := series[r.SerieID]; !ok {
			serieOrder = append(serieOrder, r.SerieID)
		}
		series[r.SerieID] = append(series[r.SerieID], idx)
	}

	var supers []importer.EventDraft
	for _, id := range serieOrder {
		members := series[id]
		if len(members) < 2 {
			continue
		}
		s := serie{id: id}
		var memberDrafts []importer.EventDraft
		for _, idx := range members {
			s.rows = append(s.rows, rows[idx])
			memberDrafts = append(memberDrafts, leaves[idx])
		}
		sup := s.superDraft(i.publisherID, memberDrafts)
		supers = append(supers, sup)
		for _, idx := range members {
			leaves[idx].SuperEventID = types.ObjectID(Name, sup.OriginID)
		}
	}

	if opts.Single != "" {
		leaves, supers = single(opts.Single, leaves, supers)
		if len(leaves) == 0 {
			slog.Warn("event not in feed", "component", "importer", "importer", Name, "event", opts.Single)
		}
	}

	superSync, err := i.newEventSyncher(ctx, env, opts, types.SuperEventRecurring, importer.KindEvents+" super")
	if err != nil {
		return err
	}
	leafSync, err := i.newEventSyncher(ctx, env, opts, types.SuperEventNone, importer.KindEvents)
	if err != nil {
		return err
	}

	policy := env.Policy()
	policy.Unsupplied = []string{upsert.FieldLocationExtraInfo, upsert.FieldDatePublished, upsert.FieldCustomData}
	engine := env.NewEngine(policy)

	for _, d := range supers {
		if err := saveEvent(ctx, engine, superSync, d); err != nil {
			return err
		}
	}
	for _, d := range leaves {
		if err := saveEvent(ctx, engine, leafSync, d); err != nil {
			return err
		}
	}

	res, err := leafSync.Finish(ctx, opts.Force)
	if err != nil {
		return err
	}
	env.Record(importer.KindEvents, res)

	res, err = superSync.Finish(ctx, opts.Force)
	if err != nil {
		return err
	}
	env.Record(importer.KindEvents, res)
	return nil
}

// single keeps the event with the given feed id and its super event.
func single(eventID string, leaves, supers []importer.EventDraft) ([]importer.EventDraft, []importer.EventDraft) {
	origin := "event" + eventID
	var keptLeaves, keptSupers []importer.EventDraft
	for _, d := range leaves {
		if d.OriginID != origin {
			continue
		}
		keptLeaves = append(keptLeaves, d)
		for _, s := range supers {
			if types.ObjectID(Name, s.OriginID) == d.SuperEventID {
				keptSupers = append(keptSupers, s)
			}
		}
	}
	return keptLeaves, keptSupers
}

// newEventSyncher tracks the stored events of one super event type. Only
// leaves that have not ended are candidates for deletion, since the feed
// drops past events.
func (i *Importer) newEventSyncher(ctx context.Context, env *importer.Env, opts importer.Options, superType types.SuperEventType, name string) (*modelsync.Syncher[*types.Event], error) {
	var seed modelsync.Seeder[*types.Event]
	if opts.Single == "" {
		seed = func(ctx context.Context, after string, limit int) ([]*types.Event, error) {
			f := store.EventFilter{DataSourceID: Name, SuperEventType: &superType}
			if superType == types.SuperEventNone {
				now := env.Now()
				f.EndAfter = &now
			}
			return env.Store.ListEvents(ctx, f, after, limit)
		}
	}
	deletion := replace.NewSimplePolicy[*types.Event](func(ctx context.Context, id string) (bool, error) {
		return env.Store.SoftDeleteEvent(ctx, id, false)
	})
	opt := append(env.SyncOptions(importer.KindEvents), modelsync.WithName(Name+" "+name))
	return modelsync.New(ctx, seed, modelsync.EntityID[*types.Event], deletion, opt...)
}

func saveEvent(ctx context.Context, engine *upsert.Engine, syncher *modelsync.Syncher[*types.Event], d importer.EventDraft) error {
	ev, err := engine.SaveEvent(ctx, d)
	if errors.Is(err, store.ErrValidation) {
		slog.Warn("skipping invalid event",
			"component", "importer",
			"importer", Name,
			"event", d.OriginID,
			"error", err,
		)
		return nil
	}
	if err != nil {
		return err
	}
	return syncher.Mark(ev)
}

func (i *Importer) leafDraft(ctx context.Context, env *importer.Env, r row) (importer.EventDraft, error) {
	d := r.draft(i.publisherID)

	id, err := env.Cache.PlaceByName(ctx, venueSource, r.Venue)
	if err != nil {
		return d, err
	}
	if id == "" && r.Venue != "" {
		slog.Debug("venue not matched", "component", "importer", "importer", Name, "venue", r.Venue)
	}
	d.LocationID = id

	for _, c := range r.Categories {
		kw := types.ObjectID(Name, keywordOriginID(c))
		if ok, err := env.Cache.KeywordExists(ctx, kw); err != nil {
			return d, err
		} else if ok && !slices.Contains(d.Keywords, kw) {
			d.Keywords = append(d.Keywords, kw)
		}
		yso, mapped := categoryKeywords[keywordOriginID(c)]
		if !mapped {
			continue
		}
		kw = types.ObjectID("yso", yso)
		if ok, err := env.Cache.KeywordExists(ctx, kw); err != nil {
			return d, err
		} else if ok && !slices.Contains(d.Keywords, kw) {
			d.Keywords = append(d.Keywords, kw)
		}
	}
	return d, nil
}

// importKeywords keeps one keyword per serie category.
func (i *Importer) importKeywords(ctx context.Context, env *importer.Env, rows []row, opts importer.Options) error {
	var seed modelsync.Seeder[*types.Keyword]
	if opts.Single == "" {
		seed = func(ctx context.Context, after string, limit int) ([]*types.Keyword, error) {
			return env.Store.ListKeywords(ctx, store.KeywordFilter{DataSourceID: Name}, after, limit)
		}
	}
	syncher, err := modelsync.New(ctx, seed, modelsync.EntityID[*types.Keyword],
		replace.NewSimplePolicy[*types.Keyword](env.Store.SoftDeleteKeyword), env.SyncOptions(importer.KindKeywords)...)
	if err != nil {
		return err
	}

	engine := env.NewEngine(env.Policy())
	for _, r := range rows {
		if opts.Single != "" && r.EventID != opts.Single {
			continue
		}
		for _, c := range r.Categories {
			origin := keywordOriginID(c)
			if syncher.IsMarked(types.ObjectID(Name, origin)) {
				continue
			}
			kw, err := engine.SaveKeyword(ctx, importer.KeywordDraft{
				DataSourceID: Name,
				OriginID:     origin,
				PublisherID:  i.publisherID,
				Name:         types.Translated{types.LangFinnish: c},
			})
			if err != nil {
				return fmt.Errorf("keyword %q: %w", c, err)
			}
			if err := syncher.Mark(kw); err != nil {
				return err
			}
			env.Cache.AddKeyword(kw.ID)
		}
	}

	res, err := syncher.Finish(ctx, opts.Force)
	if err != nil {
		return err
	}
	env.Record(importer.KindKeywords, res)
	return nil
}

// fetchRows reads the feed, dropping unreadable and repeated events, and
// returns the rows in start time order.
func fetchRows(ctx context.Context, env *importer.Env) ([]row, error) {
	feedURL := env.Importer().EventsURL
	if feedURL == "" {
		return nil, fmt.Errorf("%s: events URL is not configured", Name)
	}
	recs, err := env.Fetcher.FetchCSV(ctx, feedURL, ';')
	if err != nil {
		return nil, err
	}

	loc := env.Config.Location()
	seen := make(map[string]bool)
	rows := make([]row, 0, len(recs))
	for _, rec := range recs {
		r, err := parseRow(rec, loc)
		if err != nil {
			slog.Warn("skipping unreadable event", "component", "importer", "importer", Name, "error", err)
			continue
		}
		if seen[r.EventID] {
			slog.Warn("duplicate event in feed", "component", "importer", "importer", Name, "event", r.EventID)
			continue
		}
		seen[r.EventID] = true
		rows = append(rows, r)
	}
	slices.SortStableFunc(rows, func(a, b row) int { return a.Start.Compare(b.Start) })
	slog.Info("events loaded", "component", "importer", "importer", Name, "events", len(rows))
	return rows, nil
}
