// Package helmet imports library events from the HelMet content API. The
// API serves one document list per language; the lists are merged into one
// draft per event before anything is saved.
package helmet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/hyperengineering/linkedevents/internal/importer"
	"github.com/hyperengineering/linkedevents/internal/replace"
	"github.com/hyperengineering/linkedevents/internal/store"
	modelsync "github.com/hyperengineering/linkedevents/internal/sync"
	"github.com/hyperengineering/linkedevents/internal/types"
	"github.com/hyperengineering/linkedevents/internal/upsert"
)

// Name is the importer and data source name.
const Name = "helmet"

// placeSource holds the libraries events take place in.
const placeSource = "tprek"

func init() {
	importer.Register(Name, func() importer.Importer { return &Importer{} })
}

// Importer imports HelMet events.
type Importer struct{}

func (i *Importer) Name() string { return Name }

func (i *Importer) Setup(ctx context.Context, env *importer.Env) error {
	_, err := env.EnsureSource(ctx, types.DataSource{ID: Name, Name: "HelMet-kirjastot"}, nil)
	return err
}

// ImportEvents imports every event of the feed, or with Single the event
// with that content id.
func (i *Importer) ImportEvents(ctx context.Context, env *importer.Env, opts importer.Options) error {
	drafts, err := fetchDrafts(ctx, env)
	if err != nil {
		return err
	}

	var seed modelsync.Seeder[*types.Event]
	if opts.Single == "" {
		seed = func(ctx context.Context, after string, limit int) ([]*types.Event, error) {
			return env.Store.ListEvents(ctx, store.EventFilter{DataSourceID: Name}, after, limit)
		}
	}
	syncher, err := modelsync.New(ctx, seed, modelsync.EntityID[*types.Event],
		replace.NewEventPolicy(env.Store, replace.WithClock(env.Now)), env.SyncOptions(importer.KindEvents)...)
	if err != nil {
		return err
	}

	policy := env.Policy()
	policy.Unsupplied = []string{
		upsert.FieldShortDescription, upsert.FieldProvider, upsert.FieldLocationExtraInfo,
		upsert.FieldSuperEvent, upsert.FieldSuperEventType,
	}
	engine := env.NewEngine(policy)
	missingKeywords := make(map[string]bool)
	for _, d := range drafts {
		if opts.Single != "" && d.OriginID != opts.Single {
			continue
		}
		if err := saveEvent(ctx, env, engine, syncher, d, missingKeywords); err != nil {
			return err
		}
	}

	res, err := syncher.Finish(ctx, opts.Force)
	if err != nil {
		return err
	}
	env.Record(importer.KindEvents, res)
	return nil
}

func saveEvent(ctx context.Context, env *importer.Env, engine *upsert.Engine, syncher *modelsync.Syncher[*types.Event], d *eventDraft, missingKeywords map[string]bool) error {
	var err error
	if d.LocationID, err = location(ctx, env, d); err != nil {
		return err
	}
	d.Keywords = nil
	for _, id := range d.keywordIDs() {
		ok, err := env.Cache.KeywordExists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			if !missingKeywords[id] {
				slog.Warn("keyword not imported", "component", "importer", "importer", Name, "keyword", id)
				missingKeywords[id] = true
			}
			continue
		}
		d.Keywords = append(d.Keywords, id)
	}

	ev, err := engine.SaveEvent(ctx, d.EventDraft)
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

// location resolves the library of d to a live tprek place.
func location(ctx context.Context, env *importer.Env, d *eventDraft) (string, error) {
	for _, node := range d.libraryIDs {
		origin, ok := libraries[node]
		if !ok {
			slog.Warn("no place mapping for library node",
				"component", "importer",
				"importer", Name,
				"event", d.OriginID,
				"node", node,
			)
			continue
		}
		id, err := env.Cache.Place(ctx, placeSource, origin)
		if err != nil {
			return "", err
		}
		if id != "" {
			return id, nil
		}
		slog.Warn("library place not imported",
			"component", "importer",
			"importer", Name,
			"event", d.OriginID,
			"place", types.ObjectID(placeSource, origin),
		)
	}
	return "", nil
}

// fetchDrafts reads the language feeds in language preference order and
// returns one draft per content id, in order of first appearance.
func fetchDrafts(ctx context.Context, env *importer.Env) ([]*eventDraft, error) {
	template := env.Importer().EventsURL
	if template == "" {
		return nil, fmt.Errorf("%s: events URL is not configured", Name)
	}
	u, err := url.Parse(template)
	if err != nil {
		return nil, fmt.Errorf("%s: events URL: %w", Name, err)
	}
	baseURL := u.Scheme + "://" + u.Host
	loc := env.Config.Location()

	byID := make(map[int64]*eventDraft)
	broken := make(map[int64]bool)
	var drafts []*eventDraft
	for _, lang := range env.Config.Import.Languages {
		langID, ok := languageIDs[lang]
		if !ok {
			continue
		}
		var page contents
		feedURL := strings.ReplaceAll(template, "{lang}", strconv.Itoa(langID))
		if err := env.Fetcher.FetchJSON(ctx, feedURL, &page); err != nil {
			return nil, fmt.Errorf("%s feed: %w", lang, err)
		}
		slog.Info("events loaded", "component", "importer", "importer", Name, "language", lang, "events", len(page.Value))

		for _, doc := range page.Value {
			if doc.ContentID == 0 || broken[doc.ContentID] {
				continue
			}
			d, ok := byID[doc.ContentID]
			if !ok {
				d = &eventDraft{EventDraft: importer.EventDraft{
					DataSourceID: Name,
					OriginID:     strconv.FormatInt(doc.ContentID, 10),
				}}
				byID[doc.ContentID] = d
				drafts = append(drafts, d)
			}
			if err := d.merge(lang, baseURL, doc, loc); err != nil {
				slog.Warn("skipping event with unreadable times",
					"component", "importer",
					"importer", Name,
					"event", doc.ContentID,
					"error", err,
				)
				broken[doc.ContentID] = true
			}
		}
	}

	out := drafts[:0]
	for _, d := range drafts {
		id, _ := strconv.ParseInt(d.OriginID, 10, 64)
		if !broken[id] {
			out = append(out, d)
		}
	}
	return out, nil
}
