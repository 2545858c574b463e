package upsert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/hyperengineering/linkedevents/internal/store"
	"github.com/hyperengineering/linkedevents/internal/types"
	"github.com/hyperengineering/linkedevents/internal/validation"
)

// SaveEvent upserts an event and its associations.
func (e *Engine) SaveEvent(ctx context.Context, d EventDraft) (*types.Event, error) {
	ev, _, err := e.SaveEventReport(ctx, d)
	return ev, err
}

// SaveEventReport is SaveEvent with per-field outcomes.
func (e *Engine) SaveEventReport(ctx context.Context, d EventDraft) (*types.Event, Report, error) {
	if d.StartTime.IsZero() {
		return nil, nil, fmt.Errorf("event %s:%s: %w: start time is required", d.DataSourceID, d.OriginID, store.ErrValidation)
	}

	existing, err := e.store.FindEvent(ctx, d.DataSourceID, d.OriginID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("load event: %w", err)
	}
	var found *types.Base
	if existing != nil {
		found = &existing.Base
	}
	base, created, err := e.resolveBase(ctx, d.DataSourceID, d.OriginID, found)
	if err != nil {
		return nil, nil, fmt.Errorf("event %s:%s: %w", d.DataSourceID, d.OriginID, err)
	}
	ev := existing
	if created {
		ev = &types.Event{Base: base, Status: types.EventScheduled}
	}

	f := e.setter(&ev.Base)
	ev.Created = created

	start, end, hasStart, hasEnd := e.normalizeTimes(d)

	f.translated(FieldName, &ev.Name, d.Name)
	f.translated(FieldDescription, &ev.Description, d.Description)
	f.translated(FieldShortDescription, &ev.ShortDescription, d.ShortDescription)
	f.translated(FieldInfoURL, &ev.InfoURL, d.InfoURL)
	f.translated(FieldProvider, &ev.Provider, d.Provider)
	f.translated(FieldLocationExtraInfo, &ev.LocationExtraInfo, d.LocationExtraInfo)
	f.time(FieldStartTime, &ev.StartTime, start)
	f.time(FieldEndTime, &ev.EndTime, end)
	f.flag(FieldHasStartTime, &ev.HasStartTime, hasStart)
	f.flag(FieldHasEndTime, &ev.HasEndTime, hasEnd)
	f.timePtr(FieldDatePublished, &ev.DatePublished, d.DatePublished)
	f.str(FieldLocation, &ev.LocationID, d.LocationID)
	f.str(FieldSuperEvent, &ev.SuperEventID, d.SuperEventID)
	superType := string(ev.SuperEventType)
	f.str(FieldSuperEventType, &superType, string(d.SuperEventType))
	ev.SuperEventType = types.SuperEventType(superType)
	f.str(FieldImage, &ev.Image, d.Image)
	f.stringMap(FieldCustomData, &ev.CustomData, d.CustomData)
	f.str(FieldPublisher, &ev.PublisherID, d.PublisherID)
	f.flag(FieldDeleted, &ev.Deleted, false)

	f.mergeSet(FieldKeywords, &ev.Keywords, d.Keywords)
	if err := e.replaceDeprecated(ctx, f, FieldKeywords, &ev.Keywords); err != nil {
		return nil, nil, err
	}
	f.mergeSet(FieldAudience, &ev.Audience, d.Audience)
	if err := e.replaceDeprecated(ctx, f, FieldAudience, &ev.Audience); err != nil {
		return nil, nil, err
	}
	f.mergeSet(FieldInLanguage, &ev.InLanguage, d.InLanguage)

	e.applyOffers(f, ev, d.Offers)
	e.applyLinks(f, ev, d.ExternalLinks)

	// A moved start time means the event was rescheduled, unless the feed
	// states the status explicitly.
	status := string(ev.Status)
	if !created && f.report[FieldStartTime] == FieldSet {
		f.flagStatus(&status, string(types.EventRescheduled))
	}
	if d.Status != "" {
		f.flagStatus(&status, string(d.Status))
	}
	ev.Status = types.EventStatus(status)

	if ev.Created || ev.Changed {
		if err := e.store.SaveEvent(ctx, ev); err != nil {
			return nil, nil, err
		}
		logSaved("event", &ev.Base)
	}
	return ev, f.report, nil
}

// flagStatus sets the status like a boolean: feeds announce cancellations
// and reschedules, and those win over user edits.
func (f *fieldSetter) flagStatus(cur *string, in string) {
	if *cur == in {
		if _, seen := f.report[FieldStatus]; !seen {
			f.record(FieldStatus, FieldUnchanged)
		}
		return
	}
	*cur = in
	f.record(FieldStatus, FieldSet)
}

// normalizeTimes applies the date-only conventions: an unknown start hour
// starts the event at local midnight, and an event without an exact end
// lasts until the start of the following local day.
func (e *Engine) normalizeTimes(d EventDraft) (start, end time.Time, hasStart, hasEnd bool) {
	loc := e.policy.Location
	start, end = d.StartTime, d.EndTime
	hasStart, hasEnd = !d.StartDateOnly, !d.EndDateOnly

	if !hasStart {
		start = midnight(start.In(loc))
	}
	if end.IsZero() {
		end = start
		hasEnd = false
	}
	if !hasEnd {
		end = midnight(end.In(loc)).AddDate(0, 0, 1)
	}
	return start, end, hasStart, hasEnd
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func (e *Engine) applyOffers(f *fieldSetter, ev *types.Event, in []types.Offer) {
	var differ bool
	var newCount int
	switch e.policy.OfferCompare {
	case OfferExact:
		differ = !slices.EqualFunc(ev.Offers, in, func(a, b types.Offer) bool {
			return a.SimpleValue() == b.SimpleValue()
		})
		newCount = len(in)
	default:
		oldSet, newSet := offerSet(ev.Offers), offerSet(in)
		differ = !slices.Equal(oldSet, newSet)
		newCount = len(newSet)
	}
	if !differ {
		f.record(FieldOffers, FieldUnchanged)
		return
	}
	// Offers a human added survive unless the feed brings at least as many.
	if f.userEdited && newCount < len(ev.Offers) {
		f.record(FieldOffers, FieldSkippedUserEdit)
		return
	}
	ev.Offers = slices.Clone(in)
	f.record(FieldOffers, FieldSet)
}

func offerSet(offers []types.Offer) []string {
	out := make([]string, len(offers))
	for i, o := range offers {
		out[i] = o.SimpleValue()
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// applyLinks replaces external links of events that are not user-edited.
// Links over the length limit are dropped before comparing, so a feed that
// keeps sending one does not flag the event as changed on every run.
func (e *Engine) applyLinks(f *fieldSetter, ev *types.Event, in []types.ExternalLink) {
	if len(in) == 0 {
		return
	}
	links := make([]types.ExternalLink, 0, len(in))
	for _, l := range in {
		if verr := validation.Text(FieldLinks, l.URL, e.policy.MaxLinkLength); verr != nil {
			slog.Error("dropping external link",
				"component", "upsert",
				"event", ev.ID,
				"length", len(l.URL),
				"limit", e.policy.MaxLinkLength,
			)
			continue
		}
		links = append(links, l)
	}
	// Stored links stay when every incoming link is over the limit.
	if len(links) == 0 {
		f.record(FieldLinks, FieldRejected)
		return
	}
	if slices.Equal(linkSet(ev.ExternalLinks), linkSet(links)) {
		f.record(FieldLinks, FieldUnchanged)
		return
	}
	if f.userEdited && !e.policy.ReplaceLinksWhenUserEdited {
		f.record(FieldLinks, FieldSkippedUserEdit)
		return
	}
	ev.ExternalLinks = links
	f.record(FieldLinks, FieldSet)
}

func linkSet(links []types.ExternalLink) []string {
	out := make([]string, len(links))
	for i, l := range links {
		out[i] = l.Language + "\x00" + l.Name + "\x00" + l.URL
	}
	slices.Sort(out)
	return slices.Compact(out)
}
