package upsert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/linkedevents/internal/geo"
	"github.com/hyperengineering/linkedevents/internal/store"
	"github.com/hyperengineering/linkedevents/internal/types"
)

// SavePlace upserts a place. A deleted place is reinstated when it comes
// back in a feed.
func (e *Engine) SavePlace(ctx context.Context, d PlaceDraft) (*types.Place, error) {
	p, _, err := e.SavePlaceReport(ctx, d)
	return p, err
}

// SavePlaceReport is SavePlace with per-field outcomes. The report marks
// FieldDeleted as FieldSet when the place was reinstated.
func (e *Engine) SavePlaceReport(ctx context.Context, d PlaceDraft) (*types.Place, Report, error) {
	existing, err := e.store.FindPlace(ctx, d.DataSourceID, d.OriginID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("load place: %w", err)
	}
	var found *types.Base
	if existing != nil {
		found = &existing.Base
	}
	base, created, err := e.resolveBase(ctx, d.DataSourceID, d.OriginID, found)
	if err != nil {
		return nil, nil, fmt.Errorf("place %s:%s: %w", d.DataSourceID, d.OriginID, err)
	}
	p := existing
	if created {
		p = &types.Place{Base: base}
	}

	f := e.setter(&p.Base)
	p.Created = created

	f.translated(FieldName, &p.Name, d.Name)
	f.translated(FieldDescription, &p.Description, d.Description)
	f.translated(FieldStreetAddress, &p.StreetAddress, d.StreetAddress)
	f.translated(FieldAddressLocality, &p.AddressLocality, d.AddressLocality)
	f.translated(FieldInfoURL, &p.InfoURL, d.InfoURL)
	f.str(FieldTelephone, &p.Telephone, d.Telephone)
	f.str(FieldEmail, &p.Email, d.Email)
	f.str(FieldPostalCode, &p.PostalCode, d.PostalCode)
	f.str(FieldImage, &p.Image, d.Image)
	f.str(FieldPublisher, &p.PublisherID, d.PublisherID)
	e.applyPosition(f, p, d.Latitude, d.Longitude)
	f.flag(FieldDeleted, &p.Deleted, false)

	if p.Created || p.Changed {
		if err := e.store.SavePlace(ctx, p); err != nil {
			return nil, nil, err
		}
		logSaved("place", &p.Base)
	}
	return p, f.report, nil
}

// applyPosition projects WGS84 coordinates and stores them unless they are
// within tolerance of the stored position. Missing coordinates clear the
// position; coordinates outside the bounds clear it and are reported as
// rejected.
func (e *Engine) applyPosition(f *fieldSetter, p *types.Place, lat, lon float64) {
	if lat == 0 || lon == 0 {
		if p.Position == nil || !f.policy.supplied(FieldPosition) {
			f.record(FieldPosition, FieldUnchanged)
			return
		}
		p.Position = nil
		f.record(FieldPosition, FieldSet)
		return
	}
	if !e.policy.Bounds.Contains(geo.Point{X: lon, Y: lat}) {
		slog.Warn("coordinates outside bounds",
			"component", "upsert",
			"place", p.ID,
			"lat", lat,
			"lon", lon,
		)
		rejectPosition(f, p)
		return
	}

	pos := &types.Position{X: lon, Y: lat, SRID: geo.SRIDWGS84}
	if e.policy.Projection.SRID != geo.SRIDWGS84 {
		pt, err := e.policy.Projection.Forward(lat, lon)
		if err != nil {
			slog.Warn("cannot project coordinates",
				"component", "upsert",
				"place", p.ID,
				"error", err,
			)
			rejectPosition(f, p)
			return
		}
		pos = &types.Position{X: pt.X, Y: pt.Y, SRID: e.policy.Projection.SRID}
	}

	if old := p.Position; old != nil && old.SRID == pos.SRID &&
		geo.Distance(geo.Point{X: old.X, Y: old.Y}, geo.Point{X: pos.X, Y: pos.Y}) < e.policy.PositionTolerance {
		f.record(FieldPosition, FieldUnchanged)
		return
	}
	p.Position = pos
	f.record(FieldPosition, FieldSet)
}

// rejectPosition drops a stored position the feed no longer backs with
// usable coordinates.
func rejectPosition(f *fieldSetter, p *types.Place) {
	f.record(FieldPosition, FieldRejected)
	if p.Position != nil {
		p.Position = nil
		f.tracking.MarkChanged(FieldPosition)
	}
}
