package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/hyperengineering/linkedevents/internal/types"
)

const (
	relationKeywords = "keywords"
	relationAudience = "audience"
)

var eventSelect = "SELECT " + baseColumns("e") + `,
	e.name, e.description, e.short_description, e.info_url, e.provider, e.location_extra_info,
	e.start_time, e.end_time, e.has_start_time, e.has_end_time, e.date_published,
	e.event_status, e.location_id, e.super_event_id, e.super_event_type, e.image, e.custom_data
	FROM events e JOIN data_sources ds ON ds.id = e.data_source_id`

func scanEvent(scanner interface{ Scan(...any) error }) (*types.Event, error) {
	var b baseScan
	var tr [6]string
	var start, end, published, location, superEvent sql.NullString
	var hasStart, hasEnd int
	var status, superType, customData string
	e := &types.Event{}

	dest := append(b.dest(), &tr[0], &tr[1], &tr[2], &tr[3], &tr[4], &tr[5],
		&start, &end, &hasStart, &hasEnd, &published,
		&status, &location, &superEvent, &superType, &e.Image, &customData)
	if err := scanner.Scan(dest...); err != nil {
		return nil, err
	}

	base, err := b.base()
	if err != nil {
		return nil, err
	}
	e.Base = base
	if err := decodeTranslatedColumns(tr[:], &e.Name, &e.Description, &e.ShortDescription,
		&e.InfoURL, &e.Provider, &e.LocationExtraInfo); err != nil {
		return nil, err
	}
	if e.StartTime, err = parseTime(start.String); err != nil {
		return nil, fmt.Errorf("parse start_time: %w", err)
	}
	if e.EndTime, err = parseTime(end.String); err != nil {
		return nil, fmt.Errorf("parse end_time: %w", err)
	}
	if published.Valid {
		t, err := parseTime(published.String)
		if err != nil {
			return nil, fmt.Errorf("parse date_published: %w", err)
		}
		e.DatePublished = &t
	}
	e.HasStartTime = hasStart != 0
	e.HasEndTime = hasEnd != 0
	e.Status = types.EventStatus(status)
	e.LocationID = location.String
	e.SuperEventID = superEvent.String
	e.SuperEventType = types.SuperEventType(superType)
	if customData != "" && customData != "{}" {
		if err := json.Unmarshal([]byte(customData), &e.CustomData); err != nil {
			return nil, fmt.Errorf("decode custom_data: %w", err)
		}
	}
	return e, nil
}

// GetEvent returns the event with its relations.
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*types.Event, error) {
	e, err := s.queryEvent(ctx, "e.id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return e, nil
}

// FindEvent looks an event up by its natural key.
func (s *SQLiteStore) FindEvent(ctx context.Context, dataSourceID, originID string) (*types.Event, error) {
	e, err := s.queryEvent(ctx, "e.data_source_id = ? AND e.origin_id = ?", dataSourceID, originID)
	if err != nil {
		return nil, fmt.Errorf("find event %s:%s: %w", dataSourceID, originID, err)
	}
	return e, nil
}

func (s *SQLiteStore) queryEvent(ctx context.Context, where string, args ...any) (*types.Event, error) {
	e, err := scanEvent(s.db.QueryRowContext(ctx, eventSelect+" WHERE "+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadEventRelations(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// loadEventRelations must not run while another result set is open.
func (s *SQLiteStore) loadEventRelations(ctx context.Context, e *types.Event) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT keyword_id, relation FROM event_keywords WHERE event_id = ? ORDER BY keyword_id`, e.ID)
	if err != nil {
		return fmt.Errorf("load keywords of %s: %w", e.ID, err)
	}
	for rows.Next() {
		var kw, rel string
		if err := rows.Scan(&kw, &rel); err != nil {
			rows.Close()
			return err
		}
		if rel == relationAudience {
			e.Audience = append(e.Audience, kw)
		} else {
			e.Keywords = append(e.Keywords, kw)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT language_id FROM event_languages WHERE event_id = ? ORDER BY language_id`, e.ID)
	if err != nil {
		return fmt.Errorf("load languages of %s: %w", e.ID, err)
	}
	for rows.Next() {
		var lang string
		if err := rows.Scan(&lang); err != nil {
			rows.Close()
			return err
		}
		e.InLanguage = append(e.InLanguage, lang)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT is_free, price, info_url, description FROM offers WHERE event_id = ? ORDER BY id`, e.ID)
	if err != nil {
		return fmt.Errorf("load offers of %s: %w", e.ID, err)
	}
	for rows.Next() {
		var free int
		var tr [3]string
		if err := rows.Scan(&free, &tr[0], &tr[1], &tr[2]); err != nil {
			rows.Close()
			return err
		}
		o := types.Offer{IsFree: free != 0}
		if err := decodeTranslatedColumns(tr[:], &o.Price, &o.InfoURL, &o.Description); err != nil {
			rows.Close()
			return err
		}
		e.Offers = append(e.Offers, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT language, name, link FROM event_links WHERE event_id = ? ORDER BY id`, e.ID)
	if err != nil {
		return fmt.Errorf("load links of %s: %w", e.ID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var l types.ExternalLink
		if err := rows.Scan(&l.Language, &l.Name, &l.URL); err != nil {
			return err
		}
		e.ExternalLinks = append(e.ExternalLinks, l)
	}
	return rows.Err()
}

// SaveEvent inserts or updates the event and replaces its relations in one
// transaction.
func (s *SQLiteStore) SaveEvent(ctx context.Context, e *types.Event) error {
	if err := validateEntity(e); err != nil {
		return err
	}
	s.stampBase(&e.Base)

	tr, err := translatedColumns(e.Name, e.Description, e.ShortDescription, e.InfoURL, e.Provider, e.LocationExtraInfo)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	customData := "{}"
	if len(e.CustomData) > 0 {
		if customData, err = encodeJSON(e.CustomData); err != nil {
			return fmt.Errorf("encode custom data of %s: %w", e.ID, err)
		}
	}
	var published sql.NullString
	if e.DatePublished != nil {
		published = nullTime(*e.DatePublished)
	}

	args := []any{e.ID, e.DataSourceID, e.OriginID, nullString(e.PublisherID)}
	args = append(args, tr...)
	args = append(args, nullTime(e.StartTime), nullTime(e.EndTime), boolInt(e.HasStartTime), boolInt(e.HasEndTime),
		published, string(e.Status), nullString(e.LocationID), nullString(e.SuperEventID),
		string(e.SuperEventType), e.Image, customData,
		boolInt(e.Deleted), nullString(e.ReplacedBy), e.LastModifiedBy,
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt))

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO events (id, data_source_id, origin_id, publisher_id,
				name, description, short_description, info_url, provider, location_extra_info,
				start_time, end_time, has_start_time, has_end_time, date_published,
				event_status, location_id, super_event_id, super_event_type, image, custom_data,
				deleted, replaced_by, last_modified_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				publisher_id = excluded.publisher_id, name = excluded.name,
				description = excluded.description, short_description = excluded.short_description,
				info_url = excluded.info_url, provider = excluded.provider,
				location_extra_info = excluded.location_extra_info,
				start_time = excluded.start_time, end_time = excluded.end_time,
				has_start_time = excluded.has_start_time, has_end_time = excluded.has_end_time,
				date_published = excluded.date_published, event_status = excluded.event_status,
				location_id = excluded.location_id, super_event_id = excluded.super_event_id,
				super_event_type = excluded.super_event_type, image = excluded.image,
				custom_data = excluded.custom_data, deleted = excluded.deleted,
				replaced_by = excluded.replaced_by, last_modified_by = excluded.last_modified_by,
				updated_at = excluded.updated_at
		`, args...)
		if err != nil {
			return fmt.Errorf("save event %s: %w", e.ID, err)
		}
		if err := replaceEventRelations(ctx, tx, e); err != nil {
			return fmt.Errorf("save relations of event %s: %w", e.ID, err)
		}
		return nil
	})
}

func replaceEventRelations(ctx context.Context, q querier, e *types.Event) error {
	for _, table := range []string{"event_keywords", "event_languages", "offers", "event_links"} {
		if _, err := q.ExecContext(ctx, `DELETE FROM `+table+` WHERE event_id = ?`, e.ID); err != nil {
			return err
		}
	}
	for rel, ids := range map[string][]string{relationKeywords: e.Keywords, relationAudience: e.Audience} {
		for _, id := range ids {
			if _, err := q.ExecContext(ctx,
				`INSERT OR IGNORE INTO event_keywords (event_id, keyword_id, relation) VALUES (?, ?, ?)`,
				e.ID, id, rel); err != nil {
				return err
			}
		}
	}
	for _, lang := range e.InLanguage {
		if _, err := q.ExecContext(ctx,
			`INSERT OR IGNORE INTO event_languages (event_id, language_id) VALUES (?, ?)`, e.ID, lang); err != nil {
			return err
		}
	}
	for _, o := range e.Offers {
		tr, err := translatedColumns(o.Price, o.InfoURL, o.Description)
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO offers (event_id, is_free, price, info_url, description) VALUES (?, ?, ?, ?, ?)`,
			e.ID, boolInt(o.IsFree), tr[0], tr[1], tr[2]); err != nil {
			return err
		}
	}
	for _, l := range e.ExternalLinks {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO event_links (event_id, language, name, link) VALUES (?, ?, ?, ?)`,
			e.ID, l.Language, l.Name, l.URL); err != nil {
			return err
		}
	}
	return nil
}

// ListEvents pages through events ordered by id, relations included.
func (s *SQLiteStore) ListEvents(ctx context.Context, f EventFilter, afterID string, limit int) ([]*types.Event, error) {
	var where []string
	var args []any
	if f.DataSourceID != "" {
		where = append(where, "e.data_source_id = ?")
		args = append(args, f.DataSourceID)
	}
	if !f.IncludeDeleted {
		where = append(where, "e.deleted = 0")
	}
	if f.EndAfter != nil {
		where = append(where, "e.end_time >= ?")
		args = append(args, formatTime(*f.EndAfter))
	}
	if f.SuperEventID != "" {
		where = append(where, "e.super_event_id = ?")
		args = append(args, f.SuperEventID)
	}
	if f.OnlyTopLevel {
		where = append(where, "e.super_event_id IS NULL")
	}
	if f.SuperEventType != nil {
		where = append(where, "e.super_event_type = ?")
		args = append(args, string(*f.SuperEventType))
	}
	clause, args, err := pageClause("e", afterID, limit, where, args)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, eventSelect+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	var out []*types.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, e := range out {
		if err := s.loadEventRelations(ctx, e); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SoftDeleteEvent marks the event deleted, optionally with its sub-events.
// It reports whether the event itself changed.
func (s *SQLiteStore) SoftDeleteEvent(ctx context.Context, id string, withSubEvents bool) (bool, error) {
	changed, err := s.softDelete(ctx, "events", id)
	if err != nil || !withSubEvents {
		return changed, err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE events SET deleted = 1, updated_at = ? WHERE super_event_id = ? AND deleted = 0`,
		formatTime(s.now()), id); err != nil {
		return changed, fmt.Errorf("soft delete sub-events of %s: %w", id, err)
	}
	return changed, nil
}
