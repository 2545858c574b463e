package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hyperengineering/linkedevents/internal/types"
)

var placeSelect = "SELECT " + baseColumns("p") + `,
	p.name, p.description, p.street_address, p.address_locality, p.info_url,
	p.telephone, p.email, p.postal_code, p.image, p.position_x, p.position_y, p.position_srid
	FROM places p JOIN data_sources ds ON ds.id = p.data_source_id`

func scanPlace(scanner interface{ Scan(...any) error }) (*types.Place, error) {
	var b baseScan
	var tr [5]string
	var px, py sql.NullFloat64
	var srid sql.NullInt64
	p := &types.Place{}

	dest := append(b.dest(), &tr[0], &tr[1], &tr[2], &tr[3], &tr[4],
		&p.Telephone, &p.Email, &p.PostalCode, &p.Image, &px, &py, &srid)
	if err := scanner.Scan(dest...); err != nil {
		return nil, err
	}

	base, err := b.base()
	if err != nil {
		return nil, err
	}
	p.Base = base
	if err := decodeTranslatedColumns(tr[:], &p.Name, &p.Description, &p.StreetAddress, &p.AddressLocality, &p.InfoURL); err != nil {
		return nil, err
	}
	if px.Valid && py.Valid {
		p.Position = &types.Position{X: px.Float64, Y: py.Float64, SRID: int(srid.Int64)}
	}
	return p, nil
}

func (s *SQLiteStore) queryPlace(ctx context.Context, q querier, where string, args ...any) (*types.Place, error) {
	p, err := scanPlace(q.QueryRowContext(ctx, placeSelect+" WHERE "+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// GetPlace returns the place by id, deleted or not.
func (s *SQLiteStore) GetPlace(ctx context.Context, id string) (*types.Place, error) {
	p, err := s.queryPlace(ctx, s.db, "p.id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get place %s: %w", id, err)
	}
	return p, nil
}

// FindPlace looks a place up by its natural key.
func (s *SQLiteStore) FindPlace(ctx context.Context, dataSourceID, originID string) (*types.Place, error) {
	p, err := s.queryPlace(ctx, s.db, "p.data_source_id = ? AND p.origin_id = ?", dataSourceID, originID)
	if err != nil {
		return nil, fmt.Errorf("find place %s:%s: %w", dataSourceID, originID, err)
	}
	return p, nil
}

// SavePlace inserts or updates the place in its own transaction.
func (s *SQLiteStore) SavePlace(ctx context.Context, p *types.Place) error {
	if err := validateEntity(p); err != nil {
		return err
	}
	s.stampBase(&p.Base)

	tr, err := translatedColumns(p.Name, p.Description, p.StreetAddress, p.AddressLocality, p.InfoURL)
	if err != nil {
		return fmt.Errorf("encode place %s: %w", p.ID, err)
	}
	var px, py sql.NullFloat64
	var srid sql.NullInt64
	if p.Position != nil {
		px = sql.NullFloat64{Float64: p.Position.X, Valid: true}
		py = sql.NullFloat64{Float64: p.Position.Y, Valid: true}
		srid = sql.NullInt64{Int64: int64(p.Position.SRID), Valid: true}
	}

	args := []any{p.ID, p.DataSourceID, p.OriginID, nullString(p.PublisherID), NameKey(p.Name)}
	args = append(args, tr...)
	args = append(args, p.Telephone, p.Email, p.PostalCode, p.Image, px, py, srid,
		boolInt(p.Deleted), nullString(p.ReplacedBy), p.LastModifiedBy,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO places (id, data_source_id, origin_id, publisher_id, name_key,
				name, description, street_address, address_locality, info_url,
				telephone, email, postal_code, image, position_x, position_y, position_srid,
				deleted, replaced_by, last_modified_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				publisher_id = excluded.publisher_id, name_key = excluded.name_key,
				name = excluded.name, description = excluded.description,
				street_address = excluded.street_address, address_locality = excluded.address_locality,
				info_url = excluded.info_url, telephone = excluded.telephone, email = excluded.email,
				postal_code = excluded.postal_code, image = excluded.image,
				position_x = excluded.position_x, position_y = excluded.position_y,
				position_srid = excluded.position_srid, deleted = excluded.deleted,
				replaced_by = excluded.replaced_by, last_modified_by = excluded.last_modified_by,
				updated_at = excluded.updated_at
		`, args...)
		if err != nil {
			return fmt.Errorf("save place %s: %w", p.ID, err)
		}
		return nil
	})
}

// ListPlaces pages through places ordered by id.
func (s *SQLiteStore) ListPlaces(ctx context.Context, f PlaceFilter, afterID string, limit int) ([]*types.Place, error) {
	var where []string
	var args []any
	if f.DataSourceID != "" {
		where = append(where, "p.data_source_id = ?")
		args = append(args, f.DataSourceID)
	}
	if !f.IncludeDeleted {
		where = append(where, "p.deleted = 0")
	}
	if len(f.IDs) > 0 {
		where = append(where, "p.id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	clause, args, err := pageClause("p", afterID, limit, where, args)
	if err != nil {
		return nil, err
	}
	return s.listPlaces(ctx, placeSelect+clause, args...)
}

// FindPlacesByName returns places of a data source whose name matches
// case-insensitively.
func (s *SQLiteStore) FindPlacesByName(ctx context.Context, dataSourceID, name string, includeDeleted bool) ([]*types.Place, error) {
	key := NameKey(types.Translated{types.LangFinnish: name})
	if key == "" {
		return nil, nil
	}
	q := placeSelect + " WHERE p.data_source_id = ? AND p.name_key = ?"
	if !includeDeleted {
		q += " AND p.deleted = 0"
	}
	return s.listPlaces(ctx, q+" ORDER BY p.id", dataSourceID, key)
}

func (s *SQLiteStore) listPlaces(ctx context.Context, query string, args ...any) ([]*types.Place, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list places: %w", err)
	}
	defer rows.Close()

	var out []*types.Place
	for rows.Next() {
		p, err := scanPlace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan place: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountPlaceEvents counts events located at the place, deleted ones included.
func (s *SQLiteStore) CountPlaceEvents(ctx context.Context, placeID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE location_id = ?`, placeID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events of place %s: %w", placeID, err)
	}
	return n, nil
}

// SoftDeletePlace marks the place deleted. It reports false when the place
// was already deleted.
func (s *SQLiteStore) SoftDeletePlace(ctx context.Context, id string) (bool, error) {
	return s.softDelete(ctx, "places", id)
}

func (s *SQLiteStore) softDelete(ctx context.Context, table, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+table+` SET deleted = 1, updated_at = ? WHERE id = ? AND deleted = 0`,
		formatTime(s.now()), id)
	if err != nil {
		return false, fmt.Errorf("soft delete %s %s: %w", table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("soft delete %s %s: %w", table, id, ErrNotFound)
		}
		if err != nil {
			return false, err
		}
	}
	return n > 0, nil
}

// ReplacePlace marks replaceID deleted and replaced by byID, revives byID,
// and re-points the events of replaceID. It returns the number of events
// moved.
func (s *SQLiteStore) ReplacePlace(ctx context.Context, replaceID, byID string) (int, error) {
	if replaceID == byID {
		return 0, fmt.Errorf("replace place %s: %w", replaceID, ErrReplaceSelf)
	}

	var moved int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range []string{replaceID, byID} {
			if _, err := s.queryPlace(ctx, tx, "p.id = ?", id); err != nil {
				return fmt.Errorf("place %s: %w", id, err)
			}
		}
		now := formatTime(s.now())
		if _, err := tx.ExecContext(ctx,
			`UPDATE places SET deleted = 0, replaced_by = NULL, updated_at = ? WHERE id = ?`, now, byID); err != nil {
			return fmt.Errorf("revive place %s: %w", byID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE places SET deleted = 1, replaced_by = ?, updated_at = ? WHERE id = ?`, byID, now, replaceID); err != nil {
			return fmt.Errorf("mark place %s replaced: %w", replaceID, err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE events SET location_id = ?, updated_at = ? WHERE location_id = ?`, byID, now, replaceID)
		if err != nil {
			return fmt.Errorf("move events of place %s: %w", replaceID, err)
		}
		moved, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("replace place: %w", err)
	}
	return int(moved), nil
}
