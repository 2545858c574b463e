package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hyperengineering/linkedevents/internal/types"
)

var keywordSelect = "SELECT " + baseColumns("k") + `, k.name, k.deprecated
	FROM keywords k JOIN data_sources ds ON ds.id = k.data_source_id`

func scanKeyword(scanner interface{ Scan(...any) error }) (*types.Keyword, error) {
	var b baseScan
	var name string
	var deprecated int
	if err := scanner.Scan(append(b.dest(), &name, &deprecated)...); err != nil {
		return nil, err
	}
	base, err := b.base()
	if err != nil {
		return nil, err
	}
	k := &types.Keyword{Base: base, Deprecated: deprecated != 0}
	if k.Name, err = decodeTranslated(name); err != nil {
		return nil, fmt.Errorf("decode keyword name: %w", err)
	}
	return k, nil
}

func (s *SQLiteStore) queryKeyword(ctx context.Context, where string, args ...any) (*types.Keyword, error) {
	k, err := scanKeyword(s.db.QueryRowContext(ctx, keywordSelect+" WHERE "+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return k, err
}

// GetKeyword returns the keyword by id.
func (s *SQLiteStore) GetKeyword(ctx context.Context, id string) (*types.Keyword, error) {
	k, err := s.queryKeyword(ctx, "k.id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get keyword %s: %w", id, err)
	}
	return k, nil
}

// FindKeyword looks a keyword up by its natural key.
func (s *SQLiteStore) FindKeyword(ctx context.Context, dataSourceID, originID string) (*types.Keyword, error) {
	k, err := s.queryKeyword(ctx, "k.data_source_id = ? AND k.origin_id = ?", dataSourceID, originID)
	if err != nil {
		return nil, fmt.Errorf("find keyword %s:%s: %w", dataSourceID, originID, err)
	}
	return k, nil
}

// SaveKeyword inserts or updates the keyword.
func (s *SQLiteStore) SaveKeyword(ctx context.Context, k *types.Keyword) error {
	if err := validateEntity(k); err != nil {
		return err
	}
	s.stampBase(&k.Base)

	tr, err := translatedColumns(k.Name)
	if err != nil {
		return fmt.Errorf("encode keyword %s: %w", k.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO keywords (id, data_source_id, origin_id, publisher_id, name, deprecated,
			deleted, replaced_by, last_modified_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			publisher_id = excluded.publisher_id, name = excluded.name,
			deprecated = excluded.deprecated, deleted = excluded.deleted,
			replaced_by = excluded.replaced_by, last_modified_by = excluded.last_modified_by,
			updated_at = excluded.updated_at
	`, k.ID, k.DataSourceID, k.OriginID, nullString(k.PublisherID), tr[0], boolInt(k.Deprecated),
		boolInt(k.Deleted), nullString(k.ReplacedBy), k.LastModifiedBy,
		formatTime(k.CreatedAt), formatTime(k.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save keyword %s: %w", k.ID, err)
	}
	return nil
}

// ListKeywords pages through keywords ordered by id.
func (s *SQLiteStore) ListKeywords(ctx context.Context, f KeywordFilter, afterID string, limit int) ([]*types.Keyword, error) {
	var where []string
	var args []any
	if f.DataSourceID != "" {
		where = append(where, "k.data_source_id = ?")
		args = append(args, f.DataSourceID)
	}
	if !f.IncludeDeleted {
		where = append(where, "k.deleted = 0")
	}
	clause, args, err := pageClause("k", afterID, limit, where, args)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, keywordSelect+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	defer rows.Close()

	var out []*types.Keyword
	for rows.Next() {
		k, err := scanKeyword(rows)
		if err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// SoftDeleteKeyword marks the keyword deleted.
func (s *SQLiteStore) SoftDeleteKeyword(ctx context.Context, id string) (bool, error) {
	return s.softDelete(ctx, "keywords", id)
}
