package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/hyperengineering/linkedevents/internal/types"
	"github.com/hyperengineering/linkedevents/internal/validation"
	_ "modernc.org/sqlite"
)

// ErrValidation is returned when an entity fails validation before save.
var ErrValidation = errors.New("entity validation failed")

// timeLayout is fixed-width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore is the SQLite-backed entity store.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at dbPath, applies pragmas and runs
// migrations. ":memory:" is supported for tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	inMemory := dbPath == ":memory:"

	if !inMemory {
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every pooled connection to ":memory:" would be a separate database.
	if inMemory {
		db.SetMaxOpenConns(1)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// enablePragmas sets SQLite pragmas for performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for diagnostics and tests.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func validateEntity(v any) error {
	if err := validation.Entity(v); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

// EnsureDataSource inserts the data source or refreshes its attributes.
func (s *SQLiteStore) EnsureDataSource(ctx context.Context, ds types.DataSource) (*types.DataSource, error) {
	if ds.ID == "" {
		return nil, fmt.Errorf("%w: data source id is required", ErrValidation)
	}
	if ds.Name == "" {
		ds.Name = ds.ID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO data_sources (id, name, user_editable_resources) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, user_editable_resources = excluded.user_editable_resources
	`, ds.ID, ds.Name, boolInt(ds.UserEditableResources))
	if err != nil {
		return nil, fmt.Errorf("ensure data source %s: %w", ds.ID, err)
	}
	return &ds, nil
}

// GetDataSource returns the data source or ErrNotFound.
func (s *SQLiteStore) GetDataSource(ctx context.Context, id string) (*types.DataSource, error) {
	var ds types.DataSource
	var editable int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, user_editable_resources FROM data_sources WHERE id = ?`, id,
	).Scan(&ds.ID, &ds.Name, &editable)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("data source %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get data source %s: %w", id, err)
	}
	ds.UserEditableResources = editable != 0
	return &ds, nil
}

// EnsureOrganization inserts the organization or refreshes its name.
// An empty ID is derived from the data source and origin id.
func (s *SQLiteStore) EnsureOrganization(ctx context.Context, org types.Organization) (*types.Organization, error) {
	if org.DataSourceID == "" || org.OriginID == "" {
		return nil, fmt.Errorf("%w: organization needs data source and origin id", ErrValidation)
	}
	if org.ID == "" {
		org.ID = types.ObjectID(org.DataSourceID, org.OriginID)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, data_source_id, origin_id, name) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, org.ID, org.DataSourceID, org.OriginID, org.Name)
	if err != nil {
		return nil, fmt.Errorf("ensure organization %s: %w", org.ID, err)
	}
	return &org, nil
}

// GetStats returns counts of live entities.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM places WHERE deleted = 0),
			(SELECT COUNT(*) FROM events WHERE deleted = 0),
			(SELECT COUNT(*) FROM keywords WHERE deleted = 0)
	`).Scan(&st.Places, &st.Events, &st.Keywords)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return &st, nil
}

// NameKey is the case-folded lookup key used for name matching.
// The Finnish name is preferred, then Swedish, then English.
func NameKey(name types.Translated) string {
	for _, lang := range []string{types.LangFinnish, types.LangSwedish, types.LangEnglish} {
		if v := strings.TrimSpace(name.Get(lang)); v != "" {
			return strings.ToLower(v)
		}
	}
	return ""
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeTranslated(s string) (types.Translated, error) {
	if s == "" || s == "{}" || s == "null" {
		return nil, nil
	}
	var t types.Translated
	if err := json.Unmarshal([]byte(s), &t); err != nil {
		return nil, err
	}
	return t, nil
}

// translatedColumns encodes translated values in column order.
func translatedColumns(values ...types.Translated) ([]any, error) {
	out := make([]any, len(values))
	for i, v := range values {
		if len(v) == 0 {
			out[i] = "{}"
			continue
		}
		enc, err := encodeJSON(v)
		if err != nil {
			return nil, err
		}
		out[i] = enc
	}
	return out, nil
}

// decodeTranslatedColumns is the inverse of translatedColumns.
func decodeTranslatedColumns(raw []string, dst ...*types.Translated) error {
	for i, r := range raw {
		t, err := decodeTranslated(r)
		if err != nil {
			return fmt.Errorf("decode translated column %d: %w", i, err)
		}
		*dst[i] = t
	}
	return nil
}

// baseScan holds the Base columns shared by every entity table.
type baseScan struct {
	id, dataSourceID, originID string
	publisherID, replacedBy    sql.NullString
	deleted, editable          int
	lastModifiedBy             string
	createdAt, updatedAt       string
}

func (b *baseScan) dest() []any {
	return []any{&b.id, &b.dataSourceID, &b.originID, &b.publisherID, &b.deleted,
		&b.replacedBy, &b.lastModifiedBy, &b.createdAt, &b.updatedAt, &b.editable}
}

func (b *baseScan) base() (types.Base, error) {
	created, err := parseTime(b.createdAt)
	if err != nil {
		return types.Base{}, fmt.Errorf("parse created_at: %w", err)
	}
	updated, err := parseTime(b.updatedAt)
	if err != nil {
		return types.Base{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return types.Base{
		ID:                 b.id,
		DataSourceID:       b.dataSourceID,
		OriginID:           b.originID,
		PublisherID:        b.publisherID.String,
		Deleted:            b.deleted != 0,
		ReplacedBy:         b.replacedBy.String,
		LastModifiedBy:     b.lastModifiedBy,
		CreatedAt:          created,
		UpdatedAt:          updated,
		UserEditableSource: b.editable != 0,
	}, nil
}

// baseColumns selects the Base columns of table alias t joined to ds.
func baseColumns(t string) string {
	return fmt.Sprintf("%[1]s.id, %[1]s.data_source_id, %[1]s.origin_id, %[1]s.publisher_id, %[1]s.deleted, "+
		"%[1]s.replaced_by, %[1]s.last_modified_by, %[1]s.created_at, %[1]s.updated_at, ds.user_editable_resources", t)
}

// stampBase fills timestamps before a write.
func (s *SQLiteStore) stampBase(b *types.Base) {
	now := s.now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

// pageClause builds the shared keyset pagination tail.
func pageClause(alias, afterID string, limit int, where []string, args []any) (string, []any, error) {
	if limit <= 0 {
		return "", nil, fmt.Errorf("%w: limit must be positive", ErrInvalidFilter)
	}
	if afterID != "" {
		where = append(where, alias+".id > ?")
		args = append(args, afterID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	clause += fmt.Sprintf(" ORDER BY %s.id LIMIT ?", alias)
	args = append(args, limit)
	return clause, args, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
