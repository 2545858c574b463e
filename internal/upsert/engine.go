// Package upsert reconciles mapped feed records with stored entities.
//
// Each Save call derives the entity id from the data source and origin id,
// loads or creates the entity, applies incoming fields under the edit
// precedence rules of its Policy, and writes only when something changed.
package upsert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/linkedevents/internal/store"
	"github.com/hyperengineering/linkedevents/internal/types"
)

// maxReplacementDepth bounds replaced_by chains of deprecated keywords.
const maxReplacementDepth = 10

// Store is the persistence the engine needs. Implemented by
// store.SQLiteStore.
type Store interface {
	GetDataSource(ctx context.Context, id string) (*types.DataSource, error)
	FindPlace(ctx context.Context, dataSourceID, originID string) (*types.Place, error)
	SavePlace(ctx context.Context, p *types.Place) error
	FindEvent(ctx context.Context, dataSourceID, originID string) (*types.Event, error)
	SaveEvent(ctx context.Context, e *types.Event) error
	GetKeyword(ctx context.Context, id string) (*types.Keyword, error)
	FindKeyword(ctx context.Context, dataSourceID, originID string) (*types.Keyword, error)
	SaveKeyword(ctx context.Context, k *types.Keyword) error
}

// Engine upserts drafts of one import run. It caches data sources and
// keyword replacements for the lifetime of the run and is not safe for
// concurrent use.
type Engine struct {
	store  Store
	policy Policy

	dataSources  map[string]*types.DataSource
	replacements map[string]string
}

// NewEngine creates an engine applying policy.
func NewEngine(s Store, policy Policy) *Engine {
	policy.withDefaults()
	return &Engine{
		store:        s,
		policy:       policy,
		dataSources:  make(map[string]*types.DataSource),
		replacements: make(map[string]string),
	}
}

// Policy returns the rules the engine applies.
func (e *Engine) Policy() Policy {
	return e.policy
}

func (e *Engine) dataSource(ctx context.Context, id string) (*types.DataSource, error) {
	if ds, ok := e.dataSources[id]; ok {
		return ds, nil
	}
	ds, err := e.store.GetDataSource(ctx, id)
	if err != nil {
		return nil, err
	}
	e.dataSources[id] = ds
	return ds, nil
}

// resolveBase checks the identity of a loaded entity, or prepares the base
// of a new one. found is nil when the store has no entity for the key.
func (e *Engine) resolveBase(ctx context.Context, dataSourceID, originID string, found *types.Base) (types.Base, bool, error) {
	if dataSourceID == "" || originID == "" {
		return types.Base{}, false, ErrMissingKey
	}
	id := types.ObjectID(dataSourceID, originID)
	if found != nil {
		if found.ID != id {
			return types.Base{}, false, fmt.Errorf("%w: stored %q, derived %q", ErrIdentityMismatch, found.ID, id)
		}
		return *found, false, nil
	}
	ds, err := e.dataSource(ctx, dataSourceID)
	if err != nil {
		return types.Base{}, false, fmt.Errorf("resolve data source: %w", err)
	}
	return types.Base{
		ID:                 id,
		DataSourceID:       dataSourceID,
		OriginID:           originID,
		UserEditableSource: ds.UserEditableResources,
	}, true, nil
}

func (e *Engine) setter(b *types.Base) *fieldSetter {
	b.ResetTracking()
	return &fieldSetter{
		policy:     &e.policy,
		userEdited: b.IsUserEdited(),
		tracking:   &b.Tracking,
		report:     make(Report),
	}
}

func logSaved(kind string, b *types.Base) {
	if b.Created {
		slog.Debug("entity created", "component", "upsert", "kind", kind, "id", b.ID)
		return
	}
	slog.Debug("entity changed", "component", "upsert", "kind", kind, "id", b.ID, "fields", b.ChangedFields)
}

// SaveKeyword upserts a keyword.
func (e *Engine) SaveKeyword(ctx context.Context, d KeywordDraft) (*types.Keyword, error) {
	k, _, err := e.SaveKeywordReport(ctx, d)
	return k, err
}

// SaveKeywordReport is SaveKeyword with per-field outcomes.
func (e *Engine) SaveKeywordReport(ctx context.Context, d KeywordDraft) (*types.Keyword, Report, error) {
	existing, err := e.store.FindKeyword(ctx, d.DataSourceID, d.OriginID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("load keyword: %w", err)
	}
	var found *types.Base
	if existing != nil {
		found = &existing.Base
	}
	base, created, err := e.resolveBase(ctx, d.DataSourceID, d.OriginID, found)
	if err != nil {
		return nil, nil, fmt.Errorf("keyword %s:%s: %w", d.DataSourceID, d.OriginID, err)
	}
	k := existing
	if created {
		k = &types.Keyword{Base: base}
	}

	f := e.setter(&k.Base)
	k.Created = created
	f.translated(FieldName, &k.Name, d.Name)
	f.str(FieldPublisher, &k.PublisherID, d.PublisherID)
	f.str(FieldReplacedBy, &k.ReplacedBy, d.ReplacedBy)
	f.flag(FieldDeprecated, &k.Deprecated, d.Deprecated)
	f.flag(FieldDeleted, &k.Deleted, false)

	if k.Created || k.Changed {
		if err := e.store.SaveKeyword(ctx, k); err != nil {
			return nil, nil, err
		}
		logSaved("keyword", &k.Base)
	}
	return k, f.report, nil
}

// replacement follows the replaced_by chain of a deprecated keyword. It
// returns "" when the keyword should be dropped and id itself when it is
// not deprecated or unknown.
func (e *Engine) replacement(ctx context.Context, id string) (string, error) {
	if r, ok := e.replacements[id]; ok {
		return r, nil
	}
	cur := id
	for range maxReplacementDepth {
		k, err := e.store.GetKeyword(ctx, cur)
		if errors.Is(err, store.ErrNotFound) {
			if cur == id {
				e.replacements[id] = id
				return id, nil
			}
			break
		}
		if err != nil {
			return "", fmt.Errorf("load keyword %s: %w", cur, err)
		}
		if !k.Deprecated {
			e.replacements[id] = cur
			return cur, nil
		}
		if k.ReplacedBy == "" {
			break
		}
		cur = k.ReplacedBy
	}
	e.replacements[id] = ""
	return "", nil
}

// replaceDeprecated swaps deprecated keywords for their replacements or
// drops them.
func (e *Engine) replaceDeprecated(ctx context.Context, f *fieldSetter, name string, ids *[]string) error {
	changed := false
	out := make([]string, 0, len(*ids))
	for _, id := range *ids {
		r, err := e.replacement(ctx, id)
		if err != nil {
			return err
		}
		if r != id {
			changed = true
			if r == "" {
				slog.Warn("removing deprecated keyword without replacement",
					"component", "upsert", "keyword", id, "attribute", name)
				continue
			}
			slog.Warn("replacing deprecated keyword",
				"component", "upsert", "keyword", id, "replacement", r, "attribute", name)
		}
		out = append(out, r)
	}
	if changed {
		*ids = normalizeSet(out)
		f.record(name, FieldSet)
	}
	return nil
}
