package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperengineering/linkedevents/internal/store"
	"github.com/hyperengineering/linkedevents/internal/types"
)

// maxReplacedHops bounds replaced_by chains followed by place lookups.
const maxReplacedHops = 10

// CacheStore is the read access the run cache needs.
type CacheStore interface {
	GetPlace(ctx context.Context, id string) (*types.Place, error)
	FindPlace(ctx context.Context, dataSourceID, originID string) (*types.Place, error)
	FindPlacesByName(ctx context.Context, dataSourceID, name string, includeDeleted bool) ([]*types.Place, error)
	GetKeyword(ctx context.Context, id string) (*types.Keyword, error)
}

// RunCache memoizes the place and keyword lookups of one run, including
// misses. It is created empty for every run and not safe for concurrent
// use.
type RunCache struct {
	store    CacheStore
	places   map[string]string
	names    map[string]string
	keywords map[string]bool
}

// NewRunCache creates an empty cache over s.
func NewRunCache(s CacheStore) *RunCache {
	c := &RunCache{store: s}
	c.Clear()
	return c
}

// Clear drops every cached lookup.
func (c *RunCache) Clear() {
	c.places = make(map[string]string)
	c.names = make(map[string]string)
	c.keywords = make(map[string]bool)
}

// Place returns the id of the live place events of the given origin should
// point at. A deleted place is followed along its replaced_by chain; ""
// means there is no usable place.
func (c *RunCache) Place(ctx context.Context, dataSourceID, originID string) (string, error) {
	key := types.ObjectID(dataSourceID, originID)
	if id, ok := c.places[key]; ok {
		return id, nil
	}

	p, err := c.store.FindPlace(ctx, dataSourceID, originID)
	if errors.Is(err, store.ErrNotFound) {
		c.places[key] = ""
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("look up place %s: %w", key, err)
	}

	id, err := c.live(ctx, p)
	if err != nil {
		return "", err
	}
	c.places[key] = id
	return id, nil
}

func (c *RunCache) live(ctx context.Context, p *types.Place) (string, error) {
	for range maxReplacedHops {
		if !p.Deleted {
			return p.ID, nil
		}
		if p.ReplacedBy == "" {
			return "", nil
		}
		next, err := c.store.GetPlace(ctx, p.ReplacedBy)
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("follow replacement of %s: %w", p.ID, err)
		}
		p = next
	}
	return "", nil
}

// PlaceByName returns the id of the only live place of the source with the
// given name, compared case-insensitively. Ambiguous and unknown names
// yield "".
func (c *RunCache) PlaceByName(ctx context.Context, dataSourceID, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil
	}
	key := dataSourceID + "|" + strings.ToLower(name)
	if id, ok := c.names[key]; ok {
		return id, nil
	}

	places, err := c.store.FindPlacesByName(ctx, dataSourceID, name, false)
	if err != nil {
		return "", fmt.Errorf("look up place %q: %w", name, err)
	}
	id := ""
	if len(places) == 1 {
		id = places[0].ID
	}
	c.names[key] = id
	return id, nil
}

// KeywordExists reports whether the keyword is stored.
func (c *RunCache) KeywordExists(ctx context.Context, id string) (bool, error) {
	if ok, cached := c.keywords[id]; cached {
		return ok, nil
	}
	_, err := c.store.GetKeyword(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		c.keywords[id] = false
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("look up keyword %s: %w", id, err)
	}
	c.keywords[id] = true
	return true, nil
}

// AddKeyword records a keyword saved during the run.
func (c *RunCache) AddKeyword(id string) {
	c.keywords[id] = true
}
