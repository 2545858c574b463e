package store

import (
	"context"
	"time"

	"github.com/hyperengineering/linkedevents/internal/types"
)

// Store defines the interface contract for the entity store used by importers.
type Store interface {
	EnsureDataSource(ctx context.Context, ds types.DataSource) (*types.DataSource, error)
	GetDataSource(ctx context.Context, id string) (*types.DataSource, error)
	EnsureOrganization(ctx context.Context, org types.Organization) (*types.Organization, error)

	GetPlace(ctx context.Context, id string) (*types.Place, error)
	FindPlace(ctx context.Context, dataSourceID, originID string) (*types.Place, error)
	SavePlace(ctx context.Context, p *types.Place) error
	ListPlaces(ctx context.Context, f PlaceFilter, afterID string, limit int) ([]*types.Place, error)
	FindPlacesByName(ctx context.Context, dataSourceID, name string, includeDeleted bool) ([]*types.Place, error)
	CountPlaceEvents(ctx context.Context, placeID string) (int, error)
	SoftDeletePlace(ctx context.Context, id string) (bool, error)
	ReplacePlace(ctx context.Context, replaceID, byID string) (int, error)

	GetEvent(ctx context.Context, id string) (*types.Event, error)
	FindEvent(ctx context.Context, dataSourceID, originID string) (*types.Event, error)
	SaveEvent(ctx context.Context, e *types.Event) error
	ListEvents(ctx context.Context, f EventFilter, afterID string, limit int) ([]*types.Event, error)
	SoftDeleteEvent(ctx context.Context, id string, withSubEvents bool) (bool, error)

	GetKeyword(ctx context.Context, id string) (*types.Keyword, error)
	FindKeyword(ctx context.Context, dataSourceID, originID string) (*types.Keyword, error)
	SaveKeyword(ctx context.Context, k *types.Keyword) error
	ListKeywords(ctx context.Context, f KeywordFilter, afterID string, limit int) ([]*types.Keyword, error)
	SoftDeleteKeyword(ctx context.Context, id string) (bool, error)

	CreateImportRun(ctx context.Context, run *types.ImportRun) error
	FinishImportRun(ctx context.Context, run *types.ImportRun) error
	ListImportRuns(ctx context.Context, importer string, limit int) ([]types.ImportRun, error)

	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}

// PlaceFilter narrows ListPlaces.
type PlaceFilter struct {
	DataSourceID   string
	IncludeDeleted bool
	IDs            []string
}

// EventFilter narrows ListEvents.
type EventFilter struct {
	DataSourceID   string
	IncludeDeleted bool
	// EndAfter keeps events whose end time is at or after the instant.
	EndAfter *time.Time
	// SuperEventID keeps the sub-events of one super event.
	SuperEventID string
	// OnlyTopLevel keeps events that are not sub-events.
	OnlyTopLevel bool
	// SuperEventType filters by aggregate type; nil means any.
	SuperEventType *types.SuperEventType
}

// KeywordFilter narrows ListKeywords.
type KeywordFilter struct {
	DataSourceID   string
	IncludeDeleted bool
}

// Stats holds aggregate counts of live entities.
type Stats struct {
	Places   int64
	Events   int64
	Keywords int64
}
