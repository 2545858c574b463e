package upsert

import (
	"time"

	"github.com/hyperengineering/linkedevents/internal/types"
)

// PlaceDraft is one place as mapped from a feed, before reconciliation.
type PlaceDraft struct {
	DataSourceID string
	OriginID     string
	PublisherID  string

	Name            types.Translated
	Description     types.Translated
	StreetAddress   types.Translated
	AddressLocality types.Translated
	InfoURL         types.Translated
	Telephone       string
	Email           string
	PostalCode      string
	Image           string

	// Latitude and Longitude are WGS84 degrees; zero means unknown.
	Latitude  float64
	Longitude float64
}

// EventDraft is one event as mapped from a feed. Importers that assemble an
// event from several passes fill it incrementally.
type EventDraft struct {
	DataSourceID string
	OriginID     string
	PublisherID  string

	Name              types.Translated
	Description       types.Translated
	ShortDescription  types.Translated
	InfoURL           types.Translated
	Provider          types.Translated
	LocationExtraInfo types.Translated

	StartTime time.Time
	EndTime   time.Time
	// StartDateOnly means the feed knows the day but not the hour.
	StartDateOnly bool
	// EndDateOnly means the event lasts until the end of the EndTime day.
	EndDateOnly bool

	DatePublished  *time.Time
	Status         types.EventStatus
	LocationID     string
	SuperEventID   string
	SuperEventType types.SuperEventType
	Image          string

	Keywords   []string
	Audience   []string
	InLanguage []string
	Offers     []types.Offer
	// ExternalLinks left nil keeps the stored links.
	ExternalLinks []types.ExternalLink
	CustomData    map[string]string
}

// KeywordDraft is one keyword as mapped from a feed or ontology.
type KeywordDraft struct {
	DataSourceID string
	OriginID     string
	PublisherID  string
	Name         types.Translated
	Deprecated   bool
	ReplacedBy   string
}
