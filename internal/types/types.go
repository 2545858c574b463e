package types

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// Languages supported by translated fields, in preference order.
const (
	LangFinnish = "fi"
	LangSwedish = "sv"
	LangEnglish = "en"
)

// Translated holds one value per language code.
type Translated map[string]string

// Get returns the value for lang, or "" when missing.
func (t Translated) Get(lang string) string {
	if t == nil {
		return ""
	}
	return t[lang]
}

// Set stores value for lang, allocating the map on first use.
// Empty values are not stored.
func (t *Translated) Set(lang, value string) {
	if value == "" {
		return
	}
	if *t == nil {
		*t = make(Translated)
	}
	(*t)[lang] = value
}

// Equal reports whether both translations hold the same non-empty values.
func (t Translated) Equal(other Translated) bool {
	return maps.Equal(t.compact(), other.compact())
}

// IsEmpty reports whether no language has a non-empty value.
func (t Translated) IsEmpty() bool {
	return len(t.compact()) == 0
}

// Clone returns a copy that does not share storage with t.
func (t Translated) Clone() Translated {
	if t == nil {
		return nil
	}
	return maps.Clone(t)
}

func (t Translated) compact() map[string]string {
	out := make(map[string]string, len(t))
	for k, v := range t {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// DataSource is the external system that owns imported records.
type DataSource struct {
	ID                    string `json:"id"`
	Name                  string `json:"name"`
	UserEditableResources bool   `json:"user_editable_resources"`
}

// Organization publishes events and places.
type Organization struct {
	ID           string `json:"id"`
	DataSourceID string `json:"data_source"`
	OriginID     string `json:"origin_id"`
	Name         string `json:"name"`
}

// ObjectID derives the deterministic identity of an imported record.
func ObjectID(dataSourceID, originID string) string {
	return dataSourceID + ":" + originID
}

// SplitObjectID is the inverse of ObjectID. The origin id may itself
// contain colons; only the first one separates the data source.
func SplitObjectID(id string) (dataSourceID, originID string, ok bool) {
	return strings.Cut(id, ":")
}

// Tracking holds per-run state that is never persisted.
type Tracking struct {
	Created       bool     `json:"-"`
	Changed       bool     `json:"-"`
	ChangedFields []string `json:"-"`
}

// MarkChanged flags the entity as changed and records field once.
func (t *Tracking) MarkChanged(field string) {
	t.Changed = true
	if !slices.Contains(t.ChangedFields, field) {
		t.ChangedFields = append(t.ChangedFields, field)
	}
}

// ResetTracking clears the transient flags.
func (t *Tracking) ResetTracking() {
	t.Created = false
	t.Changed = false
	t.ChangedFields = nil
}

// Tracked returns the tracking state itself so embedding types expose it.
func (t *Tracking) Tracked() *Tracking { return t }

// Base contains the columns shared by all imported entities.
type Base struct {
	ID             string    `json:"id" validate:"required"`
	DataSourceID   string    `json:"data_source" validate:"required"`
	OriginID       string    `json:"origin_id" validate:"required"`
	PublisherID    string    `json:"publisher,omitempty"`
	Deleted        bool      `json:"deleted"`
	ReplacedBy     string    `json:"replaced_by,omitempty"`
	LastModifiedBy string    `json:"last_modified_by,omitempty"`
	CreatedAt      time.Time `json:"created_time"`
	UpdatedAt      time.Time `json:"last_modified_time"`

	// UserEditableSource mirrors DataSource.UserEditableResources at load time.
	UserEditableSource bool `json:"-"`

	Tracking `json:"-"`
}

// EntityID returns the entity id.
func (b *Base) EntityID() string { return b.ID }

// Origin returns the origin id within the data source.
func (b *Base) Origin() string { return b.OriginID }

// IsDeleted reports the soft-delete flag.
func (b *Base) IsDeleted() bool { return b.Deleted }

// MarkDeleted sets the soft-delete flag of a loaded instance after the
// store has deleted the row.
func (b *Base) MarkDeleted() { b.Deleted = true }

// IsUserEdited reports whether a human has modified the entity after import.
func (b *Base) IsUserEdited() bool {
	return b.UserEditableSource && b.LastModifiedBy != ""
}

// Position is a point in the projected target SRID.
type Position struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	SRID int     `json:"srid"`
}

// Place is a physical location events take place in.
type Place struct {
	Base

	Name            Translated `json:"name" validate:"translated"`
	Description     Translated `json:"description,omitempty"`
	StreetAddress   Translated `json:"street_address,omitempty"`
	AddressLocality Translated `json:"address_locality,omitempty"`
	InfoURL         Translated `json:"info_url,omitempty"`
	Telephone       string     `json:"telephone,omitempty"`
	Email           string     `json:"email,omitempty"`
	PostalCode      string     `json:"postal_code,omitempty"`
	Image           string     `json:"image,omitempty"`
	Position        *Position  `json:"position,omitempty"`
}

// EventStatus values follow schema.org EventStatusType.
type EventStatus string

const (
	EventScheduled   EventStatus = "EventScheduled"
	EventCancelled   EventStatus = "EventCancelled"
	EventPostponed   EventStatus = "EventPostponed"
	EventRescheduled EventStatus = "EventRescheduled"
)

// SuperEventType classifies aggregate events.
type SuperEventType string

const (
	SuperEventNone      SuperEventType = ""
	SuperEventRecurring SuperEventType = "recurring"
	SuperEventUmbrella  SuperEventType = "umbrella"
)

// Offer describes a price for an event.
type Offer struct {
	IsFree      bool       `json:"is_free"`
	Price       Translated `json:"price,omitempty"`
	InfoURL     Translated `json:"info_url,omitempty"`
	Description Translated `json:"description,omitempty"`
}

// SimpleValue is the comparable identity of an offer.
func (o Offer) SimpleValue() string {
	var b strings.Builder
	if o.IsFree {
		b.WriteString("free")
	}
	for _, part := range []Translated{o.Price, o.InfoURL, o.Description} {
		b.WriteByte('|')
		keys := slices.Sorted(maps.Keys(part.compact()))
		for _, k := range keys {
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(part[k])
			b.WriteByte(';')
		}
	}
	return b.String()
}

// ExternalLink is a named link in one language.
type ExternalLink struct {
	Language string `json:"language"`
	Name     string `json:"name"`
	URL      string `json:"link"`
}

// Event is a happening at a place and time.
type Event struct {
	Base

	Name              Translated        `json:"name" validate:"translated"`
	Description       Translated        `json:"description,omitempty"`
	ShortDescription  Translated        `json:"short_description,omitempty"`
	InfoURL           Translated        `json:"info_url,omitempty"`
	Provider          Translated        `json:"provider,omitempty"`
	LocationExtraInfo Translated        `json:"location_extra_info,omitempty"`
	StartTime         time.Time         `json:"start_time" validate:"required"`
	EndTime           time.Time         `json:"end_time"`
	HasStartTime      bool              `json:"has_start_time"`
	HasEndTime        bool              `json:"has_end_time"`
	DatePublished     *time.Time        `json:"date_published,omitempty"`
	Status            EventStatus       `json:"event_status" validate:"required"`
	LocationID        string            `json:"location,omitempty"`
	SuperEventID      string            `json:"super_event,omitempty"`
	SuperEventType    SuperEventType    `json:"super_event_type,omitempty"`
	Image             string            `json:"image,omitempty"`
	Keywords          []string          `json:"keywords"`
	Audience          []string          `json:"audience"`
	InLanguage        []string          `json:"in_language"`
	Offers            []Offer           `json:"offers"`
	ExternalLinks     []ExternalLink    `json:"external_links"`
	CustomData        map[string]string `json:"custom_data,omitempty"`
}

// Keyword tags events.
type Keyword struct {
	Base

	Name       Translated `json:"name" validate:"translated"`
	Deprecated bool       `json:"deprecated"`
}

// ImportRunStatus is the outcome of an import run.
type ImportRunStatus string

const (
	RunRunning   ImportRunStatus = "running"
	RunSucceeded ImportRunStatus = "succeeded"
	RunFailed    ImportRunStatus = "failed"
)

// ImportRun is the operations log entry for one importer execution.
type ImportRun struct {
	ID         string          `json:"id"`
	Importer   string          `json:"importer"`
	Status     ImportRunStatus `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Created    int             `json:"created"`
	Changed    int             `json:"changed"`
	Unchanged  int             `json:"unchanged"`
	Deleted    int             `json:"deleted"`
	Error      string          `json:"error,omitempty"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status    string   `json:"status"`
	Version   string   `json:"version"`
	Importers []string `json:"importers"`
	Places    int64    `json:"places"`
	Events    int64    `json:"events"`
	Keywords  int64    `json:"keywords"`
}

// ImporterInfo describes a registered importer.
type ImporterInfo struct {
	Name    string   `json:"name"`
	Kinds   []string `json:"kinds"`
	Running bool     `json:"running"`
}

// ImportRequest is the body of an import trigger. An empty body imports
// every kind the importer supports.
type ImportRequest struct {
	Force  bool     `json:"force"`
	Remap  bool     `json:"remap"`
	Single string   `json:"single,omitempty"`
	Kinds  []string `json:"kinds,omitempty"`
}

// ImportAccepted is returned when an import is started in the background.
type ImportAccepted struct {
	Importer string `json:"importer"`
	Status   string `json:"status"`
	Runs     string `json:"runs"`
}
