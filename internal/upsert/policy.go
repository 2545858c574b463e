package upsert

import (
	"slices"
	"time"
	_ "time/tzdata"

	"github.com/hyperengineering/linkedevents/internal/geo"
)

// Field names used in policies, reports and changed-field lists.
const (
	FieldName              = "name"
	FieldDescription       = "description"
	FieldShortDescription  = "short_description"
	FieldInfoURL           = "info_url"
	FieldProvider          = "provider"
	FieldLocationExtraInfo = "location_extra_info"
	FieldStreetAddress     = "street_address"
	FieldAddressLocality   = "address_locality"
	FieldTelephone         = "telephone"
	FieldEmail             = "email"
	FieldPostalCode        = "postal_code"
	FieldImage             = "image"
	FieldPosition          = "position"
	FieldPublisher         = "publisher"
	FieldDeleted           = "deleted"
	FieldStartTime         = "start_time"
	FieldEndTime           = "end_time"
	FieldHasStartTime      = "has_start_time"
	FieldHasEndTime        = "has_end_time"
	FieldDatePublished     = "date_published"
	FieldStatus            = "event_status"
	FieldLocation          = "location"
	FieldSuperEvent        = "super_event"
	FieldSuperEventType    = "super_event_type"
	FieldCustomData        = "custom_data"
	FieldKeywords          = "keywords"
	FieldAudience          = "audience"
	FieldInLanguage        = "in_language"
	FieldOffers            = "offers"
	FieldLinks             = "links"
	FieldDeprecated        = "deprecated"
	FieldReplacedBy        = "replaced_by"
)

// OfferCompare selects how stored and incoming offers are compared.
type OfferCompare int

const (
	// OfferSimpleValue compares offers as unordered sets of simple values.
	OfferSimpleValue OfferCompare = iota
	// OfferExact compares offers as ordered lists.
	OfferExact
)

// Policy carries the per-importer reconciliation rules.
type Policy struct {
	// ProtectedFields are never blanked on a user-edited entity.
	ProtectedFields []string

	// Unsupplied lists the fields the importer's feed never carries. An
	// empty incoming value for them leaves the stored value alone. Any
	// other field is authoritative, so an empty value clears it.
	Unsupplied []string

	// StrictUserEdits leaves every non-boolean scalar field of a
	// user-edited entity alone.
	StrictUserEdits bool

	// NonAdditive associations are replaced wholesale even on user-edited
	// entities. Associations are additive by default.
	NonAdditive []string

	OfferCompare OfferCompare

	// ReplaceLinksWhenUserEdited lets imports overwrite external links of
	// user-edited events.
	ReplaceLinksWhenUserEdited bool

	// MaxLinkLength drops longer links. Zero means 200.
	MaxLinkLength int

	// PositionTolerance is the distance under which a new position counts
	// as unchanged. Zero means 0.10 projection units.
	PositionTolerance float64

	// Projection converts WGS84 coordinates for storage.
	Projection geo.Projection

	// Bounds rejects WGS84 coordinates outside it, with X as longitude.
	Bounds geo.Polygon

	// Location is the local time zone for date-only events.
	Location *time.Location
}

// DefaultPolicy returns the rules shared by most importers: names are
// protected, positions are stored in ETRS-TM35FIN within a Finland-wide
// bounding box, and local time is Europe/Helsinki.
func DefaultPolicy() Policy {
	return Policy{
		ProtectedFields:   []string{FieldName, FieldDescription, FieldShortDescription, FieldStreetAddress},
		MaxLinkLength:     200,
		PositionTolerance: 0.10,
		Projection:        geo.ETRSTM35FIN,
		Bounds:            geo.BoundingBox(19.0, 59.3, 31.6, 70.1),
		Location:          helsinki(),
	}
}

func helsinki() *time.Location {
	loc, err := time.LoadLocation("Europe/Helsinki")
	if err != nil {
		return time.UTC
	}
	return loc
}

func (p *Policy) withDefaults() {
	if p.MaxLinkLength <= 0 {
		p.MaxLinkLength = 200
	}
	if p.PositionTolerance <= 0 {
		p.PositionTolerance = 0.10
	}
	if p.Projection.SRID == 0 {
		p.Projection = geo.ETRSTM35FIN
	}
	if p.Location == nil {
		p.Location = time.UTC
	}
}

func (p *Policy) supplied(field string) bool {
	return !slices.Contains(p.Unsupplied, field)
}

func (p *Policy) protected(field string) bool {
	return slices.Contains(p.ProtectedFields, field)
}

func (p *Policy) additive(assoc string) bool {
	return !slices.Contains(p.NonAdditive, assoc)
}
