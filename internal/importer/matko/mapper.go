package matko

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hyperengineering/linkedevents/internal/importer"
	"github.com/hyperengineering/linkedevents/internal/types"
)

// poiFeed is the RSS document of one language.
type poiFeed struct {
	Items []poiItem `xml:"channel>item"`
}

type poiItem struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
	Link        string `xml:"link"`

	ID        string `xml:"https://aspicore-asp.net/matkoschema/ id"`
	Address   string `xml:"https://aspicore-asp.net/matkoschema/ address"`
	Zipcode   string `xml:"https://aspicore-asp.net/matkoschema/ zipcode"`
	Phone     string `xml:"https://aspicore-asp.net/matkoschema/ phone"`
	Email     string `xml:"https://aspicore-asp.net/matkoschema/ email"`
	Longitude string `xml:"https://aspicore-asp.net/matkoschema/ longitude"`
	Latitude  string `xml:"https://aspicore-asp.net/matkoschema/ latitude"`
}

// location accumulates one point of interest over the language feeds.
type location struct {
	originID    string
	name        types.Translated
	description types.Translated
	infoURL     types.Translated
	street      types.Translated
	locality    types.Translated
	postalCode  string
	phone       string
	email       string
	lat, lon    float64
}

// extraLocations are areas events refer to that the feeds do not list.
var extraLocations = []location{
	{
		originID: "732",
		name:     types.Translated{"fi": "Helsinki", "sv": "Helsingfors", "en": "Helsinki"},
		locality: types.Translated{"fi": "Helsinki"},
		lat:      60.170833,
		lon:      24.9375,
	},
	{
		originID: "1101",
		name:     types.Translated{"fi": "Helsingin keskusta", "sv": "Helsingfors centrum", "en": "Helsinki City Centre"},
		locality: types.Translated{"fi": "Helsinki"},
		lat:      60.170833,
		lon:      24.9375,
	},
}

func (loc *location) clone() *location {
	c := *loc
	c.name = loc.name.Clone()
	c.description = loc.description.Clone()
	c.infoURL = loc.infoURL.Clone()
	c.street = loc.street.Clone()
	c.locality = loc.locality.Clone()
	return &c
}

var zipAndMunicipality = regexp.MustCompile(`^\D*(\d+)\s+(\D+)`)

// splitZipcode splits "00100 Helsinki" into postal code and municipality.
func splitZipcode(s string) (zip, municipality string) {
	m := zipAndMunicipality.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", ""
	}
	return m[1], strings.TrimSpace(m[2])
}

// merge folds one language's item into loc. Scalars keep the first value
// seen; languages are merged in preference order.
func (loc *location) merge(lang string, it poiItem) {
	loc.name.Set(lang, importer.CleanText(it.Title))
	loc.description.Set(lang, strings.TrimSpace(it.Description))
	loc.infoURL.Set(lang, strings.TrimSpace(it.Link))
	loc.street.Set(lang, importer.CleanText(it.Address))

	zip, muni := splitZipcode(it.Zipcode)
	if len(zip) == 5 && loc.postalCode == "" {
		loc.postalCode = zip
	}
	loc.locality.Set(lang, muni)

	if loc.phone == "" {
		loc.phone = importer.CleanText(it.Phone)
	}
	if loc.email == "" {
		loc.email = strings.TrimSpace(it.Email)
	}

	lat, latErr := strconv.ParseFloat(strings.TrimSpace(it.Latitude), 64)
	lon, lonErr := strconv.ParseFloat(strings.TrimSpace(it.Longitude), 64)
	if latErr == nil && lonErr == nil && lat != 0 && lon != 0 && loc.lat == 0 {
		loc.lat, loc.lon = lat, lon
	}
}

func (loc *location) draft(publisherID string) importer.PlaceDraft {
	return importer.PlaceDraft{
		DataSourceID:    Name,
		OriginID:        loc.originID,
		PublisherID:     publisherID,
		Name:            loc.name,
		Description:     loc.description,
		StreetAddress:   loc.street,
		AddressLocality: loc.locality,
		InfoURL:         loc.infoURL,
		Telephone:       loc.phone,
		Email:           loc.email,
		PostalCode:      loc.postalCode,
		Latitude:        loc.lat,
		Longitude:       loc.lon,
	}
}

// matches reports whether name equals one of the location's names,
// ignoring case and surrounding space.
func (loc *location) matches(name string) bool {
	name = strings.TrimSpace(name)
	for _, v := range loc.name {
		if strings.EqualFold(v, name) {
			return true
		}
	}
	return false
}
