package lippupiste

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hyperengineering/linkedevents/internal/importer"
	"github.com/hyperengineering/linkedevents/internal/types"
)

const maxShortDescription = 160

var descriptionTags = []string{"u", "b", "h2", "h3", "em", "ul", "li", "strong", "br", "p", "a"}

var lineBreak = regexp.MustCompile(`(?i)<br\s*/?>`)

// categoryKeywords maps serie categories to YSO concepts.
var categoryKeywords = map[string]string{
	"teatteri":  "p2625",
	"draama":    "p2625",
	"konsertit": "p11185",
	"musiikki":  "p1808",
	"tanssi":    "p1278",
}

// row is one event line of the feed.
type row struct {
	EventID    string
	SerieID    string
	Start      time.Time
	Name       string
	Promoter   string
	SerieText  string
	Link       string
	Picture    string
	Categories []string
	Venue      string
}

func (r row) originID() string      { return "event" + r.EventID }
func (r row) serieOriginID() string { return "serie" + r.SerieID }

func parseRow(rec map[string]string, loc *time.Location) (row, error) {
	r := row{
		EventID:   rec["EventId"],
		SerieID:   rec["EventSerieId"],
		Name:      importer.CleanText(rec["EventName"]),
		Promoter:  importer.CleanText(rec["EventPromoterName"]),
		SerieText: rec["EventSerieText"],
		Link:      strings.TrimSpace(rec["EventLink"]),
		Picture:   strings.TrimSpace(rec["EventSeriePictureBig_222x222"]),
		Venue:     importer.CleanText(rec["EventVenue"]),
	}
	if r.EventID == "" {
		return row{}, errors.New("missing EventId")
	}
	start, err := time.ParseInLocation("02.01.2006 15:04", rec["EventDate"]+" "+rec["EventTime"], loc)
	if err != nil {
		return row{}, fmt.Errorf("event %s: start: %w", r.EventID, err)
	}
	r.Start = start
	for _, c := range strings.Split(rec["EventSerieCategories"], ",") {
		if c = importer.CleanText(c); c != "" && !slices.Contains(r.Categories, c) {
			r.Categories = append(r.Categories, c)
		}
	}
	return r, nil
}

func cleanDescription(s string) string {
	return importer.CleanText(importer.SanitizeHTML(s, descriptionTags...))
}

// shortDescription is the first sentence of the plain text, at most
// maxShortDescription characters.
func shortDescription(s string) string {
	s = importer.CleanText(importer.StripTags(lineBreak.ReplaceAllString(s, " ")))
	if before, _, found := strings.Cut(s, "."); found {
		s = before + "."
	}
	if utf8.RuneCountInString(s) > maxShortDescription {
		s = string([]rune(s)[:maxShortDescription])
	}
	return s
}

// keywordOriginID names the keyword of a category.
func keywordOriginID(category string) string {
	return strings.ReplaceAll(strings.ToLower(category), " ", "_")
}

func (r row) draft(publisherID string) importer.EventDraft {
	d := importer.EventDraft{
		DataSourceID: Name,
		OriginID:     r.originID(),
		PublisherID:  publisherID,
		StartTime:    r.Start,
	}
	d.Name.Set(types.LangFinnish, r.Name)
	d.Provider.Set(types.LangFinnish, r.Promoter)
	d.Description.Set(types.LangFinnish, cleanDescription(r.SerieText))
	d.ShortDescription.Set(types.LangFinnish, shortDescription(r.SerieText))
	d.InfoURL.Set(types.LangFinnish, r.Link)
	d.Image = r.Picture
	return d
}

// serie is a group of rows sharing a serie id.
type serie struct {
	id   string
	rows []row
}

// superDraft spans the events of s. The location is kept only when every
// event shares it.
func (s *serie) superDraft(publisherID string, leaves []importer.EventDraft) importer.EventDraft {
	first := s.rows[0]
	d := first.draft(publisherID)
	d.OriginID = first.serieOriginID()
	d.SuperEventType = types.SuperEventRecurring
	d.InfoURL = nil

	d.StartTime, d.EndTime = leaves[0].StartTime, leaves[0].StartTime
	d.LocationID = leaves[0].LocationID
	for _, l := range leaves {
		if l.StartTime.Before(d.StartTime) {
			d.StartTime = l.StartTime
		}
		if l.StartTime.After(d.EndTime) {
			d.EndTime = l.StartTime
		}
		if l.LocationID != d.LocationID {
			d.LocationID = ""
		}
		for _, k := range l.Keywords {
			if !slices.Contains(d.Keywords, k) {
				d.Keywords = append(d.Keywords, k)
			}
		}
	}
	return d
}
