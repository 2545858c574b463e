package matko

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hyperengineering/linkedevents/internal/config"
	"github.com/hyperengineering/linkedevents/internal/importer"
	"github.com/hyperengineering/linkedevents/internal/store"
	"github.com/hyperengineering/linkedevents/internal/types"
)

type feedItem struct {
	id, title, zipcode, lat, lon, phone string
}

// poiServer serves one RSS document per language under /{lang}.xml.
type poiServer struct {
	mu    sync.Mutex
	items map[string][]feedItem
}

func (s *poiServer) set(lang string, items ...feedItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[lang] = items
}

func (s *poiServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lang := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), ".xml")
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString(`<rss version="2.0" xmlns:matko="https://aspicore-asp.net/matkoschema/"><channel>`)
	for _, it := range s.items[lang] {
		fmt.Fprintf(&b, `<item><title>%s</title><description>%s kuvaus</description><link>https://example.com/%s/%s</link>`,
			it.title, it.title, lang, it.id)
		fmt.Fprintf(&b, `<matko:id>%s</matko:id><matko:address>Katu 1</matko:address><matko:zipcode>%s</matko:zipcode>`,
			it.id, it.zipcode)
		fmt.Fprintf(&b, `<matko:phone>%s</matko:phone><matko:latitude>%s</matko:latitude><matko:longitude>%s</matko:longitude></item>`,
			it.phone, it.lat, it.lon)
	}
	b.WriteString(`</channel></rss>`)
	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(b.String()))
}

func newTestRunner(t *testing.T) (*importer.Runner, *store.SQLiteStore, *poiServer) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	feeds := &poiServer{items: map[string][]feedItem{}}
	srv := httptest.NewServer(feeds)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Importers[Name] = config.ImporterConfig{LanguageURLs: map[string]string{
		"fi": srv.URL + "/fi.xml",
		"en": srv.URL + "/en.xml",
	}}
	cfg.Import.RetryAttempts = 1
	cfg.Import.RateLimit = 0

	return importer.NewRunner(s, cfg, nil), s, feeds
}

func suomenlinna(lang string) feedItem {
	it := feedItem{id: "100", title: "Suomenlinna", zipcode: "00190 Helsinki", lat: "60.1454", lon: "24.9881", phone: "+358 29 533 8410"}
	if lang == "en" {
		it.title = "Suomenlinna Sea Fortress"
		it.phone = "+358 00 000 0000"
	}
	return it
}

func TestImportPlaces_MergesLanguages(t *testing.T) {
	r, s, feeds := newTestRunner(t)
	ctx := context.Background()

	// Given the same item in the Finnish and English feeds
	feeds.set("fi", suomenlinna("fi"))
	feeds.set("en", suomenlinna("en"))

	// When importing
	run, err := r.Run(ctx, Name, importer.Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// Then one place is created per item plus the extra locations
	if run.Created != 1+len(extraLocations) {
		t.Errorf("created = %d, want %d", run.Created, 1+len(extraLocations))
	}
	p, err := s.GetPlace(ctx, types.ObjectID(Name, "100"))
	if err != nil {
		t.Fatal(err)
	}
	if p.Name.Get("fi") != "Suomenlinna" || p.Name.Get("en") != "Suomenlinna Sea Fortress" {
		t.Errorf("name = %v", p.Name)
	}
	if p.PostalCode != "00190" || p.AddressLocality.Get("fi") != "Helsinki" {
		t.Errorf("postal code %q locality %v", p.PostalCode, p.AddressLocality)
	}
	// And scalars keep the Finnish value
	if p.Telephone != "+358 29 533 8410" {
		t.Errorf("telephone = %q, want the Finnish value", p.Telephone)
	}
	if p.Position == nil {
		t.Error("position not set")
	}
	if _, err := s.GetPlace(ctx, types.ObjectID(Name, "732")); err != nil {
		t.Errorf("extra location missing: %v", err)
	}
}

func TestImportPlaces_DeletesMissing(t *testing.T) {
	r, s, feeds := newTestRunner(t)
	ctx := context.Background()

	feeds.set("fi", suomenlinna("fi"), feedItem{id: "200", title: "Kauppatori", zipcode: "00170 Helsinki"})
	if _, err := r.Run(ctx, Name, importer.Options{}); err != nil {
		t.Fatal(err)
	}

	// When the market square disappears from the feed
	feeds.set("fi", suomenlinna("fi"))
	run, err := r.Run(ctx, Name, importer.Options{})
	if err != nil {
		t.Fatal(err)
	}

	// Then it is soft-deleted
	if run.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", run.Deleted)
	}
	p, err := s.GetPlace(ctx, types.ObjectID(Name, "200"))
	if err != nil {
		t.Fatal(err)
	}
	if !p.Deleted {
		t.Error("place 200 not deleted")
	}
}

func TestImportPlaces_KeepsReplacedLocationsDeleted(t *testing.T) {
	r, s, feeds := newTestRunner(t)
	ctx := context.Background()

	feeds.set("fi", suomenlinna("fi"), feedItem{id: "200", title: "Kauppatori", zipcode: "00170 Helsinki"})
	if _, err := r.Run(ctx, Name, importer.Options{}); err != nil {
		t.Fatal(err)
	}

	// Given place 200 was replaced by another place
	if _, err := s.ReplacePlace(ctx, types.ObjectID(Name, "200"), types.ObjectID(Name, "100")); err != nil {
		t.Fatal(err)
	}

	// When it is still in the feed
	if _, err := r.Run(ctx, Name, importer.Options{}); err != nil {
		t.Fatal(err)
	}

	// Then it stays deleted
	p, err := s.GetPlace(ctx, types.ObjectID(Name, "200"))
	if err != nil {
		t.Fatal(err)
	}
	if !p.Deleted || p.ReplacedBy != types.ObjectID(Name, "100") {
		t.Errorf("deleted=%v replaced_by=%q", p.Deleted, p.ReplacedBy)
	}
}

func TestImportPlaces_SingleByName(t *testing.T) {
	r, s, feeds := newTestRunner(t)
	ctx := context.Background()

	feeds.set("fi", suomenlinna("fi"), feedItem{id: "200", title: "Kauppatori", zipcode: "00170 Helsinki"})

	// When importing one location by a case-insensitive name
	run, err := r.Run(ctx, Name, importer.Options{Single: "  kauppatori "})
	if err != nil {
		t.Fatal(err)
	}

	// Then only that location is created
	if run.Created != 1 || run.Deleted != 0 {
		t.Errorf("created=%d deleted=%d, want 1 and 0", run.Created, run.Deleted)
	}
	if _, err := s.GetPlace(ctx, types.ObjectID(Name, "200")); err != nil {
		t.Errorf("place 200: %v", err)
	}
	if _, err := s.GetPlace(ctx, types.ObjectID(Name, "100")); err == nil {
		t.Error("place 100 imported by a single run")
	}
}

func TestImportPlaces_NoFeeds(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	cfg := config.Default()
	cfg.Importers[Name] = config.ImporterConfig{}
	r := importer.NewRunner(s, cfg, nil)

	if _, err := r.Run(context.Background(), Name, importer.Options{}); err == nil {
		t.Fatal("expected error without language feeds")
	}
}

func TestSplitZipcode(t *testing.T) {
	tests := []struct {
		in, zip, muni string
	}{
		{"00100 Helsinki", "00100", "Helsinki"},
		{"FI-00170  Helsinki ", "00170", "Helsinki"},
		{"02150 Espoo", "02150", "Espoo"},
		{"Helsinki", "", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			zip, muni := splitZipcode(tt.in)
			if zip != tt.zip || muni != tt.muni {
				t.Errorf("splitZipcode(%q) = %q, %q; want %q, %q", tt.in, zip, muni, tt.zip, tt.muni)
			}
		})
	}
}

func TestLanguages(t *testing.T) {
	urls := map[string]string{"en": "e", "fi": "f", "ru": "r", "de": "d"}
	got := languages([]string{"fi", "sv", "en"}, urls)
	want := []string{"fi", "en", "de", "ru"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("languages = %v, want %v", got, want)
	}
}

func TestLocationClone(t *testing.T) {
	c := extraLocations[0].clone()
	c.name.Set("fi", "muutettu")
	if extraLocations[0].name.Get("fi") != "Helsinki" {
		t.Error("clone shares the name map")
	}
}
