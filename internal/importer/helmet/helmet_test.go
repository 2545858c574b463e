package helmet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/hyperengineering/linkedevents/internal/config"
	"github.com/hyperengineering/linkedevents/internal/importer"
	"github.com/hyperengineering/linkedevents/internal/store"
	"github.com/hyperengineering/linkedevents/internal/types"
	"github.com/hyperengineering/linkedevents/internal/upsert"
)

// contentServer serves document lists under /contents/{language id}.
type contentServer struct {
	mu   sync.Mutex
	docs map[string][]document
}

func (s *contentServer) set(langID string, docs ...document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[langID] = docs
}

func (s *contentServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	langID := strings.TrimPrefix(r.URL.Path, "/contents/")
	docs := s.docs[langID]
	if docs == nil {
		docs = []document{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(contents{Value: docs})
}

func newTestRunner(t *testing.T) (*importer.Runner, *store.SQLiteStore, *contentServer, string) {
	t.Helper()
	ctx := context.Background()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	// Given the Kallio library and one YSO keyword are imported
	for _, ds := range []string{"tprek", "yso"} {
		if _, err := s.EnsureDataSource(ctx, types.DataSource{ID: ds}); err != nil {
			t.Fatal(err)
		}
	}
	engine := upsert.NewEngine(s, upsert.DefaultPolicy())
	if _, err := engine.SavePlace(ctx, upsert.PlaceDraft{
		DataSourceID: "tprek", OriginID: "8215", Name: types.Translated{"fi": "Kallion kirjasto"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.SaveKeyword(ctx, upsert.KeywordDraft{
		DataSourceID: "yso", OriginID: "p12262", Name: types.Translated{"fi": "lapset"},
	}); err != nil {
		t.Fatal(err)
	}

	feed := &contentServer{docs: map[string][]document{}}
	srv := httptest.NewServer(feed)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Importers[Name] = config.ImporterConfig{EventsURL: srv.URL + "/contents/{lang}"}
	cfg.Import.RetryAttempts = 1
	cfg.Import.RateLimit = 0

	return importer.NewRunner(s, cfg, nil), s, feed, srv.URL
}

func text(name, v string) property { return property{Name: name, Text: v} }

func storyHour(name string) document {
	return document{
		ContentID: 101,
		ExtendedProperties: []property{
			text("Name", name),
			text("Description", "<p>Tarinoita <b>lapsille</b></p>"),
			text("Images", `<img alt="" src="/satu.jpg">`),
			text("Audience", "lapset"),
		},
		PublicDate:     "2099-10-01T00:00:00",
		EventStartDate: "2099-11-02T10:00:00",
		EventEndDate:   "2099-11-02T11:00:00",
		ExpiryDate:     "2099-11-03T00:00:00",
		Classifications: []classification{
			{NodeName: locationNode, NodeID: 10794},
			{NodeName: "Lapset"},
			{NodeName: "Satutunnit"},
		},
	}
}

func lecture() document {
	return document{
		ContentID:          102,
		ExtendedProperties: []property{text("Name", "Luento")},
		EventStartDate:     "2099-11-05T18:00:00",
		Classifications:    []classification{{NodeName: locationNode, NodeID: 99999}},
	}
}

func TestImportEvents_MergesLanguages(t *testing.T) {
	r, s, feed, base := newTestRunner(t)
	ctx := context.Background()

	feed.set("1", storyHour("Satutunti"), lecture())
	feed.set("3", storyHour("Sagostund"))

	// When importing
	run, err := r.Run(ctx, Name, importer.Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// Then each event is saved once with every language
	if run.Created != 2 {
		t.Errorf("created = %d, want 2", run.Created)
	}
	ev, err := s.GetEvent(ctx, types.ObjectID(Name, "101"))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Name.Get("fi") != "Satutunti" || ev.Name.Get("sv") != "Sagostund" {
		t.Errorf("name = %v", ev.Name)
	}
	if ev.Description.Get("fi") != "Tarinoita lapsille" {
		t.Errorf("description = %q", ev.Description.Get("fi"))
	}
	if ev.Image != base+"/satu.jpg" {
		t.Errorf("image = %q", ev.Image)
	}
	if want := base + "/api/opennc/v1/Contents(101)"; ev.InfoURL.Get("sv") != want {
		t.Errorf("info url = %q, want %q", ev.InfoURL.Get("sv"), want)
	}
	// And the library node resolves to the tprek place
	if ev.LocationID != "tprek:8215" {
		t.Errorf("location = %q", ev.LocationID)
	}
	// And only imported keywords are linked
	if !slices.Equal(ev.Keywords, []string{"yso:p12262"}) {
		t.Errorf("keywords = %v", ev.Keywords)
	}
	if got := ev.StartTime.UTC(); !got.Equal(time.Date(2099, 11, 2, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", got)
	}
	if ev.CustomData["ExpiryDate"] != "2099-11-02T22:00:00Z" || ev.CustomData["Audience"] != "lapset" {
		t.Errorf("custom data = %v", ev.CustomData)
	}

	lec, err := s.GetEvent(ctx, types.ObjectID(Name, "102"))
	if err != nil {
		t.Fatal(err)
	}
	if lec.LocationID != "" {
		t.Errorf("unmapped library got location %q", lec.LocationID)
	}
}

func TestImportEvents_RerunAndDelete(t *testing.T) {
	r, s, feed, _ := newTestRunner(t)
	ctx := context.Background()

	feed.set("1", storyHour("Satutunti"), lecture())
	if _, err := r.Run(ctx, Name, importer.Options{}); err != nil {
		t.Fatal(err)
	}

	// When the feed is unchanged
	run, err := r.Run(ctx, Name, importer.Options{})
	if err != nil {
		t.Fatal(err)
	}

	// Then nothing changes
	if run.Unchanged != 2 || run.Changed != 0 || run.Created != 0 {
		t.Errorf("rerun counts = %+v", run)
	}

	// When the lecture is dropped from the feed
	feed.set("1", storyHour("Satutunti"))
	run, err = r.Run(ctx, Name, importer.Options{})
	if err != nil {
		t.Fatal(err)
	}

	// Then it is deleted
	if run.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", run.Deleted)
	}
	lec, err := s.GetEvent(ctx, types.ObjectID(Name, "102"))
	if err != nil {
		t.Fatal(err)
	}
	if !lec.Deleted {
		t.Error("lecture not deleted")
	}
}

func TestImportEvents_ClearedDescription(t *testing.T) {
	r, s, feed, _ := newTestRunner(t)
	ctx := context.Background()

	feed.set("1", storyHour("Satutunti"))
	if _, err := r.Run(ctx, Name, importer.Options{}); err != nil {
		t.Fatal(err)
	}

	// When the feed blanks the description
	doc := storyHour("Satutunti")
	for i, p := range doc.ExtendedProperties {
		if p.Name == "Description" {
			doc.ExtendedProperties[i] = text("Description", "")
		}
	}
	feed.set("1", doc)
	run, err := r.Run(ctx, Name, importer.Options{})
	if err != nil {
		t.Fatal(err)
	}

	// Then the stored description is cleared too
	ev, err := s.GetEvent(ctx, types.ObjectID(Name, "101"))
	if err != nil {
		t.Fatal(err)
	}
	if run.Changed != 1 || !ev.Description.IsEmpty() {
		t.Errorf("changed = %d, description = %v", run.Changed, ev.Description)
	}
}

func TestImportEvents_Single(t *testing.T) {
	r, s, feed, _ := newTestRunner(t)
	ctx := context.Background()

	feed.set("1", storyHour("Satutunti"), lecture())

	run, err := r.Run(ctx, Name, importer.Options{Single: "102"})
	if err != nil {
		t.Fatal(err)
	}
	if run.Created != 1 {
		t.Errorf("created = %d, want 1", run.Created)
	}
	if _, err := s.GetEvent(ctx, types.ObjectID(Name, "101")); err == nil {
		t.Error("event 101 imported by a single run")
	}
}

func TestImportEvents_SkipsUnreadableTimes(t *testing.T) {
	r, s, feed, _ := newTestRunner(t)
	ctx := context.Background()

	bad := lecture()
	bad.EventStartDate = "ensi viikolla"
	feed.set("1", storyHour("Satutunti"), bad)

	run, err := r.Run(ctx, Name, importer.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if run.Created != 1 {
		t.Errorf("created = %d, want 1", run.Created)
	}
	if _, err := s.GetEvent(ctx, types.ObjectID(Name, "102")); err == nil {
		t.Error("event with unreadable start imported")
	}
}

func TestPropertyValue(t *testing.T) {
	n := 12.5
	zero := 0.0
	tests := []struct {
		name string
		p    property
		want string
	}{
		{"text", property{Text: "teksti", Number: &n}, "teksti"},
		{"number", property{Text: " ", Number: &n}, "12.5"},
		{"zero number falls through", property{Number: &zero, Date: "2099-01-01"}, "2099-01-01"},
		{"empty", property{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.value(); got != tt.want {
				t.Errorf("value() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeywordIDs(t *testing.T) {
	d := &eventDraft{categories: []string{"Lapset ja perheet", "Lapset", "Tuntematon"}}
	want := []string{"yso:p12262", "yso:p4363"}
	if got := d.keywordIDs(); !slices.Equal(got, want) {
		t.Errorf("keywordIDs = %v, want %v", got, want)
	}
}

func TestLibraries(t *testing.T) {
	for node, want := range map[int64]string{10794: "8215", 11291: "8215", 10788: "19580", 11202: "18703"} {
		if got := libraries[node]; got != want {
			t.Errorf("libraries[%d] = %q, want %q", node, got, want)
		}
	}
}
