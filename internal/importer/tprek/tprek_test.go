package tprek

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/hyperengineering/linkedevents/internal/config"
	"github.com/hyperengineering/linkedevents/internal/geo"
	"github.com/hyperengineering/linkedevents/internal/importer"
	"github.com/hyperengineering/linkedevents/internal/store"
	modelsync "github.com/hyperengineering/linkedevents/internal/sync"
	"github.com/hyperengineering/linkedevents/internal/types"
)

// matkoStub stands in for the matko importer: a single run creates the
// named place from its catalog.
type matkoStub struct{}

var (
	matkoMu      sync.Mutex
	matkoCatalog = map[string]string{}
	matkoSingles []string
)

func (matkoStub) Name() string { return fallbackSource }

func (matkoStub) Setup(ctx context.Context, env *importer.Env) error {
	_, err := env.EnsureSource(ctx, types.DataSource{ID: fallbackSource}, nil)
	return err
}

func (matkoStub) ImportPlaces(ctx context.Context, env *importer.Env, opts importer.Options) error {
	matkoMu.Lock()
	defer matkoMu.Unlock()
	matkoSingles = append(matkoSingles, opts.Single)
	origin, ok := matkoCatalog[strings.ToLower(opts.Single)]
	if !ok {
		return nil
	}
	_, err := env.NewEngine(env.Policy()).SavePlace(ctx, importer.PlaceDraft{
		DataSourceID: fallbackSource,
		OriginID:     origin,
		Name:         types.Translated{types.LangFinnish: opts.Single},
	})
	return err
}

func TestMain(m *testing.M) {
	importer.Register(fallbackSource, func() importer.Importer { return matkoStub{} })
	os.Exit(m.Run())
}

// unitFeed serves a mutable unit list.
type unitFeed struct {
	mu    sync.Mutex
	units []unit
	fail  bool
}

func (f *unitFeed) set(units ...unit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.units = units
}

func (f *unitFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/unit/"), "/")
	if id == "" {
		json.NewEncoder(w).Encode(f.units)
		return
	}
	for _, u := range f.units {
		if u.ID == atoi(id) {
			json.NewEncoder(w).Encode(u)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func atoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

func newTestRunner(t *testing.T) (*importer.Runner, *store.SQLiteStore, *unitFeed) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	if _, err := s.EnsureDataSource(context.Background(), types.DataSource{ID: "lippupiste"}); err != nil {
		t.Fatal(err)
	}

	feed := &unitFeed{}
	srv := httptest.NewServer(feed)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Importers[Name] = config.ImporterConfig{PlacesURL: srv.URL + "/unit/"}
	cfg.Import.RetryAttempts = 1
	cfg.Import.RateLimit = 0

	return importer.NewRunner(s, cfg, nil), s, feed
}

func library() unit {
	return unit{
		ID:              8215,
		NameFi:          "Kallion  kirjasto",
		NameSv:          "Berghälls bibliotek",
		StreetAddressFi: "Viides linja 11",
		AddressCityFi:   "Helsinki",
		WWWFi:           "https://www.helmet.fi/kallionkirjasto",
		Phone:           "+358 9 3108 5010",
		AddressZip:      "00530",
		Latitude:        60.184,
		Longitude:       24.949,
	}
}

func saveEvents(t *testing.T, s *store.SQLiteStore, placeID string, n int) []string {
	t.Helper()
	start := time.Date(2030, 5, 1, 18, 0, 0, 0, time.UTC)
	var ids []string
	for i := range n {
		origin := strings.ReplaceAll(placeID, ":", "-") + "-" + string(rune('a'+i))
		e := &types.Event{
			Base:       types.Base{ID: types.ObjectID("lippupiste", origin), DataSourceID: "lippupiste", OriginID: origin},
			Name:       types.Translated{types.LangFinnish: "Keikka"},
			StartTime:  start,
			Status:     types.EventScheduled,
			LocationID: placeID,
		}
		if err := s.SaveEvent(context.Background(), e); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, e.ID)
	}
	return ids
}

func locationOf(t *testing.T, s *store.SQLiteStore, eventID string) string {
	t.Helper()
	e, err := s.GetEvent(context.Background(), eventID)
	if err != nil {
		t.Fatal(err)
	}
	return e.LocationID
}

func TestImportPlaces_CreatesAndUpdates(t *testing.T) {
	// Given: a register with one library
	r, s, feed := newTestRunner(t)
	ctx := context.Background()
	feed.set(library())

	// When: it is imported
	run, err := r.Run(ctx, Name, importer.Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Then: the place carries the cleaned, projected unit
	if run.Created != 1 {
		t.Errorf("created = %d, want 1", run.Created)
	}
	p, err := s.GetPlace(ctx, "tprek:8215")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name.Get("fi") != "Kallion kirjasto" || p.Name.Get("sv") != "Berghälls bibliotek" {
		t.Errorf("name = %v", p.Name)
	}
	if p.PublisherID != "ahjo:U021600" {
		t.Errorf("publisher = %q", p.PublisherID)
	}
	if p.Position == nil || p.Position.SRID != geo.SRIDETRSTM35FIN {
		t.Errorf("position = %+v", p.Position)
	}
	if p.PostalCode != "00530" || p.Telephone != "+358 9 3108 5010" {
		t.Errorf("contact = %q %q", p.PostalCode, p.Telephone)
	}

	// When: the same feed is imported again
	run, err = r.Run(ctx, Name, importer.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if run.Unchanged != 1 || run.Changed != 0 {
		t.Errorf("rerun = %+v", run)
	}

	// When: the register blanks the phone number
	u := library()
	u.Phone = ""
	feed.set(u)
	run, err = r.Run(ctx, Name, importer.Options{})
	if err != nil {
		t.Fatal(err)
	}
	p, _ = s.GetPlace(ctx, "tprek:8215")
	if run.Changed != 1 || p.Telephone != "" {
		t.Errorf("blanked phone: changed = %d, telephone = %q", run.Changed, p.Telephone)
	}
}

func TestImportPlaces_ReplacementChain(t *testing.T) {
	r, s, feed := newTestRunner(t)
	ctx := context.Background()
	matkoMu.Lock()
	matkoCatalog["tavastia"] = "tavastia-klubi"
	matkoMu.Unlock()

	feed.set(unit{ID: 1, NameFi: "Savoy-teatteri"}, unit{ID: 2, NameFi: "Tavastia"})
	if _, err := r.Run(ctx, Name, importer.Options{}); err != nil {
		t.Fatal(err)
	}
	savoyEvents := saveEvents(t, s, "tprek:1", 2)
	tavastiaEvents := saveEvents(t, s, "tprek:2", 1)

	// When: unit 1 is replaced by a new unit of the same name
	feed.set(unit{ID: 2, NameFi: "Tavastia"}, unit{ID: 3, NameFi: "Savoy-teatteri"})
	if _, err := r.Run(ctx, Name, importer.Options{}); err != nil {
		t.Fatal(err)
	}

	// Then: its events follow the tprek replacement
	for _, id := range savoyEvents {
		if loc := locationOf(t, s, id); loc != "tprek:3" {
			t.Errorf("event %s at %s, want tprek:3", id, loc)
		}
	}
	old, _ := s.GetPlace(ctx, "tprek:1")
	if !old.Deleted || old.ReplacedBy != "tprek:3" {
		t.Errorf("tprek:1 = deleted %v, replaced by %q", old.Deleted, old.ReplacedBy)
	}

	// When: unit 2 disappears without a tprek twin
	feed.set(unit{ID: 3, NameFi: "Savoy-teatteri"})
	if _, err := r.Run(ctx, Name, importer.Options{}); err != nil {
		t.Fatal(err)
	}

	// Then: matko is imported on demand and takes the events
	if loc := locationOf(t, s, tavastiaEvents[0]); loc != "matko:tavastia-klubi" {
		t.Errorf("tavastia event at %q, want matko:tavastia-klubi", loc)
	}
	matkoMu.Lock()
	singles := append([]string(nil), matkoSingles...)
	matkoMu.Unlock()
	if len(singles) == 0 || singles[len(singles)-1] != "Tavastia" {
		t.Errorf("matko single imports = %v", singles)
	}

	// When: unit 2 comes back
	feed.set(unit{ID: 2, NameFi: "Tavastia"}, unit{ID: 3, NameFi: "Savoy-teatteri"})
	if _, err := r.Run(ctx, Name, importer.Options{}); err != nil {
		t.Fatal(err)
	}

	// Then: it replaces the matko stand-in
	if loc := locationOf(t, s, tavastiaEvents[0]); loc != "tprek:2" {
		t.Errorf("tavastia event at %q after reinstatement, want tprek:2", loc)
	}
	stand, _ := s.GetPlace(ctx, "matko:tavastia-klubi")
	if !stand.Deleted || stand.ReplacedBy != "tprek:2" {
		t.Errorf("matko place = deleted %v, replaced by %q", stand.Deleted, stand.ReplacedBy)
	}
}

func TestImportPlaces_Single(t *testing.T) {
	r, s, feed := newTestRunner(t)
	ctx := context.Background()
	feed.set(library(), unit{ID: 1, NameFi: "Ateneum"})
	if _, err := r.Run(ctx, Name, importer.Options{}); err != nil {
		t.Fatal(err)
	}

	// When: one unit is re-imported while the other is gone from the feed
	u := library()
	u.Phone = "+358 9 0000"
	feed.set(u)
	run, err := r.Run(ctx, Name, importer.Options{Single: "8215"})
	if err != nil {
		t.Fatal(err)
	}

	// Then: it is updated and nothing is deleted
	if run.Changed != 1 || run.Deleted != 0 {
		t.Errorf("run = %+v", run)
	}
	ateneum, _ := s.GetPlace(ctx, "tprek:1")
	if ateneum.Deleted {
		t.Error("single run must not delete other units")
	}
}

func TestImportPlaces_MassDeletionNeedsForce(t *testing.T) {
	r, s, feed := newTestRunner(t)
	ctx := context.Background()
	var units []unit
	for id := 1; id <= 10; id++ {
		units = append(units, unit{ID: id, NameFi: "Yksikkö " + string(rune('A'+id))})
	}
	feed.set(units...)
	if _, err := r.Run(ctx, Name, importer.Options{}); err != nil {
		t.Fatal(err)
	}

	feed.set(units[:2]...)
	run, err := r.Run(ctx, Name, importer.Options{})
	if !errors.Is(err, modelsync.ErrTooManyDeletions) {
		t.Fatalf("err = %v, want ErrTooManyDeletions", err)
	}
	if run.Status != types.RunFailed {
		t.Errorf("status = %s", run.Status)
	}
	if p, _ := s.GetPlace(ctx, "tprek:5"); p.Deleted {
		t.Error("refused run must not delete")
	}

	run, err = r.Run(ctx, Name, importer.Options{Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if run.Deleted != 8 {
		t.Errorf("forced run deleted %d, want 8", run.Deleted)
	}
}

func TestImportPlaces_DuplicateUnitFailsRun(t *testing.T) {
	// Given: a feed listing the same unit twice
	r, _, feed := newTestRunner(t)
	dup := library()
	dup.Phone = "+358 9 0000"
	feed.set(library(), dup)

	// When: it is imported
	run, err := r.Run(context.Background(), Name, importer.Options{})

	// Then: the run stops on the second mark
	if !errors.Is(err, modelsync.ErrAlreadyMarked) {
		t.Fatalf("err = %v, want ErrAlreadyMarked", err)
	}
	if run.Status != types.RunFailed {
		t.Errorf("status = %s, want failed", run.Status)
	}
}

func TestImportPlaces_FetchFailure(t *testing.T) {
	r, _, feed := newTestRunner(t)
	feed.fail = true

	run, err := r.Run(context.Background(), Name, importer.Options{})

	if err == nil || run.Status != types.RunFailed {
		t.Errorf("run = %+v, err = %v", run, err)
	}
}

func TestMapUnit(t *testing.T) {
	u := library()
	u.WWWEn = "https://example.com/" + strings.Repeat("x", maxInfoURLLength)

	d := mapUnit(u, "ahjo:U021600")

	if d.OriginID != "8215" || d.DataSourceID != Name {
		t.Errorf("key = %s:%s", d.DataSourceID, d.OriginID)
	}
	if d.Name.Get("fi") != "Kallion kirjasto" {
		t.Errorf("name = %q", d.Name.Get("fi"))
	}
	if _, ok := d.InfoURL["en"]; ok {
		t.Error("over-long www address should be dropped")
	}
	if d.InfoURL.Get("fi") == "" {
		t.Error("finnish www address should be kept")
	}
}
