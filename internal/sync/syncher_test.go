package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/hyperengineering/linkedevents/internal/types"
)

type item struct {
	id      string
	deleted bool
	types.Tracking
}

func (i *item) EntityID() string { return i.id }

func itemID(i *item) string { return i.id }

// sliceSeeder pages over items the way the store does, recording calls.
type sliceSeeder struct {
	items []*item
	calls int
}

func (s *sliceSeeder) seed(_ context.Context, afterID string, limit int) ([]*item, error) {
	s.calls++
	var page []*item
	for _, it := range s.items {
		if it.id > afterID {
			page = append(page, it)
		}
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

// recordingPolicy soft-deletes items and records what it was asked to do.
type recordingPolicy struct {
	vetoed  map[string]bool
	deleted []string
	err     error
}

func (p *recordingPolicy) IsDeleted(i *item) bool { return i.deleted }

func (p *recordingPolicy) MayDelete(_ context.Context, i *item) (bool, error) {
	return !p.vetoed[i.id], nil
}

func (p *recordingPolicy) Delete(_ context.Context, i *item) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	if i.deleted {
		return false, nil
	}
	i.deleted = true
	p.deleted = append(p.deleted, i.id)
	return true, nil
}

func seededItems(n int) []*item {
	items := make([]*item, n)
	for i := range items {
		items[i] = &item{id: fmt.Sprintf("ds:%03d", i+1)}
	}
	return items
}

func newSyncher(t *testing.T, items []*item, policy DeletionPolicy[*item], opts ...Option) *Syncher[*item] {
	t.Helper()
	seeder := &sliceSeeder{items: items}
	s, err := New(context.Background(), seeder.seed, itemID, policy, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNew_SeedsInChunks(t *testing.T) {
	// Given: 25 stored items and a chunk size of 10
	seeder := &sliceSeeder{items: seededItems(25)}

	// When: seeding
	s, err := New(context.Background(), seeder.seed, itemID, &recordingPolicy{}, WithChunkSize(10))
	if err != nil {
		t.Fatal(err)
	}

	// Then: every item is tracked after three pages
	if s.Len() != 25 {
		t.Errorf("Len() = %d, want 25", s.Len())
	}
	if seeder.calls != 3 {
		t.Errorf("seeder calls = %d, want 3", seeder.calls)
	}
}

func TestNew_RequiresPolicy(t *testing.T) {
	_, err := New[*item](context.Background(), nil, itemID, nil)
	if !errors.Is(err, ErrNoPolicy) {
		t.Errorf("err = %v, want ErrNoPolicy", err)
	}
}

func TestNew_SeederError(t *testing.T) {
	boom := errors.New("db down")
	_, err := New(context.Background(), func(context.Context, string, int) ([]*item, error) {
		return nil, boom
	}, itemID, &recordingPolicy{})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped seeder error", err)
	}
}

func TestMark_Twice(t *testing.T) {
	// Given: a session with one seeded item that is already marked
	items := seededItems(1)
	s := newSyncher(t, items, &recordingPolicy{})
	if err := s.Mark(items[0]); err != nil {
		t.Fatal(err)
	}
	before := s.result.Marked

	// When: the same id is marked again, even through another instance
	err := s.Mark(&item{id: items[0].id})

	// Then: it fails and nothing changed
	if !errors.Is(err, ErrAlreadyMarked) {
		t.Fatalf("err = %v, want ErrAlreadyMarked", err)
	}
	if s.result.Marked != before {
		t.Errorf("Marked changed from %d to %d", before, s.result.Marked)
	}
	if got, _ := s.Get(items[0].id); got != items[0] {
		t.Error("tracked instance was replaced by the rejected mark")
	}
}

func TestMark_NewAndSeeded(t *testing.T) {
	items := seededItems(2)
	s := newSyncher(t, items, &recordingPolicy{})

	fresh := &item{id: items[0].id}
	fresh.Changed = true
	created := &item{id: "ds:new"}
	created.Created = true

	for _, it := range []*item{fresh, created} {
		if err := s.Mark(it); err != nil {
			t.Fatal(err)
		}
	}

	if got, ok := s.Get(items[0].id); !ok || got != fresh {
		t.Error("Get should return the marked instance")
	}
	if _, ok := s.Get("ds:new"); !ok {
		t.Error("unseeded id should be tracked after Mark")
	}
	if s.result.Created != 1 || s.result.Changed != 1 || s.result.Marked != 2 {
		t.Errorf("result = %+v", s.result)
	}
	if !s.IsMarked("ds:new") || s.IsMarked(items[1].id) {
		t.Error("IsMarked mismatch")
	}
}

func TestFinish_SetDifference(t *testing.T) {
	// Given: ten seeded items, one of them already deleted
	items := seededItems(10)
	items[9].deleted = true
	policy := &recordingPolicy{}
	s := newSyncher(t, items, policy)

	// When: all but items 3 and 10 are marked
	for i, it := range items {
		if i == 2 || i == 9 {
			continue
		}
		if err := s.Mark(it); err != nil {
			t.Fatal(err)
		}
	}
	res, err := s.Finish(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}

	// Then: exactly the unmarked, not yet deleted item goes
	if !slices.Equal(policy.deleted, []string{"ds:003"}) {
		t.Errorf("deleted = %v, want [ds:003]", policy.deleted)
	}
	if res.Deleted != 1 || res.Seeded != 10 || res.Marked != 8 {
		t.Errorf("result = %+v", res)
	}
	if s.IsMarked(items[0].id) {
		t.Error("found flags should be reset by Finish")
	}
}

func TestFinish_SafetyGuard(t *testing.T) {
	tests := []struct {
		name       string
		seeded     int
		marked     int
		force      bool
		wantErr    bool
		wantDelete int
	}{
		{"five deletions always allowed", 10, 5, false, false, 5},
		{"six of thirty is exactly twenty percent", 30, 24, false, false, 6},
		{"six of ten refused", 10, 4, false, true, 0},
		{"seven of thirty refused", 30, 23, false, true, 0},
		{"force overrides", 10, 0, true, false, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := seededItems(tt.seeded)
			policy := &recordingPolicy{}
			s := newSyncher(t, items, policy)
			for _, it := range items[:tt.marked] {
				if err := s.Mark(it); err != nil {
					t.Fatal(err)
				}
			}

			_, err := s.Finish(context.Background(), tt.force)

			if tt.wantErr != errors.Is(err, ErrTooManyDeletions) {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(policy.deleted) != tt.wantDelete {
				t.Errorf("deleted %d, want %d", len(policy.deleted), tt.wantDelete)
			}
		})
	}
}

func TestFinish_VetoDeletesNothing(t *testing.T) {
	// Given: three candidates, the last of which is vetoed
	items := seededItems(20)
	policy := &recordingPolicy{vetoed: map[string]bool{"ds:020": true}}
	s := newSyncher(t, items, policy)
	for _, it := range items[:17] {
		if err := s.Mark(it); err != nil {
			t.Fatal(err)
		}
	}

	// When: finishing
	_, err := s.Finish(context.Background(), false)

	// Then: the veto names the entity and nothing was deleted
	if !errors.Is(err, ErrDeletionVetoed) {
		t.Fatalf("err = %v, want ErrDeletionVetoed", err)
	}
	if len(policy.deleted) != 0 {
		t.Errorf("deleted = %v, want none", policy.deleted)
	}
}

func TestFinish_Terminal(t *testing.T) {
	s := newSyncher(t, seededItems(1), &recordingPolicy{})
	if _, err := s.Finish(context.Background(), true); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Finish(context.Background(), true); !errors.Is(err, ErrFinished) {
		t.Errorf("second Finish = %v, want ErrFinished", err)
	}
	if err := s.Mark(&item{id: "ds:x"}); !errors.Is(err, ErrFinished) {
		t.Errorf("Mark after Finish = %v, want ErrFinished", err)
	}
}

func TestFinish_DeleteError(t *testing.T) {
	boom := errors.New("constraint failed")
	s := newSyncher(t, seededItems(1), &recordingPolicy{err: boom})

	_, err := s.Finish(context.Background(), true)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped delete error", err)
	}
}

func TestSyncher_EndToEnd(t *testing.T) {
	// Given: stored {ds:1, ds:2, ds:3}
	stored := []*item{{id: "ds:1"}, {id: "ds:2"}, {id: "ds:3"}}
	policy := &recordingPolicy{}
	s := newSyncher(t, stored, policy)

	// When: the run sees 1 and 3 unchanged and creates 4
	created := &item{id: "ds:4"}
	created.Created = true
	for _, it := range []*item{{id: "ds:1"}, {id: "ds:3"}, created} {
		if err := s.Mark(it); err != nil {
			t.Fatal(err)
		}
	}
	res, err := s.Finish(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}

	// Then: only ds:2 is deleted, ds:4 counts as created
	if !slices.Equal(res.DeletedIDs, []string{"ds:2"}) {
		t.Errorf("DeletedIDs = %v, want [ds:2]", res.DeletedIDs)
	}
	if res.Created != 1 || res.Unchanged != 2 || res.Changed != 0 {
		t.Errorf("result = %+v", res)
	}
	if stored[0].deleted || stored[2].deleted || !stored[1].deleted {
		t.Error("wrong items deleted")
	}
}

func TestEntityID(t *testing.T) {
	if got := EntityID(&item{id: "ds:9"}); got != "ds:9" {
		t.Errorf("EntityID() = %q", got)
	}
}
