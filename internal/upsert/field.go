package upsert

import (
	"maps"
	"slices"
	"time"

	"github.com/hyperengineering/linkedevents/internal/types"
)

// FieldResult is the outcome of applying one incoming field.
type FieldResult int

const (
	FieldUnchanged FieldResult = iota
	FieldSet
	// FieldSkippedUserEdit means a user edit took precedence.
	FieldSkippedUserEdit
	// FieldRejected means the incoming value was invalid and ignored.
	FieldRejected
)

func (r FieldResult) String() string {
	switch r {
	case FieldSet:
		return "set"
	case FieldSkippedUserEdit:
		return "skipped_user_edit"
	case FieldRejected:
		return "rejected"
	default:
		return "unchanged"
	}
}

// Report maps field names to their outcome for one upsert.
type Report map[string]FieldResult

// With returns the fields that ended with result r, sorted.
func (r Report) With(result FieldResult) []string {
	var out []string
	for f, res := range r {
		if res == result {
			out = append(out, f)
		}
	}
	slices.Sort(out)
	return out
}

// fieldSetter applies incoming values under the edit precedence rules.
type fieldSetter struct {
	policy     *Policy
	userEdited bool
	tracking   *types.Tracking
	report     Report
}

func (f *fieldSetter) record(name string, r FieldResult) {
	f.report[name] = r
	if r == FieldSet {
		f.tracking.MarkChanged(name)
	}
}

// apply is the shared rule: protected values on user-edited entities are
// never blanked, and anything else that differs is set. Empty values only
// count for fields the feed supplies.
func apply[V any](f *fieldSetter, name string, cur *V, in V, empty func(V) bool, equal func(a, b V) bool) {
	if empty(in) && !f.policy.supplied(name) {
		f.record(name, FieldUnchanged)
		return
	}
	if equal(*cur, in) {
		f.record(name, FieldUnchanged)
		return
	}
	if f.userEdited && (f.policy.StrictUserEdits || (empty(in) && f.policy.protected(name))) {
		f.record(name, FieldSkippedUserEdit)
		return
	}
	*cur = in
	f.record(name, FieldSet)
}

func (f *fieldSetter) translated(name string, cur *types.Translated, in types.Translated) {
	apply(f, name, cur, in.Clone(), types.Translated.IsEmpty, types.Translated.Equal)
}

func (f *fieldSetter) str(name string, cur *string, in string) {
	apply(f, name, cur, in,
		func(v string) bool { return v == "" },
		func(a, b string) bool { return a == b })
}

func (f *fieldSetter) time(name string, cur *time.Time, in time.Time) {
	apply(f, name, cur, in, time.Time.IsZero, time.Time.Equal)
}

func (f *fieldSetter) timePtr(name string, cur **time.Time, in *time.Time) {
	apply(f, name, cur, in,
		func(v *time.Time) bool { return v == nil },
		func(a, b *time.Time) bool {
			if a == nil || b == nil {
				return a == b
			}
			return a.Equal(*b)
		})
}

func (f *fieldSetter) stringMap(name string, cur *map[string]string, in map[string]string) {
	apply(f, name, cur, maps.Clone(in),
		func(v map[string]string) bool { return len(v) == 0 },
		func(a, b map[string]string) bool { return maps.Equal(a, b) })
}

// flag always applies: booleans are how deleted entities are reinstated,
// so user edits do not hold them back.
func (f *fieldSetter) flag(name string, cur *bool, in bool) {
	if *cur == in {
		f.record(name, FieldUnchanged)
		return
	}
	*cur = in
	f.record(name, FieldSet)
}

// mergeSet reconciles a many-to-many association. User-edited entities get
// the union of old and new members for additive associations, so members
// a human added are never removed.
func (f *fieldSetter) mergeSet(name string, cur *[]string, in []string) {
	oldSet := normalizeSet(*cur)
	newSet := normalizeSet(in)
	if slices.Equal(oldSet, newSet) {
		f.record(name, FieldUnchanged)
		return
	}
	if f.userEdited && f.policy.additive(name) {
		if isSubset(newSet, oldSet) {
			f.record(name, FieldSkippedUserEdit)
			return
		}
		*cur = normalizeSet(append(slices.Clone(oldSet), newSet...))
		f.record(name, FieldSet)
		return
	}
	*cur = newSet
	f.record(name, FieldSet)
}

func normalizeSet(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func isSubset(sub, super []string) bool {
	for _, id := range sub {
		if _, ok := slices.BinarySearch(super, id); !ok {
			return false
		}
	}
	return true
}
