package validation

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/linkedevents/internal/types"
)

func validPlace() *types.Place {
	return &types.Place{
		Base: types.Base{ID: "tprek:1", DataSourceID: "tprek", OriginID: "1"},
		Name: types.Translated{"fi": "Kirjasto"},
	}
}

func TestEntity_ValidPlace(t *testing.T) {
	if err := Entity(validPlace()); err != nil {
		t.Fatalf("Entity() = %v, want nil", err)
	}
}

func TestEntity_MissingName(t *testing.T) {
	// Given: a place whose name holds only blank translations
	p := validPlace()
	p.Name = types.Translated{"fi": "  "}

	// When: validating
	err := Entity(p)

	// Then: the error unwraps to ErrInvalid and names the field
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("errors.Is(err, ErrInvalid) = false, err = %v", err)
	}
	var verrs Errors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected Errors, got %T", err)
	}
	if len(verrs) != 1 || verrs[0].Field != "name" {
		t.Errorf("errors = %+v, want one error on name", verrs)
	}
}

func TestEntity_MissingIdentity(t *testing.T) {
	p := validPlace()
	p.ID = ""
	p.OriginID = ""

	var verrs Errors
	if !errors.As(Entity(p), &verrs) {
		t.Fatal("expected Errors")
	}
	if len(verrs) != 2 {
		t.Errorf("got %d errors, want 2: %+v", len(verrs), verrs)
	}
}

func TestEntity_EventRequiresStartAndStatus(t *testing.T) {
	// Given: an event without start time or status
	e := &types.Event{
		Base: types.Base{ID: "helmet:1", DataSourceID: "helmet", OriginID: "1"},
		Name: types.Translated{"fi": "Satutunti"},
	}

	// When: validating
	var verrs Errors
	if !errors.As(Entity(e), &verrs) {
		t.Fatal("expected Errors")
	}

	// Then: both fields are reported
	fields := map[string]bool{}
	for _, fe := range verrs {
		fields[fe.Field] = true
	}
	if !fields["start_time"] || !fields["event_status"] {
		t.Errorf("fields = %v, want start_time and event_status", fields)
	}

	// When: the fields are filled in
	e.StartTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	e.Status = types.EventScheduled

	// Then: the event is valid
	if err := Entity(e); err != nil {
		t.Errorf("Entity() = %v, want nil", err)
	}
}

func TestErrors_Message(t *testing.T) {
	err := Errors{{Field: "name", Message: "is required"}}
	if got, want := err.Error(), "validation failed: name is required"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestText(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		max     int
		wantMsg string
	}{
		{"clean", "Keskustakirjasto Oodi", 200, ""},
		{"scandinavian", "Töölön kirjasto, Åbo", 200, ""},
		{"empty", "", 200, ""},
		{"invalid bytes", string([]byte{0xff, 0xfe}), 200, "must be valid UTF-8"},
		{"null byte", "a\x00b", 200, "must not contain null bytes"},
		{"at limit", strings.Repeat("ä", 200), 200, ""},
		{"too long", strings.Repeat("ä", 201), 200, "exceeds maximum length of 200 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := Text("single", tt.value, tt.max)
			switch {
			case tt.wantMsg == "" && fe != nil:
				t.Errorf("Text() = %+v, want nil", fe)
			case tt.wantMsg != "" && (fe == nil || fe.Message != tt.wantMsg || fe.Field != "single"):
				t.Errorf("Text() = %+v, want %q", fe, tt.wantMsg)
			}
		})
	}
}

func TestOneOf(t *testing.T) {
	kinds := []string{"keywords", "places", "events"}
	if fe := OneOf("kinds[0]", "places", kinds); fe != nil {
		t.Errorf("OneOf(places) = %+v", fe)
	}

	// Given: a value differing only by case
	fe := OneOf("kinds[0]", "Places", kinds)

	// Then: it is rejected and the message lists the allowed values
	if fe == nil || !strings.Contains(fe.Message, "keywords, places, events") {
		t.Errorf("OneOf(Places) = %+v", fe)
	}
}

func TestIntRange(t *testing.T) {
	for value, wantErr := range map[int]bool{0: true, 1: false, 500: false, 501: true} {
		if fe := IntRange("limit", value, 1, 500); (fe != nil) != wantErr {
			t.Errorf("IntRange(%d) = %+v, wantErr %v", value, fe, wantErr)
		}
	}
}

func TestErrors_Add(t *testing.T) {
	// Given: checks that pass and fail
	var errs Errors
	errs.Add(nil)
	errs.Add(OneOf("f1", "x", []string{"a"}))
	errs.Add(OneOf("f2", "a", []string{"a"}))
	errs.Add(IntRange("f3", 9, 1, 2))

	// Then: only failures are kept, in order, and the list is an error
	if len(errs) != 2 || errs[0].Field != "f1" || errs[1].Field != "f3" {
		t.Fatalf("errs = %+v, want f1 and f3", errs)
	}
	if !errors.Is(errs, ErrInvalid) {
		t.Error("Errors does not unwrap to ErrInvalid")
	}
}
