package types

import (
	"slices"
	"testing"
)

func TestTranslated_SetSkipsEmpty(t *testing.T) {
	var tr Translated
	tr.Set(LangFinnish, "")
	if tr != nil {
		t.Fatalf("empty value allocated the map: %v", tr)
	}
	tr.Set(LangFinnish, "Kirjasto")
	if tr.Get(LangFinnish) != "Kirjasto" {
		t.Errorf("Get = %q", tr.Get(LangFinnish))
	}
	if tr.Get(LangSwedish) != "" {
		t.Errorf("missing language = %q", tr.Get(LangSwedish))
	}
}

func TestTranslated_Equal(t *testing.T) {
	tests := []struct {
		name string
		a, b Translated
		want bool
	}{
		{"both nil", nil, nil, true},
		{"nil and empty values", nil, Translated{"fi": ""}, true},
		{"same", Translated{"fi": "a", "sv": "b"}, Translated{"sv": "b", "fi": "a"}, true},
		{"empty value ignored", Translated{"fi": "a", "en": ""}, Translated{"fi": "a"}, true},
		{"different value", Translated{"fi": "a"}, Translated{"fi": "b"}, false},
		{"extra language", Translated{"fi": "a"}, Translated{"fi": "a", "sv": "a"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTranslated_CloneIsIndependent(t *testing.T) {
	orig := Translated{"fi": "a"}
	c := orig.Clone()
	c["fi"] = "b"
	if orig["fi"] != "a" {
		t.Error("clone shares storage")
	}
	if Translated(nil).Clone() != nil {
		t.Error("clone of nil is not nil")
	}
}

func TestObjectID(t *testing.T) {
	id := ObjectID("tprek", "8215")
	if id != "tprek:8215" {
		t.Fatalf("ObjectID = %q", id)
	}

	// Origin ids may contain colons; only the first separates the source.
	ds, origin, ok := SplitObjectID("matko:urn:poi:1")
	if !ok || ds != "matko" || origin != "urn:poi:1" {
		t.Errorf("SplitObjectID = %q %q %v", ds, origin, ok)
	}
	if _, _, ok := SplitObjectID("nocolon"); ok {
		t.Error("id without data source split")
	}
}

func TestTracking(t *testing.T) {
	var p Place
	p.MarkChanged("name")
	p.MarkChanged("name")
	p.MarkChanged("telephone")
	if !p.Changed || !slices.Equal(p.ChangedFields, []string{"name", "telephone"}) {
		t.Errorf("tracking = %+v", p.Tracking)
	}
	if p.Tracked() != &p.Tracking {
		t.Error("Tracked does not expose the embedded state")
	}
	p.ResetTracking()
	if p.Changed || p.Created || p.ChangedFields != nil {
		t.Errorf("after reset = %+v", p.Tracking)
	}
}

func TestBase_IsUserEdited(t *testing.T) {
	tests := []struct {
		name     string
		editable bool
		modifier string
		want     bool
	}{
		{"editable source, edited", true, "editor@example.com", true},
		{"editable source, untouched", true, "", false},
		{"read-only source", false, "editor@example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Base{UserEditableSource: tt.editable, LastModifiedBy: tt.modifier}
			if got := b.IsUserEdited(); got != tt.want {
				t.Errorf("IsUserEdited = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOffer_SimpleValue(t *testing.T) {
	a := Offer{IsFree: false, Price: Translated{"fi": "10 €", "en": "10 €"}}
	b := Offer{Price: Translated{"en": "10 €", "fi": "10 €", "sv": ""}}
	if a.SimpleValue() != b.SimpleValue() {
		t.Errorf("equal offers differ: %q vs %q", a.SimpleValue(), b.SimpleValue())
	}
	free := Offer{IsFree: true, Price: a.Price}
	if free.SimpleValue() == a.SimpleValue() {
		t.Error("free flag not part of the value")
	}
}
