package importer

import "testing"

func TestCleanText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Kallion   kirjasto ", "Kallion kirjasto"},
		{"Rivi\n\n\tToinen", "Rivi Toinen"},
		{"nul\x00byte", "nul byte"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CleanText(tt.in); got != tt.want {
			t.Errorf("CleanText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStripTags(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"<p>Satutunti <b>lapsille</b></p>", "Satutunti lapsille"},
		{"Rivi<br>Toinen", "Rivi\nToinen"},
		{"Tom &amp; Jerry", "Tom & Jerry"},
		{"ei merkintää", "ei merkintää"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := StripTags(tt.in); got != tt.want {
			t.Errorf("StripTags(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFirstImageSrc(t *testing.T) {
	in := `<div><img alt="kuva" src="/Images/satu.jpg"/><img src="/toinen.jpg"></div>`
	if got := FirstImageSrc(in); got != "/Images/satu.jpg" {
		t.Errorf("FirstImageSrc = %q", got)
	}
	if got := FirstImageSrc("<p>ei kuvaa</p>"); got != "" {
		t.Errorf("FirstImageSrc without img = %q", got)
	}
}

func TestSanitizeHTML(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`<p>Hei <span class="x">maailma</span></p>`, "<p>Hei maailma</p>"},
		{`<a href="https://example.com" onclick="x()">linkki</a>`, `<a href="https://example.com">linkki</a>`},
		{`rivi<br/>toinen`, "rivi<br />toinen"},
		{`<script>alert(1)</script>`, "alert(1)"},
		{`Tom &amp; Jerry`, "Tom &amp; Jerry"},
	}
	for _, tt := range tests {
		if got := SanitizeHTML(tt.in, "p", "a", "br"); got != tt.want {
			t.Errorf("SanitizeHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
