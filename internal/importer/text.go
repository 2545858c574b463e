package importer

import (
	"regexp"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

var whitespaceRun = regexp.MustCompile(`\s\s+`)

// CleanText collapses whitespace runs, replaces NUL bytes and trims.
func CleanText(s string) string {
	s = whitespaceRun.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "\x00", " ")
	return strings.TrimSpace(s)
}

// StripTags returns the text content of an HTML fragment with entities
// decoded. Block-level line breaks become newlines.
func StripTags(s string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or broken markup: keep what was read.
			return strings.TrimSpace(b.String())
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "br", "p", "div", "li":
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
					b.WriteByte('\n')
				}
			}
		}
	}
}

// FirstImageSrc returns the src of the first img element in an HTML
// fragment.
func FirstImageSrc(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "img" {
				continue
			}
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				if string(key) == "src" {
					return string(val)
				}
			}
		}
	}
}

// SanitizeHTML keeps the allowed elements of an HTML fragment and drops
// the markup of every other element, keeping its text. Links keep only
// their href.
func SanitizeHTML(s string, allowed ...string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.WriteString(html.EscapeString(string(z.Text())))
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if !slices.Contains(allowed, tag) {
				continue
			}
			if tt == html.EndTagToken {
				b.WriteString("</" + tag + ">")
				continue
			}
			b.WriteString("<" + tag)
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				if tag == "a" && string(key) == "href" {
					b.WriteString(` href="` + html.EscapeString(string(val)) + `"`)
				}
			}
			if tt == html.SelfClosingTagToken {
				b.WriteString(" /")
			}
			b.WriteString(">")
		}
	}
}
