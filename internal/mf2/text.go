package mf2

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	htmlx "golang.org/x/net/html"
)

// Text returns the text content of the HTML fragment s with all markup
// removed and entities decoded, trimmed of surrounding space.
func Text(s string) string {
	var b strings.Builder
	z := htmlx.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		switch z.Next() {
		case htmlx.ErrorToken:
			return strings.TrimSpace(b.String())
		case htmlx.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case htmlx.StartTagToken:
			if name, _ := z.TagName(); isRawText(string(name)) {
				skip++
			}
		case htmlx.EndTagToken:
			if name, _ := z.TagName(); isRawText(string(name)) && skip > 0 {
				skip--
			}
		}
	}
}

func isRawText(tag string) bool {
	return tag == "script" || tag == "style"
}

// Normalize returns the text of s with runs of white space collapsed, for
// comparing two renditions of the same content.
func Normalize(s string) string {
	return strings.Join(strings.Fields(Text(s)), " ")
}

// sanitizer permits a small set of inline and block elements and http(s)
// links.
var sanitizer = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "b", "strong", "i", "em", "u", "s", "del", "ins",
		"blockquote", "q", "cite", "code", "pre", "ul", "ol", "li", "abbr", "sub", "sup")
	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("title").OnElements("abbr")
	p.RequireParseableURLs(true)
	p.AllowURLSchemes("http", "https", "mailto")
	return p
}()

// Sanitize removes every element and attribute of s which is not on the
// allow list.
func Sanitize(s string) string {
	return strings.TrimSpace(sanitizer.Sanitize(s))
}

// Excerpt returns the first n words of text, HTML escaped, followed by an
// ellipsis if text was longer.
func Excerpt(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return html.EscapeString(strings.Join(words, " "))
	}
	return html.EscapeString(strings.Join(words[:n], " ")) + " …"
}
