package mf2

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// maxAnchorText is the longest anchor text kept verbatim.
	maxAnchorText = 100
	// contextChars is the amount of text kept either side of the anchor.
	contextChars = 200
)

var (
	whitespace = regexp.MustCompile(`\s+`)
	blockTags  = regexp.MustCompile(`(?i)</?(?:h[1-6]|p|td|th|li|pre|input|select|option|textarea|button|body)\b[^>]*>`)
	scripts    = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	styles     = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`)
	anyTag     = regexp.MustCompile(`</?([a-zA-Z][a-zA-Z0-9:-]*)\b[^>]*>`)
	anchors    = regexp.MustCompile(`(?is)<a\b([^>]*)>(.*?)</a\s*>`)
	hrefAttr   = regexp.MustCompile(`(?is)\bhref\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s>]+))`)
)

// Extract returns the text surrounding the first anchor in doc which links
// to target, formatted as "[…] excerpt […]", or the empty string if no
// paragraph of doc links to target.
//
// doc is split into paragraphs at block level tags. The first paragraph
// which mentions target and contains an anchor whose href is target is
// used; anchor text longer than 100 characters is shortened, and at most
// 200 characters of text either side of the anchor are kept, cut at word
// boundaries. The result is HTML escaped.
func Extract(doc, target string) string {
	if target == "" {
		return ""
	}
	s := whitespace.ReplaceAllString(doc, " ")
	s = blockTags.ReplaceAllString(s, "\n\n$0\n\n")
	s = scripts.ReplaceAllString(s, "")
	s = styles.ReplaceAllString(s, "")
	s = stripTags(s, "a")

	for _, para := range strings.Split(s, "\n\n") {
		if !strings.Contains(html.UnescapeString(para), target) {
			continue
		}
		if excerpt, ok := excerptAround(para, target); ok {
			return "[…] " + excerpt + " […]"
		}
	}
	return ""
}

// excerptAround returns the context around the first anchor in para whose
// href is target.
func excerptAround(para, target string) (string, bool) {
	for _, m := range anchors.FindAllStringSubmatchIndex(para, -1) {
		attrs := para[m[2]:m[3]]
		if hrefOf(attrs) != target {
			continue
		}
		text := strings.TrimSpace(stripTags(para[m[4]:m[5]]))
		if utf8.RuneCountInString(text) > maxAnchorText {
			text = string([]rune(text)[:maxAnchorText]) + "…"
		}

		// swap the anchor for a marker, strip everything else, then
		// split either side of the marker.
		marker := "\x00" + uuid.NewString() + "\x00"
		marked := para[:m[0]] + marker + para[m[1]:]
		plain := stripTags(marked)
		before, after, _ := strings.Cut(plain, marker)

		excerpt := trimBefore(before, contextChars) + text + trimAfter(after, contextChars)
		excerpt = strings.TrimSpace(whitespace.ReplaceAllString(excerpt, " "))
		return html.EscapeString(html.UnescapeString(excerpt)), true
	}
	return "", false
}

// hrefOf returns the decoded href attribute from a tag's attribute text.
func hrefOf(attrs string) string {
	m := hrefAttr.FindStringSubmatch(attrs)
	if m == nil {
		return ""
	}
	for _, v := range m[1:] {
		if v != "" {
			return strings.TrimSpace(html.UnescapeString(v))
		}
	}
	return ""
}

// stripTags removes every tag from s except those named in keep.
func stripTags(s string, keep ...string) string {
	return anyTag.ReplaceAllStringFunc(s, func(tag string) string {
		name := strings.ToLower(anyTag.FindStringSubmatch(tag)[1])
		for _, k := range keep {
			if name == k {
				return tag
			}
		}
		return ""
	})
}

// trimBefore keeps at most n characters from the end of s, dropping any
// partial word at the start of the kept text.
func trimBefore(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	s = string(r[len(r)-n:])
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[i:]
	}
	return s
}

// trimAfter keeps at most n characters from the start of s, dropping any
// partial word at the end of the kept text.
func trimAfter(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	s = string(r[:n])
	if i := strings.LastIndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	return s
}
