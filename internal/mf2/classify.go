// Package mf2 classifies a remote microformats2 document relative to a
// local target URL.
package mf2

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"willnorris.com/go/microformats"
)

const (
	// maxVerbatim is the longest content, as text, used as is.
	maxVerbatim = 500
	// excerptWords is the length of the fallback excerpt.
	excerptWords = 25
)

// Result is the classification of a remote document.
type Result struct {
	Kind      Kind
	Author    string
	AuthorURL string
	AvatarURL string
	Published time.Time
	// Content is sanitized HTML.
	Content string
	// URL is the canonical URL of the entry, or the source URL.
	URL string
}

// Classify parses doc, fetched from source, and describes its relationship
// with target.
//
// The first h-entry, either at the top level or inside an h-feed, which
// references target wins. Failing that the first top level h-entry is
// returned with KindNone. A document without any h-entry produces a Result
// with KindNone and whatever context could be extracted from the raw
// markup. Classify never fails.
func Classify(doc []byte, source, target string) (res *Result) {
	fallback := &Result{
		Kind: KindNone,
		URL:  source,
	}
	defer func() {
		if r := recover(); r != nil {
			res = fallback
		}
	}()

	base, err := url.Parse(source)
	if err != nil {
		base = new(url.URL)
	}
	var first *Result
	data := microformats.Parse(bytes.NewReader(doc), base)
	for _, item := range data.Items {
		switch {
		case hasType(item, "h-entry"):
			res := classifyEntry(item, doc, source, target)
			if res.Kind != KindNone {
				return res
			}
			if first == nil {
				first = res
			}
		case hasType(item, "h-feed"):
			for _, child := range entries(item) {
				res := classifyEntry(child, doc, source, target)
				if res.Kind == KindNone {
					continue
				}
				if res.Author == "" {
					res.Author, res.AuthorURL, res.AvatarURL = authorOf(item.Properties)
					if msg := cannedMessage(res.Kind, res.Author); msg != "" {
						res.Content = msg
					}
				}
				return res
			}
		}
	}
	if first != nil {
		return first
	}
	fallback.Content = Extract(string(doc), target)
	return fallback
}

// classifyEntry classifies a single h-entry.
func classifyEntry(entry *microformats.Microformat, doc []byte, source, target string) *Result {
	props := entry.Properties
	contentHTML, contentText := contentOf(props)

	res := &Result{
		Kind:      kindOf(props, target),
		Published: parseTime(firstString(props["published"])),
		URL:       firstString(props["url"]),
	}
	// an implied u-url can be the only link in the entry, the target.
	if res.URL == "" || sameURL(res.URL, target) {
		res.URL = source
	}
	res.Author, res.AuthorURL, res.AvatarURL = authorOf(props)

	if res.Kind == KindNone && strings.Contains(contentHTML, target) {
		res.Kind = KindMention
	}

	if msg := cannedMessage(res.Kind, res.Author); msg != "" {
		res.Content = msg
		return res
	}
	switch {
	case utf8.RuneCountInString(contentText) <= maxVerbatim:
		res.Content = Sanitize(contentHTML)
	default:
		res.Content = Extract(string(doc), target)
		if res.Content == "" {
			res.Content = Excerpt(contentText, excerptWords)
		}
	}
	return res
}

// cannedMessage returns the fixed body used for kinds which carry no
// meaningful content of their own.
func cannedMessage(kind Kind, author string) string {
	if author == "" {
		author = "Someone"
	}
	switch kind {
	case KindBookmark:
		return fmt.Sprintf("%s bookmarked this!", author)
	case KindLike:
		return fmt.Sprintf("%s liked this!", author)
	case KindRepost:
		return fmt.Sprintf("%s reposted this!", author)
	case KindRead:
		return fmt.Sprintf("%s (wants to) read this!", author)
	default:
		return ""
	}
}

// contentOf returns the HTML and text of the entry's content, falling
// back to its summary and name.
func contentOf(props map[string][]interface{}) (string, string) {
	for _, name := range []string{"content", "summary", "name"} {
		for _, v := range props[name] {
			switch v := v.(type) {
			case string:
				if strings.TrimSpace(v) != "" {
					return v, Text(v)
				}
			case map[string]string:
				if h := v["html"]; strings.TrimSpace(h) != "" {
					return h, Text(h)
				}
				if t := v["value"]; strings.TrimSpace(t) != "" {
					return t, Text(t)
				}
			case map[string]interface{}:
				if h, _ := v["html"].(string); strings.TrimSpace(h) != "" {
					return h, Text(h)
				}
				if t, _ := v["value"].(string); strings.TrimSpace(t) != "" {
					return t, Text(t)
				}
			}
		}
	}
	return "", ""
}

// authorOf returns the name, url and photo of the entry's author.
func authorOf(props map[string][]interface{}) (name, link, photo string) {
	for _, v := range props["author"] {
		switch v := v.(type) {
		case *microformats.Microformat:
			name = firstString(v.Properties["name"])
			link = firstString(v.Properties["url"])
			photo = firstString(v.Properties["photo"])
			if name == "" && link == "" {
				name = strings.TrimSpace(v.Value)
			}
		case string:
			if u, err := url.Parse(v); err == nil && u.IsAbs() {
				link = v
			} else {
				name = strings.TrimSpace(v)
			}
		}
		if name != "" || link != "" {
			return name, link, photo
		}
	}
	return "", "", ""
}

// entries returns the h-entry children of a feed.
func entries(feed *microformats.Microformat) []*microformats.Microformat {
	var found []*microformats.Microformat
	for _, child := range feed.Children {
		if hasType(child, "h-entry") {
			found = append(found, child)
		}
	}
	return found
}

func hasType(item *microformats.Microformat, typ string) bool {
	for _, t := range item.Type {
		if t == typ {
			return true
		}
	}
	return false
}

// firstString returns the first value which can be read as a string.
func firstString(values []interface{}) string {
	for _, v := range values {
		switch v := v.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case map[string]string:
			if s := strings.TrimSpace(v["value"]); s != "" {
				return s
			}
		case map[string]interface{}:
			if s, _ := v["value"].(string); strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		case *microformats.Microformat:
			if s := strings.TrimSpace(v.Value); s != "" {
				return s
			}
		}
	}
	return ""
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTime parses the date formats commonly found in dt-published. The
// zero time is returned for anything else.
func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
