package mf2

import (
	"strings"

	"willnorris.com/go/microformats"
)

// Kind is the relationship between a remote entry and a local target.
type Kind int

const (
	KindNone Kind = iota
	KindMention
	KindReply
	KindLike
	KindBookmark
	KindRepost
	KindRead
)

func (k Kind) String() string {
	switch k {
	case KindMention:
		return "mention"
	case KindReply:
		return "reply"
	case KindLike:
		return "like"
	case KindBookmark:
		return "bookmark"
	case KindRepost:
		return "repost"
	case KindRead:
		return "read"
	default:
		return "none"
	}
}

// ParseKind is the inverse of Kind.String. Unknown values map to KindNone.
func ParseKind(s string) Kind {
	for k := KindNone; k <= KindRead; k++ {
		if k.String() == s {
			return k
		}
	}
	return KindNone
}

// rule maps a set of mf2 properties to a Kind.
type rule struct {
	kind       Kind
	properties []string
}

// rules are evaluated in order and every match overwrites the previous
// one, so a later rule takes precedence over an earlier one. An entry which
// both likes and replies to the target is a reply; one which bookmarks it
// is a bookmark whatever else it does.
var rules = []rule{
	{KindRead, []string{"read-of"}},
	{KindRepost, []string{"repost-of"}},
	{KindLike, []string{"like-of", "favorite-of"}},
	{KindReply, []string{"in-reply-to"}},
	{KindBookmark, []string{"bookmark-of"}},
}

// kindOf returns the Kind of the entry with the given properties relative
// to target, or KindNone if no property references target.
func kindOf(props map[string][]interface{}, target string) Kind {
	kind := KindNone
	for _, r := range rules {
		for _, prop := range r.properties {
			if references(props[prop], target) {
				kind = r.kind
			}
		}
	}
	return kind
}

// references reports whether any of values refers to target, either as a
// bare URL or as the url of an embedded h-cite or h-entry.
func references(values []interface{}, target string) bool {
	for _, v := range values {
		switch v := v.(type) {
		case string:
			if sameURL(v, target) {
				return true
			}
		case *microformats.Microformat:
			if sameURL(v.Value, target) {
				return true
			}
			for _, u := range v.Properties["url"] {
				if s, ok := u.(string); ok && sameURL(s, target) {
					return true
				}
			}
		case map[string]string:
			if sameURL(v["value"], target) {
				return true
			}
		case map[string]interface{}:
			if s, ok := v["value"].(string); ok && sameURL(s, target) {
				return true
			}
		}
	}
	return false
}

// sameURL compares two URLs ignoring surrounding space and a trailing slash.
func sameURL(a, b string) bool {
	a = strings.TrimSuffix(strings.TrimSpace(a), "/")
	b = strings.TrimSuffix(strings.TrimSpace(b), "/")
	return a != "" && a == b
}
