// Package links extracts outgoing hyperlinks from rendered markup.
package links

import (
	"bytes"
	"io"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
)

// Scan returns the absolute http and https targets of every anchor href in
// body, in order of first appearance, with duplicates removed. Malformed
// markup is scanned on a best effort basis; Scan never fails.
func Scan(body []byte, contentType string) []string {
	var found []string
	seen := make(map[string]bool)
	z := html.NewTokenizer(bytes.NewReader(Decode(body, contentType)))
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or a read error, either way there is nothing more.
			return found
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "a" || !hasAttr {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				if string(key) == "href" {
					if href, ok := absolute(string(val)); ok && !seen[href] {
						seen[href] = true
						found = append(found, href)
					}
				}
				if !more {
					break
				}
			}
		}
	}
}

func absolute(href string) (string, bool) {
	href = strings.TrimSpace(href)
	u, err := url.Parse(href)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", false
	}
	switch u.Scheme {
	case "http", "https":
		return href, true
	default:
		return "", false
	}
}

// Decode returns body re-encoded as UTF-8. The source encoding is taken
// from a byte order mark, the contentType parameter, or a <meta> charset
// declaration, in that order. Bodies which already are valid UTF-8 and
// declare nothing else are returned unchanged.
func Decode(body []byte, contentType string) []byte {
	enc, name, _ := charset.DetermineEncoding(body, contentType)
	if name == "utf-8" && utf8.Valid(body) {
		return body
	}
	if enc == nil || enc == encoding.Nop {
		return body
	}
	r := enc.NewDecoder().Reader(bytes.NewReader(body))
	decoded, err := io.ReadAll(r)
	if err != nil {
		return bytes.ToValidUTF8(body, []byte("�"))
	}
	return decoded
}
