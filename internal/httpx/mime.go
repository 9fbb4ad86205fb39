package httpx

import (
	"net/http"
	"strings"
)

// MediaType returns the media type named by the Content-Type header, lower
// cased and without parameters.
func MediaType(h http.Header) string {
	typ := strings.TrimSpace(strings.Split(h.Get("Content-Type"), ";")[0])
	return strings.ToLower(typ)
}
