package webmention

import (
	"html"
	"net/http"

	"github.com/tomnomnom/linkheader"
)

// LinkHeader returns the value of a Link header advertising endpoint.
func LinkHeader(endpoint string) string {
	return linkheader.Link{URL: endpoint, Rel: "webmention"}.String()
}

// LinkElement returns a <link> element advertising endpoint.
func LinkElement(endpoint string) string {
	return `<link rel="webmention" href="` + html.EscapeString(endpoint) + `">`
}

// Advertise adds a Link header advertising endpoint to every response.
func Advertise(endpoint string) func(http.Handler) http.Handler {
	link := LinkHeader(endpoint)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Link", link)
			next.ServeHTTP(w, r)
		})
	}
}
