package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/davecheney/mention/models"
	"github.com/stretchr/testify/require"
)

func TestWebmentionsCreate(t *testing.T) {
	db := setupTestDB(t)

	valid := url.Values{
		"source": {"https://remote.example/post"},
		"target": {"https://example.com/hello/"},
	}
	jsonBody := func() *http.Request {
		req := httptest.NewRequest("POST", "/webmention", strings.NewReader(`{"source":"https://remote.example/post","target":"https://example.com/hello/"}`))
		req.Header.Set("Content-Type", "application/json")
		return req
	}
	queryOnly := func() *http.Request {
		return httptest.NewRequest("POST", "/webmention?"+valid.Encode(), nil)
	}
	unsupported := func() *http.Request {
		req := httptest.NewRequest("POST", "/webmention", strings.NewReader("source"))
		req.Header.Set("Content-Type", "text/plain")
		return req
	}

	tc := []struct {
		name   string
		req    func() *http.Request
		status int
		code   string
	}{
		{"form", func() *http.Request { return form("/webmention", valid) }, http.StatusAccepted, ""},
		{"json", jsonBody, http.StatusAccepted, ""},
		{"query string", queryOnly, http.StatusAccepted, ""},
		{"missing source", func() *http.Request {
			return form("/webmention", url.Values{"target": valid["target"]})
		}, http.StatusBadRequest, "invalid_request"},
		{"malformed target", func() *http.Request {
			return form("/webmention", url.Values{"source": valid["source"], "target": {"hello"}})
		}, http.StatusBadRequest, "invalid_request"},
		{"unknown target", func() *http.Request {
			return form("/webmention", url.Values{"source": valid["source"], "target": {"https://example.com/goodbye/"}})
		}, http.StatusNotFound, "not_found"},
		{"unsupported media type", unsupported, http.StatusUnsupportedMediaType, "unsupported_media_type"},
	}
	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			tx := db.Begin()
			defer tx.Rollback()

			mockItem(t, tx, "hello", models.ItemPublished)
			req := tt.req()
			req.RemoteAddr = "192.0.2.1:4321"
			rr := do(router(testEnv(t, tx)), req, false)
			require.Equal(tt.status, rr.Code)

			pending, err := models.NewWebmentions(tx).Pending(10)
			require.NoError(err)
			if tt.status != http.StatusAccepted {
				require.Empty(pending)
				var body map[string]any
				decode(t, rr, &body)
				require.Equal(tt.code, body["error"])
				return
			}
			require.Empty(rr.Body.String())
			require.Len(pending, 1)
			require.Equal("https://remote.example/post", pending[0].Source)
			require.Equal("192.0.2.1", pending[0].IP)
		})
	}
}

func TestWebmentionsIndex(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	tx := db.Begin()
	defer tx.Rollback()

	item := mockItem(t, tx, "hello", models.ItemPublished)
	webmentions := models.NewWebmentions(tx)
	first, err := webmentions.Create("https://remote.example/1", "https://example.com/hello/", item.ID, "192.0.2.1")
	require.NoError(err)
	_, err = webmentions.Create("https://remote.example/2", "https://example.com/hello/", item.ID, "192.0.2.1")
	require.NoError(err)
	require.NoError(webmentions.Mark(first, models.WebmentionInvalid, "source does not link to target"))

	h := router(testEnv(t, tx))

	rr := do(h, httptest.NewRequest("GET", "/api/v1/webmentions", nil), true)
	require.Equal(http.StatusOK, rr.Code)
	var all []map[string]any
	decode(t, rr, &all)
	require.Len(all, 2)

	rr = do(h, httptest.NewRequest("GET", "/api/v1/webmentions?status=invalid", nil), true)
	require.Equal(http.StatusOK, rr.Code)
	var invalid []map[string]any
	decode(t, rr, &invalid)
	require.Len(invalid, 1)
	require.Equal("https://remote.example/1", invalid[0]["source"])
	require.Equal("source does not link to target", invalid[0]["last_result"])

	rr = do(h, httptest.NewRequest("GET", "/api/v1/webmentions?status=lost", nil), true)
	require.Equal(http.StatusBadRequest, rr.Code)
}
