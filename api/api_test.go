package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/davecheney/mention/internal/config"
	"github.com/davecheney/mention/internal/snowflake"
	"github.com/davecheney/mention/models"
	"github.com/davecheney/mention/webmention"
	"github.com/go-chi/chi/v5"
	"github.com/go-json-experiment/json"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const adminToken = "0123456789abcdef"

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	require := require.New(t)
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger: logger.Default.LogMode(func() logger.LogLevel {
			return logger.Warn
		}()),
	})
	require.NoError(err)

	err = db.AutoMigrate(models.AllTables()...)
	require.NoError(err)
	return db
}

func testEnv(t *testing.T, tx *gorm.DB, opts ...func(*config.Config)) *Env {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Site.URL = "https://example.com/"
	cfg.Admin.Token = adminToken
	zero := time.Duration(0)
	cfg.Outgoing.SendDelay = &zero
	cfg.HTTP.Timeout = 2 * time.Second
	for _, opt := range opts {
		opt(cfg)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Env{
		DB:          tx,
		Config:      cfg,
		Logger:      logger,
		Webmentions: webmention.NewService(tx, cfg, webmention.WithLogger(logger)),
	}
}

func router(env *Env) http.Handler {
	r := chi.NewRouter()
	r.Group(Routes(env))
	return r
}

func mockItem(t *testing.T, tx *gorm.DB, slug string, status models.ItemStatus) *models.Item {
	t.Helper()
	item := &models.Item{
		ID:           snowflake.Now(),
		Type:         "article",
		Slug:         slug,
		Title:        "Hello",
		Body:         "<p>Hello world</p>",
		Status:       status,
		CommentsOpen: true,
	}
	require.NoError(t, tx.Create(item).Error)
	return item
}

// do performs the request against h, authenticated with the admin token
// when admin is set.
func do(h http.Handler, req *http.Request, admin bool) *httptest.ResponseRecorder {
	if admin {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.UnmarshalFull(rr.Body, v))
}

func form(target string, values url.Values) *http.Request {
	req := httptest.NewRequest("POST", target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// remote is a site whose /post advertises the endpoint /wm.
type remote struct {
	*httptest.Server
	posts atomic.Int32
}

func newRemote(t *testing.T) *remote {
	t.Helper()
	r := new(remote)
	mux := http.NewServeMux()
	mux.HandleFunc("/post", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Link", "<"+r.URL+"/wm>; rel=\"webmention\"")
		w.Header().Set("Content-Type", "text/html")
	})
	mux.HandleFunc("/wm", func(w http.ResponseWriter, req *http.Request) {
		r.posts.Add(1)
		w.WriteHeader(http.StatusAccepted)
	})
	r.Server = httptest.NewServer(mux)
	t.Cleanup(r.Close)
	return r
}
