package webmention

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/davecheney/mention/internal/config"
	"github.com/davecheney/mention/internal/snowflake"
	"github.com/davecheney/mention/models"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var epoch = time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC)

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

	// enable foreign key constraints
	err = db.Exec("PRAGMA foreign_keys = ON").Error
	require.NoError(err)

	return db
}

// testConfig returns a configuration for https://example.com/ which sends
// synchronously.
func testConfig(opts ...func(*config.Config)) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Site.URL = "https://example.com/"
	zero := time.Duration(0)
	cfg.Outgoing.SendDelay = &zero
	cfg.HTTP.Timeout = 2 * time.Second
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func newTestService(t *testing.T, tx *gorm.DB, cfg *config.Config, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return epoch }),
		WithRandom(func() float64 { return 0.5 }),
	}, opts...)
	return NewService(tx, cfg, opts...)
}

func mockItem(t *testing.T, tx *gorm.DB, slug, body string, opts ...func(*models.Item)) *models.Item {
	t.Helper()
	item := &models.Item{
		ID:           snowflake.Now(),
		Type:         "article",
		Slug:         slug,
		Body:         body,
		Status:       models.ItemPublished,
		CommentsOpen: true,
	}
	for _, opt := range opts {
		opt(item)
	}
	require.NoError(t, tx.Create(item).Error)
	return item
}

// remote is a site which advertises a webmention endpoint for /post.
type remote struct {
	*httptest.Server

	heads, gets, posts atomic.Int32
	// status is the response of the endpoint.
	status atomic.Int32
	// advertise controls whether /post advertises the endpoint.
	advertise atomic.Bool
	endpoint  string

	mu       sync.Mutex
	received []url.Values
}

func newRemote(t *testing.T) *remote {
	t.Helper()
	r := new(remote)
	r.status.Store(http.StatusAccepted)
	r.advertise.Store(true)

	mux := http.NewServeMux()
	mux.HandleFunc("/post", func(w http.ResponseWriter, req *http.Request) {
		if r.advertise.Load() {
			w.Header().Set("Link", fmt.Sprintf("<%s>; rel=\"webmention\"", r.endpoint))
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		switch req.Method {
		case http.MethodHead:
			r.heads.Add(1)
		case http.MethodGet:
			r.gets.Add(1)
			io.WriteString(w, "<html><body><p>a post</p></body></html>")
		}
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, "<html><body><p>no endpoint here</p></body></html>")
	})
	mux.HandleFunc("/wm", func(w http.ResponseWriter, req *http.Request) {
		if err := req.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		r.posts.Add(1)
		r.mu.Lock()
		r.received = append(r.received, req.PostForm)
		r.mu.Unlock()
		w.WriteHeader(int(r.status.Load()))
	})
	r.Server = httptest.NewServer(mux)
	r.endpoint = r.URL + "/wm"
	t.Cleanup(r.Close)
	return r
}

func (r *remote) last() url.Values {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.received) == 0 {
		return nil
	}
	return r.received[len(r.received)-1]
}

// source is a site serving the documents which mention example.com.
type source struct {
	*httptest.Server

	mu    sync.Mutex
	pages map[string]page
}

type page struct {
	status int
	body   string
}

func newSource(t *testing.T) *source {
	t.Helper()
	s := &source{pages: make(map[string]page)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		p, ok := s.pages[r.URL.Path]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(p.status)
		io.WriteString(w, p.body)
	}))
	t.Cleanup(s.Close)
	return s
}

// set serves body with status at path and returns its URL.
func (s *source) set(path string, status int, body string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[path] = page{status: status, body: body}
	return s.URL + path
}

// reply returns an h-entry from author replying to target.
func reply(author, target, text string) string {
	return `<html><body><div class="h-entry">` +
		`<a class="p-author h-card" href="https://alice.example/">` + author + `</a>` +
		`<a class="u-in-reply-to" href="` + target + `">in reply to</a>` +
		`<div class="e-content">` + text + `</div>` +
		`</div></body></html>`
}
