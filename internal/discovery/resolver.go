// Package discovery finds the webmention endpoint advertised by a URL.
package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/carlmjohnson/requests"
	"github.com/davecheney/mention/internal/httpx"
	"github.com/davecheney/mention/internal/links"
	"github.com/tomnomnom/linkheader"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/singleflight"
)

// ErrNoEndpoint is returned when a URL was fetched successfully but does not
// advertise a webmention endpoint.
var ErrNoEndpoint = errors.New("no webmention endpoint")

// Resolver discovers webmention endpoints via the Link header or
// <link>/<a> markup.
type Resolver struct {
	client    *http.Client
	cache     *Cache
	timeout   time.Duration
	maxBody   int64
	userAgent string
	logger    *slog.Logger

	group singleflight.Group
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTimeout bounds each HEAD or GET request.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// WithMaxBody caps the number of body bytes read during discovery.
func WithMaxBody(n int64) Option {
	return func(r *Resolver) { r.maxBody = n }
}

// WithUserAgent sets the User-Agent header of discovery requests.
func WithUserAgent(ua string) Option {
	return func(r *Resolver) { r.userAgent = ua }
}

// WithCache replaces the default one hour cache.
func WithCache(c *Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver returns a Resolver which issues requests with client.
func NewResolver(client *http.Client, opts ...Option) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	r := &Resolver{
		client:    client,
		cache:     NewCache(time.Hour),
		timeout:   11 * time.Second,
		maxBody:   1 << 20,
		userAgent: "mention",
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the webmention endpoint for target. ErrNoEndpoint means
// target was reachable but advertises no endpoint; any other error is a
// transient failure. Neither outcome is cached.
//
// Concurrent calls for the same target share one discovery, which runs
// until its own timeout even if the callers waiting on it give up.
func (r *Resolver) Resolve(ctx context.Context, target string) (string, error) {
	if endpoint, ok := r.cache.Get(target); ok {
		return endpoint, nil
	}
	ch := r.group.DoChan(target, func() (any, error) {
		return r.discover(context.Background(), target)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		endpoint := res.Val.(string)
		r.cache.Set(target, endpoint)
		return endpoint, nil
	}
}

// response is the subset of an *http.Response discovery inspects.
type response struct {
	base   *url.URL
	header http.Header
	body   []byte
}

func (r *Resolver) discover(ctx context.Context, target string) (string, error) {
	head, err := r.fetch(ctx, http.MethodHead, target)
	if err != nil {
		r.logger.Debug("discovery: HEAD failed", "target", target, "error", err)
		return "", err
	}
	if endpoint, ok := fromLinkHeader(head.base, head.header); ok {
		return endpoint, nil
	}
	if !maybeHTML(httpx.MediaType(head.header)) {
		return "", fmt.Errorf("%s: %w", target, ErrNoEndpoint)
	}

	get, err := r.fetch(ctx, http.MethodGet, target)
	if err != nil {
		r.logger.Debug("discovery: GET failed", "target", target, "error", err)
		return "", err
	}
	// servers which answer HEAD and GET differently are not unusual.
	if endpoint, ok := fromLinkHeader(get.base, get.header); ok {
		return endpoint, nil
	}
	if endpoint, ok := fromMarkup(get.base, links.Decode(get.body, get.header.Get("Content-Type"))); ok {
		return endpoint, nil
	}
	return "", fmt.Errorf("%s: %w", target, ErrNoEndpoint)
}

func (r *Resolver) fetch(ctx context.Context, method, target string) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var resp response
	err := requests.URL(target).
		Client(r.client).
		Method(method).
		Header("User-Agent", r.userAgent).
		Accept("text/html, application/xhtml+xml;q=0.9, */*;q=0.1").
		AddValidator(acceptAny).
		Handle(func(res *http.Response) error {
			resp.base = res.Request.URL
			resp.header = res.Header
			if method == http.MethodHead {
				return nil
			}
			var buf bytes.Buffer
			if _, err := io.Copy(&buf, io.LimitReader(res.Body, r.maxBody)); err != nil {
				return err
			}
			resp.body = buf.Bytes()
			return nil
		}).
		Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// acceptAny replaces the default 2xx status validator; discovery inspects
// headers and markup whatever the status.
func acceptAny(*http.Response) error { return nil }

// isWebmentionRel reports whether the space separated rel value names
// the webmention relation.
func isWebmentionRel(rel string) bool {
	for _, tok := range strings.Fields(strings.ToLower(rel)) {
		switch tok {
		case "webmention", "http://webmention.org", "http://webmention.org/":
			return true
		}
	}
	return false
}

func fromLinkHeader(base *url.URL, h http.Header) (string, bool) {
	for _, link := range linkheader.ParseMultiple(h.Values("Link")) {
		if isWebmentionRel(link.Rel) {
			return resolveRef(base, link.URL)
		}
	}
	return "", false
}

func fromMarkup(base *url.URL, body []byte) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", false
	}
	var endpoint string
	var found bool
	doc.Find("[rel]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		switch goquery.NodeName(s) {
		case "link", "a":
		default:
			return true
		}
		rel, _ := s.Attr("rel")
		if !isWebmentionRel(rel) && !strings.Contains(strings.ToLower(rel), "webmention.org") {
			return true
		}
		href, ok := s.Attr("href")
		if !ok {
			return true
		}
		endpoint, found = resolveRef(base, href)
		return !found
	})
	return endpoint, found
}

// resolveRef resolves a possibly relative reference against base.
func resolveRef(base *url.URL, ref string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", false
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if !u.IsAbs() {
		return "", false
	}
	return u.String(), true
}

// maybeHTML reports whether a response of the given media type could carry
// webmention markup.
func maybeHTML(mediaType string) bool {
	major, _, _ := strings.Cut(mediaType, "/")
	switch major {
	case "image", "audio", "video", "model":
		return false
	default:
		return true
	}
}
