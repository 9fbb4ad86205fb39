// Package webmention sends webmentions on behalf of local content and
// verifies the webmentions it receives.
package webmention

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"github.com/davecheney/mention/internal/config"
	"github.com/davecheney/mention/internal/discovery"
	"github.com/davecheney/mention/models"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
)

// Job names.
const (
	// JobSend sends the webmentions of one item or annotation.
	JobSend = "webmention.send"
	// JobProcessQueue verifies a batch of received webmentions.
	JobProcessQueue = "webmention.process_queue"
)

// Metadata keys.
const (
	historyKey   = "webmention_history"
	scheduledKey = "webmention_scheduled"
)

// Scheduler runs a named job for an owner once, at or after a time.
type Scheduler interface {
	ScheduleOnce(ctx context.Context, name string, owner models.Owner, at time.Time) error
}

// AvatarStore copies a remote avatar locally and returns its local URL.
type AvatarStore interface {
	Store(ctx context.Context, src string) (string, error)
}

// Service sends and receives webmentions.
type Service struct {
	db        *gorm.DB
	cfg       *config.Config
	client    *http.Client
	resolver  *discovery.Resolver
	scheduler Scheduler
	avatars   AvatarStore
	logger    *slog.Logger
	now       func() time.Time
	random    func() float64
}

// Option configures a Service.
type Option func(*Service)

// WithClient sets the HTTP client used for every outbound request.
func WithClient(c *http.Client) Option {
	return func(s *Service) { s.client = c }
}

// WithResolver replaces the endpoint resolver.
func WithResolver(r *discovery.Resolver) Option {
	return func(s *Service) { s.resolver = r }
}

// WithScheduler replaces the job table as the scheduler of delayed sends.
func WithScheduler(sch Scheduler) Option {
	return func(s *Service) { s.scheduler = sch }
}

// WithAvatars enables local copies of author avatars.
func WithAvatars(a AvatarStore) Option {
	return func(s *Service) { s.avatars = a }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock sets the source of the current time.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRandom sets the source of jitter, a function returning values in
// [0, 1).
func WithRandom(r func() float64) Option {
	return func(s *Service) { s.random = r }
}

// NewService returns a Service storing its state in db.
func NewService(db *gorm.DB, cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		db:     db,
		cfg:    cfg,
		client: http.DefaultClient,
		logger: slog.Default(),
		now:    time.Now,
		random: rand.Float64,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.resolver == nil {
		s.resolver = discovery.NewResolver(s.client,
			discovery.WithTimeout(cfg.HTTP.Timeout),
			discovery.WithMaxBody(cfg.HTTP.MaxBody),
			discovery.WithUserAgent(cfg.HTTP.UserAgent),
			discovery.WithLogger(s.logger),
		)
	}
	if s.scheduler == nil {
		s.scheduler = models.NewJobs(db)
	}
	return s
}

// Endpoint returns the absolute URL of this site's webmention endpoint.
func (s *Service) Endpoint() string {
	return s.cfg.Site.Endpoint()
}

func (s *Service) tx(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}
