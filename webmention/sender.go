package webmention

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/davecheney/mention/internal/algorithms"
	"github.com/davecheney/mention/internal/discovery"
	"github.com/davecheney/mention/internal/links"
	"github.com/davecheney/mention/models"
)

// HistoryEntry is a target, and the endpoint it had, from before the
// owner was last rescheduled.
type HistoryEntry struct {
	URL      string `json:"url"`
	Endpoint string `json:"endpoint,omitempty"`
}

// origin is the local side of an outbound webmention.
type origin struct {
	owner models.Owner
	// permalink is sent as the webmention source.
	permalink string
	// item is the item, or the item the annotation is attached to.
	item       *models.Item
	candidates []string
	supported  bool
}

func (s *Service) origin(ctx context.Context, owner models.Owner) (*origin, error) {
	db := s.tx(ctx)
	switch owner.Type {
	case models.OwnerItem:
		item, err := models.NewItems(db).FindByID(owner.ID)
		if err != nil {
			return nil, fmt.Errorf("item %v: %w", owner.ID, err)
		}
		return &origin{
			owner:      owner,
			permalink:  s.cfg.Site.Permalink(item.Slug),
			item:       item,
			candidates: links.Scan([]byte(item.Body), "text/html; charset=utf-8"),
			supported:  item.Status != models.ItemDraft && s.cfg.Outgoing.Supports(item.Type),
		}, nil
	case models.OwnerAnnotation:
		annotation, err := models.NewAnnotations(db).FindByID(owner.ID)
		if err != nil {
			return nil, fmt.Errorf("annotation %v: %w", owner.ID, err)
		}
		o := &origin{
			owner:     owner,
			permalink: s.cfg.Site.Permalink(annotation.Item.Slug) + "#" + annotation.Anchor(),
			item:      annotation.Item,
			supported: true,
		}
		if parent := annotation.Parent; parent != nil && parent.Source != "" {
			o.candidates = append(o.candidates, parent.Source)
		}
		return o, nil
	default:
		return nil, fmt.Errorf("unknown owner type %q", owner.Type)
	}
}

// targets returns the candidate URLs of o merged with history, in order,
// without the item's own page.
func (s *Service) targets(o *origin, history []HistoryEntry) []string {
	urls := append([]string(nil), o.candidates...)
	for _, h := range history {
		urls = append(urls, h.URL)
	}
	self := withoutFragment(s.cfg.Site.Permalink(o.item.Slug))
	return algorithms.Filter(algorithms.Uniq(urls), func(u string) bool {
		return withoutFragment(u) != self
	})
}

func (s *Service) history(ctx context.Context, owner models.Owner) ([]HistoryEntry, error) {
	var history []HistoryEntry
	if _, err := models.NewMetadata(s.tx(ctx)).Get(owner, historyKey, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// endpoints returns a function which resolves the endpoint of a target at
// most once, falling back to the endpoint recorded in history.
func (s *Service) endpoints(history []HistoryEntry) func(ctx context.Context, target string) string {
	known := make(map[string]string)
	for _, h := range history {
		if h.Endpoint != "" {
			known[h.URL] = h.Endpoint
		}
	}
	resolved := make(map[string]string)
	return func(ctx context.Context, target string) string {
		if endpoint, ok := resolved[target]; ok {
			return endpoint
		}
		endpoint, err := s.resolver.Resolve(ctx, target)
		if err != nil {
			if !errors.Is(err, discovery.ErrNoEndpoint) {
				s.logger.Warn("webmention: endpoint discovery failed", "target", target, "error", err)
			}
			endpoint = known[target]
		}
		resolved[target] = endpoint
		return endpoint
	}
}

// ScheduleDelivery arranges for the webmentions of owner to be sent. It
// reports whether any target advertised an endpoint.
func (s *Service) ScheduleDelivery(ctx context.Context, owner models.Owner) (bool, error) {
	if !s.cfg.Outgoing.Enabled {
		return false, nil
	}
	o, err := s.origin(ctx, owner)
	if err != nil {
		return false, err
	}
	if !o.supported {
		return false, nil
	}
	history, err := s.history(ctx, owner)
	if err != nil {
		return false, err
	}
	endpointOf := s.endpoints(history)
	found := false
	for _, target := range s.targets(o, history) {
		if endpointOf(ctx, target) != "" {
			found = true
			break
		}
	}
	if !found {
		return false, nil
	}

	now := s.now()
	if err := models.NewMetadata(s.tx(ctx)).Set(owner, scheduledKey, now); err != nil {
		return false, err
	}
	if d := s.cfg.Outgoing.SendDelay; d != nil && *d == 0 {
		return true, s.Send(ctx, owner)
	}
	at := now.Add(s.sendDelay())
	s.logger.Info("webmention: delivery scheduled", "owner", owner, "at", at)
	return true, s.scheduler.ScheduleOnce(ctx, JobSend, owner, at)
}

func (s *Service) sendDelay() time.Duration {
	if d := s.cfg.Outgoing.SendDelay; d != nil {
		return *d
	}
	return jitter(maxSendJitter, s.random())
}

// Scheduled returns the time delivery for owner was scheduled, if a
// delivery is outstanding.
func (s *Service) Scheduled(ctx context.Context, owner models.Owner) (time.Time, bool, error) {
	var at time.Time
	ok, err := models.NewMetadata(s.tx(ctx)).Get(owner, scheduledKey, &at)
	return at, ok, err
}

// Send posts a webmention to the endpoint of every target of owner which
// has not yet been sent, nor given up on. Failed sends are retried by
// scheduling another Send; targets whose retry is not yet due are left
// alone.
func (s *Service) Send(ctx context.Context, owner models.Owner) error {
	o, err := s.origin(ctx, owner)
	if err != nil {
		return err
	}
	history, err := s.history(ctx, owner)
	if err != nil {
		return err
	}
	endpointOf := s.endpoints(history)
	deliveries := models.NewDeliveries(s.tx(ctx))

	var retryAt *time.Time
	for _, target := range s.targets(o, history) {
		rec, err := deliveries.Find(owner, target)
		if err != nil {
			return err
		}
		if rec.Sent() || rec.Attempt.Exhausted() {
			continue
		}
		if next := rec.Attempt.NextEligibleAt; next != nil && s.now().Before(*next) {
			// not yet due, keep the retry scheduled.
			if retryAt == nil || next.Before(*retryAt) {
				retryAt = next
			}
			continue
		}
		endpoint := endpointOf(ctx, target)
		if endpoint == "" {
			continue
		}
		rec.Endpoint = endpoint

		code, err := s.post(ctx, endpoint, o.permalink, target)
		now := s.now()
		if err == nil && code < http.StatusInternalServerError {
			rec.SentAt = &now
			rec.ResponseCode = code
			if err := deliveries.Save(rec); err != nil {
				return err
			}
			s.logger.Info("webmention: sent", "source", o.permalink, "target", target, "endpoint", endpoint, "status", code)
			continue
		}
		if err == nil {
			err = fmt.Errorf("%s: %d %s", endpoint, code, http.StatusText(code))
			rec.ResponseCode = code
		}
		rec.Attempt = failed(rec.Attempt, err, now, s.random())
		if err := deliveries.Save(rec); err != nil {
			return err
		}
		s.logger.Warn("webmention: send failed", "source", o.permalink, "target", target, "endpoint", endpoint, "attempts", rec.Attempt.Count, "error", err)
		if next := rec.Attempt.NextEligibleAt; next != nil && (retryAt == nil || next.Before(*retryAt)) {
			retryAt = next
		}
	}

	if err := models.NewMetadata(s.tx(ctx)).Delete(owner, scheduledKey); err != nil {
		return err
	}
	if retryAt != nil {
		return s.scheduler.ScheduleOnce(ctx, JobSend, owner, *retryAt)
	}
	return nil
}

// post sends a webmention and returns the response status.
func (s *Service) post(ctx context.Context, endpoint, source, target string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HTTP.Timeout)
	defer cancel()

	var code int
	err := requests.URL(endpoint).
		Client(s.client).
		Method(http.MethodPost).
		Header("User-Agent", s.cfg.HTTP.UserAgent).
		BodyForm(url.Values{
			"source": {source},
			"target": {target},
		}).
		AddValidator(func(res *http.Response) error {
			code = res.StatusCode
			return nil
		}).
		Fetch(ctx)
	return code, err
}

// Reschedule forgets what has been sent for owner, keeping the targets and
// their endpoints as history, and schedules delivery again.
func (s *Service) Reschedule(ctx context.Context, owner models.Owner) (bool, error) {
	deliveries := models.NewDeliveries(s.tx(ctx))
	recs, err := deliveries.ForOwner(owner)
	if err != nil {
		return false, err
	}
	history, err := s.history(ctx, owner)
	if err != nil {
		return false, err
	}
	for _, rec := range recs {
		history = append(history, HistoryEntry{URL: rec.Target, Endpoint: rec.Endpoint})
	}
	if err := models.NewMetadata(s.tx(ctx)).Set(owner, historyKey, latest(history)); err != nil {
		return false, err
	}
	if err := deliveries.DeleteForOwner(owner); err != nil {
		return false, err
	}
	return s.ScheduleDelivery(ctx, owner)
}

// latest removes duplicate URLs from history, keeping the position of the
// first and the endpoint of the last.
func latest(history []HistoryEntry) []HistoryEntry {
	index := make(map[string]int)
	var out []HistoryEntry
	for _, h := range history {
		if i, ok := index[h.URL]; ok {
			if h.Endpoint != "" {
				out[i].Endpoint = h.Endpoint
			}
			continue
		}
		index[h.URL] = len(out)
		out = append(out, h)
	}
	return out
}

func withoutFragment(u string) string {
	u, _, _ = strings.Cut(u, "#")
	return u
}
