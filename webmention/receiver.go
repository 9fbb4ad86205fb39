package webmention

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/carlmjohnson/requests"
	"github.com/davecheney/mention/internal/config"
	"github.com/davecheney/mention/internal/links"
	"github.com/davecheney/mention/internal/mf2"
	"github.com/davecheney/mention/internal/snowflake"
	"github.com/davecheney/mention/models"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"gorm.io/gorm"
)

var (
	// ErrInvalidURL is returned by Intake for a missing or malformed
	// source or target.
	ErrInvalidURL = errors.New("invalid url")
	// ErrTargetNotFound is returned by Intake when the target is not a
	// published item of this site.
	ErrTargetNotFound = errors.New("target not found")
)

// Intake validates a received webmention and queues it for verification.
// Nothing is fetched; verification happens later in Verify.
func (s *Service) Intake(ctx context.Context, source, target, ip string) (*models.Webmention, error) {
	if err := validateURL(source); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if err := validateURL(target); err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	if source == target {
		return nil, fmt.Errorf("source and target are the same: %w", ErrInvalidURL)
	}
	item, err := s.resolveTarget(ctx, target)
	if err != nil {
		return nil, err
	}
	wm, err := models.NewWebmentions(s.tx(ctx)).Create(source, target, item.ID, ip)
	if err != nil {
		return nil, fmt.Errorf("queue webmention: %w", err)
	}
	s.logger.Info("webmention: received", "id", wm.ID, "source", source, "target", target, "ip", ip)
	return wm, nil
}

func validateURL(s string) error {
	if err := validation.Validate(s, validation.Required, is.RequestURL); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, s)
	}
	return nil
}

// resolveTarget finds the published item target refers to. The slug is the
// last segment of the target's path.
func (s *Service) resolveTarget(ctx context.Context, target string) (*models.Item, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !strings.EqualFold(u.Host, s.cfg.Site.Host()) {
		return nil, fmt.Errorf("%s: %w", target, ErrTargetNotFound)
	}
	slug := lastSegment(u.Path)
	if slug == "" {
		return nil, fmt.Errorf("%s: %w", target, ErrTargetNotFound)
	}
	item, err := models.NewItems(s.tx(ctx)).FindBySlug(slug)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("%s: %w", target, ErrTargetNotFound)
	case err != nil:
		return nil, err
	case !item.Published() || !s.cfg.Outgoing.Supports(item.Type):
		return nil, fmt.Errorf("%s: %w", target, ErrTargetNotFound)
	}
	return item, nil
}

func lastSegment(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	return segments[len(segments)-1]
}

// Verify processes a batch of queued webmentions, oldest first. It returns
// the number of webmentions examined.
func (s *Service) Verify(ctx context.Context) (int, error) {
	pending, err := models.NewWebmentions(s.tx(ctx)).Pending(s.cfg.Queue.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, wm := range pending {
		if err := s.verify(ctx, wm); err != nil {
			s.logger.Error("webmention: verification failed", "id", wm.ID, "source", wm.Source, "target", wm.Target, "error", err)
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}
	return len(pending), nil
}

// verify fetches the source of wm and creates, updates, or deletes the
// annotation it describes. wm leaves draft unless the source could not be
// reached or the item is closed to new annotations.
func (s *Service) verify(ctx context.Context, wm *models.Webmention) error {
	db := s.tx(ctx)
	webmentions := models.NewWebmentions(db)
	annotations := models.NewAnnotations(db)

	existing, err := annotations.FindBySourceTarget(wm.Source, wm.Target)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	doc, err := s.fetch(ctx, wm.Source)
	var se *statusError
	switch {
	case errors.As(err, &se) && se.gone():
		if existing != nil {
			if err := annotations.Delete(existing); err != nil {
				return err
			}
			s.logger.Info("webmention: annotation deleted", "id", wm.ID, "source", wm.Source, "status", se.code)
			return webmentions.Mark(wm, models.WebmentionDeleted, se.Error())
		}
		return webmentions.Mark(wm, models.WebmentionInvalid, se.Error())
	case errors.As(err, &se) && se.code < http.StatusInternalServerError:
		return webmentions.Mark(wm, models.WebmentionInvalid, se.Error())
	case err != nil:
		s.logger.Warn("webmention: source unavailable", "id", wm.ID, "source", wm.Source, "error", err)
		return webmentions.Defer(wm, err.Error())
	}

	item := wm.Item
	if item == nil || item.Status != models.ItemPublished {
		return webmentions.Mark(wm, models.WebmentionInvalid, "target is not published")
	}
	if existing == nil && !item.CommentsOpen {
		s.logger.Info("webmention: target closed", "id", wm.ID, "target", wm.Target)
		return webmentions.Defer(wm, "target is closed to new annotations")
	}
	if !mentions(doc, wm.Target) {
		return webmentions.Mark(wm, models.WebmentionInvalid, "source does not link to target")
	}

	res := mf2.Classify(doc, wm.Source, wm.Target)
	if res.Kind == mf2.KindNone {
		res.Kind = mf2.KindMention
	}
	annotation := &models.Annotation{
		ItemID:       item.ID,
		ParentID:     s.parentOf(ctx, item, wm.Target),
		AuthorName:   res.Author,
		AuthorURL:    res.AuthorURL,
		AuthorAvatar: s.avatar(ctx, res.AvatarURL),
		Body:         res.Content,
		Kind:         models.AnnotationKind(res.Kind.String()),
		Source:       wm.Source,
		Target:       wm.Target,
		URL:          res.URL,
	}
	if !res.Published.IsZero() {
		published := res.Published
		annotation.PublishedAt = &published
	}

	if existing != nil {
		if unchanged(existing, annotation) {
			return webmentions.Mark(wm, models.WebmentionDuplicate, "annotation unchanged")
		}
		annotation.ID = existing.ID
		annotation.CreatedAt = existing.CreatedAt
		annotation.Approved = existing.Approved && mf2.Normalize(existing.Body) == mf2.Normalize(annotation.Body)
		if err := annotations.Update(annotation); err != nil {
			return webmentions.Mark(wm, models.WebmentionInvalid, err.Error())
		}
		return webmentions.Mark(wm, models.WebmentionUpdated, "")
	}

	approved, err := s.moderate(ctx, annotation)
	if err != nil {
		return err
	}
	annotation.Approved = approved
	if err := annotations.Create(annotation); err != nil {
		if errors.Is(err, models.ErrDuplicateAnnotation) {
			return webmentions.Mark(wm, models.WebmentionDuplicate, err.Error())
		}
		return webmentions.Mark(wm, models.WebmentionInvalid, err.Error())
	}
	s.logger.Info("webmention: annotation created", "id", wm.ID, "annotation", annotation.ID, "kind", annotation.Kind, "approved", annotation.Approved)
	if err := webmentions.Mark(wm, models.WebmentionCreated, ""); err != nil {
		return err
	}
	return s.OnAnnotationCreated(ctx, annotation)
}

// mentions reports whether doc contains target, ignoring its fragment.
func mentions(doc []byte, target string) bool {
	target = withoutFragment(target)
	return bytes.Contains(doc, []byte(target)) || bytes.Contains(doc, []byte(html.EscapeString(target)))
}

// parentOf returns the id of the annotation of item named by the fragment
// of target, if any.
func (s *Service) parentOf(ctx context.Context, item *models.Item, target string) *snowflake.ID {
	_, fragment, ok := strings.Cut(target, "#")
	if !ok || !strings.HasPrefix(fragment, "annotation-") {
		return nil
	}
	id, err := snowflake.Parse(strings.TrimPrefix(fragment, "annotation-"))
	if err != nil {
		return nil
	}
	parent, err := models.NewAnnotations(s.tx(ctx)).FindByID(id)
	if err != nil || parent.ItemID != item.ID {
		return nil
	}
	return &parent.ID
}

// moderate returns whether a new annotation is approved.
func (s *Service) moderate(ctx context.Context, annotation *models.Annotation) (bool, error) {
	policy := s.cfg.Moderation
	if policy.Default == config.ModerationApproved {
		return true, nil
	}
	if u, err := url.Parse(annotation.AuthorURL); err == nil && u.Host != "" {
		host := strings.ToLower(u.Hostname())
		for _, domain := range policy.TrustedDomains {
			domain = strings.ToLower(domain)
			if host == domain || strings.HasSuffix(host, "."+domain) {
				return true, nil
			}
		}
	}
	if policy.ApproveKnownAuthors {
		return models.NewAnnotations(s.tx(ctx)).KnownAuthor(annotation.AuthorURL)
	}
	return false, nil
}

// avatar returns the local copy of src, or src if it could not be copied.
func (s *Service) avatar(ctx context.Context, src string) string {
	if src == "" || s.avatars == nil || !s.cfg.Avatars.Enabled {
		return src
	}
	local, err := s.avatars.Store(ctx, src)
	if err != nil {
		s.logger.Warn("webmention: avatar not cached", "avatar", src, "error", err)
		return src
	}
	return local
}

func unchanged(old, updated *models.Annotation) bool {
	return old.Kind == updated.Kind &&
		old.Body == updated.Body &&
		old.AuthorName == updated.AuthorName &&
		old.AuthorURL == updated.AuthorURL &&
		old.AuthorAvatar == updated.AuthorAvatar &&
		old.URL == updated.URL
}

// statusError is a non 2xx response to a source fetch.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("source returned %d %s", e.code, http.StatusText(e.code))
}

// gone reports whether the source no longer exists.
func (e *statusError) gone() bool {
	return e.code == http.StatusNotFound || e.code == http.StatusGone
}

// fetch returns the body of source as UTF-8.
func (s *Service) fetch(ctx context.Context, source string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HTTP.Timeout)
	defer cancel()

	var body bytes.Buffer
	var contentType string
	err := requests.URL(source).
		Client(s.client).
		Header("User-Agent", s.cfg.HTTP.UserAgent).
		Accept("text/html, application/xhtml+xml;q=0.9, */*;q=0.1").
		AddValidator(func(res *http.Response) error {
			if res.StatusCode < 200 || res.StatusCode > 299 {
				return &statusError{code: res.StatusCode}
			}
			return nil
		}).
		Handle(func(res *http.Response) error {
			contentType = res.Header.Get("Content-Type")
			_, err := io.Copy(&body, io.LimitReader(res.Body, s.cfg.HTTP.MaxBody))
			return err
		}).
		Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return links.Decode(body.Bytes(), contentType), nil
}
