package api

import (
	"time"

	"github.com/davecheney/mention/models"
)

type Item struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	Slug         string     `json:"slug"`
	Title        string     `json:"title"`
	Status       string     `json:"status"`
	CommentsOpen bool       `json:"comments_open"`
	CreatedAt    time.Time  `json:"created_at"`
	PublishedAt  *time.Time `json:"published_at"`
	// ScheduledAt is when the outstanding delivery of the item was
	// scheduled, if there is one.
	ScheduledAt *time.Time `json:"scheduled_at"`
}

func serialiseItem(i *models.Item) *Item {
	return &Item{
		ID:           i.ID.String(),
		Type:         i.Type,
		Slug:         i.Slug,
		Title:        i.Title,
		Status:       string(i.Status),
		CommentsOpen: i.CommentsOpen,
		CreatedAt:    i.CreatedAt.UTC(),
		PublishedAt:  utc(i.PublishedAt),
	}
}

type Annotation struct {
	ID           string     `json:"id"`
	ItemID       string     `json:"item_id"`
	ParentID     *string    `json:"parent_id"`
	Kind         string     `json:"kind"`
	AuthorName   string     `json:"author_name"`
	AuthorURL    string     `json:"author_url"`
	AuthorAvatar string     `json:"author_avatar"`
	Body         string     `json:"body"`
	Approved     bool       `json:"approved"`
	Source       string     `json:"source"`
	Target       string     `json:"target"`
	URL          string     `json:"url"`
	CreatedAt    time.Time  `json:"created_at"`
	PublishedAt  *time.Time `json:"published_at"`
}

func serialiseAnnotation(a *models.Annotation) *Annotation {
	var parent *string
	if a.ParentID != nil {
		id := a.ParentID.String()
		parent = &id
	}
	return &Annotation{
		ID:           a.ID.String(),
		ItemID:       a.ItemID.String(),
		ParentID:     parent,
		Kind:         string(a.Kind),
		AuthorName:   a.AuthorName,
		AuthorURL:    a.AuthorURL,
		AuthorAvatar: a.AuthorAvatar,
		Body:         a.Body,
		Approved:     a.Approved,
		Source:       a.Source,
		Target:       a.Target,
		URL:          a.URL,
		CreatedAt:    a.CreatedAt.UTC(),
		PublishedAt:  utc(a.PublishedAt),
	}
}

type Delivery struct {
	Target       string     `json:"target"`
	Endpoint     string     `json:"endpoint"`
	SentAt       *time.Time `json:"sent_at"`
	ResponseCode int        `json:"response_code"`
	Retries      uint32     `json:"retries"`
	LastError    string     `json:"last_error,omitempty"`
	NextAttempt  *time.Time `json:"next_attempt_at"`
}

func serialiseDelivery(d *models.DeliveryRecord) *Delivery {
	return &Delivery{
		Target:       d.Target,
		Endpoint:     d.Endpoint,
		SentAt:       utc(d.SentAt),
		ResponseCode: d.ResponseCode,
		Retries:      d.Attempt.Count,
		LastError:    d.Attempt.LastError,
		NextAttempt:  utc(d.Attempt.NextEligibleAt),
	}
}

type Webmention struct {
	ID         uint32    `json:"id"`
	Source     string    `json:"source"`
	Target     string    `json:"target"`
	ItemID     string    `json:"item_id"`
	Status     string    `json:"status"`
	Attempts   uint32    `json:"attempts"`
	LastResult string    `json:"last_result,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func serialiseWebmention(wm *models.Webmention) *Webmention {
	return &Webmention{
		ID:         wm.ID,
		Source:     wm.Source,
		Target:     wm.Target,
		ItemID:     wm.ItemID.String(),
		Status:     string(wm.Status),
		Attempts:   wm.Attempts,
		LastResult: wm.LastResult,
		CreatedAt:  wm.CreatedAt.UTC(),
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
