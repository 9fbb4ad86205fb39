package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/davecheney/mention/internal/algorithms"
	"github.com/davecheney/mention/internal/httpx"
	"github.com/davecheney/mention/internal/to"
	"github.com/davecheney/mention/models"
	"gorm.io/gorm"
)

func ItemsCreate(env *Env, w http.ResponseWriter, r *http.Request) error {
	var params struct {
		Type         string `schema:"type" json:"type"`
		Slug         string `schema:"slug" json:"slug"`
		Title        string `schema:"title" json:"title"`
		Body         string `schema:"body" json:"body"`
		CommentsOpen *bool  `schema:"comments_open" json:"comments_open"`
	}
	if err := httpx.Params(r, &params); err != nil {
		return err
	}
	if params.Type == "" {
		params.Type = "article"
	}
	items := models.NewItems(env.DB.WithContext(r.Context()))
	item, err := items.Create(params.Type, params.Slug, params.Title, params.Body)
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return httpx.Error(http.StatusConflict, fmt.Errorf("slug %q is taken", params.Slug))
	case err != nil:
		return httpx.Error(http.StatusBadRequest, err)
	}
	if params.CommentsOpen != nil && !*params.CommentsOpen {
		if err := items.SetCommentsOpen(item, false); err != nil {
			return err
		}
	}
	return to.JSONStatus(w, http.StatusCreated, serialiseItem(item))
}

func ItemsShow(env *Env, w http.ResponseWriter, r *http.Request) error {
	item, err := env.findItem(r)
	if err != nil {
		return err
	}
	return env.renderItem(w, r, item)
}

// ItemsPublish publishes the item, or republishes it after an edit, and
// schedules its webmentions.
func ItemsPublish(env *Env, w http.ResponseWriter, r *http.Request) error {
	item, err := env.findItem(r)
	if err != nil {
		return err
	}
	if err := models.NewItems(env.DB.WithContext(r.Context())).Publish(item); err != nil {
		return err
	}
	if err := env.Webmentions.OnPublished(r.Context(), item); err != nil {
		return err
	}
	return env.renderItem(w, r, item)
}

// ItemsTrash trashes the item and notifies every target it mentioned.
func ItemsTrash(env *Env, w http.ResponseWriter, r *http.Request) error {
	item, err := env.findItem(r)
	if err != nil {
		return err
	}
	if err := models.NewItems(env.DB.WithContext(r.Context())).Trash(item); err != nil {
		return err
	}
	if err := env.Webmentions.OnTrashed(r.Context(), item); err != nil {
		return err
	}
	return env.renderItem(w, r, item)
}

// ItemsResend forgets the delivery state of the item and sends again.
func ItemsResend(env *Env, w http.ResponseWriter, r *http.Request) error {
	item, err := env.findItem(r)
	if err != nil {
		return err
	}
	scheduled, err := env.Webmentions.Reschedule(r.Context(), item.Owner())
	if err != nil {
		return err
	}
	return to.JSON(w, map[string]any{
		"id":        item.ID.String(),
		"scheduled": scheduled,
	})
}

func DeliveriesIndex(env *Env, w http.ResponseWriter, r *http.Request) error {
	item, err := env.findItem(r)
	if err != nil {
		return err
	}
	records, err := models.NewDeliveries(env.DB.WithContext(r.Context())).ForOwner(item.Owner())
	if err != nil {
		return err
	}
	return to.JSON(w, algorithms.Map(records, serialiseDelivery))
}

// renderItem writes item with the time its outstanding delivery was
// scheduled.
func (env *Env) renderItem(w http.ResponseWriter, r *http.Request, item *models.Item) error {
	v := serialiseItem(item)
	at, ok, err := env.Webmentions.Scheduled(r.Context(), item.Owner())
	if err != nil {
		return err
	}
	if ok {
		at = at.UTC()
		v.ScheduledAt = &at
	}
	return to.JSON(w, v)
}
