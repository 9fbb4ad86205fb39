// Package api is the HTTP surface of the site: item pages which advertise
// the webmention endpoint, the endpoint itself, and the admin API.
package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/davecheney/mention/internal/config"
	"github.com/davecheney/mention/internal/httpx"
	"github.com/davecheney/mention/internal/snowflake"
	"github.com/davecheney/mention/media"
	"github.com/davecheney/mention/models"
	"github.com/davecheney/mention/webmention"
	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
)

type Env struct {
	// DB is the database connection.
	DB          *gorm.DB
	Config      *config.Config
	Logger      *slog.Logger
	Webmentions *webmention.Service
	// Avatars is nil when avatar caching is disabled.
	Avatars *media.Avatars
}

func (e *Env) Log() *slog.Logger {
	return e.Logger
}

// authenticate checks the bearer token attached to the request against the
// configured admin token.
func (e *Env) authenticate(r *http.Request) error {
	token := e.Config.Admin.Token
	if token == "" {
		return httpx.Error(http.StatusNotFound, errors.New("admin api disabled"))
	}
	bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(bearer), []byte(token)) != 1 {
		return httpx.Error(http.StatusUnauthorized, errors.New("invalid bearer token"))
	}
	return nil
}

// findItem returns the item named by the id URL parameter.
func (e *Env) findItem(r *http.Request) (*models.Item, error) {
	id, err := snowflake.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return nil, httpx.Error(http.StatusBadRequest, err)
	}
	item, err := models.NewItems(e.DB.WithContext(r.Context())).FindByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, httpx.Error(http.StatusNotFound, err)
	}
	return item, err
}

// Routes mounts the handlers of env on r.
func Routes(env *Env) func(r chi.Router) {
	handle := func(fn func(*Env, http.ResponseWriter, *http.Request) error) http.HandlerFunc {
		return httpx.HandlerFunc(func(*http.Request) *Env { return env }, fn)
	}
	admin := func(fn func(*Env, http.ResponseWriter, *http.Request) error) http.HandlerFunc {
		return handle(func(env *Env, w http.ResponseWriter, r *http.Request) error {
			if err := env.authenticate(r); err != nil {
				return err
			}
			return fn(env, w, r)
		})
	}

	return func(r chi.Router) {
		r.Post(env.Config.Site.EndpointPath, handle(WebmentionsCreate))

		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/items", admin(ItemsCreate))
			r.Get("/items/{id:[0-9]+}", admin(ItemsShow))
			r.Post("/items/{id:[0-9]+}/publish", admin(ItemsPublish))
			r.Post("/items/{id:[0-9]+}/trash", admin(ItemsTrash))
			r.Post("/items/{id:[0-9]+}/resend", admin(ItemsResend))
			r.Get("/items/{id:[0-9]+}/deliveries", admin(DeliveriesIndex))
			r.Get("/items/{id:[0-9]+}/annotations", admin(AnnotationsIndex))
			r.Post("/annotations/{id:[0-9]+}/approve", admin(AnnotationsApprove))
			r.Get("/webmentions", admin(WebmentionsIndex))
		})

		if env.Avatars != nil {
			r.Get("/media/avatars/{name}", httpx.HandlerFunc(func(*http.Request) *media.Avatars { return env.Avatars }, (*media.Avatars).Show))
		}

		r.Group(func(r chi.Router) {
			r.Use(webmention.Advertise(env.Webmentions.Endpoint()))
			r.Get("/{slug}/", handle(ItemsPage))
			r.Get("/{year:[0-9]+}/{month:[0-9]+}/{slug}/", handle(ItemsPage))
		})
	}
}
