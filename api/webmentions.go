package api

import (
	"errors"
	"net"
	"net/http"

	"github.com/davecheney/mention/internal/algorithms"
	"github.com/davecheney/mention/internal/httpx"
	"github.com/davecheney/mention/internal/to"
	"github.com/davecheney/mention/models"
	"github.com/davecheney/mention/webmention"
)

// WebmentionsCreate is the webmention endpoint. Valid webmentions are
// queued for verification and acknowledged with 202 Accepted.
func WebmentionsCreate(env *Env, w http.ResponseWriter, r *http.Request) error {
	var params struct {
		Source string `schema:"source" json:"source"`
		Target string `schema:"target" json:"target"`
	}
	if err := httpx.Params(r, &params); err != nil {
		return err
	}
	_, err := env.Webmentions.Intake(r.Context(), params.Source, params.Target, remoteIP(r))
	switch {
	case errors.Is(err, webmention.ErrInvalidURL):
		return httpx.Error(http.StatusBadRequest, err)
	case errors.Is(err, webmention.ErrTargetNotFound):
		return httpx.Error(http.StatusNotFound, err)
	case err != nil:
		return httpx.Error(http.StatusInternalServerError, err)
	}
	w.WriteHeader(http.StatusAccepted)
	return nil
}

// remoteIP returns the address of the client, as rewritten by the RealIP
// middleware.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func WebmentionsIndex(env *Env, w http.ResponseWriter, r *http.Request) error {
	var params struct {
		Status string `schema:"status"`
		Limit  int    `schema:"limit"`
	}
	if err := httpx.Params(r, &params); err != nil {
		return err
	}
	if params.Limit <= 0 || params.Limit > 100 {
		params.Limit = 40
	}
	status := models.WebmentionStatus(params.Status)
	switch status {
	case "", models.WebmentionDraft, models.WebmentionCreated, models.WebmentionUpdated,
		models.WebmentionDeleted, models.WebmentionInvalid, models.WebmentionDuplicate:
	default:
		return httpx.Error(http.StatusBadRequest, errors.New("unknown status: "+params.Status))
	}
	webmentions, err := models.NewWebmentions(env.DB.WithContext(r.Context())).Find(status, params.Limit)
	if err != nil {
		return err
	}
	return to.JSON(w, algorithms.Map(webmentions, serialiseWebmention))
}
