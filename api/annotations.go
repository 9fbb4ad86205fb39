package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/davecheney/mention/internal/algorithms"
	"github.com/davecheney/mention/internal/httpx"
	"github.com/davecheney/mention/internal/mf2"
	"github.com/davecheney/mention/internal/snowflake"
	"github.com/davecheney/mention/internal/to"
	"github.com/davecheney/mention/models"
	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

// AnnotationsIndex lists the annotations of an item, optionally only those
// of one kind.
func AnnotationsIndex(env *Env, w http.ResponseWriter, r *http.Request) error {
	kind := r.URL.Query().Get("kind")
	if kind != "" && mf2.ParseKind(kind) == mf2.KindNone {
		return httpx.Error(http.StatusBadRequest, fmt.Errorf("unknown kind %q", kind))
	}
	item, err := env.findItem(r)
	if err != nil {
		return err
	}
	annotations, err := models.NewAnnotations(env.DB.WithContext(r.Context())).ForItem(item.ID)
	if err != nil {
		return err
	}
	if kind != "" {
		annotations = algorithms.Filter(annotations, func(a *models.Annotation) bool {
			return string(a.Kind) == kind
		})
	}
	return to.JSON(w, algorithms.Map(annotations, serialiseAnnotation))
}

// AnnotationsApprove approves the annotation and sends webmentions to the
// annotation it replies to.
func AnnotationsApprove(env *Env, w http.ResponseWriter, r *http.Request) error {
	id, err := snowflake.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}
	annotations := models.NewAnnotations(env.DB.WithContext(r.Context()))
	annotation, err := annotations.FindByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return httpx.Error(http.StatusNotFound, err)
	}
	if err != nil {
		return err
	}
	if !annotation.Approved {
		if err := annotations.Approve(annotation); err != nil {
			return err
		}
		if err := env.Webmentions.OnAnnotationApproved(r.Context(), annotation); err != nil {
			return err
		}
	}
	return to.JSON(w, serialiseAnnotation(annotation))
}
