package api

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"

	"github.com/davecheney/mention/internal/algorithms"
	"github.com/davecheney/mention/internal/httpx"
	"github.com/davecheney/mention/models"
	"github.com/davecheney/mention/webmention"
	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

var page = template.Must(template.New("item").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{ .Item.Title }}</title>
{{ .Link }}
</head>
<body>
<article class="h-entry">
<h1 class="p-name">{{ .Item.Title }}</h1>
<a class="u-url" href="{{ .Permalink }}">{{ with .Item.PublishedAt }}<time class="dt-published" datetime="{{ .Format "2006-01-02T15:04:05Z07:00" }}">{{ .Format "2 January 2006" }}</time>{{ end }}</a>
<div class="e-content">{{ .Body }}</div>
</article>
{{ range .Annotations }}<div class="h-cite" id="{{ .Anchor }}">
<a class="p-author h-card" href="{{ .AuthorURL }}">{{ if .AuthorAvatar }}<img class="u-photo" src="{{ .AuthorAvatar }}" alt="">{{ end }}{{ .AuthorName }}</a>
<a class="u-url" href="{{ .URL }}">{{ .Kind }}</a>
<div class="p-content">{{ .Body }}</div>
</div>
{{ end }}</body>
</html>
`))

type annotationView struct {
	*models.Annotation
	Body template.HTML
}

// ItemsPage renders a published item with its approved annotations.
// Trashed items are gone.
func ItemsPage(env *Env, w http.ResponseWriter, r *http.Request) error {
	slug := chi.URLParam(r, "slug")
	db := env.DB.WithContext(r.Context())
	item, err := models.NewItems(db).FindBySlug(slug)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return httpx.Error(http.StatusNotFound, fmt.Errorf("no item %q", slug))
	case err != nil:
		return err
	}
	switch item.Status {
	case models.ItemTrashed:
		return httpx.Error(http.StatusGone, fmt.Errorf("item %q was deleted", slug))
	case models.ItemPublished:
	default:
		return httpx.Error(http.StatusNotFound, fmt.Errorf("no item %q", slug))
	}

	annotations, err := models.NewAnnotations(db).ForItem(item.ID)
	if err != nil {
		return err
	}
	approved := algorithms.Filter(annotations, func(a *models.Annotation) bool { return a.Approved })

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return page.Execute(w, map[string]any{
		"Item":      item,
		"Permalink": env.Config.Site.Permalink(item.Slug),
		// item and annotation bodies are sanitized before they are stored.
		"Body": template.HTML(item.Body),
		"Link": template.HTML(webmention.LinkElement(env.Webmentions.Endpoint())),
		"Annotations": algorithms.Map(approved, func(a *models.Annotation) annotationView {
			return annotationView{Annotation: a, Body: template.HTML(a.Body)}
		}),
	})
}
