package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/davecheney/mention/api"
	"github.com/davecheney/mention/internal/group"
	"github.com/davecheney/mention/media"
	"github.com/davecheney/mention/workers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type ServeCmd struct {
	Addr string `help:"address to listen" default:":9999"`
}

func (s *ServeCmd) Run(ctx *Context) error {
	svc, cfg, db, err := ctx.service()
	if err != nil {
		return err
	}

	env := &api.Env{
		DB:          db,
		Config:      cfg,
		Logger:      ctx.Logger,
		Webmentions: svc,
	}
	if cfg.Avatars.Enabled {
		env.Avatars = media.NewAvatars(cfg.Avatars, cfg.HTTP, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/", func(r chi.Router) {
		r.Group(api.Routes(env))

		r.Get("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			io.WriteString(w, "User-agent: *\nDisallow: /api/\n")
		})
	})

	walkFunc := func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
		route = strings.Replace(route, "/*/", "/", -1)
		ctx.Logger.Debug("route", "method", method, "route", route)
		return nil
	}
	if err := chi.Walk(r, walkFunc); err != nil {
		fmt.Printf("Logging err: %s\n", err.Error())
	}

	svr := &http.Server{
		Addr:         s.Addr,
		Handler:      r,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	g := group.New(sigCtx)
	g.AddContext(workers.NewJobRunner(db, svc, ctx.Logger, cfg.Jobs.PollInterval))
	g.AddContext(workers.NewQueueSweeper(svc, ctx.Logger, cfg.Queue.Interval))
	g.AddContext(func(ctx context.Context) error {
		go func() {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			svr.Shutdown(shutdown)
		}()
		if err := svr.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return g.Wait()
}
