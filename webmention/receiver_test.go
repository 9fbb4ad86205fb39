package webmention

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/davecheney/mention/internal/config"
	"github.com/davecheney/mention/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const target = "https://example.com/hello/"

func TestIntake(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tc := []struct {
		name   string
		source string
		target string
		err    error
	}{
		{"missing source", "", target, ErrInvalidURL},
		{"missing target", "https://remote.example/post", "", ErrInvalidURL},
		{"relative source", "/post", target, ErrInvalidURL},
		{"unsupported scheme", "ftp://remote.example/post", target, ErrInvalidURL},
		{"not a url", "remote example", target, ErrInvalidURL},
		{"source is target", target, target, ErrInvalidURL},
		{"other host", "https://remote.example/post", "https://elsewhere.example/hello/", ErrTargetNotFound},
		{"site root", "https://remote.example/post", "https://example.com/", ErrTargetNotFound},
		{"unknown slug", "https://remote.example/post", "https://example.com/goodbye/", ErrTargetNotFound},
		{"draft item", "https://remote.example/post", "https://example.com/draft/", ErrTargetNotFound},
		{"unsupported item type", "https://remote.example/post", "https://example.com/about/", ErrTargetNotFound},
	}
	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			tx := db.Begin()
			defer tx.Rollback()

			mockItem(t, tx, "hello", "")
			mockItem(t, tx, "draft", "", func(i *models.Item) { i.Status = models.ItemDraft })
			mockItem(t, tx, "about", "", func(i *models.Item) { i.Type = "page" })
			svc := newTestService(t, tx, testConfig())

			_, err := svc.Intake(ctx, tt.source, tt.target, "192.0.2.1")
			require.ErrorIs(err, tt.err)
		})
	}

	t.Run("queues a draft", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		item := mockItem(t, tx, "hello", "")
		svc := newTestService(t, tx, testConfig())

		for _, target := range []string{target, "https://EXAMPLE.com/2023/04/hello", target + "#annotation-1"} {
			wm, err := svc.Intake(ctx, "https://remote.example/post", target, "192.0.2.1")
			require.NoError(err)
			require.Equal(models.WebmentionDraft, wm.Status)
			require.Equal(item.ID, wm.ItemID)
			require.Equal("192.0.2.1", wm.IP)
			require.Equal(target, wm.Target)
		}
	})
}

func TestVerify(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// status returns the current status of the webmention.
	status := func(t *testing.T, tx *gorm.DB, wm *models.Webmention) models.WebmentionStatus {
		t.Helper()
		var got models.Webmention
		require.NoError(t, tx.Take(&got, wm.ID).Error)
		return got.Status
	}

	t.Run("created then duplicate", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		mockItem(t, tx, "hello", "")
		src := newSource(t)
		source := src.set("/reply", http.StatusOK, reply("Alice", target, "Great post!"))
		svc := newTestService(t, tx, testConfig())

		first, err := svc.Intake(ctx, source, target, "192.0.2.1")
		require.NoError(err)
		second, err := svc.Intake(ctx, source, target, "192.0.2.1")
		require.NoError(err)
		require.NotEqual(first.ID, second.ID)

		n, err := svc.Verify(ctx)
		require.NoError(err)
		require.Equal(2, n)
		require.Equal(models.WebmentionCreated, status(t, tx, first))
		require.Equal(models.WebmentionDuplicate, status(t, tx, second))

		annotation, err := models.NewAnnotations(tx).FindBySourceTarget(source, target)
		require.NoError(err)
		require.Equal(models.KindReply, annotation.Kind)
		require.Equal("Alice", annotation.AuthorName)
		require.Equal("https://alice.example/", annotation.AuthorURL)
		require.Equal("Great post!", annotation.Body)
		require.Equal(source, annotation.URL)
		require.False(annotation.Approved)
	})

	t.Run("deleted when the source is gone", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		mockItem(t, tx, "hello", "")
		src := newSource(t)
		source := src.set("/reply", http.StatusOK, reply("Alice", target, "Great post!"))
		svc := newTestService(t, tx, testConfig())

		_, err := svc.Intake(ctx, source, target, "192.0.2.1")
		require.NoError(err)
		_, err = svc.Verify(ctx)
		require.NoError(err)

		src.set("/reply", http.StatusNotFound, "")
		wm, err := svc.Intake(ctx, source, target, "192.0.2.1")
		require.NoError(err)
		_, err = svc.Verify(ctx)
		require.NoError(err)

		require.Equal(models.WebmentionDeleted, status(t, tx, wm))
		_, err = models.NewAnnotations(tx).FindBySourceTarget(source, target)
		require.True(errors.Is(err, gorm.ErrRecordNotFound))
	})

	t.Run("terminal failures", func(t *testing.T) {
		tc := []struct {
			name   string
			status int
			body   string
		}{
			{"gone without an annotation", http.StatusGone, ""},
			{"not found", http.StatusNotFound, ""},
			{"forbidden", http.StatusForbidden, reply("Alice", target, "hi")},
			{"does not link to target", http.StatusOK, reply("Alice", "https://example.com/other/", "hi")},
		}
		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				require := require.New(t)
				tx := db.Begin()
				defer tx.Rollback()

				mockItem(t, tx, "hello", "")
				src := newSource(t)
				source := src.set("/reply", tt.status, tt.body)
				svc := newTestService(t, tx, testConfig())

				wm, err := svc.Intake(ctx, source, target, "192.0.2.1")
				require.NoError(err)
				_, err = svc.Verify(ctx)
				require.NoError(err)
				require.Equal(models.WebmentionInvalid, status(t, tx, wm))
			})
		}
	})

	t.Run("unreachable sources stay draft", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		mockItem(t, tx, "hello", "")
		src := newSource(t)
		failing := src.set("/reply", http.StatusServiceUnavailable, "")
		dead := newSource(t)
		dead.Close()
		svc := newTestService(t, tx, testConfig())

		first, err := svc.Intake(ctx, failing, target, "192.0.2.1")
		require.NoError(err)
		second, err := svc.Intake(ctx, dead.URL+"/reply", target, "192.0.2.1")
		require.NoError(err)
		_, err = svc.Verify(ctx)
		require.NoError(err)

		pending, err := models.NewWebmentions(tx).Pending(10)
		require.NoError(err)
		require.Len(pending, 2)
		require.Equal(first.ID, pending[0].ID)
		require.Equal(second.ID, pending[1].ID)
		require.EqualValues(1, pending[0].Attempts)
		require.Contains(pending[0].LastResult, "503")
		require.EqualValues(1, pending[1].Attempts)
	})

	t.Run("deferred webmentions do not hold up new ones", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		mockItem(t, tx, "hello", "")
		dead := newSource(t)
		dead.Close()
		svc := newTestService(t, tx, testConfig())
		for i := 0; i < 5; i++ {
			_, err := svc.Intake(ctx, fmt.Sprintf("%s/%d", dead.URL, i), target, "192.0.2.1")
			require.NoError(err)
		}
		src := newSource(t)
		wm, err := svc.Intake(ctx, src.set("/reply", http.StatusOK, reply("Alice", target, "hi")), target, "192.0.2.1")
		require.NoError(err)

		n, err := svc.Verify(ctx)
		require.NoError(err)
		require.Equal(5, n)
		require.Equal(models.WebmentionDraft, status(t, tx, wm))

		_, err = svc.Verify(ctx)
		require.NoError(err)
		require.Equal(models.WebmentionCreated, status(t, tx, wm))

		pending, err := models.NewWebmentions(tx).Pending(10)
		require.NoError(err)
		require.Len(pending, 5)
		for _, p := range pending {
			require.NotZero(p.Attempts)
		}
	})

	t.Run("closed targets are skipped", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		closedItem := mockItem(t, tx, "closed", "")
		require.NoError(models.NewItems(tx).SetCommentsOpen(closedItem, false))
		mockItem(t, tx, "hello", "")
		src := newSource(t)
		svc := newTestService(t, tx, testConfig())

		closedTarget := "https://example.com/closed/"
		closed, err := svc.Intake(ctx, src.set("/a", http.StatusOK, reply("Alice", closedTarget, "hi")), closedTarget, "192.0.2.1")
		require.NoError(err)
		open, err := svc.Intake(ctx, src.set("/b", http.StatusOK, reply("Alice", target, "hi")), target, "192.0.2.1")
		require.NoError(err)

		_, err = svc.Verify(ctx)
		require.NoError(err)
		require.Equal(models.WebmentionDraft, status(t, tx, closed))
		require.Equal(models.WebmentionCreated, status(t, tx, open))
	})

	t.Run("updates keep approval only for the same text", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		mockItem(t, tx, "hello", "")
		src := newSource(t)
		source := src.set("/reply", http.StatusOK, reply("Alice", target, "<p>Great post!</p>"))
		svc := newTestService(t, tx, testConfig())
		annotations := models.NewAnnotations(tx)

		_, err := svc.Intake(ctx, source, target, "192.0.2.1")
		require.NoError(err)
		_, err = svc.Verify(ctx)
		require.NoError(err)
		annotation, err := annotations.FindBySourceTarget(source, target)
		require.NoError(err)
		require.NoError(annotations.Approve(annotation))

		// same text, different author name.
		src.set("/reply", http.StatusOK, reply("Alice Smith", target, "<p>Great   post!</p>"))
		wm, err := svc.Intake(ctx, source, target, "192.0.2.1")
		require.NoError(err)
		_, err = svc.Verify(ctx)
		require.NoError(err)
		require.Equal(models.WebmentionUpdated, status(t, tx, wm))
		updated, err := annotations.FindBySourceTarget(source, target)
		require.NoError(err)
		require.Equal(annotation.ID, updated.ID)
		require.Equal("Alice Smith", updated.AuthorName)
		require.True(updated.Approved)

		// different text.
		src.set("/reply", http.StatusOK, reply("Alice Smith", target, "<p>Terrible post!</p>"))
		wm, err = svc.Intake(ctx, source, target, "192.0.2.1")
		require.NoError(err)
		_, err = svc.Verify(ctx)
		require.NoError(err)
		require.Equal(models.WebmentionUpdated, status(t, tx, wm))
		updated, err = annotations.FindBySourceTarget(source, target)
		require.NoError(err)
		require.Equal("<p>Terrible post!</p>", updated.Body)
		require.False(updated.Approved)
	})

	t.Run("batches are bounded", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		mockItem(t, tx, "hello", "")
		src := newSource(t)
		svc := newTestService(t, tx, testConfig())
		for i := 0; i < 7; i++ {
			source := src.set(fmt.Sprintf("/%d", i), http.StatusOK, reply("Alice", target, "hi"))
			_, err := svc.Intake(ctx, source, target, "192.0.2.1")
			require.NoError(err)
		}

		n, err := svc.Verify(ctx)
		require.NoError(err)
		require.Equal(5, n)
		pending, err := models.NewWebmentions(tx).Pending(10)
		require.NoError(err)
		require.Len(pending, 2)

		n, err = svc.Verify(ctx)
		require.NoError(err)
		require.Equal(2, n)
		created, err := models.NewWebmentions(tx).Find(models.WebmentionCreated, 10)
		require.NoError(err)
		require.Len(created, 7)
	})

	t.Run("kinds", func(t *testing.T) {
		tc := []struct {
			name string
			body string
			kind models.AnnotationKind
			text string
		}{
			{
				name: "like",
				body: `<div class="h-entry"><a class="p-author h-card" href="https://bob.example/">Bob</a><a class="u-like-of" href="` + target + `">liked</a></div>`,
				kind: models.KindLike,
				text: "Bob liked this!",
			},
			{
				name: "plain link is a mention",
				body: `<html><body><p>I read <a href="` + target + `">this</a> today.</p></body></html>`,
				kind: models.KindMention,
				text: "[…] I read this today. […]",
			},
		}
		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				require := require.New(t)
				tx := db.Begin()
				defer tx.Rollback()

				mockItem(t, tx, "hello", "")
				src := newSource(t)
				source := src.set("/entry", http.StatusOK, tt.body)
				svc := newTestService(t, tx, testConfig())

				_, err := svc.Intake(ctx, source, target, "192.0.2.1")
				require.NoError(err)
				_, err = svc.Verify(ctx)
				require.NoError(err)

				annotation, err := models.NewAnnotations(tx).FindBySourceTarget(source, target)
				require.NoError(err)
				require.Equal(tt.kind, annotation.Kind)
				require.Equal(tt.text, annotation.Body)
			})
		}
	})

	t.Run("replies to annotations are threaded", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		item := mockItem(t, tx, "hello", "")
		parent := &models.Annotation{ItemID: item.ID, Kind: models.KindReply, Source: "https://remote.example/1", Target: target}
		require.NoError(models.NewAnnotations(tx).Create(parent))

		threaded := target + "#" + parent.Anchor()
		src := newSource(t)
		source := src.set("/reply", http.StatusOK, reply("Alice", threaded, "I agree"))
		svc := newTestService(t, tx, testConfig())

		_, err := svc.Intake(ctx, source, threaded, "192.0.2.1")
		require.NoError(err)
		_, err = svc.Verify(ctx)
		require.NoError(err)

		annotation, err := models.NewAnnotations(tx).FindBySourceTarget(source, threaded)
		require.NoError(err)
		require.NotNil(annotation.ParentID)
		require.Equal(parent.ID, *annotation.ParentID)
		require.Equal(models.KindReply, annotation.Kind)
	})
}

func TestModeration(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tc := []struct {
		name     string
		cfg      func(*config.Config)
		known    bool
		approved bool
	}{
		{name: "pending by default", cfg: func(*config.Config) {}, approved: false},
		{name: "approved by default", cfg: func(c *config.Config) { c.Moderation.Default = config.ModerationApproved }, approved: true},
		{name: "untrusted domain", cfg: func(c *config.Config) { c.Moderation.TrustedDomains = []string{"bob.example"} }, approved: false},
		{name: "trusted domain", cfg: func(c *config.Config) { c.Moderation.TrustedDomains = []string{"ALICE.example"} }, approved: true},
		{name: "unknown author", cfg: func(c *config.Config) { c.Moderation.ApproveKnownAuthors = true }, approved: false},
		{name: "known author", cfg: func(c *config.Config) { c.Moderation.ApproveKnownAuthors = true }, known: true, approved: true},
	}
	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			tx := db.Begin()
			defer tx.Rollback()

			item := mockItem(t, tx, "hello", "")
			if tt.known {
				require.NoError(models.NewAnnotations(tx).Create(&models.Annotation{
					ItemID:    item.ID,
					AuthorURL: "https://alice.example/",
					Approved:  true,
					Kind:      models.KindReply,
					Source:    "https://alice.example/earlier",
					Target:    target,
				}))
			}
			src := newSource(t)
			source := src.set("/reply", http.StatusOK, reply("Alice", target, "hi"))
			svc := newTestService(t, tx, testConfig(tt.cfg))

			_, err := svc.Intake(ctx, source, target, "192.0.2.1")
			require.NoError(err)
			_, err = svc.Verify(ctx)
			require.NoError(err)

			annotation, err := models.NewAnnotations(tx).FindBySourceTarget(source, target)
			require.NoError(err)
			require.Equal(tt.approved, annotation.Approved)
		})
	}
}

type avatars map[string]string

func (a avatars) Store(ctx context.Context, src string) (string, error) {
	local, ok := a[src]
	if !ok {
		return "", errors.New("not found")
	}
	return local, nil
}

func TestVerifyAvatars(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	body := func(photo string) string {
		return `<div class="h-entry"><div class="p-author h-card"><a class="u-url p-name" href="https://alice.example/">Alice</a>` +
			`<img class="u-photo" src="` + photo + `"></div>` +
			`<a class="u-in-reply-to" href="` + target + `">re</a><div class="e-content">hi</div></div>`
	}
	store := avatars{"https://alice.example/me.jpg": "/media/avatars/abc.png"}

	tc := []struct {
		name    string
		photo   string
		enabled bool
		expect  string
	}{
		{"cached", "https://alice.example/me.jpg", true, "/media/avatars/abc.png"},
		{"disabled", "https://alice.example/me.jpg", false, "https://alice.example/me.jpg"},
		{"store failure keeps the remote url", "https://alice.example/other.jpg", true, "https://alice.example/other.jpg"},
	}
	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			tx := db.Begin()
			defer tx.Rollback()

			mockItem(t, tx, "hello", "")
			src := newSource(t)
			source := src.set("/reply", http.StatusOK, body(tt.photo))
			svc := newTestService(t, tx, testConfig(func(c *config.Config) {
				c.Avatars.Enabled = tt.enabled
			}), WithAvatars(store))

			_, err := svc.Intake(ctx, source, target, "192.0.2.1")
			require.NoError(err)
			_, err = svc.Verify(ctx)
			require.NoError(err)

			annotation, err := models.NewAnnotations(tx).FindBySourceTarget(source, target)
			require.NoError(err)
			require.Equal(tt.expect, annotation.AuthorAvatar)
		})
	}
}
