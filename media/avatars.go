// Package media keeps local thumbnails of remote author avatars.
package media

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/carlmjohnson/requests"
	"github.com/davecheney/mention/internal/config"
	"github.com/davecheney/mention/internal/httpx"
	"github.com/go-chi/chi/v5"
	"github.com/nfnt/resize"
)

// Avatars is a directory of PNG thumbnails named by the hash of the URL
// they were copied from.
type Avatars struct {
	dir     string
	baseURL string
	width   uint
	height  uint

	client *http.Client
	cfg    config.HTTPConfig
}

// NewAvatars returns an Avatars store for cfg. Remote images are fetched
// with client within the limits of hcfg.
func NewAvatars(cfg config.AvatarConfig, hcfg config.HTTPConfig, client *http.Client) *Avatars {
	if client == nil {
		client = http.DefaultClient
	}
	return &Avatars{
		dir:     cfg.Dir,
		baseURL: cfg.BaseURL,
		width:   cfg.Width,
		height:  cfg.Height,
		client:  client,
		cfg:     hcfg,
	}
}

// Name returns the file name of the thumbnail of src.
func Name(src string) string {
	h := sha1.New()
	io.WriteString(h, src)
	return hex.EncodeToString(h.Sum(nil)) + ".png"
}

// URL returns the public URL of the named thumbnail.
func (a *Avatars) URL(name string) string {
	return strings.TrimSuffix(a.baseURL, "/") + "/" + name
}

// Store copies src into the store, unless it is already present, and
// returns its public URL.
func (a *Avatars) Store(ctx context.Context, src string) (string, error) {
	name := Name(src)
	path := filepath.Join(a.dir, name)
	if _, err := os.Stat(path); err == nil {
		return a.URL(name), nil
	}

	img, err := a.fetch(ctx, src)
	if err != nil {
		return "", err
	}
	thumb := resize.Thumbnail(a.width, a.height, img, resize.Lanczos3)

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(a.dir, name+".*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if err := png.Encode(tmp, thumb); err != nil {
		tmp.Close()
		return "", fmt.Errorf("encode %s: %w", src, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return a.URL(name), nil
}

func (a *Avatars) fetch(ctx context.Context, src string) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	var buf bytes.Buffer
	err := requests.URL(src).
		Client(a.client).
		Header("User-Agent", a.cfg.UserAgent).
		Accept("image/*").
		Handle(func(res *http.Response) error {
			_, err := io.Copy(&buf, io.LimitReader(res.Body, a.cfg.MaxBody))
			return err
		}).
		Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src, err)
	}
	img, _, err := image.Decode(&buf)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", src, err)
	}
	return img, nil
}

// Show serves the thumbnail named by the name URL parameter.
func (a *Avatars) Show(w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	if !validName(name) {
		return httpx.Error(http.StatusNotFound, fmt.Errorf("unknown avatar %q", name))
	}
	f, err := os.Open(filepath.Join(a.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return httpx.Error(http.StatusNotFound, err)
	}
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=604800")
	http.ServeContent(w, r, name, fi.ModTime(), f)
	return nil
}

// validName reports whether name could have been returned by Name.
func validName(name string) bool {
	hash, ok := strings.CutSuffix(name, ".png")
	if !ok || len(hash) != sha1.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil && strings.ToLower(hash) == hash
}
