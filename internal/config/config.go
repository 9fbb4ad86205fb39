// Package config loads and validates the YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"gopkg.in/yaml.v3"
)

// Moderation policies.
const (
	ModerationPending  = "pending"
	ModerationApproved = "approved"
)

// Config represents the application configuration.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Outgoing   OutgoingConfig   `yaml:"outgoing"`
	Moderation ModerationConfig `yaml:"moderation"`
	Avatars    AvatarConfig     `yaml:"avatars"`
	HTTP       HTTPConfig       `yaml:"http"`
	Queue      QueueConfig      `yaml:"queue"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Admin      AdminConfig      `yaml:"admin"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Site),
		validation.Field(&c.Outgoing),
		validation.Field(&c.Moderation),
		validation.Field(&c.Avatars),
		validation.Field(&c.HTTP),
		validation.Field(&c.Queue),
		validation.Field(&c.Jobs),
		validation.Field(&c.Admin),
	)
}

// SiteConfig describes this host.
type SiteConfig struct {
	// URL is the absolute base URL of the site, eg. https://example.com/.
	URL string `yaml:"url"`
	// EndpointPath is the path the webmention endpoint is mounted on.
	EndpointPath string `yaml:"endpoint_path"`
}

func (c SiteConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.URL, validation.Required, is.URL),
		validation.Field(&c.EndpointPath, validation.Required, validation.Match(pathPattern)),
	)
}

// Host returns the host component of the site URL.
func (c SiteConfig) Host() string {
	u, err := url.Parse(c.URL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Endpoint returns the absolute URL of the webmention endpoint.
func (c SiteConfig) Endpoint() string {
	return strings.TrimSuffix(c.URL, "/") + c.EndpointPath
}

// Permalink returns the absolute URL of the content item with the given
// slug.
func (c SiteConfig) Permalink(slug string) string {
	return strings.TrimSuffix(c.URL, "/") + "/" + slug + "/"
}

// OutgoingConfig controls sending of webmentions.
type OutgoingConfig struct {
	Enabled bool `yaml:"enabled"`
	// ItemTypes lists the content item types which send webmentions.
	ItemTypes []string `yaml:"item_types"`
	// SendDelay, if set, replaces the random jitter applied before
	// sending. A zero delay sends synchronously.
	SendDelay *time.Duration `yaml:"send_delay"`
}

func (c OutgoingConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.SendDelay, validation.Min(time.Duration(0))),
	)
}

// Supports reports whether items of the given type send webmentions.
func (c OutgoingConfig) Supports(typ string) bool {
	for _, t := range c.ItemTypes {
		if t == typ {
			return true
		}
	}
	return false
}

// ModerationConfig is the default approval policy for new annotations.
type ModerationConfig struct {
	Default string `yaml:"default"`
	// TrustedDomains lists author hosts whose annotations are approved.
	TrustedDomains []string `yaml:"trusted_domains"`
	// ApproveKnownAuthors approves authors with an earlier approved
	// annotation.
	ApproveKnownAuthors bool `yaml:"approve_known_authors"`
}

func (c ModerationConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Default, validation.Required, validation.In(ModerationPending, ModerationApproved)),
	)
}

// AvatarConfig controls local caching of author avatars.
type AvatarConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	BaseURL string `yaml:"base_url"`
	Width   uint   `yaml:"width"`
	Height  uint   `yaml:"height"`
}

func (c AvatarConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Dir, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.Width, validation.Required, validation.Max(uint(2048))),
		validation.Field(&c.Height, validation.Required, validation.Max(uint(2048))),
	)
}

// HTTPConfig bounds outbound HTTP requests.
type HTTPConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	MaxBody   int64         `yaml:"max_body"`
	UserAgent string        `yaml:"user_agent"`
}

func (c HTTPConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Timeout, validation.Required),
		validation.Field(&c.MaxBody, validation.Required, validation.Min(int64(1024))),
	)
}

// QueueConfig controls the verification sweep.
type QueueConfig struct {
	BatchSize int           `yaml:"batch_size"`
	Interval  time.Duration `yaml:"interval"`
}

func (c QueueConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1)),
		validation.Field(&c.Interval, validation.Required),
	)
}

// JobsConfig controls the one-shot job runner.
type JobsConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

func (c JobsConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.PollInterval, validation.Required),
	)
}

// AdminConfig guards the admin API. The admin API is disabled when Token
// is empty.
type AdminConfig struct {
	Token string `yaml:"token"`
}

func (c AdminConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Token, validation.When(c.Token != "", validation.Length(16, 0))),
	)
}

// NewDefaultConfig returns a new Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			EndpointPath: "/webmention",
		},
		Outgoing: OutgoingConfig{
			Enabled:   true,
			ItemTypes: []string{"article", "note"},
		},
		Moderation: ModerationConfig{
			Default: ModerationPending,
		},
		Avatars: AvatarConfig{
			Dir:     "./avatars",
			BaseURL: "/media/avatars/",
			Width:   150,
			Height:  150,
		},
		HTTP: HTTPConfig{
			Timeout:   11 * time.Second,
			MaxBody:   1 << 20,
			UserAgent: "mention (+https://github.com/davecheney/mention)",
		},
		Queue: QueueConfig{
			BatchSize: 5,
			Interval:  time.Hour,
		},
		Jobs: JobsConfig{
			PollInterval: 30 * time.Second,
		},
	}
}

// Load reads the YAML file at filename over the defaults, expanding
// environment variables, and validates the result.
func Load(filename string) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := decode(filename, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault is like Load but tolerates a missing file. A non empty
// siteURL overrides the site URL from the file.
func LoadOrDefault(filename, siteURL string) (*Config, error) {
	cfg := NewDefaultConfig()
	if _, err := os.Stat(filename); err == nil {
		if err := decode(filename, cfg); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if siteURL != "" {
		cfg.Site.URL = siteURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func decode(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	return nil
}

var pathPattern = regexp.MustCompile(`^/[^\s?#]*$`)
