package main

import (
	"os"

	"github.com/alecthomas/kong"
	"github.com/davecheney/mention/internal/config"
	"github.com/davecheney/mention/media"
	"github.com/davecheney/mention/webmention"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Context struct {
	Debug bool

	gorm.Config
	Dialector gorm.Dialector
	Logger    *slog.Logger

	configFile string
	siteURL    string
}

// Settings loads the site configuration.
func (c *Context) Settings() (*config.Config, error) {
	return config.LoadOrDefault(c.configFile, c.siteURL)
}

// open opens and configures the database.
func (c *Context) open() (*gorm.DB, error) {
	db, err := gorm.Open(c.Dialector, &c.Config)
	if err != nil {
		return nil, err
	}
	return db, configureDB(db)
}

// service opens the database and returns the webmention service for it.
func (c *Context) service() (*webmention.Service, *config.Config, *gorm.DB, error) {
	cfg, err := c.Settings()
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := c.open()
	if err != nil {
		return nil, nil, nil, err
	}
	opts := []webmention.Option{webmention.WithLogger(c.Logger)}
	if cfg.Avatars.Enabled {
		opts = append(opts, webmention.WithAvatars(media.NewAvatars(cfg.Avatars, cfg.HTTP, nil)))
	}
	return webmention.NewService(db, cfg, opts...), cfg, db, nil
}

var cli struct {
	Debug   bool   `help:"Enable debug mode."`
	DSN     string `help:"data source name" default:"mention:mention@tcp(localhost:3306)/mention" env:"MENTION_DSN"`
	Config  string `help:"path to the configuration file" type:"path" default:"mention.yaml"`
	SiteURL string `help:"base URL of the site, overrides the configuration file" env:"MENTION_SITE_URL"`

	AutoMigrate  AutoMigrateCmd  `cmd:"" help:"Create or update the database schema."`
	Serve        ServeCmd        `cmd:"" help:"Serve a local web server."`
	ProcessQueue ProcessQueueCmd `cmd:"" help:"Verify a batch of received webmentions."`
	Send         SendCmd         `cmd:"" help:"Send the webmentions of an item or annotation."`
	Resend       ResendCmd       `cmd:"" help:"Forget what was sent for an item and send again."`
	CreateItem   CreateItemCmd   `cmd:"" help:"Create a draft item."`
	Publish      PublishCmd      `cmd:"" help:"Publish an item and schedule its webmentions."`
	Trash        TrashCmd        `cmd:"" help:"Trash an item and notify the sites it mentioned."`
	Approve      ApproveCmd      `cmd:"" help:"Approve an annotation."`
}

func main() {
	ctx := kong.Parse(&cli)

	level := slog.LevelInfo
	cfg := gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	}
	if cli.Debug {
		level = slog.LevelDebug
		cfg.Logger = logger.Default.LogMode(logger.Info)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	err := ctx.Run(&Context{
		Debug:      cli.Debug,
		Config:     cfg,
		Dialector:  newDialector(cli.DSN),
		Logger:     log,
		configFile: cli.Config,
		siteURL:    cli.SiteURL,
	})
	ctx.FatalIfErrorf(err)
}
