// Package app assembles a runnable bugtrail instance from a workspace: the
// sqlite store, its config, the notification dispatcher and the engine.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bugtrail/internal/config"
	"bugtrail/internal/db"
	"bugtrail/internal/engine"
	"bugtrail/internal/migrate"
	"bugtrail/internal/notify"
)

// Context is an opened workspace.
type Context struct {
	Workspace  string
	Config     *config.Config
	DB         *sql.DB
	Dispatcher *notify.Dispatcher
	Engine     engine.Engine
	Logger     *slog.Logger
}

// Open prepares the workspace, applies migrations and starts the
// dispatcher. Callers must Close the result.
func Open(ctx context.Context, workspace string, logger *slog.Logger) (*Context, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	return OpenWithConfig(ctx, workspace, cfg, logger)
}

// OpenWithConfig is Open with an already loaded config.
func OpenWithConfig(_ context.Context, workspace string, cfg *config.Config, logger *slog.Logger) (*Context, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	sender, err := NewSender(cfg.Notify, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	var d *notify.Dispatcher
	var n notify.Notifier
	if sender != nil {
		d = notify.NewDispatcher(sender, cfg.Notify.QueueSize, logger)
		n = d
	}
	return &Context{
		Workspace:  workspace,
		Config:     cfg,
		DB:         conn,
		Dispatcher: d,
		Engine:     engine.New(conn, cfg, n, logger),
		Logger:     logger,
	}, nil
}

// NewSender builds the delivery backend for the configured channel. The
// "none" channel returns a nil sender.
func NewSender(cfg config.NotifyConfig, logger *slog.Logger) (notify.Sender, error) {
	switch strings.ToLower(cfg.Channel) {
	case "", config.ChannelLog:
		return notify.LogSender{Logger: logger}, nil
	case config.ChannelNone:
		return nil, nil
	case config.ChannelSMTP:
		return notify.SMTPSender{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}, nil
	case config.ChannelWebhook:
		return notify.WebhookSender{
			URL:     cfg.Webhook.URL,
			Secret:  cfg.Webhook.Secret,
			Timeout: time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second,
			Events:  cfg.Webhook.Events,
		}, nil
	}
	return nil, fmt.Errorf("unknown notify channel %q", cfg.Channel)
}

// Close drains pending notifications and closes the database.
func (c *Context) Close(ctx context.Context) error {
	var errs []error
	if c.Dispatcher != nil {
		if err := c.Dispatcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain notifications: %w", err))
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
