// Package engine runs the bug and task workflows. Every operation takes the
// acting user's id explicitly, loads what it needs, asks the policy, mutates,
// writes the entity and one audit record in a single transaction and only
// then hands a notification to the dispatcher.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bugtrail/internal/apperr"
	"bugtrail/internal/audit"
	"bugtrail/internal/breach"
	"bugtrail/internal/config"
	"bugtrail/internal/domain"
	"bugtrail/internal/notify"
	"bugtrail/internal/policy"
	"bugtrail/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Audit    audit.Writer
	Breach   breach.Monitor
	Notifier notify.Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

// New wires an engine over db. A nil notifier disables notifications.
func New(db *sql.DB, cfg *config.Config, n notify.Notifier, logger *slog.Logger) Engine {
	if logger == nil {
		logger = slog.Default()
	}
	r := repo.Repo{DB: db}
	threshold := breach.DefaultThreshold
	if cfg != nil && cfg.Breach.Threshold > 0 {
		threshold = cfg.Breach.Threshold
	}
	return Engine{
		DB:       db,
		Repo:     r,
		Audit:    audit.Writer{DB: db},
		Breach:   breach.Monitor{Threshold: threshold, Store: r, Logger: logger},
		Notifier: n,
		Logger:   logger,
		Now:      time.Now,
	}
}

// now is truncated to the precision timestamps are stored with, so values
// returned by an operation equal what a later read sees.
func (e Engine) now() time.Time {
	n := time.Now
	if e.Now != nil {
		n = e.Now
	}
	return n().UTC().Truncate(time.Microsecond)
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// storeErr turns repository errors into the engine's error kinds.
func storeErr(err error, what string, id int64) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return apperr.NotFound("%s %d not found", what, id)
	}
	return apperr.Internal(err, "load %s %d", what, id)
}

func (e Engine) actor(ctx context.Context, id int64) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, id)
	if err != nil {
		return u, storeErr(err, "user", id)
	}
	return u, nil
}

// inTx runs fn in a transaction and commits it. Any error rolls back.
func (e Engine) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Internal(err, "%s: begin", op)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		if apperr.KindOf(err) == apperr.KindInternal && !errors.Is(err, apperr.ErrInternal) {
			return apperr.Internal(err, "%s", op)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Internal(err, "%s: commit", op)
	}
	return nil
}

func authorize(req policy.Request) error {
	return policy.Evaluate(req).Err()
}

// emit hands ev to the notifier. It never fails the caller.
func (e Engine) emit(ev notify.Event) {
	if e.Notifier == nil {
		return
	}
	e.Notifier.Notify(ev)
}

// email looks up a user's address for a notification; failures are logged
// and yield "" so the dispatcher skips the event.
func (e Engine) email(ctx context.Context, userID int64) string {
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		e.log().Warn("notification recipient lookup failed", "user_id", userID, "err", err)
		return ""
	}
	return u.Email
}

func (e Engine) username(ctx context.Context, userID int64) string {
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return fmt.Sprintf("user %d", userID)
	}
	return u.Username
}

// projectInfo returns the project's name and owner email for notifications.
func (e Engine) projectInfo(ctx context.Context, projectID int64) (name, ownerEmail string) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		e.log().Warn("notification project lookup failed", "project_id", projectID, "err", err)
		return "", ""
	}
	return p.Name, e.email(ctx, p.OwnerID)
}
