// Package breach flags bugs that stayed open longer than the SLA threshold.
package breach

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bugtrail/internal/domain"
)

// DefaultThreshold is how long a bug may sit in one unresolved status.
const DefaultThreshold = 210 * time.Second

// Store persists the flip. MarkBreached must only write when the stored
// flag is still false and report whether it did.
type Store interface {
	MarkBreached(ctx context.Context, bugID int64) (bool, error)
}

type Monitor struct {
	Threshold time.Duration
	Store     Store
	Logger    *slog.Logger
}

func (m Monitor) threshold() time.Duration {
	if m.Threshold <= 0 {
		return DefaultThreshold
	}
	return m.Threshold
}

func (m Monitor) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// Check reports whether b is breached at now, persisting the flag the first
// time the threshold is exceeded. b.Breached is updated in place.
func (m Monitor) Check(ctx context.Context, b *domain.Bug, now time.Time) (bool, error) {
	if b.Breached {
		return true, nil
	}
	if b.Status.Done() {
		return false, nil
	}
	elapsed := now.Sub(b.LastStatusChange)
	if elapsed <= m.threshold() {
		return false, nil
	}
	flipped, err := m.Store.MarkBreached(ctx, b.ID)
	if err != nil {
		return false, fmt.Errorf("mark bug %d breached: %w", b.ID, err)
	}
	b.Breached = true
	if flipped {
		m.logger().Info("bug breached", "bug_id", b.ID, "status", b.Status, "elapsed", elapsed.Round(time.Second))
	}
	return true, nil
}

// Partition runs Check over bugs and splits them into those still within
// budget and those breached.
func (m Monitor) Partition(ctx context.Context, bugs []domain.Bug, now time.Time) (ok, breached []domain.Bug, err error) {
	for i := range bugs {
		b := bugs[i]
		hit, err := m.Check(ctx, &b, now)
		if err != nil {
			return nil, nil, err
		}
		if hit {
			breached = append(breached, b)
		} else {
			ok = append(ok, b)
		}
	}
	return ok, breached, nil
}
