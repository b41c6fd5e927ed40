// Package cleanup implements the Cleanup Scheduler: a periodic task that
// expires stale upload sessions and their chunk rows, and under disk
// pressure expires every tracked session regardless of age (§4.7).
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/dockreef/registry/session"
	"github.com/dockreef/registry/store"
)

// Config controls the Scheduler's cadence and thresholds.
type Config struct {
	// Interval between sweeps. Default 30 minutes (§4.7).
	Interval time.Duration
	// SessionMaxAge is how long a session may sit idle before its chunk
	// rows are discarded. Default 24 hours (§4.7).
	SessionMaxAge time.Duration
	// DiskPath is the filesystem path whose usage is checked before each
	// sweep; empty disables the disk-pressure override.
	DiskPath string
	// DiskFloor is the minimum fraction of free space below which a
	// sweep drops the age filter and expires every tracked session.
	// Default 0.10 (§4.7, "10% disk floor").
	DiskFloor float64
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Minute
	}
	if c.SessionMaxAge <= 0 {
		c.SessionMaxAge = 24 * time.Hour
	}
	if c.DiskFloor <= 0 {
		c.DiskFloor = 0.10
	}
	return c
}

// Scheduler periodically expires stale sessions. It is driven by a
// clock.Clock so tests can fast-forward ticks instead of sleeping.
type Scheduler struct {
	cfg     Config
	clock   clock.Clock
	store   store.Store
	tracker *session.Tracker
	log     *slog.Logger

	usage func(path string) (*disk.UsageStat, error)
}

// New returns a Scheduler using the real wall clock.
func New(cfg Config, s store.Store, tr *session.Tracker, log *slog.Logger) *Scheduler {
	return newScheduler(cfg, clock.New(), s, tr, log)
}

// NewWithClock returns a Scheduler driven by c, for deterministic tests.
func NewWithClock(cfg Config, c clock.Clock, s store.Store, tr *session.Tracker, log *slog.Logger) *Scheduler {
	return newScheduler(cfg, c, s, tr, log)
}

func newScheduler(cfg Config, c clock.Clock, s store.Store, tr *session.Tracker, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cfg:     cfg.withDefaults(),
		clock:   c,
		store:   s,
		tracker: tr,
		log:     log,
		usage:   diskUsage,
	}
}

func diskUsage(path string) (*disk.UsageStat, error) {
	return disk.Usage(path)
}

// Run blocks, sweeping every Interval until ctx is cancelled. Each sweep
// is one pass of Sweep; errors are logged, not fatal, since a transient
// failure shouldn't stop future sweeps.
func (s *Scheduler) Run(ctx context.Context) {
	t := s.clock.Ticker(s.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.log.Error("cleanup sweep failed", "error", err)
			} else if n > 0 {
				s.log.Info("cleanup sweep expired sessions", "count", n)
			}
		}
	}
}

// Sweep expires every session idle longer than SessionMaxAge, discarding
// its chunk rows from the Blob Store and forgetting it from the Session
// Tracker. If DiskPath is configured and usage exceeds 1-DiskFloor, the
// age filter is dropped entirely for this sweep and every tracked session
// is expired, reclaiming space as aggressively as possible under pressure
// (§4.7 disk-pressure override, "runs regardless of age").
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	var targets []string
	if s.cfg.DiskPath != "" {
		under, err := s.underPressure()
		if err != nil {
			s.log.Warn("disk usage check failed, ignoring pressure override", "error", err)
		} else if under {
			for _, info := range s.tracker.All() {
				targets = append(targets, info.ID)
			}
		}
	}
	if targets == nil {
		targets = s.tracker.Stale(s.cfg.SessionMaxAge)
	}

	for _, id := range targets {
		if err := s.store.DiscardSession(ctx, id); err != nil {
			return 0, fmt.Errorf("cleanup: discard session %s: %w", id, err)
		}
		s.tracker.Forget(id)
	}
	return len(targets), nil
}

func (s *Scheduler) underPressure() (bool, error) {
	u, err := s.usage(s.cfg.DiskPath)
	if err != nil {
		return false, err
	}
	freeFraction := 1 - u.UsedPercent/100
	return freeFraction < s.cfg.DiskFloor, nil
}
