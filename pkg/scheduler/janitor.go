package scheduler

import (
	"context"
	"time"

	"media-resolver-go/pkg/kvstore"
	"media-resolver-go/pkg/logging"
)

// Janitor task ids.
const (
	TaskResolutionCache = "resolution-cache"
	TaskAffinityStore   = "affinity-store"
	TaskIdleSessions    = "idle-sessions"
)

// CacheSweeper drops expired cache entries.
type CacheSweeper interface {
	Sweep() int
}

// SessionSweeper drops idle playback sessions.
type SessionSweeper interface {
	SweepIdle(maxIdle time.Duration) int
}

// JanitorOptions configures the housekeeping tasks.
type JanitorOptions struct {
	Interval    time.Duration
	SessionIdle time.Duration
}

// RegisterJanitor registers housekeeping for whichever collaborators are
// non-nil.
func RegisterJanitor(s *Scheduler, cache CacheSweeper, store kvstore.Store, sessions SessionSweeper, opts JanitorOptions, log *logging.Logger) error {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	log = log.WithComponent("janitor")

	var tasks []TaskConfig
	if cache != nil {
		tasks = append(tasks, TaskConfig{
			ID:          TaskResolutionCache,
			Name:        "Resolution cache sweep",
			Description: "Drops expired resolutions",
			Interval:    opts.Interval,
			Func: func(context.Context) error {
				if n := cache.Sweep(); n > 0 {
					log.Debug("swept resolution cache", "removed", n)
				}
				return nil
			},
		})
	}
	if store != nil {
		tasks = append(tasks, TaskConfig{
			ID:          TaskAffinityStore,
			Name:        "Affinity store maintenance",
			Description: "Expires affinity rows and compacts the store",
			Interval:    opts.Interval,
			Func: func(ctx context.Context) error {
				n, err := kvstore.Maintain(ctx, store)
				if err != nil {
					return err
				}
				if n > 0 {
					log.Debug("expired affinity entries", "removed", n)
				}
				return nil
			},
		})
	}
	if sessions != nil && opts.SessionIdle > 0 {
		tasks = append(tasks, TaskConfig{
			ID:          TaskIdleSessions,
			Name:        "Idle session sweep",
			Description: "Closes sessions without recent activity",
			Interval:    opts.Interval,
			Func: func(context.Context) error {
				sessions.SweepIdle(opts.SessionIdle)
				return nil
			},
		})
	}

	for _, task := range tasks {
		if err := s.RegisterTask(task); err != nil {
			return err
		}
	}
	return nil
}
