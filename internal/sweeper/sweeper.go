// Package sweeper runs the periodic expiry pass over access grants.
package sweeper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"adgate.org/internal/access"
	"adgate.org/internal/notify"
	"adgate.org/internal/obs"
)

// DefaultInterval is used when no interval is configured.
const DefaultInterval = 5 * time.Minute

// Sweeper schedules Engine.SweepExpired on a fixed interval.
type Sweeper struct {
	engine   *access.Engine
	stream   *notify.Stream
	interval time.Duration
	cron     *cron.Cron
}

// New constructs a Sweeper. A non-positive interval falls back to
// DefaultInterval. stream may be nil.
func New(engine *access.Engine, stream *notify.Stream, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{engine: engine, stream: stream, interval: interval}
}

// Start registers the sweep job and begins the schedule. The first sweep runs
// immediately so restarts do not delay expiry.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc("@every "+s.interval.String(), func() {
		s.run(ctx)
	}); err != nil {
		return err
	}
	s.run(ctx)
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

func (s *Sweeper) run(ctx context.Context) {
	n, err := s.engine.SweepExpired(ctx)
	ts := time.Now().UTC()
	if err != nil {
		obs.LogRequest(map[string]any{
			"ts": ts.Format(time.RFC3339Nano), "type": "sweep", "status": "error", "error": err.Error(),
		})
		return
	}
	if n == 0 {
		return
	}
	obs.LogRequest(map[string]any{
		"ts": ts.Format(time.RFC3339Nano), "type": "sweep", "status": "ok", "expired": n,
	})
	if s.stream != nil {
		s.stream.Publish(notify.Event{Kind: notify.GrantsExpired, Count: n, Timestamp: ts})
	}
}
