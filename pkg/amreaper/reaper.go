// Removes maintenance windows once they've ended. A single timer tracks the earliest
// end in the global index, and is recomputed on every change.
package amreaper

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/function61/amon/pkg/ammetrics"
	"github.com/function61/amon/pkg/amstate"
	"github.com/function61/gokit/logex"
)

const (
	MinDelay   = 100 * time.Millisecond
	RetryDelay = 5 * time.Minute
)

type Reaper struct {
	store      *amstate.Store
	logl       *logex.Leveled
	reschedule chan struct{}
	armed      atomic.Bool
	minDelay   time.Duration
	retryDelay time.Duration
}

func New(store *amstate.Store, logger *log.Logger) *Reaper {
	return &Reaper{
		store:      store,
		logl:       logex.Levels(logger),
		reschedule: make(chan struct{}, 1),
		minDelay:   MinDelay,
		retryDelay: RetryDelay,
	}
}

// Reschedule asks the reaper to recompute its timer. never blocks. multiple requests
// made before the reaper gets to them collapse into one.
func (r *Reaper) Reschedule() {
	select {
	case r.reschedule <- struct{}{}:
	default:
	}
}

// true if a timer (expiry or error retry) is pending
func (r *Reaper) Armed() bool {
	return r.armed.Load()
}

// Run owns the timer until ctx is cancelled
func (r *Reaper) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	stopTimer(timer)
	defer stopTimer(timer)

	// entry the timer was armed for. nil when armed for a retry.
	var pending *amstate.IndexEntry

	schedule := func() {
		stopTimer(timer)
		r.armed.Store(false)

		next, err := r.store.NextMaintenanceExpiry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			ammetrics.ReaperErrorsTotal.Inc()
			r.logl.Error.Printf("reading maintenance index (retrying in %s): %v", r.retryDelay, err)

			pending = nil
			timer.Reset(r.retryDelay)
			r.armed.Store(true)
			return
		}

		pending = next

		if next == nil {
			r.logl.Debug.Println("no maintenance windows; idle")
			return
		}

		delay := time.Until(epochMsToTime(next.End))
		if delay < r.minDelay {
			delay = r.minDelay
		}

		r.logl.Debug.Printf("next expiry %s in %s", next.Key, delay)

		timer.Reset(delay)
		r.armed.Store(true)
	}

	schedule()

	for {
		select {
		case <-ctx.Done():
			r.armed.Store(false)
			return nil
		case <-r.reschedule:
			schedule()
		case <-timer.C:
			r.armed.Store(false)

			if pending != nil {
				if err := r.expire(ctx, *pending); err != nil {
					ammetrics.ReaperErrorsTotal.Inc()
					r.logl.Error.Printf("expire %s (retrying in %s): %v", pending.Key, r.retryDelay, err)

					pending = nil
					timer.Reset(r.retryDelay)
					r.armed.Store(true)
					continue
				}
			}

			schedule()
		}
	}
}

func (r *Reaper) expire(ctx context.Context, entry amstate.IndexEntry) error {
	m, err := r.store.GetMaintenance(ctx, entry.User, entry.Id)
	if err != nil {
		return err
	}
	if m == nil { // deleted meanwhile, or was corrupt (and was removed)
		return nil
	}

	r.logl.Info.Printf("maintenance %s ended", m.Key())

	if err := r.delete(ctx, m); err != nil {
		return err
	}

	ammetrics.ReaperLagSeconds.Observe(time.Since(epochMsToTime(m.End)).Seconds())

	return nil
}

// end handler errors are logged by the store and don't count as failure: the window is
// gone regardless
func (r *Reaper) delete(ctx context.Context, m *amstate.Maintenance) error {
	if err := r.store.DeleteMaintenance(ctx, m); err != nil && !amstate.IsEndHandlerError(err) {
		return err
	}

	ammetrics.MaintenancesExpiredTotal.Inc()

	return nil
}

// ReapExpired deletes every window that has ended by now. for environments without a
// long-running process (scheduled Lambda invocation, cron). returns count of deleted.
func (r *Reaper) ReapExpired(ctx context.Context, now time.Time) (int, error) {
	entries, err := r.store.MaintenancesEndedBy(ctx, amstate.EpochMs(now))
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, entry := range entries {
		m, err := r.store.GetMaintenance(ctx, entry.User, entry.Id)
		if err != nil {
			return reaped, err
		}
		if m == nil {
			continue
		}

		if err := r.delete(ctx, m); err != nil {
			return reaped, err
		}

		reaped++
	}

	if reaped > 0 {
		r.logl.Info.Printf("reaped %d maintenance window(s)", reaped)
	}

	return reaped, nil
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func epochMsToTime(ms int64) time.Time {
	return time.Unix(0, ms*int64(time.Millisecond))
}
