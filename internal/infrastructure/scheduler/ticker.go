package scheduler

import (
	"context"
	"time"

	"vestnik/internal/ports"
)

// IntervalScheduler runs a job immediately and then on a fixed interval.
type IntervalScheduler struct {
	interval time.Duration
	stop     chan struct{}
}

var _ ports.Scheduler = (*IntervalScheduler)(nil)

// NewInterval builds a scheduler ticking every d; values below one second are
// raised to one second.
func NewInterval(d time.Duration) *IntervalScheduler {
	if d < time.Second {
		d = time.Second
	}
	return &IntervalScheduler{interval: d}
}

// Start begins ticking. The first run happens right away; subsequent runs wait
// for the interval. Calling Start on a running scheduler is a no-op.
func (s *IntervalScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	if s.stop != nil {
		return nil
	}

	s.stop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		job(time.Now())
		for {
			select {
			case t := <-ticker.C:
				job(t)
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			}
		}
	}()

	return nil
}

// Stop halts the ticker goroutine.
func (s *IntervalScheduler) Stop(ctx context.Context) error {
	if s.stop == nil {
		return nil
	}
	close(s.stop)
	s.stop = nil
	return nil
}
