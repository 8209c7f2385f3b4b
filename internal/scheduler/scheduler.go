// Package scheduler keeps commitments for a rolling window warm so the first
// availability query of the day does not pay for a cold build.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/rms-availability/internal/router"
)

const dateLayout = "2006-01-02"

// Submitter is satisfied by *router.Router.
type Submitter interface {
	Submit(ctx context.Context, req router.Request) <-chan router.Response
}

// Scheduler prewarms the range [today, today+Days] every Interval.
type Scheduler struct {
	Router   Submitter
	Interval time.Duration
	Days     int
	Log      *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time

	wg sync.WaitGroup
}

func (s *Scheduler) Run(ctx context.Context) error {
	if s.Log == nil {
		s.Log = zap.NewNop()
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-t.C:
			s.tick(ctx)
		}
	}
}

// Window returns the range bounds prewarmed at now.
func (s *Scheduler) Window(now time.Time) (start, end string) {
	day := now.UTC()
	return day.Format(dateLayout), day.AddDate(0, 0, s.Days).Format(dateLayout)
}

func (s *Scheduler) tick(ctx context.Context) {
	start, end := s.Window(s.Now())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		resp := <-s.Router.Submit(ctx, router.Request{
			Capability: router.Prewarm,
			Start:      start,
			End:        end,
		})
		if !resp.Success {
			s.Log.Warn("prewarm failed",
				zap.String("start", start),
				zap.String("end", end),
				zap.String("code", resp.Error),
			)
			return
		}
		s.Log.Debug("prewarmed window", zap.String("start", start), zap.String("end", end))
	}()
}
