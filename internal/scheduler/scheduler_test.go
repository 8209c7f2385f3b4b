package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/rms-availability/internal/router"
)

type countingRouter struct {
	mu   sync.Mutex
	reqs []router.Request
}

func (c *countingRouter) Submit(_ context.Context, req router.Request) <-chan router.Response {
	c.mu.Lock()
	c.reqs = append(c.reqs, req)
	c.mu.Unlock()
	ch := make(chan router.Response, 1)
	ch <- router.Response{Success: true}
	close(ch)
	return ch
}

func (c *countingRouter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reqs)
}

func TestWindow(t *testing.T) {
	s := &Scheduler{Days: 14}
	start, end := s.Window(time.Date(2024, 6, 25, 23, 0, 0, 0, time.UTC))
	assert.Equal(t, "2024-06-25", start)
	assert.Equal(t, "2024-07-09", end)
}

func TestRunPrewarmsImmediatelyAndOnEachTick(t *testing.T) {
	cr := &countingRouter{}
	s := &Scheduler{
		Router:   cr,
		Interval: 20 * time.Millisecond,
		Days:     7,
		Now:      func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) },
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return cr.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	cr.mu.Lock()
	defer cr.mu.Unlock()
	assert.Equal(t, router.Request{Capability: router.Prewarm, Start: "2024-06-01", End: "2024-06-08"}, cr.reqs[0])
}
