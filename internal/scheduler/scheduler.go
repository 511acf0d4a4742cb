// Package scheduler provides a FIFO request scheduler that enforces
// sliding-window rate limits shared by every caller in the process.
// All calls to an external API must go through a Scheduler instance;
// no component performs direct unthrottled requests.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"solana-candle-lab/internal/observability"
)

// Profile parameterizes one rate-limit regime. Separate Scheduler instances
// are constructed per profile (e.g. market-data API vs chain RPC); the
// implementation carries no hardcoded limits.
type Profile struct {
	// Name labels this profile in metrics, e.g. "market" or "rpc".
	Name string
	// Window is the sliding-window length, e.g. 60s for the market-data API.
	Window time.Duration
	// MaxInWindow is the global cap on dispatches inside any window.
	MaxInWindow int
	// MaxPerEndpoint caps dispatches per endpoint key inside the window.
	// Zero disables the per-endpoint limit.
	MaxPerEndpoint int
	// MinDelay is the minimum spacing between any two dispatches.
	MinDelay time.Duration
	// MaxConcurrent bounds work in flight. This is a concurrency cap,
	// distinct from the window which bounds rate. Zero means 1.
	MaxConcurrent int
	// MaxRateLimitRetries bounds internal retries on RateLimitError
	// before the error is surfaced to the caller. Zero means 5.
	MaxRateLimitRetries int
}

// RateLimitError signals an explicit rate-limit response (HTTP 429) from the
// wrapped call. The scheduler sleeps RetryAfter and retries internally
// instead of surfacing the error.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
}

// call is one queued unit of work awaiting dispatch.
type call struct {
	ctx      context.Context
	endpoint string
	fn       func(context.Context) error
	done     chan error
}

// Scheduler executes submitted calls in FIFO order while honoring the
// profile's sliding-window and spacing limits. A single drain loop owns
// dequeuing; callers await their own result channel.
type Scheduler struct {
	profile Profile

	// now and sleep are injectable for tests with a simulated clock.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu           sync.Mutex
	queue        []*call
	processing   bool
	dispatched   []time.Time
	perEndpoint  map[string][]time.Time
	lastDispatch time.Time

	inflight chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the wall clock and sleeper, for tests.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) {
		s.now = now
		s.sleep = sleep
	}
}

// New creates a scheduler for the given limit profile.
func New(profile Profile, opts ...Option) *Scheduler {
	if profile.MaxConcurrent <= 0 {
		profile.MaxConcurrent = 1
	}
	if profile.MaxRateLimitRetries <= 0 {
		profile.MaxRateLimitRetries = 5
	}
	s := &Scheduler{
		profile:     profile,
		now:         time.Now,
		sleep:       sleepCtx,
		perEndpoint: make(map[string][]time.Time),
		inflight:    make(chan struct{}, profile.MaxConcurrent),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute queues fn and blocks until it has run (or its context ended while
// still queued). Calls run in submission order. A failed call only affects
// its own caller; admission of other queued calls is unchanged.
func (s *Scheduler) Execute(ctx context.Context, endpoint string, fn func(context.Context) error) error {
	c := &call{
		ctx:      ctx,
		endpoint: endpoint,
		fn:       fn,
		done:     make(chan error, 1),
	}

	s.mu.Lock()
	s.queue = append(s.queue, c)
	depth := len(s.queue)
	start := !s.processing
	if start {
		s.processing = true
	}
	s.mu.Unlock()
	observability.UpdateQueueDepth(s.profile.Name, depth)

	if start {
		go s.drain()
	}

	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		// The drain loop skips calls whose context already ended.
		return ctx.Err()
	}
}

// QueueLen reports the number of calls waiting for dispatch.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// drain is the single active dequeue loop. It exits when the queue empties,
// releasing the processing flag so the next Execute restarts it.
func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.processing = false
			s.mu.Unlock()
			return
		}
		c := s.queue[0]
		s.queue = s.queue[1:]
		depth := len(s.queue)
		s.mu.Unlock()
		observability.UpdateQueueDepth(s.profile.Name, depth)

		if c.ctx.Err() != nil {
			c.done <- c.ctx.Err()
			continue
		}

		s.awaitSlot(c.ctx, c.endpoint)
		if c.ctx.Err() != nil {
			c.done <- c.ctx.Err()
			continue
		}
		s.recordDispatch(c.endpoint)

		s.inflight <- struct{}{}
		go func(c *call) {
			defer func() { <-s.inflight }()
			c.done <- s.run(c)
		}(c)
	}
}

// run invokes the wrapped call, absorbing rate-limit signals with an exact
// backoff and bounded retries.
func (s *Scheduler) run(c *call) error {
	for attempt := 0; ; attempt++ {
		started := s.now()
		err := c.fn(c.ctx)
		observability.RecordRequestLatency(c.endpoint, s.now().Sub(started).Seconds())
		rle, ok := err.(*RateLimitError)
		if !ok {
			return err
		}
		if attempt >= s.profile.MaxRateLimitRetries {
			return fmt.Errorf("rate limit retries exhausted: %w", err)
		}
		observability.RecordRateLimitRetry(s.profile.Name)
		wait := rle.RetryAfter
		if wait <= 0 {
			wait = s.profile.Window
		}
		if serr := s.sleep(c.ctx, wait); serr != nil {
			return serr
		}
		// The retry is a fresh dispatch and must count against the window.
		s.awaitSlot(c.ctx, c.endpoint)
		if c.ctx.Err() != nil {
			return c.ctx.Err()
		}
		s.recordDispatch(c.endpoint)
	}
}

// awaitSlot blocks until dispatching one call for endpoint would not exceed
// any limit. The wait is computed exactly from the oldest blocking timestamp,
// never guessed, and rechecked after each sleep.
func (s *Scheduler) awaitSlot(ctx context.Context, endpoint string) {
	for {
		s.mu.Lock()
		now := s.now()
		s.pruneLocked(now)

		var wait time.Duration

		if s.profile.MinDelay > 0 && !s.lastDispatch.IsZero() {
			if d := s.profile.MinDelay - now.Sub(s.lastDispatch); d > wait {
				wait = d
			}
		}
		if s.profile.MaxInWindow > 0 && len(s.dispatched) >= s.profile.MaxInWindow {
			oldest := s.dispatched[len(s.dispatched)-s.profile.MaxInWindow]
			if d := oldest.Add(s.profile.Window).Sub(now); d > wait {
				wait = d
			}
		}
		if s.profile.MaxPerEndpoint > 0 {
			stamps := s.perEndpoint[endpoint]
			if len(stamps) >= s.profile.MaxPerEndpoint {
				oldest := stamps[len(stamps)-s.profile.MaxPerEndpoint]
				if d := oldest.Add(s.profile.Window).Sub(now); d > wait {
					wait = d
				}
			}
		}
		s.mu.Unlock()

		if wait <= 0 {
			return
		}
		if err := s.sleep(ctx, wait); err != nil {
			return
		}
	}
}

// recordDispatch stamps one dispatch for the global and per-endpoint windows.
func (s *Scheduler) recordDispatch(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.dispatched = append(s.dispatched, now)
	s.perEndpoint[endpoint] = append(s.perEndpoint[endpoint], now)
	s.lastDispatch = now
}

// pruneLocked discards timestamps that have exited the sliding window.
// Caller holds s.mu.
func (s *Scheduler) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.profile.Window)
	s.dispatched = pruneBefore(s.dispatched, cutoff)
	for k, stamps := range s.perEndpoint {
		pruned := pruneBefore(stamps, cutoff)
		if len(pruned) == 0 {
			delete(s.perEndpoint, k)
		} else {
			s.perEndpoint[k] = pruned
		}
	}
}

func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	return stamps[i:]
}
