package game

import (
	"context"
	"sync"
	"time"
)

// RateLimiter gates ledger entry points per user.
type RateLimiter interface {
	Allow(ctx context.Context, userID string) bool
}

// SlidingWindow allows at most Limit attempts per user within Window.
// Denied attempts are not recorded.
type SlidingWindow struct {
	Limit  int
	Window time.Duration

	mu       sync.Mutex
	attempts map[string][]time.Time
	now      func() time.Time
}

func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		Limit:    limit,
		Window:   window,
		attempts: make(map[string][]time.Time),
		now:      time.Now,
	}
}

func (s *SlidingWindow) Allow(_ context.Context, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	recent := prune(s.attempts[userID], now.Add(-s.Window))
	if len(recent) >= s.Limit {
		s.attempts[userID] = recent
		return false
	}
	s.attempts[userID] = append(recent, now)
	return true
}

// Sweep drops users whose attempts have all left the window. It returns the
// number of users removed.
func (s *SlidingWindow) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.Window)
	removed := 0
	for user, ts := range s.attempts {
		recent := prune(ts, cutoff)
		if len(recent) == 0 {
			delete(s.attempts, user)
			removed++
			continue
		}
		s.attempts[user] = recent
	}
	return removed
}

// Run sweeps on every interval until ctx is done.
func (s *SlidingWindow) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// prune keeps the timestamps strictly after cutoff. ts is in ascending order.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}

// allowAll is used when no limiter is configured.
type allowAll struct{}

func (allowAll) Allow(context.Context, string) bool { return true }
