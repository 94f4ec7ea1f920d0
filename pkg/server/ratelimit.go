package server

import (
	"sync"
	"time"
)

const rateWindow = time.Minute

// RateLimiter is a per-client sliding one-minute window.
type RateLimiter struct {
	limit int
	now   func() time.Time

	mu      sync.Mutex
	clients map[string][]time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter allows limit requests per client per minute and starts a
// janitor that forgets idle clients.
func NewRateLimiter(limit int) *RateLimiter {
	rl := &RateLimiter{
		limit:   limit,
		now:     time.Now,
		clients: make(map[string][]time.Time),
		stop:    make(chan struct{}),
	}
	go rl.janitor(5 * time.Minute)
	return rl
}

// Allow records a request from client. When the window is full it returns
// false and how long until the oldest request leaves it.
func (rl *RateLimiter) Allow(client string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	recent := prune(rl.clients[client], now)

	if len(recent) >= rl.limit {
		rl.clients[client] = recent
		return false, rateWindow - now.Sub(recent[0])
	}

	rl.clients[client] = append(recent, now)
	return true, 0
}

func prune(times []time.Time, now time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if now.Sub(t) < rateWindow {
			kept = append(kept, t)
		}
	}
	return kept
}

func (rl *RateLimiter) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for client, times := range rl.clients {
		if recent := prune(times, now); len(recent) == 0 {
			delete(rl.clients, client)
		} else {
			rl.clients[client] = recent
		}
	}
}

// Stop ends the janitor goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
