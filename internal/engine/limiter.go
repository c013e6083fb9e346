package engine

import (
	"context"
	"sync"
	"time"
)

// DailyCounter admits market creations under a cap per rolling 24h window.
// Allow counts the creation when it returns true.
type DailyCounter interface {
	Allow(ctx context.Context, now time.Time, limit int) (bool, error)
}

const dailyWindow = 24 * time.Hour

// MemoryCounter opens a window at the first creation and resets it once 24h
// of wall-clock time have passed.
type MemoryCounter struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
}

func NewMemoryCounter() *MemoryCounter { return &MemoryCounter{} }

func (c *MemoryCounter) Allow(_ context.Context, now time.Time, limit int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.windowStart.IsZero() || !now.Before(c.windowStart.Add(dailyWindow)) {
		c.windowStart = now
		c.count = 0
	}
	if c.count >= limit {
		return false, nil
	}
	c.count++
	return true, nil
}
