package cache

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"parimutuel-engine/internal/engine"
)

//go:embed scripts/daily_window.lua
var dailyWindowLua string

const dailyWindow = 24 * time.Hour

// DailyCounter is the Redis-backed market creation cap. Several engine
// processes sharing one Redis see the same window.
type DailyCounter struct {
	rdb    *redis.Client
	key    string
	script *redis.Script
}

func NewDailyCounter(c *Client, key string) *DailyCounter {
	return &DailyCounter{
		rdb:    c.rdb,
		key:    "parimutuel:daily:" + key,
		script: redis.NewScript(dailyWindowLua),
	}
}

// Allow counts one creation at now when the current window has room. The
// window opens at the first creation and resets 24h later.
func (d *DailyCounter) Allow(ctx context.Context, now time.Time, limit int) (bool, error) {
	res, err := d.script.Run(ctx, d.rdb, []string{d.key},
		now.UnixMilli(), dailyWindow.Milliseconds(), limit).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: daily counter %s: %w", d.key, err)
	}
	if len(res) < 2 {
		return false, fmt.Errorf("redis: daily counter %s: unexpected result length %d", d.key, len(res))
	}
	return res[0] == 1, nil
}

var _ engine.DailyCounter = (*DailyCounter)(nil)
