package session

import (
	"time"

	"golang.org/x/time/rate"
)

// Inbound frame limits applied per connection.
const (
	// MaxTermCols and MaxTermRows clamp size requests.
	MaxTermCols = 500
	MaxTermRows = 200

	// MessageRateLimit is the sustained number of frames per second.
	MessageRateLimit = 200
	// MessageRateBurst allows paste-sized bursts above the sustained rate.
	MessageRateBurst = 400
)

// RateLimiter is a token bucket over inbound frames.
type RateLimiter struct {
	lim *rate.Limiter
	now func() time.Time
}

// NewRateLimiter creates a rate limiter with the given rate (tokens/sec) and burst size.
func NewRateLimiter(r float64, burst int) *RateLimiter {
	return &RateLimiter{
		lim: rate.NewLimiter(rate.Limit(r), burst),
		now: time.Now,
	}
}

// Allow reports whether a frame may pass, consuming one token.
func (rl *RateLimiter) Allow() bool {
	return rl.lim.AllowN(rl.now(), 1)
}

func clampSize(cols, rows uint16) (uint16, uint16) {
	if cols > MaxTermCols {
		cols = MaxTermCols
	}
	if rows > MaxTermRows {
		rows = MaxTermRows
	}
	return cols, rows
}
