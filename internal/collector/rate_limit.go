package collector

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimitError is returned once a request has been rate limited more times
// in a row than the backoff allows.
type RateLimitError struct {
	RetryAfter time.Duration
	Attempts   int
	Message    string
}

func (e *RateLimitError) Error() string {
	if e == nil {
		return "rate limit"
	}
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("rate limit exceeded after %d attempts", e.Attempts)
}

// Backoff bounds the retry loop for 429 responses. The delay starts at Base,
// doubles per consecutive 429 and is capped at Max.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int
}

// DefaultBackoff waits 60s first, matching the provider's documented window.
var DefaultBackoff = Backoff{
	Base:       60 * time.Second,
	Max:        10 * time.Minute,
	MaxRetries: 5,
}

// Delay returns the wait before retry number attempt (1-based). A server
// supplied Retry-After wins when it is longer, still bounded by Max.
func (b Backoff) Delay(attempt int, retryAfter time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if retryAfter > d {
		d = retryAfter
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// retryAfterFromHeaders reads Retry-After as seconds or an HTTP date.
func retryAfterFromHeaders(headers http.Header, now time.Time) time.Duration {
	value := strings.TrimSpace(headers.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Sleep is the default SleepFunc.
var Sleep SleepFunc = sleepContext
