package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Policy configures retry behavior with exponential backoff. It is passed
// explicitly to every call site that retries.
type Policy struct {
	MaxAttempts int           `koanf:"max_attempts" json:"max_attempts"` // Total attempts including the first (default: 3)
	BaseDelay   time.Duration `koanf:"base_delay" json:"base_delay"`     // Delay before the first retry (default: 1s)
	MaxDelay    time.Duration `koanf:"max_delay" json:"max_delay"`       // Cap on any single delay (default: 10s)
	Multiplier  float64       `koanf:"multiplier" json:"multiplier"`     // Exponential backoff multiplier (default: 2.0)
	Jitter      bool          `koanf:"jitter" json:"jitter"`             // Add ±10% random jitter (default: true)
	LogRetries  bool          `koanf:"log_retries" json:"log_retries"`

	// Retryable decides whether a failed attempt may be retried. Nil means
	// IsTransient.
	Retryable func(error) bool `koanf:"-" json:"-"`
}

// Result contains information about the retry operation
type Result struct {
	Attempts      int           `json:"attempts"`
	TotalDuration time.Duration `json:"total_duration"`
	LastError     error         `json:"-"`
	Success       bool          `json:"success"`
	RetryReasons  []string      `json:"retry_reasons"` // One entry per failed attempt
}

// DefaultPolicy returns the policy used for capability calls on the live path.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
		LogRetries:  true,
	}
}

// HealthCheckPolicy returns a short policy for out-of-band probes.
func HealthCheckPolicy() Policy {
	return Policy{
		MaxAttempts: 2,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsTransient(err)
}

// Do executes op until it succeeds, returns a non-retryable error, the
// attempts are exhausted or ctx is done.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) Result {
	return DoWithReason(ctx, p, func(ctx context.Context) (string, error) {
		err := op(ctx)
		reason := "unknown_error"
		if err != nil {
			reason = err.Error()
		}
		return reason, err
	})
}

// DoWithReason is Do with a caller-supplied reason recorded for each failed attempt.
func DoWithReason(ctx context.Context, p Policy, op func(ctx context.Context) (string, error)) Result {
	startTime := time.Now()

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	result := Result{
		RetryReasons: make([]string, 0),
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		result.Attempts = attempt + 1

		reason, err := op(ctx)
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(startTime)
			if p.LogRetries && attempt > 0 {
				log.Debug().
					Int("retries", attempt).
					Dur("total_duration", result.TotalDuration).
					Msg("Operation succeeded after retries")
			}
			return result
		}

		result.LastError = err
		result.RetryReasons = append(result.RetryReasons, reason)

		if !p.retryable(err) {
			result.TotalDuration = time.Since(startTime)
			if p.LogRetries {
				log.Debug().Err(err).Int("attempt", attempt+1).Msg("Operation failed with non-retryable error")
			}
			return result
		}

		if attempt+1 >= maxAttempts {
			result.TotalDuration = time.Since(startTime)
			if p.LogRetries {
				log.Warn().Err(err).
					Int("attempts", result.Attempts).
					Dur("total_duration", result.TotalDuration).
					Msg("Operation failed after all attempts")
			}
			return result
		}

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}

		delay := calculateDelay(p, attempt)
		if p.LogRetries {
			log.Debug().Err(err).
				Int("attempt", attempt+1).
				Int("max_attempts", maxAttempts).
				Dur("delay", delay).
				Msg("Operation failed, waiting before retry")
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		case <-timer.C:
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

// calculateDelay calculates the delay for the next retry attempt using exponential backoff
func calculateDelay(p Policy, attempt int) time.Duration {
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(multiplier, float64(attempt))

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter {
		jitterRange := delay * 0.1
		jitter := (rand.Float64() - 0.5) * 2 * jitterRange
		delay += jitter

		if delay < 0 {
			delay = float64(p.BaseDelay)
		}
	}

	return time.Duration(delay)
}

// transient is implemented by errors that know whether they are worth retrying.
type transient interface {
	Transient() bool
}

// IsTransient reports whether err looks like a timeout, rate limit or
// provider-side failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var t transient
	if errors.As(err, &t) {
		return t.Transient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())

	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"connection timeout",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"rate limit",
		"429",
		"500 internal server error",
		"502",
		"503",
		"504",
		"overloaded",
		"dns lookup failed",
		"no such host",
		"network unreachable",
		"broken pipe",
		"context deadline exceeded",
	}

	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}

	return false
}
