package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/orderguardian/internal/metrics"
	"github.com/orderguardian/internal/retry"
)

// DefaultTimeout bounds a single capability attempt.
const DefaultTimeout = 25 * time.Second

// Options configures a Resilient client.
type Options struct {
	Timeout      time.Duration
	ImageTimeout time.Duration
	Policy       retry.Policy
	Limiter      *rate.Limiter // shared by live turns; nil disables limiting
	Metrics      *metrics.Metrics
}

// Resilient wraps a Set with per-attempt timeouts, retry with backoff and
// rate limiting. Every failure is reported as a *Failure.
type Resilient struct {
	inner        Set
	timeout      time.Duration
	imageTimeout time.Duration
	policy       retry.Policy
	limiter      *rate.Limiter
	metrics      *metrics.Metrics
}

func NewResilient(inner Set, opts Options) *Resilient {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ImageTimeout <= 0 {
		opts.ImageTimeout = opts.Timeout
	}
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = retry.DefaultPolicy()
	}
	return &Resilient{
		inner:        inner,
		timeout:      opts.Timeout,
		imageTimeout: opts.ImageTimeout,
		policy:       opts.Policy,
		limiter:      opts.Limiter,
		metrics:      opts.Metrics,
	}
}

// Has reports which capabilities are configured.
func (r *Resilient) Has() Set { return r.inner }

func (r *Resilient) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	var out Completion
	if r.inner.Completer == nil {
		return out, r.unavailable("complete")
	}
	if err := req.Validate(); err != nil {
		return out, r.reject("complete", err)
	}
	err := r.call(ctx, "complete", req.Timeout, func(ctx context.Context) error {
		c, err := r.inner.Completer.Complete(ctx, req)
		if err != nil {
			return err
		}
		if c.Text == "" && c.ToolCall == nil {
			return Validationf("empty completion")
		}
		out = c
		return nil
	})
	return out, err
}

func (r *Resilient) Embed(ctx context.Context, text string, dimensions int) ([]float32, error) {
	var out []float32
	if r.inner.Embedder == nil {
		return nil, r.unavailable("embed")
	}
	if text == "" || dimensions <= 0 {
		return nil, r.reject("embed", Validationf("embed needs text and positive dimensions"))
	}
	err := r.call(ctx, "embed", 0, func(ctx context.Context) error {
		v, err := r.inner.Embedder.Embed(ctx, text, dimensions)
		if err != nil {
			return err
		}
		if len(v) != dimensions {
			return Validationf("embedding has %d dimensions, want %d", len(v), dimensions)
		}
		out = v
		return nil
	})
	return out, err
}

func (r *Resilient) SimilaritySearch(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	var out []Match
	if r.inner.Searcher == nil {
		return nil, r.unavailable("similarity_search")
	}
	if len(vector) == 0 || topK <= 0 {
		return nil, r.reject("similarity_search", Validationf("search needs a vector and positive topK"))
	}
	err := r.call(ctx, "similarity_search", 0, func(ctx context.Context) error {
		m, err := r.inner.Searcher.SimilaritySearch(ctx, vector, topK, filter)
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

func (r *Resilient) AnalyzeImage(ctx context.Context, image []byte, prompt string) (string, error) {
	var out string
	if r.inner.ImageAnalyzer == nil {
		return "", r.unavailable("analyze_image")
	}
	if len(image) == 0 {
		return "", r.reject("analyze_image", Validationf("image is empty"))
	}
	err := r.call(ctx, "analyze_image", r.imageTimeout, func(ctx context.Context) error {
		text, err := r.inner.ImageAnalyzer.AnalyzeImage(ctx, image, prompt)
		if err != nil {
			return err
		}
		if text == "" {
			return Validationf("empty image analysis")
		}
		out = text
		return nil
	})
	return out, err
}

func (r *Resilient) unavailable(op string) error {
	r.metrics.ObserveCapability(op, false, 0)
	return &Failure{Op: op, Err: ErrUnavailable}
}

func (r *Resilient) reject(op string, err error) error {
	r.metrics.ObserveCapability(op, false, 0)
	return &Failure{Op: op, Err: err, Reasons: []string{"validation"}}
}

func (r *Resilient) call(ctx context.Context, op string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		timeout = r.timeout
	}

	policy := r.policy
	inner := policy.Retryable
	policy.Retryable = func(err error) bool {
		if errors.Is(err, ErrValidation) || errors.Is(err, ErrUnavailable) {
			return false
		}
		if inner != nil {
			return inner(err)
		}
		return retry.IsTransient(err)
	}

	result := retry.DoWithReason(ctx, policy, func(ctx context.Context) (string, error) {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return "rate_limiter", err
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		err := fn(attemptCtx)
		switch {
		case err == nil:
			return "success", nil
		case errors.Is(err, ErrValidation):
			return "validation", err
		case attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
			return "timeout", fmt.Errorf("%s timed out after %v: %w", op, timeout, context.DeadlineExceeded)
		}
		return err.Error(), err
	})

	r.metrics.ObserveCapability(op, result.Success, result.Attempts)
	if result.Success {
		return nil
	}

	log.Warn().Err(result.LastError).
		Str("op", op).
		Int("attempts", result.Attempts).
		Dur("total_duration", result.TotalDuration).
		Msg("Capability call failed")

	return &Failure{
		Op:       op,
		Attempts: result.Attempts,
		Reasons:  result.RetryReasons,
		Err:      result.LastError,
	}
}
