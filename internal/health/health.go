// Package health probes external capabilities periodically, outside of the
// live conversation path.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/orderguardian/internal/metrics"
	"github.com/orderguardian/internal/retry"
)

// ProbeFunc checks one dependency.
type ProbeFunc func(ctx context.Context) error

// Status is the last known state of a probe.
type Status struct {
	Name      string        `json:"name"`
	Up        bool          `json:"up"`
	Error     string        `json:"error,omitempty"`
	Attempts  int           `json:"attempts"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Options configures a Checker.
type Options struct {
	Interval time.Duration `koanf:"interval"`
	Timeout  time.Duration `koanf:"timeout"`
	// RatePerSecond and Burst size the checker's own limiter. It is never
	// shared with conversation turns.
	RatePerSecond float64 `koanf:"rate_per_second"`
	Burst         int     `koanf:"burst"`
	Policy        retry.Policy
	Metrics       *metrics.Metrics
}

type probe struct {
	name string
	fn   ProbeFunc
}

// Checker runs registered probes on an interval.
type Checker struct {
	probes   []probe
	interval time.Duration
	timeout  time.Duration
	limiter  *rate.Limiter
	policy   retry.Policy
	metrics  *metrics.Metrics

	mu     sync.RWMutex
	status map[string]Status
}

func NewChecker(opts Options) *Checker {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 1
	}
	if opts.Burst <= 0 {
		opts.Burst = 2
	}
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = retry.HealthCheckPolicy()
	}
	return &Checker{
		interval: opts.Interval,
		timeout:  opts.Timeout,
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		policy:   opts.Policy,
		metrics:  opts.Metrics,
		status:   make(map[string]Status),
	}
}

// Register adds a probe. It must be called before Run.
func (c *Checker) Register(name string, fn ProbeFunc) {
	c.probes = append(c.probes, probe{name: name, fn: fn})
}

// CheckNow runs every probe concurrently and records the results.
func (c *Checker) CheckNow(ctx context.Context) []Status {
	results := make([]Status, len(c.probes))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range c.probes {
		g.Go(func() error {
			results[i] = c.check(gctx, p)
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	for _, s := range results {
		c.status[s.Name] = s
	}
	c.mu.Unlock()
	return results
}

func (c *Checker) check(ctx context.Context, p probe) Status {
	started := time.Now()
	res := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return p.fn(attemptCtx)
	})

	s := Status{
		Name:      p.name,
		Up:        res.Success,
		Attempts:  res.Attempts,
		Latency:   time.Since(started),
		CheckedAt: time.Now(),
	}
	if !res.Success && res.LastError != nil {
		s.Error = res.LastError.Error()
	}
	c.metrics.SetProbe(p.name, s.Up)
	if !s.Up {
		log.Warn().Str("probe", p.name).Str("error", s.Error).Int("attempts", s.Attempts).Msg("Health probe failed")
	}
	return s
}

// Run checks immediately and then on every tick until ctx is done.
func (c *Checker) Run(ctx context.Context) error {
	if len(c.probes) == 0 {
		<-ctx.Done()
		return nil
	}
	c.CheckNow(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.CheckNow(ctx)
		}
	}
}

// Snapshot returns the last status of every probe, sorted by name.
func (c *Checker) Snapshot() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Status, 0, len(c.status))
	for _, s := range c.status {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether every probe that has run is up.
func (c *Checker) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.status {
		if !s.Up {
			return false
		}
	}
	return true
}

// Pinger is implemented by capability clients that can check reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// FromPinger adapts a Pinger to a ProbeFunc.
func FromPinger(p Pinger) ProbeFunc {
	return func(ctx context.Context) error {
		if p == nil {
			return fmt.Errorf("probe not configured")
		}
		return p.Ping(ctx)
	}
}
