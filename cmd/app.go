package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/orderguardian/internal/capability"
	"github.com/orderguardian/internal/capability/langchain"
	"github.com/orderguardian/internal/config"
	"github.com/orderguardian/internal/conversation"
	"github.com/orderguardian/internal/database"
	"github.com/orderguardian/internal/escalation"
	"github.com/orderguardian/internal/handoff"
	"github.com/orderguardian/internal/health"
	"github.com/orderguardian/internal/metrics"
	"github.com/orderguardian/internal/orchestrator"
	"github.com/orderguardian/internal/router"
	"github.com/orderguardian/internal/specialist"
	"github.com/orderguardian/internal/store"
)

// App is the wired orchestrator shared by serve and chat.
type App struct {
	Config       *config.Config
	Orchestrator *orchestrator.Orchestrator
	Manager      *store.Manager
	Checker      *health.Checker // nil when health checks are disabled
	Registry     *prometheus.Registry
	Queue        *handoff.RiverQueue // nil unless the river backend is used

	handoffDB *pgxpool.Pool
	closers   []io.Closer
}

type closeFunc func() error

func (f closeFunc) Close() error { return f() }

// NewApp builds every component named in cfg. Close releases them.
func NewApp(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	app := &App{Config: cfg, Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	app.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(app.Registry)

	st, closer, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation store: %w", err)
	}
	app.closers = append(app.closers, closer)
	app.Manager = store.NewManager(st)

	var client *langchain.Client
	if cfg.AI.Provider != "" {
		client, err = langchain.New(ctx, cfg.AI)
		if err != nil {
			return nil, err
		}
	}
	caps, index, err := capabilities(client, cfg, m)
	if err != nil {
		return nil, err
	}

	orders := specialist.NewMemoryOrders()
	inventory := specialist.NewMemoryInventory()
	if cfg.General.SampleData {
		orders = specialist.NewMemoryOrders(specialist.SampleOrders(time.Now())...)
		inventory = specialist.SampleInventory()
	}
	exchange := specialist.NewExchange(cfg.Policies.Exchange, inventory, caps.Embedder, caps.Searcher)
	if cfg.General.SampleData && caps.Embedder != nil {
		if err := specialist.IndexProducts(ctx, caps.Embedder, index, exchange.Dimensions(), specialist.SampleProducts()); err != nil {
			log.Warn().Err(err).Msg("Product index unavailable, recommendations disabled")
		}
	}

	registry := specialist.NewRegistry()
	for id, adapter := range map[conversation.AgentID]specialist.Adapter{
		conversation.AgentMonitor:    specialist.NewMonitor(),
		conversation.AgentVisual:     specialist.NewVisual(caps.ImageAnalyzer, cfg.Capability.MaxImageBytes),
		conversation.AgentExchange:   exchange,
		conversation.AgentResolution: specialist.NewResolution(cfg.Policies.Refund, caps.Completer),
	} {
		if err := registry.Register(id, adapter); err != nil {
			return nil, err
		}
	}

	triggers, err := cfg.EscalationTriggers()
	if err != nil {
		return nil, err
	}
	evaluator, err := escalation.NewEvaluator(triggers)
	if err != nil {
		return nil, err
	}

	notifier, err := app.handoff(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app.Orchestrator = orchestrator.New(st, evaluator, newRouter(cfg, caps.Completer), registry, orchestrator.Options{
		MaxTurns:   cfg.Orchestrator.MaxTurns,
		Orders:     orders,
		Handoff:    notifier,
		Controller: orchestrator.NewController(caps.Completer, cfg.Orchestrator.HistoryMessages),
		Metrics:    m,
		Locks:      app.Manager.Locker(),
	})

	if cfg.Health.Enabled {
		app.Checker = health.NewChecker(health.Options{
			Interval:      cfg.Health.Interval,
			Timeout:       cfg.Health.Timeout,
			RatePerSecond: cfg.Health.RatePerSecond,
			Burst:         cfg.Health.Burst,
			Metrics:       m,
		})
		if client != nil {
			app.Checker.Register("model", health.FromPinger(client))
		}
		if p, ok := st.(health.Pinger); ok {
			app.Checker.Register("store", health.FromPinger(p))
		}
		if app.handoffDB != nil {
			app.Checker.Register("handoff_db", app.handoffDB.Ping)
		}
	}

	log.Info().
		Str("store", cfg.Store.Backend).
		Str("router", cfg.Router.Mode).
		Str("provider", string(cfg.AI.Provider)).
		Str("handoff", cfg.Handoff.Backend).
		Msg("Orchestrator ready")
	return app, nil
}

// capabilities wraps the provider client in the resilience layer. Without
// a client every capability stays nil and specialists use their fallbacks.
func capabilities(client *langchain.Client, cfg *config.Config, m *metrics.Metrics) (capability.Set, *capability.MemoryIndex, error) {
	index := capability.NewMemoryIndex()
	if client == nil {
		return capability.Set{}, index, nil
	}

	inner := capability.Set{Completer: client, ImageAnalyzer: client, Searcher: index}
	if client.SupportsEmbeddings() {
		cached, err := capability.NewCachedEmbedder(client, cfg.Capability.EmbeddingCacheSize)
		if err != nil {
			return capability.Set{}, nil, err
		}
		inner.Embedder = cached
	}

	resilient := capability.NewResilient(inner, capability.Options{
		Timeout:      cfg.Capability.Timeout,
		ImageTimeout: cfg.Capability.ImageTimeout,
		Policy:       cfg.Capability.Retry,
		Limiter:      rate.NewLimiter(rate.Limit(cfg.Capability.RatePerSecond), cfg.Capability.Burst),
		Metrics:      m,
	})

	set := capability.Set{Completer: resilient, ImageAnalyzer: resilient, Searcher: resilient}
	if inner.Embedder != nil {
		set.Embedder = resilient
	}
	return set, index, nil
}

func newRouter(cfg *config.Config, completer capability.Completer) router.Router {
	rules := router.NewRuleRouter()
	if completer == nil || cfg.Router.Mode == config.RouterRules {
		return rules
	}
	model := router.NewModelRouter(completer, cfg.Router.Model)
	if cfg.Router.Mode == config.RouterModel {
		return model
	}
	return router.NewHybridRouter(rules, model, cfg.Router.Threshold)
}

func (app *App) handoff(ctx context.Context, cfg *config.Config) (handoff.Notifier, error) {
	if cfg.Handoff.Backend != config.HandoffRiver {
		return handoff.NewMemoryNotifier(), nil
	}

	pool, err := database.Open(ctx, cfg.HandoffDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to open handoff database: %w", err)
	}
	app.closers = append(app.closers, closeFunc(func() error { pool.Close(); return nil }))

	if err := handoff.MigrateRiver(ctx, pool); err != nil {
		return nil, err
	}
	if err := handoff.EnsureSchema(ctx, pool); err != nil {
		return nil, err
	}
	queue, err := handoff.NewRiverQueue(pool, cfg.Handoff.Queue)
	if err != nil {
		return nil, err
	}
	app.Queue = queue
	app.handoffDB = pool
	return queue, nil
}

// Close releases stores and pools in reverse order of creation.
func (app *App) Close() error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	app.closers = nil
	return errors.Join(errs...)
}
