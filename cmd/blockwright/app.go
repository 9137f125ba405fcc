package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nugget/blockwright/internal/agent"
	"github.com/nugget/blockwright/internal/cache"
	"github.com/nugget/blockwright/internal/config"
	"github.com/nugget/blockwright/internal/connwatch"
	"github.com/nugget/blockwright/internal/conversation"
	"github.com/nugget/blockwright/internal/delegate"
	"github.com/nugget/blockwright/internal/editor"
	"github.com/nugget/blockwright/internal/llm"
	"github.com/nugget/blockwright/internal/pending"
	"github.com/nugget/blockwright/internal/prompts"
	"github.com/nugget/blockwright/internal/tools"
	"github.com/nugget/blockwright/internal/usage"
	"github.com/nugget/blockwright/internal/wordpress"
)

// cachePruneInterval is how often expired cache rows are deleted.
const cachePruneInterval = time.Hour

// modelPollInterval spaces background model probes. Each probe is a
// billed one-token request, so it polls far less often than the free
// WordPress and MQTT checks.
const modelPollInterval = 6 * time.Hour

// app holds every long-lived component. Optional parts are nil when
// not configured.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	gateway      *llm.Gateway
	wp           *wordpress.Client
	cache        *cache.SQLite
	broker       *pending.Broker
	bridge       *editor.Bridge
	hub          *editor.Hub
	mqtt         *editor.MQTTTransport
	registry     *tools.Registry
	store        *conversation.Store
	usage        *usage.Store
	delegations  *delegate.DelegationStore
	orchestrator *agent.Orchestrator
	watch        *connwatch.Manager
}

// newApp wires components bottom-up: storage, adapters, the broker and
// editor bridge, the tool catalogs, then the orchestrator. persist
// enables the SQLite-backed usage and delegation ledgers.
func newApp(cfg *config.Config, logger *slog.Logger, persist bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger, watch: connwatch.NewManager(logger)}
	if err := a.wire(persist); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	logger.Info("agent ready",
		"model", cfg.Anthropic.Model,
		"tools", a.registry.Len(),
		"editor_transport", cfg.Editor.Transport,
	)
	return a, nil
}

func (a *app) wire(persist bool) error {
	cfg, logger := a.cfg, a.logger
	var err error

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// --- Lookup cache ---
	var lookups cache.Cache = cache.Noop{}
	if cfg.Cache.Enabled {
		a.cache, err = cache.NewSQLite(filepath.Join(cfg.DataDir, "cache.db"))
		if err != nil {
			return fmt.Errorf("open cache: %w", err)
		}
		lookups = a.cache
	}

	// --- Model gateway ---
	provider := llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger)
	budget := 0
	if cfg.Anthropic.ExtendedThinking {
		budget = cfg.Anthropic.ThinkingBudget
	}
	a.gateway = llm.NewGateway(provider, cfg.Anthropic.Model, budget, logger)

	// --- Editor bridge ---
	a.broker = pending.NewBroker(logger, pending.WithDefaultTimeout(cfg.Editor.ReplyTimeout()))
	a.bridge = editor.NewBridge(a.broker, cfg.Editor.ReplyTimeout(), logger)
	switch cfg.Editor.Transport {
	case config.TransportWebSocket:
		a.hub = editor.NewHub(a.bridge, logger)
		a.bridge.SetTransport(a.hub)
	case config.TransportMQTT:
		a.mqtt = editor.NewMQTTTransport(cfg.Editor.MQTT, a.bridge, logger)
		a.bridge.SetTransport(a.mqtt)
	}

	// --- Tool catalogs ---
	a.registry = tools.NewRegistry()
	a.registry.RegisterAll(editor.Tools(a.bridge))

	describer := agent.NewCompositeDescriber()
	if cfg.WordPress.URL != "" {
		a.wp = wordpress.NewClient(cfg.WordPress.URL, cfg.WordPress.Username, cfg.WordPress.AppPassword, logger,
			wordpress.WithCache(lookups, cfg.WordPress.CacheTTL()))
		a.registry.RegisterAll(wordpress.ContentTools(a.wp))
		a.registry.RegisterAll(wordpress.SiteTools(a.wp))
		describer.Add(a.wp)
	} else {
		logger.Warn("wordpress.url not set, content tools disabled")
	}

	// --- Ledgers ---
	if persist {
		a.usage, err = usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"))
		if err != nil {
			return fmt.Errorf("open usage store: %w", err)
		}
		a.delegations, err = delegate.OpenStore(filepath.Join(cfg.DataDir, "delegations.db"))
		if err != nil {
			return fmt.Errorf("open delegation store: %w", err)
		}
	}

	// --- Delegation ---
	exec := delegate.NewExecutor(logger, a.gateway, a.registry)
	exec.SetModel(cfg.Anthropic.Model)
	exec.SetMaxIterations(cfg.Agent.SubagentMaxIterations)
	exec.SetMaxTokens(cfg.Anthropic.MaxTokens)
	exec.SetCommandTimeout(cfg.Editor.ReplyTimeout())
	if a.delegations != nil {
		exec.SetStore(a.delegations)
	}
	if a.usage != nil {
		exec.SetUsageRecorder(a.usage)
	}
	a.registry.Register(delegate.Tool(exec))

	// --- Orchestrator ---
	a.store = conversation.NewStore(logger)
	opts := []agent.Option{
		agent.WithSystemPrompt(prompts.SystemPrompt(cfg.WordPress.URL)),
		agent.WithModel(cfg.Anthropic.Model),
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
		agent.WithMaxTokens(cfg.Anthropic.MaxTokens),
		agent.WithCommandTimeout(cfg.Editor.ReplyTimeout()),
		agent.WithDescriber(describer),
	}
	if cfg.Agent.RetryToolCalls {
		opts = append(opts, agent.WithRetry(agent.DefaultRetryPolicy()))
	}
	if a.usage != nil {
		opts = append(opts, agent.WithUsageRecorder(a.usage))
	}
	a.orchestrator = agent.New(a.gateway, a.store, a.registry, logger, opts...)
	return nil
}

// start launches background work: dependency watchers, the MQTT
// connection and cache pruning. It runs until ctx is cancelled.
func (a *app) start(ctx context.Context) error {
	a.watch.Watch(ctx, a.modelWatch())
	if a.wp != nil {
		w := a.watch.Watch(ctx, connwatch.Spec{
			Name:  connwatch.ServiceWordPress,
			Probe: a.wp.Ping,
		})
		a.wp.SetWatcher(w)
	}
	if a.mqtt != nil {
		if err := a.mqtt.Start(ctx); err != nil {
			return fmt.Errorf("start mqtt transport: %w", err)
		}
		a.watch.Watch(ctx, connwatch.Spec{
			Name:  connwatch.ServiceMQTT,
			Probe: a.mqtt.AwaitConnection,
		})
	}
	if a.cache != nil {
		go a.pruneCache(ctx)
	}
	return nil
}

// modelWatch probes the model API with the default startup backoff,
// then only every modelPollInterval.
func (a *app) modelWatch() connwatch.Spec {
	b := connwatch.DefaultBackoff()
	b.PollInterval = modelPollInterval
	return connwatch.Spec{
		Name:    connwatch.ServiceModel,
		Probe:   a.gateway.Ping,
		Backoff: b,
	}
}

func (a *app) pruneCache(ctx context.Context) {
	ticker := time.NewTicker(cachePruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.cache.Prune(ctx)
			if err != nil {
				a.logger.Warn("cache prune failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Debug("cache pruned", "rows", n)
			}
		}
	}
}

// Close releases everything in reverse dependency order. Pending editor
// commands are rejected first so waiting turns finish promptly.
func (a *app) Close(ctx context.Context) {
	if a.broker != nil {
		a.broker.Close()
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.mqtt != nil {
		if err := a.mqtt.Stop(ctx); err != nil {
			a.logger.Warn("mqtt disconnect failed", "error", err)
		}
	}
	a.watch.Stop()
	if a.store != nil {
		a.store.Close()
	}
	if a.usage != nil {
		a.closeStore("usage", a.usage.Close)
	}
	if a.delegations != nil {
		a.closeStore("delegations", a.delegations.Close)
	}
	if a.cache != nil {
		a.closeStore("cache", a.cache.Close)
	}
}

func (a *app) closeStore(name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		a.logger.Warn("close failed", "store", name, "error", err)
	}
}
