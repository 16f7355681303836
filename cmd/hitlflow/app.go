package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/hitlflow/analytics"
	"github.com/c360studio/hitlflow/config"
	"github.com/c360studio/hitlflow/delegate"
	"github.com/c360studio/hitlflow/metrics"
	"github.com/c360studio/hitlflow/storage"
	"github.com/c360studio/hitlflow/tracker"
	"github.com/c360studio/hitlflow/workflow"
)

// App wires the store, delegates and workflow engine from config.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// NATS, only for the nats store backend
	embeddedServer *server.Server
	natsConn       *nats.Conn

	store   storage.Store
	metrics *metrics.Collector
	health  *delegate.HealthGateway
	engine  *workflow.Engine
	runner  *workflow.Runner
}

// NewApp creates a new application instance.
func NewApp(cfg *config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger}
}

// Start initializes all components.
func (a *App) Start(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = store

	a.metrics = metrics.NewCollector("hitlflow")
	a.engine = workflow.NewEngine(store,
		workflow.WithLogger(a.logger),
		workflow.WithMetrics(a.metrics),
		workflow.WithThresholds(thresholds(a.cfg.Policy)),
	)

	opts := []workflow.RunnerOption{
		workflow.WithRunnerLogger(a.logger),
		workflow.WithRunnerMetrics(a.metrics),
		workflow.WithDelegationTimeout(a.cfg.Delegation.Deadline),
	}
	if a.cfg.Tracker.Enabled {
		opts = append(opts, workflow.WithTracker(tracker.NewClient(tracker.Config{
			BaseURL: a.cfg.Tracker.BaseURL,
			Token:   a.cfg.Tracker.Token,
			Timeout: a.cfg.Tracker.Timeout,
		}, tracker.WithLogger(a.logger))))
	}
	a.health = delegate.NewHealthGateway(newGateway(a.cfg.Delegation, a.logger), delegate.HealthConfig{
		FailureThreshold: a.cfg.Delegation.Circuit.FailureThreshold,
		RecoveryTimeout:  a.cfg.Delegation.Circuit.RecoveryTimeout,
	})
	a.runner = workflow.NewRunner(a.engine, a.health, opts...)

	a.logger.Debug("Components initialized",
		"store", a.cfg.Store.Backend,
		"delegation", a.cfg.Delegation.Backend,
		"tracker", a.cfg.Tracker.Enabled)
	return nil
}

func (a *App) openStore(ctx context.Context) (storage.Store, error) {
	sc := a.cfg.Store
	switch sc.Backend {
	case config.BackendSQLite:
		store, err := storage.OpenSQLite(sc.SQLite.Path, storage.WithSQLiteMaxRetries(sc.MaxRetries))
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendNATS:
		js, err := a.startNATS()
		if err != nil {
			return nil, err
		}
		store, err := storage.NewKVStore(ctx, js, storage.KVBucketConfig{
			Name:    sc.NATS.Bucket,
			History: uint8(sc.NATS.History),
		}, storage.WithMaxRetries(sc.MaxRetries), storage.WithLogger(a.logger))
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return storage.NewMemoryStore(), nil
	}
}

func (a *App) startNATS() (jetstream.JetStream, error) {
	nc := a.cfg.Store.NATS
	if nc.URL != "" && !nc.Embedded {
		// Connect to external NATS
		a.logger.Info("Connecting to NATS", "url", nc.URL)
		conn, err := nats.Connect(nc.URL, nats.Name("hitlflow"), nats.MaxReconnects(-1), nats.ReconnectWait(time.Second))
		if err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		a.natsConn = conn
	} else {
		// Start embedded NATS server
		a.logger.Info("Starting embedded NATS server", "store_dir", nc.StoreDir)
		opts := &server.Options{
			Port:      -1, // Random available port
			JetStream: true,
			StoreDir:  nc.StoreDir,
			NoLog:     true,
			NoSigs:    true,
		}

		ns, err := server.NewServer(opts)
		if err != nil {
			return nil, fmt.Errorf("create embedded NATS server: %w", err)
		}

		go ns.Start()

		// Wait for server to be ready
		if !ns.ReadyForConnections(5 * time.Second) {
			ns.Shutdown()
			return nil, fmt.Errorf("embedded NATS server failed to start")
		}

		a.embeddedServer = ns

		conn, err := nats.Connect(ns.ClientURL())
		if err != nil {
			ns.Shutdown()
			return nil, fmt.Errorf("connect to embedded NATS: %w", err)
		}
		a.natsConn = conn
	}

	js, err := jetstream.New(a.natsConn)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return js, nil
}

// ApplyPolicy swaps the review thresholds of the running engine.
func (a *App) ApplyPolicy(p config.PolicyConfig) {
	a.engine.SetThresholds(thresholds(p))
}

// Shutdown stops all components.
func (a *App) Shutdown() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Failed to close store", "error", err)
		}
	}

	// Close NATS connection
	if a.natsConn != nil {
		_ = a.natsConn.Drain()
		a.natsConn.Close()
	}

	// Shutdown embedded server
	if a.embeddedServer != nil {
		a.embeddedServer.Shutdown()
		a.embeddedServer.WaitForShutdown()
	}
}

func thresholds(p config.PolicyConfig) analytics.Thresholds {
	return analytics.Thresholds{
		Review:   p.ReviewThreshold,
		LowScore: p.LowScoreThreshold,
	}
}

// newGateway builds the delegate gateway selected by the config.
func newGateway(dc config.DelegationConfig, logger *slog.Logger) delegate.Gateway {
	o := delegate.Options{
		Endpoints: map[delegate.Role]delegate.Endpoint{
			delegate.RoleAnalyzer:  endpoint(dc.Analyzer),
			delegate.RoleGenerator: endpoint(dc.Generator),
		},
		APIKey:  dc.APIKey,
		Timeout: dc.Timeout,
		Retry: delegate.RetryConfig{
			MaxAttempts:       dc.Retry.MaxAttempts,
			BackoffBase:       dc.Retry.BackoffBase,
			BackoffMultiplier: dc.Retry.BackoffMultiplier,
			MaxBackoff:        dc.Retry.MaxBackoff,
		},
	}
	if dc.Backend == config.DelegationChat {
		return delegate.NewChatGateway(o, delegate.WithLogger(logger))
	}
	return delegate.NewHTTPGateway(o, delegate.WithLogger(logger))
}

func endpoint(ec config.EndpointConfig) delegate.Endpoint {
	return delegate.Endpoint{URL: ec.URL, Model: ec.Model, SystemPrompt: ec.SystemPrompt}
}
