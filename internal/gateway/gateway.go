// ABOUTME: Gateway orchestrator that wires the wallet service, HTTP API and airdrop worker
// ABOUTME: Owns the store, session backend and ledger client lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/2389/wren-gateway/internal/airdrop"
	"github.com/2389/wren-gateway/internal/config"
	"github.com/2389/wren-gateway/internal/httpapi"
	"github.com/2389/wren-gateway/internal/identity"
	"github.com/2389/wren-gateway/internal/keys"
	"github.com/2389/wren-gateway/internal/ledger"
	"github.com/2389/wren-gateway/internal/metrics"
	"github.com/2389/wren-gateway/internal/nonce"
	"github.com/2389/wren-gateway/internal/ratelimit"
	"github.com/2389/wren-gateway/internal/retry"
	"github.com/2389/wren-gateway/internal/session"
	"github.com/2389/wren-gateway/internal/store"
	"github.com/2389/wren-gateway/internal/submit"
	"github.com/2389/wren-gateway/internal/transfer"
	"github.com/2389/wren-gateway/internal/wallet"
)

// Gateway orchestrates the wren-gateway server components.
type Gateway struct {
	config     *config.Config
	store      *store.SQLiteStore
	ledger     ledger.Client
	provider   identity.Provider
	sessions   *session.Store
	memory     *session.MemoryBackend
	redis      *redis.Client
	metrics    *metrics.Metrics
	service    *wallet.Service
	airdrops   *airdrop.Orchestrator
	worker     *airdrop.Worker
	httpServer *http.Server
	logger     *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Option overrides a collaborator, mainly for tests and local runs.
type Option func(*options)

type options struct {
	ledger   ledger.Client
	provider identity.Provider
}

// WithLedger replaces the JSON-RPC ledger client.
func WithLedger(c ledger.Client) Option {
	return func(o *options) { o.ledger = c }
}

// WithProvider replaces the identity provider.
func WithProvider(p identity.Provider) Option {
	return func(o *options) { o.provider = p }
}

// New builds every component from cfg. Nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	accounts, err := keys.LoadAccounts(cfg.Accounts.KeyAccounts())
	if err != nil {
		return nil, fmt.Errorf("loading accounts: %w", err)
	}

	st, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		config:  cfg,
		store:   st,
		metrics: metrics.New(),
		logger:  logger.With("component", "gateway"),
	}

	if err := g.initSessions(logger); err != nil {
		_ = st.Close()
		return nil, err
	}

	g.ledger = o.ledger
	if g.ledger == nil {
		g.ledger = ledger.NewRPCClient(cfg.Ledger.RPCURL, cfg.Ledger.Commitment, logger)
	}

	g.provider = o.provider
	if g.provider == nil {
		if g.provider, err = initProvider(cfg, logger); err != nil {
			g.closeResources()
			return nil, err
		}
	}

	nonces := nonce.NewCoordinator(g.ledger, accounts.NonceAccount, accounts.NonceAuthority, logger)
	pipeline := submit.New(g.ledger, submit.Config{
		Send:           retry.Policy{MaxAttempts: cfg.Submit.SendAttempts, Timeout: cfg.Submit.SendTimeout},
		Confirm:        retry.Policy{MaxAttempts: cfg.Submit.ConfirmAttempts, Timeout: cfg.Submit.ConfirmTimeout},
		NetworkRetries: cfg.Submit.NetworkRetries,
	}, g.metrics, logger)
	builder := transfer.NewBuilder(g.ledger, nonces, pipeline, transfer.Config{
		Mint:  accounts.Mint,
		Chest: accounts.Chest,
	}, g.metrics, logger)

	dropAmount, err := transfer.ToMinor(cfg.Airdrop.DropAmount)
	if err != nil {
		g.closeResources()
		return nil, fmt.Errorf("airdrop.drop_amount: %w", err)
	}
	g.airdrops = airdrop.New(st, g.ledger, builder, pipeline, airdrop.Config{
		DropAmount:       dropAmount,
		NativeAmount:     uint64(cfg.Airdrop.NativeAmount * float64(ledger.LamportsPerSOL)),
		TokenAccountWait: cfg.Airdrop.TokenAccountWait,
		PollInterval:     cfg.Airdrop.PollInterval,
		MaxAttempts:      cfg.Airdrop.MaxAttempts,
	}, airdrop.WithMetrics(g.metrics), airdrop.WithLogger(logger))

	if !cfg.Airdrop.DisableWorker {
		g.worker = airdrop.NewWorker(g.airdrops, airdrop.WorkerConfig{
			Interval:  cfg.Airdrop.WorkerInterval,
			BatchSize: cfg.Airdrop.BatchSize,
			LeaseTTL:  cfg.Airdrop.LeaseTTL,
		})
	}

	g.service = wallet.NewService(wallet.Deps{
		Store:          st,
		Sessions:       g.sessions,
		Provider:       g.provider,
		Ledger:         g.ledger,
		Transfers:      builder,
		Submitter:      pipeline,
		Airdrops:       g.airdrops,
		Logger:         logger,
		FundOnRegister: !cfg.Airdrop.DisableNativeFunding,
	})

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.RPS > 0 {
		limiter = ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.IdleTTL)
	}

	api := httpapi.NewServer(g.service, httpapi.Options{
		Metrics:        g.metrics,
		ExposeMetrics:  cfg.Metrics.Enabled,
		Limiter:        limiter,
		CORSOrigins:    cfg.CORS.AllowedOrigins,
		Health:         g.healthChecks(),
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         logger,
	})

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// initStore opens the SQLite database, honouring WREN_DB_PATH.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("WREN_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

func (g *Gateway) initSessions(logger *slog.Logger) error {
	var backend session.Backend
	if g.config.Redis.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client, err := session.DialRedis(ctx, g.config.Redis.Addr, g.config.Redis.Password, g.config.Redis.DB)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		g.redis = client
		backend = session.NewRedisBackend(client)
		g.logger.Info("sessions stored in redis", "addr", g.config.Redis.Addr)
	} else {
		g.memory = session.NewMemoryBackend(g.config.Session.SweepInterval)
		backend = g.memory
		g.logger.Info("sessions stored in memory")
	}

	g.sessions = session.NewStore(backend,
		session.WithTTL(g.config.Session.TTL),
		session.WithLogger(logger),
	)
	return nil
}

func initProvider(cfg *config.Config, logger *slog.Logger) (identity.Provider, error) {
	if cfg.Turnkey.Fake {
		logger.Warn("using in-process identity provider; registrations are not durable")
		return identity.NewFake(), nil
	}
	client, err := identity.NewClient(identity.Config{
		BaseURL:        cfg.Turnkey.BaseURL,
		OrganizationID: cfg.Turnkey.OrganizationID,
		APIPublicKey:   cfg.Turnkey.APIPublicKey,
		APIPrivateKey:  cfg.Turnkey.APIPrivateKey,
		Timeout:        cfg.Turnkey.Timeout,
	}, identity.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("creating identity client: %w", err)
	}
	return client, nil
}

// healthChecker is implemented by ledger clients that can report node health.
type healthChecker interface {
	Health(ctx context.Context) (string, error)
}

func (g *Gateway) healthChecks() map[string]httpapi.HealthCheck {
	checks := map[string]httpapi.HealthCheck{
		"store": func(ctx context.Context) error {
			return g.store.DB().PingContext(ctx)
		},
	}
	if hc, ok := g.ledger.(healthChecker); ok {
		checks["ledger"] = func(ctx context.Context) error {
			status, err := hc.Health(ctx)
			if err != nil {
				return err
			}
			if status != "ok" {
				return fmt.Errorf("ledger node reports %q", status)
			}
			return nil
		}
	}
	if g.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return g.redis.Ping(ctx).Err()
		}
	}
	return checks
}

// Handler returns the HTTP handler without starting a listener.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Service returns the wallet service.
func (g *Gateway) Service() *wallet.Service {
	return g.service
}

// Run serves HTTP and steps airdrop jobs until ctx is cancelled, then shuts down.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if g.worker != nil {
		eg.Go(func() error {
			return g.worker.Run(egCtx)
		})
	} else {
		g.logger.Info("airdrop worker disabled")
	}

	eg.Go(func() error {
		<-egCtx.Done()
		g.logger.Info("context canceled, initiating shutdown")
		return g.gracefulShutdown()
	})

	err := eg.Wait()
	if closeErr := g.closeResources(); err == nil {
		err = closeErr
	}
	return err
}

// gracefulShutdown stops the HTTP server with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.httpServer.Shutdown(ctx)
}

// Shutdown stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if err := g.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (g *Gateway) closeResources() error {
	g.closeOnce.Do(func() {
		var errs []error
		if g.memory != nil {
			g.memory.Close()
		}
		if g.redis != nil {
			if err := g.redis.Close(); err != nil {
				errs = append(errs, fmt.Errorf("redis close: %w", err))
			}
		}
		if err := g.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
		g.closeErr = errors.Join(errs...)
	})
	return g.closeErr
}
