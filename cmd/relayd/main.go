package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shhcash/Shh.Cash-Node/chain"
	"github.com/shhcash/Shh.Cash-Node/config"
	"github.com/shhcash/Shh.Cash-Node/crypto"
	"github.com/shhcash/Shh.Cash-Node/dispatch"
	"github.com/shhcash/Shh.Cash-Node/engine"
	"github.com/shhcash/Shh.Cash-Node/journal"
	"github.com/shhcash/Shh.Cash-Node/observability/logging"
	tracing "github.com/shhcash/Shh.Cash-Node/observability/otel"
	"github.com/shhcash/Shh.Cash-Node/relay"
	"github.com/shhcash/Shh.Cash-Node/server"
	"github.com/shhcash/Shh.Cash-Node/telemetry"
	"github.com/shhcash/Shh.Cash-Node/wallet"
)

// version is stamped at build time via -ldflags.
var version = "dev"

var (
	_ wallet.BalanceSource = (*chain.Client)(nil)
	_ engine.Executor      = (*chain.Client)(nil)
	_ relay.Gateway        = (*dispatch.Client)(nil)
	_ relay.Engine         = (*engine.Engine)(nil)
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("relayd: %v", err)
	}
}

func run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.toml", "path to relayd configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("SHH_ENV"))
	logger := logging.Setup("relayd", env)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if env == "" {
		env = cfg.Environment
	}
	logger = logging.Setup("relayd", env,
		logging.WithFile(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups, cfg.Log.MaxAgeDays))

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := tracing.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTracing, err := tracing.Init(context.Background(), tracing.Config{
		ServiceName: "relayd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if shutdownTracing != nil {
			_ = shutdownTracing(context.Background())
		}
	}()

	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}

	identity, err := crypto.ParseKeypair(cfg.Keys.Identity)
	if err != nil {
		return fmt.Errorf("load identity key: %w", err)
	}
	relays := make([]*crypto.Keypair, 0, len(cfg.Keys.Relays))
	for i, raw := range cfg.Keys.Relays {
		kp, err := crypto.ParseKeypair(raw)
		if err != nil {
			return fmt.Errorf("load relay key %d: %w", i, err)
		}
		relays = append(relays, kp)
	}

	chainClient, err := chain.New(chain.Config{
		Endpoint:        cfg.Chain.RPCEndpoint,
		USDCMint:        cfg.Chain.USDCMint,
		ConfirmRetries:  cfg.Chain.ConfirmRetries,
		ConfirmInterval: cfg.Chain.ConfirmInterval.Duration,
	})
	if err != nil {
		return fmt.Errorf("chain client: %w", err)
	}

	pool, err := wallet.New(identity, relays,
		wallet.WithBalanceSource(chainClient),
		wallet.WithLogger(logger),
		wallet.WithMinBalance(policy.MinWalletBalanceLamports))
	if err != nil {
		return fmt.Errorf("wallet pool: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = pool.ValidateBalances(probeCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("validate wallets: %w", err)
	}

	dispatcher, err := dispatch.New(dispatch.Config{
		BaseURL: cfg.Dispatcher.BaseURL,
		Timeout: cfg.Dispatcher.RequestTimeout.Duration,
	}, identity)
	if err != nil {
		return fmt.Errorf("dispatch client: %w", err)
	}
	probeCtx, cancel = context.WithTimeout(context.Background(), cfg.Dispatcher.RequestTimeout.Duration)
	err = dispatcher.Connect(probeCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connect dispatcher: %w", err)
	}

	metrics := telemetry.New()

	var audit *journal.Journal
	if strings.TrimSpace(cfg.Journal.Path) != "" {
		dsn, err := journal.FileDSN(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("journal dsn: %w", err)
		}
		audit, err = journal.Open(dsn)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer audit.Close()
	}

	exec, err := engine.New(pool, chainClient, engine.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("execution engine: %w", err)
	}

	coordOpts := []relay.Option{relay.WithMetrics(metrics), relay.WithLogger(logger)}
	if audit != nil {
		coordOpts = append(coordOpts, relay.WithJournal(audit))
	}
	coordinator, err := relay.New(relay.Config{
		NodeID:            identity.Address(),
		Version:           version,
		MaxActiveOffers:   policy.MaxActiveOffers,
		PerTxCeiling:      policy.PerTxCeiling,
		DrainTimeout:      cfg.Shutdown.DrainTimeout.Duration,
		DrainPollInterval: cfg.Shutdown.DrainPollInterval.Duration,
		HeartbeatInterval: cfg.Dispatcher.HeartbeatInterval.Duration,
	}, dispatcher, exec, pool, coordOpts...)
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}

	subscription, err := dispatch.NewSubscription(dispatcher, cfg.Dispatcher.PollInterval.Duration, metrics)
	if err != nil {
		return fmt.Errorf("offer subscription: %w", err)
	}

	serverOpts := []server.Option{server.WithLogger(logger)}
	if audit != nil {
		serverOpts = append(serverOpts, server.WithAuditor(audit))
	}
	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		Auth: server.AuthConfig{
			BearerToken: cfg.Admin.BearerToken,
			JWTSecret:   cfg.Admin.JWTSecret,
		},
	}, coordinator, metrics, serverOpts...)
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("relayd starting",
		"node_id", identity.Address(),
		"session_id", coordinator.SessionID(),
		"version", version,
		"wallets", pool.Size(),
		"dispatcher", cfg.Dispatcher.BaseURL,
		"admin_enabled", cfg.Admin.Enabled(),
		logging.MaskField("admin_token", cfg.Admin.BearerToken))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 4)
	go func() {
		if err := subscription.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			errs <- fmt.Errorf("offer subscription: %w", err)
		}
	}()
	go func() {
		if err := coordinator.Run(rootCtx, subscription.Offers()); err != nil && !errors.Is(err, context.Canceled) {
			errs <- fmt.Errorf("coordinator: %w", err)
		}
	}()
	go func() {
		if err := coordinator.RunHeartbeat(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			errs <- fmt.Errorf("heartbeat: %w", err)
		}
	}()
	go func() {
		if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			errs <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-rootCtx.Done():
	case runErr = <-errs:
		stop()
	}

	// Stop admissions and give in-flight transfers the configured drain
	// window; the timer inside Shutdown bounds it.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Shutdown.DrainTimeout.Duration+time.Second)
	defer cancelDrain()
	_ = coordinator.Shutdown(drainCtx)

	if runErr != nil {
		return runErr
	}
	logger.Info("relayd stopped")
	return nil
}
