package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/notifyws/internal/broadcast"
	"github.com/Tyrowin/notifyws/internal/config"
	"github.com/Tyrowin/notifyws/internal/dispatch"
	"github.com/Tyrowin/notifyws/internal/eventbus"
	"github.com/Tyrowin/notifyws/internal/logger"
	"github.com/Tyrowin/notifyws/internal/observability"
	"github.com/Tyrowin/notifyws/internal/presence"
	"github.com/Tyrowin/notifyws/internal/server"
	"github.com/Tyrowin/notifyws/internal/session"
	"github.com/Tyrowin/notifyws/internal/store"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notifyws",
		Short: "WebSocket notification server",
		Long: `notifyws keeps authenticated WebSocket connections open and pushes
user, room and message changes received from NATS to the affected sockets.

Configuration is read from the environment (and a .env file when present);
flags override the environment.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServer,
	}

	flags := cmd.Flags()
	flags.String("port", "", "listen address (overrides SERVER_PORT)")
	flags.String("db-url", "", "Postgres connection string (overrides DATABASE_URL)")
	flags.String("store", "", "store driver: postgres or memory (overrides STORE_DRIVER)")
	flags.String("nats-url", "", "NATS server URL (overrides NATS_URL)")
	flags.String("session-cookie", "", "session cookie name (overrides SESSION_COOKIE)")
	flags.String("session-header", "", "session header name (overrides SESSION_HEADER)")
	flags.Duration("session-max-age", 0, "maximum session token age (overrides SESSION_MAX_AGE)")
	return cmd
}

// applyFlags overrides cfg with the flags that were set explicitly.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	strFlags := map[string]*string{
		"port":           &cfg.Port,
		"db-url":         &cfg.DatabaseURL,
		"store":          &cfg.StoreDriver,
		"nats-url":       &cfg.NATSURL,
		"session-cookie": &cfg.SessionCookie,
		"session-header": &cfg.SessionHeader,
	}
	for name, dst := range strFlags {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	if flags.Changed("session-max-age") {
		cfg.SessionMaxAge, _ = flags.GetDuration("session-max-age")
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	log = log.With().Str("service", cfg.ServiceName).Logger()

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		return err
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		log.Warn().Msg("using in-memory store; sessions and users are not persisted")
		return store.NewMemoryStore(log), nil
	case config.DriverPostgres:
		return store.NewPostgresStore(ctx, cfg.DatabaseURL, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	shutdownTracing, err := observability.Setup(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	manager := presence.NewManager(st, cfg.StateQueueSize, log)
	if err := manager.Init(ctx); err != nil {
		return err
	}
	go manager.Run()

	validator := session.NewValidator(st, cfg.SessionMaxAge)
	extractor := session.Extractor{Cookie: cfg.SessionCookie, Header: cfg.SessionHeader}
	authorizer := broadcast.NewAuthorizer(validator, st, extractor, cfg.BroadcastWorkers, log)
	dispatcher := dispatch.New(manager, authorizer, log)

	nc, err := connectNATS(ctx, cfg, log)
	if err != nil {
		_ = manager.Shutdown(cfg.ShutdownTimeout)
		return err
	}
	defer nc.Close()

	subscriber := eventbus.NewSubscriber(nc, dispatcher, log)
	if err := subscriber.Start(); err != nil {
		_ = manager.Shutdown(cfg.ShutdownTimeout)
		return err
	}

	hub := server.NewHub(log)
	gate := session.NewGate(validator, cfg.SessionCookie, log)
	srv := server.New(server.NewConfig(cfg), gate, manager, hub, log)
	httpServer := server.CreateServer(cfg.Port, srv.Routes())

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start(httpServer) }()

	log.Info().
		Str("addr", cfg.Port).
		Str("store", cfg.StoreDriver).
		Str("nats", nc.ConnectedUrl()).
		Msg("notification server started")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case runErr = <-serveErr:
		if runErr != nil {
			log.Error().Err(runErr).Msg("HTTP server failed")
		}
	}

	// Stop taking new events before closing sockets, then let the state
	// writer flush the offline writes the closing sockets enqueue.
	subscriber.Stop()
	var errs []error
	errs = append(errs, runErr)
	errs = append(errs, srv.Shutdown(httpServer, cfg.ShutdownTimeout))
	errs = append(errs, manager.Shutdown(cfg.ShutdownTimeout))
	drainNATS(nc, log)

	log.Info().Msg("server stopped")
	return errors.Join(errs...)
}
