package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/notifyws/internal/config"
)

const (
	natsConnectAttempts = 30
	natsRetryWait       = 2 * time.Second
)

// connectNATS dials NATS, retrying while the server comes up. Once
// connected, the client reconnects forever.
func connectNATS(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*nats.Conn, error) {
	log = log.With().Str("component", "nats").Logger()
	opts := []nats.Option{
		nats.Name(cfg.NATSName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(natsRetryWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			ev := log.Error().Err(err)
			if sub != nil {
				ev = ev.Str("topic", sub.Subject)
			}
			ev.Msg("NATS async error")
		}),
	}

	var lastErr error
	for attempt := 1; attempt <= natsConnectAttempts; attempt++ {
		nc, err := nats.Connect(cfg.NATSURL, opts...)
		if err == nil {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("connected to NATS")
			return nc, nil
		}
		lastErr = err
		log.Info().Err(err).Int("attempt", attempt).Msg("waiting for NATS")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(natsRetryWait):
		}
	}
	return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.NATSURL, lastErr)
}

func drainNATS(nc *nats.Conn, log zerolog.Logger) {
	if err := nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		log.Warn().Err(err).Msg("NATS drain failed")
	}
}
