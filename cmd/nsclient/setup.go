package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/plaenen/nsclient/pkg/client"
	"github.com/plaenen/nsclient/pkg/config"
	"github.com/plaenen/nsclient/pkg/journal"
	"github.com/plaenen/nsclient/pkg/observability"
	"github.com/plaenen/nsclient/pkg/security/credentials"
	"github.com/plaenen/nsclient/pkg/signing"
	natstransport "github.com/plaenen/nsclient/pkg/transport/nats"
	"github.com/plaenen/nsclient/pkg/wire"

	_ "gocloud.dev/secrets/localsecrets"
)

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

// credentialProvider prefers sealed credentials over a plain token. No
// credentials means an unauthenticated connection.
func credentialProvider(ctx context.Context, cfg config.TransportConfig) (credentials.Provider, error) {
	switch {
	case cfg.SealedCredentials != "":
		return credentials.NewSealedProvider(ctx, cfg.KeeperURL, cfg.SealedCredentials, 0)
	case cfg.Token != "":
		return credentials.NewStaticTokenProvider(cfg.Token, 0), nil
	default:
		return nil, nil
	}
}

func newTelemetry(ctx context.Context, cfg config.Config, logger *slog.Logger) (*observability.Telemetry, error) {
	return observability.Init(ctx, observability.Config{
		ServiceName:     cfg.Telemetry.ServiceName,
		Environment:     cfg.Telemetry.Environment,
		ClientAddress:   cfg.Transport.Address,
		SigningMode:     cfg.Client.SigningMode,
		WireFormat:      cfg.Transport.Encoding,
		BootstrapCount:  len(cfg.Resolver.Bootstrap),
		TraceSampleRate: cfg.Telemetry.TraceSampleRate,
		Logger:          logger,
	})
}

// session is a connected client plus the resources it owns.
type session struct {
	client  *client.Client
	journal *journal.Store
	tel     *observability.Telemetry
}

func newSession(ctx context.Context, cfg config.Config, logger *slog.Logger) (*session, error) {
	tel, err := newTelemetry(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s := &session{tel: tel}

	mode, err := signing.ParseMode(cfg.Client.SigningMode)
	if err != nil {
		return nil, err
	}
	creds, err := credentialProvider(ctx, cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	tcfg := natstransport.DefaultConfig()
	tcfg.URL = cfg.Transport.URL
	tcfg.Address = cfg.Transport.Address
	if cfg.Transport.SubjectPrefix != "" {
		tcfg.SubjectPrefix = cfg.Transport.SubjectPrefix
	}
	tcfg.CredentialProvider = creds
	tcfg.Telemetry = tel
	tcfg.Logger = logger
	tr, err := natstransport.NewTransport(ctx, tcfg)
	if err != nil {
		return nil, err
	}

	format, err := wire.ParseFormat(cfg.Transport.Encoding)
	if err != nil {
		tr.Close()
		return nil, err
	}

	opts := []client.Option{
		client.WithWireFormat(format),
		client.WithReadTimeout(cfg.Client.ReadTimeout),
		client.WithSigningMode(mode),
		client.WithBootstrap(cfg.Resolver.Bootstrap...),
		client.WithRetryInterval(cfg.Resolver.RetryInterval),
		client.WithRetention(cfg.Client.GCRetention),
		client.WithProxy(cfg.Client.Proxy),
		client.WithForceCoordinatedReads(cfg.Client.ForceCoordinatedReads),
		client.WithTelemetry(tel),
		client.WithLogger(logger),
	}
	if cfg.Journal.DSN != "" {
		s.journal, err = journal.Open(journal.WithDSN(cfg.Journal.DSN))
		if err != nil {
			tr.Close()
			return nil, err
		}
		opts = append(opts, client.WithJournal(s.journal))
	}

	s.client, err = client.New(tr, opts...)
	if err != nil {
		s.closeJournal()
		tr.Close()
		return nil, err
	}
	if err := s.client.Start(ctx); err != nil {
		s.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *session) closeJournal() {
	if s.journal != nil {
		s.journal.Close()
	}
}

func (s *session) Close(ctx context.Context) {
	if s.client != nil {
		s.client.Close()
	}
	s.closeJournal()
	s.tel.Shutdown(ctx)
}
