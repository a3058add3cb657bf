package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/plaenen/nsclient/pkg/config"
	"github.com/plaenen/nsclient/pkg/observability"
	"github.com/plaenen/nsclient/pkg/replicasim"
	"github.com/plaenen/nsclient/pkg/runner"
	"github.com/plaenen/nsclient/pkg/runtime/embeddednats"
	"github.com/plaenen/nsclient/pkg/runtime/simcluster"
	"github.com/plaenen/nsclient/pkg/signing"
	natstransport "github.com/plaenen/nsclient/pkg/transport/nats"
	"github.com/plaenen/nsclient/pkg/wire"
)

type seedList []simcluster.Seed

func (s *seedList) String() string {
	parts := make([]string, len(*s))
	for i, seed := range *s {
		parts[i] = seed.GUID + "=" + seed.Name
	}
	return strings.Join(parts, ",")
}

func (s *seedList) Set(v string) error {
	guid, name, ok := strings.Cut(v, "=")
	if !ok || guid == "" {
		return fmt.Errorf("seed %q must be guid=name", v)
	}
	*s = append(*s, simcluster.Seed{GUID: guid, Name: name})
	return nil
}

type simFlags struct {
	host        string
	port        int
	token       string
	delay       time.Duration
	requireSigs bool
	seeds       seedList
}

func runSim(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sim", flag.ContinueOnError)
	var f simFlags
	cfg, err := loadConfig(fs, args, func() {
		fs.StringVar(&f.host, "host", "127.0.0.1", "embedded NATS listen host")
		fs.IntVar(&f.port, "port", 4222, "embedded NATS listen port")
		fs.StringVar(&f.token, "token", "", "require this token from NATS clients")
		fs.DurationVar(&f.delay, "delay", 0, "delay added before every reply")
		fs.BoolVar(&f.requireSigs, "require-signatures", false, "reject unsigned commands")
		fs.Var(&f.seeds, "seed", "create a record as guid=name (repeatable)")
	})
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	tel, err := newTelemetry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	services, err := simServices(ctx, cfg, f, tel)
	if err != nil {
		return err
	}

	r := runner.New(services,
		runner.WithLogger(logger),
		runner.WithSignals(),
		runner.WithShutdownTimeout(10*time.Second),
	)
	return r.Run(ctx)
}

// simServices returns, in start order, the embedded server, the simulated
// cluster bound to it and a telemetry service that flushes on shutdown.
func simServices(ctx context.Context, cfg config.Config, f simFlags, tel *observability.Telemetry) ([]runner.Service, error) {
	mode, err := signing.ParseMode(cfg.Client.SigningMode)
	if err != nil {
		return nil, err
	}
	format, err := wire.ParseFormat(cfg.Transport.Encoding)
	if err != nil {
		return nil, err
	}
	logger := tel.Logger
	tracer := tel.Tracer(observability.TracerName)

	natsSvc := embeddednats.New(
		embeddednats.WithLogger(logger),
		embeddednats.WithTracer(tracer),
		embeddednats.WithServerOptions(natstransport.EmbeddedOptions{
			Host:          f.host,
			Port:          f.port,
			Authorization: f.token,
		}),
	)

	creds, err := credentialProvider(ctx, config.TransportConfig{Token: f.token})
	if err != nil {
		return nil, err
	}
	cluster := replicasim.New(replicasim.Config{
		SigningMode:       mode,
		RequireSignatures: f.requireSigs,
		Delay:             f.delay,
		WireFormat:        format,
		Telemetry:         tel,
		Logger:            logger,
	})
	simSvc := simcluster.New(cluster,
		simcluster.WithURLFunc(natsSvc.URL),
		simcluster.WithSubjectPrefix(cfg.Transport.SubjectPrefix),
		simcluster.WithCredentials(creds),
		simcluster.WithSeeds(f.seeds...),
		simcluster.WithLogger(logger),
		simcluster.WithTracer(tracer),
	)

	telSvc := &runner.Func{
		ServiceName: "telemetry",
		OnStop:      tel.Shutdown,
	}
	return []runner.Service{telSvc, natsSvc, simSvc}, nil
}
