package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/plaenen/nsclient/pkg/command"
	"github.com/plaenen/nsclient/pkg/config"
	"github.com/plaenen/nsclient/pkg/outcome"
)

func loadConfig(fs *flag.FlagSet, args []string, extra func()) (config.Config, error) {
	path := fs.String("config", "", "path to a YAML config file")
	url := fs.String("url", "", "NATS URL (overrides config)")
	if extra != nil {
		extra()
	}
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(*path)
	if err != nil {
		return cfg, err
	}
	if *url != "" {
		cfg.Transport.URL = *url
	}
	return cfg, nil
}

func runRead(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("read", flag.ContinueOnError)
	var guid, field string
	var unsigned bool
	cfg, err := loadConfig(fs, args, func() {
		fs.StringVar(&guid, "guid", "", "record guid (required)")
		fs.StringVar(&field, "field", "", "field to read; empty reads the whole record")
		fs.BoolVar(&unsigned, "unsigned", false, "send an unauthenticated read")
	})
	if err != nil {
		return err
	}
	if guid == "" {
		return errors.New("-guid is required")
	}

	cmd := command.NewReadUnsigned(guid, field)
	if !unsigned {
		id, err := command.GenerateIdentity()
		if err != nil {
			return err
		}
		cmd = command.NewRead(guid, field, id)
	}
	return issue(ctx, cfg, cmd)
}

func runReplace(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("replace", flag.ContinueOnError)
	var guid, field, value string
	cfg, err := loadConfig(fs, args, func() {
		fs.StringVar(&guid, "guid", "", "record guid (required)")
		fs.StringVar(&field, "field", "", "field to replace (required)")
		fs.StringVar(&value, "value", "", "new value")
	})
	if err != nil {
		return err
	}
	if guid == "" || field == "" {
		return errors.New("-guid and -field are required")
	}

	id, err := command.GenerateIdentity()
	if err != nil {
		return err
	}
	return issue(ctx, cfg, command.NewReplace(guid, field, value, id))
}

// issue sends one command, waits for its outcome and prints it.
func issue(ctx context.Context, cfg config.Config, cmd *command.Command) error {
	logger := newLogger(cfg.Log)
	s, err := newSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	out, err := s.client.SendAndWait(ctx, cmd)
	if err != nil {
		return err
	}
	printOutcome(out)
	return out.Err()
}

func printOutcome(out outcome.Outcome) {
	switch {
	case out.Null:
		fmt.Fprintln(os.Stdout, "null")
	case out.OK():
		fmt.Fprintf(os.Stdout, "%v\n", out.Value)
	default:
		fmt.Fprintf(os.Stdout, "%s %s: %s\n", out.Kind, out.Code, out.Detail)
	}
}
