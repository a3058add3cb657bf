package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/plaenen/nsclient/pkg/journal"
)

func runJournal(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("journal", flag.ContinueOnError)
	var limit int
	var olderThan time.Duration
	cfg, err := loadConfig(fs, args, func() {
		fs.IntVar(&limit, "limit", 20, "number of entries to list")
		fs.DurationVar(&olderThan, "prune", 0, "delete entries older than this before listing")
	})
	if err != nil {
		return err
	}
	if cfg.Journal.DSN == "" {
		return errors.New("journal.dsn is not configured")
	}

	store, err := journal.Open(journal.WithDSN(cfg.Journal.DSN))
	if err != nil {
		return err
	}
	defer store.Close()

	return listJournal(ctx, os.Stdout, store, limit, olderThan)
}

func listJournal(ctx context.Context, w io.Writer, store *journal.Store, limit int, olderThan time.Duration) error {
	if olderThan > 0 {
		n, err := store.Prune(ctx, time.Now().Add(-olderThan))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "pruned %d entries\n", n)
	}

	entries, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ReceivedAt.UTC().Format(time.RFC3339), e.Reason, e.RequestID, e.Responder, e.Code, e.CommandType)
	}
	return nil
}
