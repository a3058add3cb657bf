// nsclient issues commands against a replicated naming service and can run a
// simulated service on an embedded NATS server for local development.
package main

import (
	"context"
	"fmt"
	"os"
)

const usage = `Usage: nsclient <command> [flags]

Commands:
  sim       run an embedded NATS server with a simulated service until interrupted
  read      read a field of a record and print the outcome
  replace   replace a field of a record and print the outcome
  journal   list or prune responses recorded after their caller gave up

Run "nsclient <command> -h" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx := context.Background()
	var err error
	switch os.Args[1] {
	case "sim":
		err = runSim(ctx, os.Args[2:])
	case "read":
		err = runRead(ctx, os.Args[2:])
	case "replace":
		err = runReplace(ctx, os.Args[2:])
	case "journal":
		err = runJournal(ctx, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "nsclient %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}
