package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/subcommands"
)

type resetStaleCmd struct {
	olderThan time.Duration
}

func (c *resetStaleCmd) Name() string { return "reset-stale" }
func (c *resetStaleCmd) Synopsis() string {
	return "mark images stuck in generation as failed"
}
func (c *resetStaleCmd) Usage() string {
	return "orthotiles reset-stale [-older-than <duration>]\n"
}
func (c *resetStaleCmd) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&c.olderThan, "older-than", time.Hour, "Minimum time spent generating")
}

func (c *resetStaleCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	a, err := newApp(ctx, *configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.close()

	n, err := a.orchestrator().ResetStale(ctx, c.olderThan)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Printf("reset %d stale images\n", n)
	return subcommands.ExitSuccess
}
