package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
)

type migrateCmd struct {
	concurrency int
}

func (c *migrateCmd) Name() string     { return "migrate" }
func (c *migrateCmd) Synopsis() string { return "generate tiles for every image that has none" }
func (c *migrateCmd) Usage() string {
	return "orthotiles migrate [-concurrency <n>]\n"
}
func (c *migrateCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.concurrency, "concurrency", 0, "Images processed in parallel (default from config)")
}

func (c *migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	a, err := newApp(ctx, *configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.close()

	if c.concurrency > 0 {
		a.cfg.Batch.Concurrency = c.concurrency
	}
	summary, err := a.orchestrator().Migrate(ctx)
	fmt.Println(summary)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
