package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"
	_ "github.com/mattn/go-sqlite3"
)

var configPath = flag.String("config", "", "Path to a YAML config file")

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&generateCmd{}, "tiles")
	subcommands.Register(&migrateCmd{}, "tiles")
	subcommands.Register(&resetStaleCmd{}, "tiles")
	subcommands.Register(&exportCmd{}, "archives")
	subcommands.Register(&convertCmd{}, "archives")

	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := subcommands.Execute(ctx)
	stop()
	os.Exit(int(status))
}
