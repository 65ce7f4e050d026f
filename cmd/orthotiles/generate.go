package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/eak1mov/orthotiles/batch"
	"github.com/eak1mov/orthotiles/progress"
	"github.com/eak1mov/orthotiles/record"
	"github.com/google/subcommands"
)

type generateCmd struct {
	bar bool
}

func (c *generateCmd) Name() string     { return "generate" }
func (c *generateCmd) Synopsis() string { return "generate the tile pyramid of one image" }
func (c *generateCmd) Usage() string {
	return "orthotiles generate [-bar] [image-id]\n"
}
func (c *generateCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.bar, "bar", false, "Show a progress bar instead of progress log lines")
}

func parseImageID(args []string) (int64, error) {
	switch len(args) {
	case 0:
		return 1, nil
	case 1:
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("invalid image id %q", args[0])
		}
		return id, nil
	}
	return 0, errors.New("expected at most one image id")
}

func (c *generateCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	id, err := parseImageID(f.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	a, err := newApp(ctx, *configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.close()

	onProgress := func(int64) progress.Func { return progress.Log(a.logger) }
	if c.bar {
		onProgress = func(imageID int64) progress.Func {
			return progress.Bar(progress.NewBar(fmt.Sprintf("image %d", imageID)))
		}
	}

	report, err := a.orchestrator(batch.WithProgress(onProgress)).RunOne(ctx, id)
	status, msg := exitStatus(id, report, err)
	if status == subcommands.ExitSuccess {
		fmt.Println(msg)
	} else {
		fmt.Fprintln(os.Stderr, msg)
	}
	return status
}

// exitStatus maps the result of a single-image run to the process exit
// status and the line reported to the user. Only a completed build or an
// image that already has tiles succeed.
func exitStatus(id int64, report batch.Report, err error) (subcommands.ExitStatus, string) {
	switch {
	case errors.Is(err, record.ErrNotFound):
		return subcommands.ExitFailure, fmt.Sprintf("image %d not found", id)
	case err != nil:
		return subcommands.ExitFailure, err.Error()
	}

	switch report.Outcome {
	case batch.OutcomeCompleted:
		return subcommands.ExitSuccess, fmt.Sprintf("image %d: %d tiles, zoom %d-%d, stored at %s (%s)",
			id, report.Result.TotalTiles, report.Result.MinZoom, report.Result.MaxZoom,
			report.Result.StoragePath, report.Elapsed)
	case batch.OutcomeSkippedHasTiles:
		return subcommands.ExitSuccess, fmt.Sprintf("image %d: already has tiles, skipped", id)
	case batch.OutcomeSkippedMissingSource:
		return subcommands.ExitFailure, fmt.Sprintf("image %d: source image not found", id)
	}
	return subcommands.ExitFailure, fmt.Sprintf("image %d: tile generation failed: %v", id, report.Err)
}
