package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/eak1mov/orthotiles/archive"
	"github.com/eak1mov/orthotiles/progress"
	"github.com/google/subcommands"
)

type exportCmd struct {
	imageID      int64
	outputPath   string
	outputFormat string
}

func (c *exportCmd) Name() string     { return "export" }
func (c *exportCmd) Synopsis() string { return "pack the tiles of one image into an archive" }
func (c *exportCmd) Usage() string {
	return "orthotiles export -id <image-id> -o <path> [-of <format>]\n"
}
func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.imageID, "id", 0, "Image id")
	f.StringVar(&c.outputPath, "o", "", "Output path")
	f.StringVar(&c.outputFormat, "of", "", "Output format (mbtiles, pmtiles)")
}

func (c *exportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if c.imageID <= 0 || c.outputPath == "" {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	format, err := archive.DeduceFormat(c.outputFormat, c.outputPath)
	if err != nil || format == archive.FormatXYZ {
		fmt.Fprintf(os.Stderr, "unsupported export format for %q\n", c.outputPath)
		return subcommands.ExitUsageError
	}

	a, err := newApp(ctx, *configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.close()

	img, err := a.gw.GetImage(ctx, c.imageID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	bar := progress.NewBar(fmt.Sprintf("image %d", img.ID))
	n, err := archive.Write(ctx, a.store, img, c.outputPath, format,
		archive.WithLogger(a.logger),
		archive.WithProgress(progress.Bar(bar)),
	)
	_ = bar.Finish()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Printf("wrote %d tiles to %s\n", n, c.outputPath)
	return subcommands.ExitSuccess
}
