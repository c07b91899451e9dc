package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/tobert/otlp-waterfall/internal/traceio"
	"github.com/tobert/otlp-waterfall/internal/viz"
	"github.com/tobert/otlp-waterfall/internal/waterfall"
)

// RenderCommand returns the 'render' subcommand, which prints the waterfall
// of one trace read from a file.
func RenderCommand() *cli.Command {
	return &cli.Command{
		Name:      "render",
		Usage:     "Print the waterfall of a trace file",
		ArgsUsage: "FILE",
		Description: `Reads a trace payload (native JSON, OTLP JSON or protobuf, or a Jaeger
protobuf trace) and prints its waterfall, operation summary and warnings.

Zoom with --view-start/--view-end (fractions of the trace), keep only some
operations with --op, fold subtrees with --collapse and narrow rows to
matching spans with --search.`,
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "format",
				Usage: "Input format: auto, native, otlp, otlp-proto or jaeger",
				Value: string(traceio.FormatAuto),
			},
			&cli.StringFlag{
				Name:  "trace-id",
				Usage: "Trace to render when the file holds several (prefix accepted)",
			},
			&cli.FloatFlag{
				Name:  "view-start",
				Usage: "Start of the zoom window, 0..1",
				Value: 0,
			},
			&cli.FloatFlag{
				Name:  "view-end",
				Usage: "End of the zoom window, 0..1",
				Value: 1,
			},
			&cli.StringSliceFlag{
				Name:  "op",
				Usage: "Show only this operation (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "all-ops",
				Usage: "Select every operation in the trace",
			},
			&cli.StringSliceFlag{
				Name:  "collapse",
				Usage: "Hide the descendants of this span id (repeatable)",
			},
			&cli.StringFlag{
				Name:  "search",
				Usage: "Keep only spans whose op, description, id or tags match",
			},
			&cli.IntFlag{
				Name:  "width",
				Usage: "Output width in columns (default from config, 100)",
			},
			&cli.BoolFlag{
				Name:  "no-operations",
				Usage: "Omit the operation summary",
			},
			&cli.StringFlag{
				Name:  "arrow-out",
				Usage: "Also write the layout rows as an Arrow IPC file",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("render takes exactly one FILE argument")
			}
			cfg, err := LoadEffectiveConfig(cmd.String("config"))
			if err != nil {
				return err
			}
			width := cmd.Int("width")
			if width <= 0 {
				width = cfg.Width
			}
			return runRender(os.Stdout, renderArgs{
				path:    cmd.Args().First(),
				format:  cmd.String("format"),
				traceID: cmd.String("trace-id"),
				opts: viz.Options{
					Window:         waterfall.ViewWindow{Start: cmd.Float("view-start"), End: cmd.Float("view-end")},
					Ops:            cmd.StringSlice("op"),
					AllOps:         cmd.Bool("all-ops"),
					Collapse:       cmd.StringSlice("collapse"),
					Search:         cmd.String("search"),
					Width:          width,
					ShowOperations: !cmd.Bool("no-operations"),
				},
				arrowOut: cmd.String("arrow-out"),
			})
		},
	}
}

type renderArgs struct {
	path     string
	format   string
	traceID  string
	opts     viz.Options
	arrowOut string
}

func runRender(w io.Writer, args renderArgs) error {
	format, err := traceio.ParseFormat(args.format)
	if err != nil {
		return err
	}
	txns, err := traceio.LoadFile(args.path, format)
	if err != nil {
		return err
	}
	txn, err := traceio.SelectTransaction(txns, args.traceID)
	if err != nil {
		return err
	}

	m := waterfall.NewModel(txn)
	viz.Apply(m, args.opts)

	if _, err := io.WriteString(w, viz.Report(m, args.opts)); err != nil {
		return err
	}

	if args.arrowOut != "" {
		if err := writeArrowFile(args.arrowOut, txn.TraceID, m.Rows(args.opts.ViewWindow())); err != nil {
			return err
		}
		fmt.Fprintf(w, "\n📦 Wrote layout rows to %s\n", args.arrowOut)
	}
	return nil
}

func writeArrowFile(path, traceID string, rows []waterfall.Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := traceio.WriteArrowRows(f, traceID, rows); err != nil {
		f.Close()
		return fmt.Errorf("failed to write arrow rows: %w", err)
	}
	return f.Close()
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "config",
		Usage: "Config file (default: .otlp-waterfall.yaml in the project, then ~/.config/otlp-waterfall/config.yaml)",
	}
}
