package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dj-oyu/baby-safety-monitor/internal/alerts"
	"github.com/dj-oyu/baby-safety-monitor/internal/config"
	"github.com/dj-oyu/baby-safety-monitor/internal/logger"
	"github.com/dj-oyu/baby-safety-monitor/internal/pipeline"
)

type replayOptions struct {
	Delay  time.Duration
	Frames bool // Print one line per frame
}

var replayOpts replayOptions

var replayCmd = &cobra.Command{
	Use:   "replay <file.jsonl>",
	Short: "Run recorded frame reports through the classifier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if !cmd.Flags().Changed("delay") {
			replayOpts.Delay = cfg.Pipeline.FrameDelay
		}
		return runReplay(cmd.Context(), cmd.OutOrStdout(), args[0], cfg, replayOpts)
	},
}

func init() {
	f := replayCmd.Flags()
	f.DurationVar(&replayOpts.Delay, "delay", config.Default().Pipeline.FrameDelay, "Pacing between frames (0 replays as fast as possible)")
	f.BoolVar(&replayOpts.Frames, "frames", true, "Print a line per frame")
	rootCmd.AddCommand(replayCmd)
}

// framePrinter writes a line per processed frame.
type framePrinter struct {
	out      io.Writer
	critical *color.Color
	pre      *color.Color
}

func (p *framePrinter) Publish(u *pipeline.Update) {
	var critical, pre int
	for _, r := range u.Result.Records {
		switch r.Type {
		case alerts.Critical:
			critical++
		case alerts.PreAlert:
			pre++
		}
	}

	line := fmt.Sprintf("frame %d: babies=%d hazards=%d critical=%d pre_alert=%d recent=%d",
		u.FrameNumber, u.Babies, u.Hazards, critical, pre, u.Summary.Total)
	switch {
	case critical > 0:
		p.critical.Fprintln(p.out, line)
	case pre > 0:
		p.pre.Fprintln(p.out, line)
	default:
		fmt.Fprintln(p.out, line)
	}
	for _, r := range u.Result.Records {
		fmt.Fprintf(p.out, "  %s\n", r.Message)
	}
}

func runReplay(ctx context.Context, out io.Writer, path string, cfg config.Config, opts replayOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	src := pipeline.NewReplaySource(f, opts.Delay, clock.New())
	svc := pipeline.New(pipeline.Options{
		Ledger:      alerts.NewLedger(cfg.LedgerOptions()),
		FrameWidth:  cfg.Pipeline.FrameWidth,
		FrameHeight: cfg.Pipeline.FrameHeight,
	})
	if opts.Frames {
		svc.AddPublisher(&framePrinter{
			out:      out,
			critical: color.New(color.FgRed, color.Bold),
			pre:      color.New(color.FgYellow),
		})
	}

	if err := svc.Run(ctx, src); err != nil {
		return err
	}
	if skipped := src.Skipped(); skipped > 0 {
		logger.Warn("Replay", "Skipped %d malformed lines in %s", skipped, path)
	}

	summary, err := json.MarshalIndent(svc.Summary(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	fmt.Fprintf(out, "%s\n", summary)
	return nil
}
