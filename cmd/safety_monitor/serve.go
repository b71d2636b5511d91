package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dj-oyu/baby-safety-monitor/internal/alerts"
	"github.com/dj-oyu/baby-safety-monitor/internal/annotator"
	"github.com/dj-oyu/baby-safety-monitor/internal/archive"
	"github.com/dj-oyu/baby-safety-monitor/internal/config"
	"github.com/dj-oyu/baby-safety-monitor/internal/logger"
	"github.com/dj-oyu/baby-safety-monitor/internal/metrics"
	"github.com/dj-oyu/baby-safety-monitor/internal/monitor"
	"github.com/dj-oyu/baby-safety-monitor/internal/pipeline"
	"github.com/dj-oyu/baby-safety-monitor/internal/webrtc"
)

const shutdownTimeout = 5 * time.Second

var serveOpts struct {
	addr     string
	dsn      string
	queue    int
	noRTC    bool
	annotate bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept frame reports over HTTP and serve alerts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		flags := cmd.Flags()
		if flags.Changed("addr") {
			cfg.Server.Addr = serveOpts.addr
		}
		if flags.Changed("db") {
			cfg.Archive.DSN = serveOpts.dsn
		}
		if flags.Changed("queue") {
			cfg.Pipeline.QueueSize = serveOpts.queue
		}
		if flags.Changed("no-webrtc") {
			cfg.WebRTC.Enabled = !serveOpts.noRTC
		}
		if flags.Changed("annotate") {
			cfg.Pipeline.Annotate = serveOpts.annotate
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	def := config.Default()
	f := serveCmd.Flags()
	f.StringVar(&serveOpts.addr, "addr", def.Server.Addr, "HTTP server address")
	f.StringVar(&serveOpts.dsn, "db", "", "PostgreSQL DSN for the alert archive (empty disables it)")
	f.IntVar(&serveOpts.queue, "queue", def.Pipeline.QueueSize, "Frame intake queue size")
	f.BoolVar(&serveOpts.noRTC, "no-webrtc", false, "Disable the WebRTC alert channel")
	f.BoolVar(&serveOpts.annotate, "annotate", def.Pipeline.Annotate, "Render annotated frames for /video_feed")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, cfg config.Config) (err error) {
	m := metrics.New()

	opts := pipeline.Options{
		Ledger:      alerts.NewLedger(cfg.LedgerOptions()),
		Metrics:     m,
		FrameWidth:  cfg.Pipeline.FrameWidth,
		FrameHeight: cfg.Pipeline.FrameHeight,
	}
	if cfg.Pipeline.Annotate {
		opts.Annotator = annotator.New(cfg.Pipeline.JPEGQuality)
	}

	var store *archive.Store
	var writer *archive.Writer
	if cfg.Archive.DSN != "" {
		store, err = archive.Open(ctx, cfg.Archive.DSN)
		if err != nil {
			return err
		}
		defer func() {
			// The run context may already be cancelled
			err = multierr.Append(err, store.Close(context.Background()))
		}()
		writer = archive.NewWriter(store, cfg.Archive.BufferSize, m)
		opts.Archiver = writer
		logger.Info("Main", "Archiving alerts to PostgreSQL")
	}

	svc := pipeline.New(opts)
	source := pipeline.NewChannelSource(cfg.Pipeline.QueueSize)

	var rtc *webrtc.Server
	if cfg.WebRTC.Enabled {
		rtc = webrtc.NewServer(cfg.WebRTC.ICEServers, 0, m)
		defer func() {
			err = multierr.Append(err, rtc.Close())
		}()
	}

	srv := monitor.NewServer(monitor.ConfigFrom(cfg), svc, source, rtc, m)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svc.Run(gctx, source)
	})
	if writer != nil {
		g.Go(func() error {
			return writer.Run(gctx)
		})
	}
	g.Go(func() error {
		logger.Info("Main", "Safety monitor listening on %s", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Main", "Shutting down...")

		// Streams never finish on their own; end them before draining requests
		srv.Shutdown()
		source.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	st := svc.Status()
	logger.Info("Main", "Stopped after %d frames (%d alerts in history)", st.FramesProcessed, st.HistorySize)
	return err
}
