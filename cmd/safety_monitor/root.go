package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/baby-safety-monitor/internal/config"
	"github.com/dj-oyu/baby-safety-monitor/internal/logger"
)

// Version is the application version.
const Version = "0.1.0"

var (
	// cfg is the loaded configuration shared by subcommands
	cfg config.Config

	configPath string
	logLevel   string
	logColor   bool
	logFile    string

	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:     "safety_monitor",
	Short:   "Baby safety monitor: hazard proximity alerts from detector output",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		// Flags win over the config file when set explicitly
		flags := cmd.Flags()
		if flags.Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		if flags.Changed("log-color") {
			cfg.Log.Color = logColor
		}
		if flags.Changed("log-file") {
			cfg.Log.File = logFile
		}
		return initLogger(cfg.Log)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func initLogger(lc config.LogConfig) error {
	level, err := logger.ParseLevel(lc.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	var output io.Writer = os.Stderr
	useColor := lc.Color
	if lc.File != "" {
		file := logger.RotatingFile(lc.File, lc.MaxSizeMB, lc.MaxBackups)
		logCloser = file
		output = file
		useColor = false
	}
	logger.Init(level, output, useColor)
	return nil
}

// Execute runs the root command until it finishes or the process is signalled.
func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML config file (default: $"+config.EnvPath+")")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, silent)")
	pf.BoolVar(&logColor, "log-color", true, "Enable colored log output")
	pf.StringVar(&logFile, "log-file", "", "Write logs to a size-rotated file instead of stderr")
}
