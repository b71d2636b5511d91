package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/baby-safety-monitor/internal/alerts"
	"github.com/dj-oyu/baby-safety-monitor/internal/archive"
)

var alertsOpts struct {
	dsn   string
	since time.Duration
	limit int
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List archived alerts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		dsn := cfg.Archive.DSN
		if cmd.Flags().Changed("db") {
			dsn = alertsOpts.dsn
		}
		if dsn == "" {
			return errors.New("no archive configured: pass --db or set archive.dsn")
		}
		return runAlerts(cmd.Context(), cmd.OutOrStdout(), dsn, alertsOpts.since, alertsOpts.limit)
	},
}

func init() {
	f := alertsCmd.Flags()
	f.StringVar(&alertsOpts.dsn, "db", "", "PostgreSQL DSN of the alert archive")
	f.DurationVar(&alertsOpts.since, "since", time.Hour, "How far back to list")
	f.IntVar(&alertsOpts.limit, "limit", 100, "Maximum alerts to list, newest kept (0 for all)")
	rootCmd.AddCommand(alertsCmd)
}

func runAlerts(ctx context.Context, out io.Writer, dsn string, since time.Duration, limit int) (err error) {
	store, err := archive.Open(ctx, dsn)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(context.Background()); cerr != nil && err == nil {
			err = cerr
		}
	}()

	records, err := store.Since(ctx, time.Now().Add(-since), limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintf(out, "No alerts in the last %s.\n", since)
		return nil
	}
	printAlerts(out, records)
	return nil
}

func printAlerts(out io.Writer, records []alerts.Record) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tHAZARD\tDISTANCE\tMESSAGE")
	fmt.Fprintln(w, "----\t----\t------\t--------\t-------")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1fpx\t%s\n",
			r.Time().Local().Format("2006-01-02 15:04:05"),
			r.Type,
			r.Hazard,
			r.Distance,
			r.Message,
		)
	}
	w.Flush()
}
