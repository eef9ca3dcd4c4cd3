// Command auabot runs the air quality notification bot.
//
// Usage:
//
//	auabot run --config config.yaml
//	auabot archive --config config.yaml --date 2026-03-10
//	auabot archive --config config.yaml --today
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"auabot/internal/app"
)

func main() {
	root := &cobra.Command{
		Use:          "auabot",
		Short:        "Air quality notification bot",
		SilenceUsage: true,
	}

	root.AddCommand(runCmd())
	root.AddCommand(archiveCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(cfgPath, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to config file")
	return cmd
}

// archiveCmd re-runs the daily aggregation for an arbitrary date. The upserts
// are idempotent, so running it against a day the resident scheduler already
// archived is safe; it is the recovery path after downtime.
func archiveCmd() *cobra.Command {
	var (
		cfgPath string
		dateStr string
		today   bool
	)
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Recompute daily stats for a date (default: yesterday)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.NewArchiveOnly(cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			loc := a.Location()
			day := time.Now().In(loc).AddDate(0, 0, -1)
			if dateStr != "" {
				day, err = time.ParseInLocation(time.DateOnly, dateStr, loc)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
			}

			if err := a.Archiver.Archive(cmd.Context(), day); err != nil {
				return err
			}
			if today {
				if err := a.Archiver.Archive(cmd.Context(), time.Now().In(loc)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to config file")
	cmd.Flags().StringVar(&dateStr, "date", "", "day to archive, YYYY-MM-DD (default yesterday)")
	cmd.Flags().BoolVar(&today, "today", false, "also refresh the current day")
	return cmd
}
