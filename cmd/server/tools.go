package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingdom/pool-engine/config"
	"github.com/kingdom/pool-engine/pool"
	"github.com/kingdom/pool-engine/store/sqlite"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(expiryCmd)
	rootCmd.AddCommand(weekCmd)
}

// ─── migrate ────────────────────────────────────────────────────────────────

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the SQLite schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := setting(cmd, "db", "POOL_DB")
		s, err := sqlite.New(path)
		if err != nil {
			return err
		}
		defer s.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d\n", path, s.SchemaVersion())
		return nil
	},
}

// ─── expiry ─────────────────────────────────────────────────────────────────

var expiryCmd = &cobra.Command{
	Use:   "expiry PURCHASE_WEEK EARNING_WEEKS",
	Short: "Print the last earning week of a unit",
	Long: `Prints the week in which a unit bought in PURCHASE_WEEK earns for the
last time, given EARNING_WEEKS earning weeks. Holiday weeks from the
configuration do not count towards the duration.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		week, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("purchase week %q: %w", args[0], err)
		}
		duration, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("earning weeks %q: %w", args[1], err)
		}
		cal, err := loadCalendar(cmd)
		if err != nil {
			return err
		}

		expiry, err := cal.ExpiryWeek(pool.Week(week), duration)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "week %d (starts %s)\n", expiry, cal.StartOf(expiry).Format(time.DateOnly))
		return nil
	},
}

// ─── week ───────────────────────────────────────────────────────────────────

var weekCmd = &cobra.Command{
	Use:   "week [DATE]",
	Short: "Print the week index of a date (default: today)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		at := time.Now()
		if len(args) == 1 {
			var err error
			at, err = time.Parse(time.DateOnly, args[0])
			if err != nil {
				return fmt.Errorf("date %q: %w", args[0], err)
			}
		}
		cal, err := loadCalendar(cmd)
		if err != nil {
			return err
		}

		w := cal.WeekOf(at)
		holiday := ""
		if cal.IsHoliday(w) {
			holiday = " (holiday)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "week %d%s\n", w, holiday)
		return nil
	},
}

func loadCalendar(cmd *cobra.Command) (*pool.Calendar, error) {
	file, err := config.LoadOptional(setting(cmd, "config", "POOL_CONFIG"))
	if err != nil {
		return nil, err
	}
	return file.Calendar(), nil
}
