package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/prite36/multichannel-irrigation/internal/config"
	"github.com/prite36/multichannel-irrigation/internal/irrigation"
	"github.com/prite36/multichannel-irrigation/internal/logging"
	"github.com/prite36/multichannel-irrigation/internal/service"
	"github.com/prite36/multichannel-irrigation/internal/storage"
)

var (
	schedulesAll  bool
	schedulesJSON bool
)

var schedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "Print the persisted schedule table",
	Long: `Print the schedule slots saved in the configured storage backend.

Examples:
  # Enabled schedules only
  irrigation schedules

  # Every slot, as JSON
  irrigation schedules --all --json
`,
	RunE: runSchedules,
}

func init() {
	schedulesCmd.Flags().BoolVarP(&schedulesAll, "all", "a", false, "Include disabled slots")
	schedulesCmd.Flags().BoolVar(&schedulesJSON, "json", false, "Print JSON instead of a table")
}

type scheduleRow struct {
	Index int `json:"index"`
	irrigation.Schedule
	Cron string `json:"cron,omitempty"`
}

func runSchedules(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup(cfg.App.Env, "warn")

	pins, err := cfg.ChannelPins()
	if err != nil {
		return err
	}
	docs, redisStore, err := service.OpenStorage(cfg, logger)
	if err != nil {
		return err
	}
	if redisStore != nil {
		defer redisStore.Close()
	}

	ctrl, err := irrigation.New(cfg.Limits(len(pins)), nil, docs,
		irrigation.WithLogger(logger),
		irrigation.WithScheduleKey(cfg.Storage.Key),
	)
	if err != nil {
		return err
	}
	if err := ctrl.LoadSchedules(); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "no schedules saved yet")
	}

	var rows []scheduleRow
	for i, s := range ctrl.Schedules() {
		if !schedulesAll && !s.Enabled {
			continue
		}
		rows = append(rows, scheduleRow{Index: i, Schedule: s, Cron: s.CronExpr()})
	}

	if schedulesJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SLOT\tENABLED\tCHANNEL\tTIME\tMINUTES\tDAYS")
	for _, r := range rows {
		fmt.Fprintf(w, "%d\t%t\t%d\t%02d:%02d\t%d\t%s\n", r.Index, r.Enabled, r.Channel, r.Hour, r.Minute, r.DurationMinutes, r.Weekdays)
	}
	return w.Flush()
}
