package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/meshworks/relay/pkg/store"
	"github.com/meshworks/relay/pkg/types"
)

var alarmsCmd = &cobra.Command{
	Use:   "alarms",
	Short: "Inspect and manage the alarm trail",
}

var alarmsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alarm history, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		ruleID, _ := cmd.Flags().GetString("rule")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		return withStore(cmd, func(st store.Store) error {
			entries, err := st.ListAlarms(types.AlarmFilter{
				Status: types.AlarmStatus(status),
				RuleID: ruleID,
			}, limit, offset)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tRULE\tEVENT\tSOURCE\tSTATUS\tTRIGGERED")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.ID, e.RuleID, e.EventType, e.EventSource, e.Status,
					e.TriggeredAt.Format(time.RFC3339))
			}
			return w.Flush()
		})
	},
}

var alarmsAckCmd = &cobra.Command{
	Use:   "ack <alarm-id>",
	Short: "Acknowledge an alarm",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		notes, _ := cmd.Flags().GetString("notes")
		return withStore(cmd, func(st store.Store) error {
			ack, err := st.AcknowledgeAlarm(args[0], user, notes)
			if err != nil {
				return err
			}
			fmt.Printf("Alarm %s acknowledged by %s\n", args[0], ack.UserID)
			return nil
		})
	},
}

var alarmsResolveCmd = &cobra.Command{
	Use:   "resolve <alarm-id>",
	Short: "Resolve an alarm",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st store.Store) error {
			if err := st.ResolveAlarm(args[0]); err != nil {
				return err
			}
			fmt.Printf("Alarm %s resolved\n", args[0])
			return nil
		})
	},
}

var alarmsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show rule store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st store.Store) error {
			stats, err := st.GetStats()
			if err != nil {
				return err
			}
			fmt.Printf("Rules: %d (%d enabled)\nAlarms: %d (%d active)\n",
				stats.Rules, stats.EnabledRules, stats.Alarms, stats.ActiveAlarms)
			return nil
		})
	},
}

func init() {
	alarmsListCmd.Flags().String("status", "", "Filter by status (active, acknowledged, resolved)")
	alarmsListCmd.Flags().String("rule", "", "Filter by rule id")
	alarmsListCmd.Flags().Int("limit", 50, "Maximum rows")
	alarmsListCmd.Flags().Int("offset", 0, "Rows to skip")

	alarmsAckCmd.Flags().String("user", "operator", "Acknowledging user")
	alarmsAckCmd.Flags().String("notes", "", "Acknowledgement notes")

	alarmsCmd.AddCommand(alarmsListCmd)
	alarmsCmd.AddCommand(alarmsAckCmd)
	alarmsCmd.AddCommand(alarmsResolveCmd)
	alarmsCmd.AddCommand(alarmsStatsCmd)
}
