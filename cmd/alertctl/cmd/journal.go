package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ismaiel54/alert-trade-router/internal/journal"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the alert journal",
	Long: `Query alerts recorded by the router.

Subcommands:
  today  - List alerts received today
  day    - List alerts received on a specific day

Examples:
  alertctl journal today
  alertctl journal day 2024-01-15 --db ./data/journal.db`,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List alerts received today",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJournalDay(cmd, time.Now().In(time.Local).Format("2006-01-02"))
	},
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List alerts received on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJournalDay(cmd, args[0])
	},
}

var journalDBPath string

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(journalDayCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./data/journal.db", "path to the journal database")
}

func runJournalDay(cmd *cobra.Command, day string) error {
	start, end, err := dayBounds(time.Local, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}

	if _, err := os.Stat(journalDBPath); err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	store, err := journal.Open(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	alerts, err := store.ListAlertsBetween(cmd.Context(), start, end)
	if err != nil {
		return fmt.Errorf("query alerts: %w", err)
	}

	return writeAlerts(cmd.OutOrStdout(), alerts)
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 0, 1), nil
}

func writeAlerts(w io.Writer, alerts []journal.AlertEntry) error {
	if len(alerts) == 0 {
		_, err := fmt.Fprintln(w, "no alerts")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tMESSAGE\tREV\tSTATUS\tTRADE TYPE\tTEXT\tERROR")
	for _, a := range alerts {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			a.FirstSeen.In(time.Local).Format("15:04:05"),
			a.MessageID,
			a.Revision,
			a.Status,
			a.TradeType,
			firstLine(a.Text, 40),
			a.Error,
		)
	}
	return tw.Flush()
}

func firstLine(s string, limit int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " ..."
	}
	if len(s) > limit {
		s = s[:limit-3] + "..."
	}
	return s
}
