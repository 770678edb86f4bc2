package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ismaiel54/alert-trade-router/internal/logging"
	"github.com/ismaiel54/alert-trade-router/internal/msg"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var repliesCmd = &cobra.Command{
	Use:   "replies",
	Short: "Print replies from the router's replies topic",
	Long: `Replies consumes the replies topic for a while and prints every
reply the router sent, then a short summary.

Examples:
  alertctl replies --for 30s
  alertctl replies --group ops-audit --brokers kafka-1:9092,kafka-2:9092`,
	Args: cobra.NoArgs,
	RunE: runReplies,
}

var (
	repliesBrokers string
	repliesTopic   string
	repliesGroup   string
	repliesFor     time.Duration
)

func init() {
	rootCmd.AddCommand(repliesCmd)

	repliesCmd.Flags().StringVar(&repliesBrokers, "brokers", "127.0.0.1:9092", "Kafka broker addresses")
	repliesCmd.Flags().StringVar(&repliesTopic, "topic", msg.TopicAlertsReplies, "replies topic")
	repliesCmd.Flags().StringVar(&repliesGroup, "group", "alertctl-replies", "consumer group")
	repliesCmd.Flags().DurationVar(&repliesFor, "for", 10*time.Second, "how long to listen")
}

// replyTally counts what a replies session saw.
type replyTally struct {
	total       int
	attachments int
	errors      int
}

func (t *replyTally) add(w io.Writer, rec msg.Record) {
	t.total++
	label := "message"
	if name := rec.Headers[msg.HeaderFilename]; name != "" {
		t.attachments++
		label = "file " + name
	}
	if strings.Contains(string(rec.Value), `"error"`) || strings.Contains(string(rec.Value), `"execution_error"`) {
		t.errors++
	}
	fmt.Fprintf(w, "--- offset %d (%s, %d bytes)\n%s\n", rec.Offset, label, len(rec.Value), rec.Value)
}

func (t *replyTally) summary(w io.Writer) {
	fmt.Fprintf(w, "\n%d replies, %d as attachments, %d reporting errors\n", t.total, t.attachments, t.errors)
}

func runReplies(cmd *cobra.Command, args []string) error {
	logger, err := logging.NewLogger("alertctl", "warn")
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg := msg.LoadConfig()
	cfg.Brokers = strings.Split(repliesBrokers, ",")
	cfg.ClientID = "alertctl"

	consumer, err := msg.NewConsumer(cfg, repliesGroup, []string{repliesTopic}, logger)
	if err != nil {
		return err
	}
	defer consumer.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), repliesFor)
	defer cancel()

	out := cmd.OutOrStdout()
	var tally replyTally
	err = consumer.Run(ctx, func(_ context.Context, rec msg.Record) error {
		tally.add(out, rec)
		return nil
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error("consumer error", zap.Error(err))
		return err
	}

	tally.summary(out)
	return nil
}
