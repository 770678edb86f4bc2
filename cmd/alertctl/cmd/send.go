package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ismaiel54/alert-trade-router/internal/logging"
	"github.com/ismaiel54/alert-trade-router/internal/msg"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sendCmd = &cobra.Command{
	Use:   "send [text]",
	Short: "Publish an alert to the router's Kafka topic",
	Long: `Send wraps alert text in an alert record and produces it to the
alerts topic, the way the chat bridge does. With no arguments the text is
read from stdin.

Examples:
  alertctl send 'CLOSE ALL DAX'
  alertctl send --message-id 812 --revision 1 --edited < edited.txt`,
	RunE: runSend,
}

var (
	sendBrokers   string
	sendTopic     string
	sendMessageID string
	sendRevision  int
	sendEdited    bool
)

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVar(&sendBrokers, "brokers", "127.0.0.1:9092", "Kafka broker addresses")
	sendCmd.Flags().StringVar(&sendTopic, "topic", msg.TopicAlertsRaw, "topic to produce to")
	sendCmd.Flags().StringVar(&sendMessageID, "message-id", "", "chat message id (default random)")
	sendCmd.Flags().IntVar(&sendRevision, "revision", 0, "edit revision of the message")
	sendCmd.Flags().BoolVar(&sendEdited, "edited", false, "mark the alert as an edit")
}

func runSend(cmd *cobra.Command, args []string) error {
	text := strings.ReplaceAll(strings.Join(args, " "), `\n`, "\n")
	if len(args) == 0 {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = string(b)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("nothing to send")
	}

	a := newAlert(text, sendMessageID, sendRevision, sendEdited, time.Now())
	if err := a.Validate(); err != nil {
		return err
	}
	value, err := json.Marshal(a)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger("alertctl", "warn")
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg := msg.LoadConfig()
	cfg.Brokers = strings.Split(sendBrokers, ",")
	cfg.ClientID = "alertctl"

	producer, err := msg.NewProducer(cfg, logger)
	if err != nil {
		return err
	}
	defer producer.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	headers := map[string]string{
		msg.HeaderContentType: "application/json",
		msg.HeaderEdited:      strconv.FormatBool(a.Edited),
	}
	if err := producer.Produce(ctx, sendTopic, msg.AlertKey(a.MessageID), value, headers); err != nil {
		logger.Error("send failed", zap.Error(err))
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "sent message %s rev %d (event %s) to %s\n", a.MessageID, a.Revision, a.EventID, sendTopic)
	return nil
}

func newAlert(text, messageID string, revision int, edited bool, now time.Time) msg.AlertMsg {
	if messageID == "" {
		messageID = uuid.NewString()
	}
	return msg.AlertMsg{
		EventID:      uuid.NewString(),
		MessageID:    messageID,
		Revision:     revision,
		Edited:       edited || revision > 0,
		Text:         text,
		TsUnixMillis: now.UnixMilli(),
	}
}
