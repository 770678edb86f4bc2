package msg

import (
	"os"
	"strings"
)

// Config holds Kafka configuration
type Config struct {
	Brokers       []string
	ClientID      string
	AlertsTopic   string
	RepliesTopic  string
	ConsumerGroup string
}

// Topic names
const (
	TopicAlertsRaw     = "alerts.raw"
	TopicAlertsReplies = "alerts.replies"
)

// LoadConfig loads Kafka configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Brokers:       splitBrokers(getEnvAsString("KAFKA_BROKERS", "127.0.0.1:9092")),
		ClientID:      getEnvAsString("KAFKA_CLIENT_ID", "alert-trade-router"),
		AlertsTopic:   getEnvAsString("ALERTS_TOPIC", TopicAlertsRaw),
		RepliesTopic:  getEnvAsString("REPLIES_TOPIC", TopicAlertsReplies),
		ConsumerGroup: getEnvAsString("KAFKA_GROUP", "alert-router"),
	}
}

func splitBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
