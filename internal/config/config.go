package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Broker kinds
const (
	BrokerSim    = "sim"
	BrokerBridge = "bridge"
)

// Config holds configuration for the router and its tools
type Config struct {
	// Service name
	ServiceName string

	// gRPC server port
	GRPCPort int

	// HTTP server port
	HTTPPort int

	// Log level: debug, info, warn, error
	LogLevel string

	// Directory for the journal database
	DataDir string

	// Optional YAML/JSON tables; built-in defaults when empty
	IndexMapperPath string
	KeywordsPath    string

	// Volume for a 100% alert
	PositionSize float64

	// Execution backend: sim or bridge
	BrokerKind   string
	BrokerURL    string
	BrokerAPIKey string

	// Starting quotes for the sim broker
	SimQuotesPath string

	// Per-call broker timeout and order confirmation wait
	BrokerTimeout  time.Duration
	ConfirmMaxWait time.Duration

	// Chat webhook for replies; disabled when empty
	WebhookURL string
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig(serviceName string) *Config {
	cfg := &Config{
		ServiceName:     getEnvAsString("SERVICE_NAME", serviceName),
		GRPCPort:        getEnvAsInt("PORT_GRPC", 50051),
		HTTPPort:        getEnvAsInt("PORT_HTTP", 8080),
		LogLevel:        getEnvAsString("LOG_LEVEL", "info"),
		DataDir:         getEnvAsString("DATA_DIR", "./data"),
		IndexMapperPath: getEnvAsString("INDEX_MAPPER_PATH", ""),
		KeywordsPath:    getEnvAsString("KEYWORDS_PATH", ""),
		PositionSize:    getEnvAsFloat("POSITION_SIZE", 25),
		BrokerKind:      getEnvAsString("BROKER_KIND", BrokerSim),
		BrokerURL:       getEnvAsString("BROKER_URL", ""),
		BrokerAPIKey:    getEnvAsString("BROKER_API_KEY", ""),
		SimQuotesPath:   getEnvAsString("SIM_QUOTES_PATH", ""),
		BrokerTimeout:   time.Duration(getEnvAsInt("BROKER_TIMEOUT_MS", 5000)) * time.Millisecond,
		ConfirmMaxWait:  time.Duration(getEnvAsInt("CONFIRM_MAX_WAIT_MS", 2000)) * time.Millisecond,
		WebhookURL:      getEnvAsString("WEBHOOK_URL", ""),
	}

	return cfg
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	if c.PositionSize <= 0 {
		return fmt.Errorf("POSITION_SIZE must be positive, got %v", c.PositionSize)
	}
	switch c.BrokerKind {
	case BrokerSim:
	case BrokerBridge:
		if c.BrokerURL == "" {
			return fmt.Errorf("BROKER_URL is required for the bridge broker")
		}
	default:
		return fmt.Errorf("unknown BROKER_KIND %q", c.BrokerKind)
	}
	if c.BrokerTimeout < 0 || c.ConfirmMaxWait < 0 {
		return fmt.Errorf("broker timeouts must not be negative")
	}
	return nil
}

// GRPCAddr returns the gRPC server address
func (c *Config) GRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

// HTTPAddr returns the HTTP server address
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// JournalPath returns the journal database file
func (c *Config) JournalPath() string {
	return filepath.Join(c.DataDir, "journal.db")
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
