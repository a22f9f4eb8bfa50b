package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Application
	Version     string
	Environment string
	LogLevel    string

	// Logdy (lightweight web log viewer)
	LogdyEnabled bool
	LogdyHost    string
	LogdyPort    int

	// Frame source
	VideoURL     string
	PollInterval time.Duration

	// Detection model (weights loaded once at startup)
	ModelWeightsPath    string
	ModelConfigPath     string
	ModelClassNames     []string
	ConfidenceThreshold float64

	// Alert policy
	AlertCategory string
	AlertCooldown time.Duration
	Timezone      string

	// Restart discipline
	RestartDelay time.Duration

	// Mail transport
	SenderEmail    string
	SenderPassword string
	SMTPServer     string
	SMTPPort       int
	RecipientEmail string

	// Durable store
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// NATS alert mirror (optional)
	NatsEnabled        bool
	NatsURL            string
	NatsConnectTimeout time.Duration
	NatsReconnectWait  time.Duration
	NatsMaxReconnects  int
	AlertsSubject      string
}

func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found, using environment variables and defaults")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	return &Config{
		// Application
		Version:     getEnv("VERSION", "1.0.0"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Logdy
		LogdyEnabled: getEnvBool("LOGDY_ENABLED", false),
		LogdyHost:    getEnv("LOGDY_HOST", "localhost"),
		LogdyPort:    getEnvInt("LOGDY_PORT", 8080),

		// Frame source
		VideoURL:     getEnv("VIDEO_URL", ""),
		PollInterval: getEnvDuration("POLL_INTERVAL", 1*time.Second),

		// Detection model
		ModelWeightsPath:    getEnv("MODEL_WEIGHTS_PATH", ""),
		ModelConfigPath:     getEnv("MODEL_CONFIG_PATH", ""),
		ModelClassNames:     getEnvList("MODEL_CLASS_NAMES", []string{"Intruder"}),
		ConfidenceThreshold: getEnvFloat("CONFIDENCE_THRESHOLD", 0.5),

		// Alert policy. The cooldown is deliberately a separate knob from the
		// poll interval: one says how often to sample, the other how long to
		// suppress repeat alerts for the same ongoing intrusion.
		AlertCategory: getEnv("ALERT_CATEGORY", "Intruder"),
		AlertCooldown: getEnvDuration("ALERT_COOLDOWN", 30*time.Second),
		Timezone:      getEnv("TIMEZONE", "Asia/Kolkata"),

		// Restart discipline
		RestartDelay: getEnvDuration("RESTART_DELAY", 30*time.Second),

		// Mail transport
		SenderEmail:    getEnv("SENDER_EMAIL", ""),
		SenderPassword: getEnv("SENDER_PASSWORD", ""),
		SMTPServer:     getEnv("SMTP_SERVER", ""),
		SMTPPort:       getEnvInt("SMTP_PORT", 587),
		RecipientEmail: getEnv("RECIPIENT_EMAIL", ""),

		// Durable store
		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", ""),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", ""),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		// NATS alert mirror
		NatsEnabled:        getEnvBool("NATS_ENABLED", false),
		NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
		NatsConnectTimeout: getEnvDuration("NATS_CONNECT_TIMEOUT", 10*time.Second),
		NatsReconnectWait:  getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		NatsMaxReconnects:  getEnvInt("NATS_MAX_RECONNECTS", -1), // -1 = unlimited
		AlertsSubject:      getEnv("ALERTS_SUBJECT", "alerts.intrusion"),
	}
}

// Validate checks the required fields once at startup. The pipeline never
// re-reads configuration mid-run, so a failure here is fatal and a pass here
// means the collaborators can trust their inputs.
func (c *Config) Validate() error {
	var missing []string

	required := []struct {
		name  string
		value string
	}{
		{"VIDEO_URL", c.VideoURL},
		{"MODEL_WEIGHTS_PATH", c.ModelWeightsPath},
		{"SENDER_EMAIL", c.SenderEmail},
		{"SENDER_PASSWORD", c.SenderPassword},
		{"SMTP_SERVER", c.SMTPServer},
		{"RECIPIENT_EMAIL", c.RecipientEmail},
		{"DB_HOST", c.DBHost},
		{"DB_USER", c.DBUser},
		{"DB_PASSWORD", c.DBPassword},
		{"DB_NAME", c.DBName},
	}
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be in [0, 1], got %v", c.ConfidenceThreshold)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}

	return nil
}

// Location resolves the configured IANA time zone. Validate has already
// verified it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
