package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the server configuration, loaded from environment variables.
type Config struct {
	// HTTP server
	ServerPort      string        `envconfig:"SERVER_PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`

	// Logging
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`

	// AI (OpenRouter / any OpenAI-compatible endpoint)
	AIBaseURL     string `envconfig:"AI_BASE_URL" default:"https://openrouter.ai/api/v1"`
	AIAPIKey      string `envconfig:"AI_API_KEY" required:"true"`
	AIModel       string `envconfig:"AI_MODEL" default:"deepseek/deepseek-chat"`
	AIBackupModel string `envconfig:"AI_BACKUP_MODEL" default:"google/gemini-flash-1.5"`
	AIMaxTokens   int    `envconfig:"AI_MAX_TOKENS" default:"4000"`

	// Primary-model timeouts per operation category; the backup path gets a
	// shorter budget since it targets a fast model.
	AIStoryPlanTimeout time.Duration `envconfig:"AI_STORY_PLAN_TIMEOUT" default:"40s"`
	AIPageTimeout      time.Duration `envconfig:"AI_PAGE_TIMEOUT" default:"45s"`
	AIDefaultTimeout   time.Duration `envconfig:"AI_DEFAULT_TIMEOUT" default:"25s"`
	AIBackupTimeout    time.Duration `envconfig:"AI_BACKUP_TIMEOUT" default:"20s"`

	// Pipeline stage deadlines enforced by the engine.
	StoryPlanDeadline time.Duration `envconfig:"STORY_PLAN_DEADLINE" default:"45s"`
	PageStageDeadline time.Duration `envconfig:"PAGE_STAGE_DEADLINE" default:"50s"`
	CritiqueDeadline  time.Duration `envconfig:"CRITIQUE_DEADLINE" default:"30s"`

	// GenerationJob deadline and recovery
	JobTimeout       time.Duration `envconfig:"JOB_TIMEOUT" default:"5m"`
	RecoveryInterval time.Duration `envconfig:"RECOVERY_INTERVAL" default:"30s"`
	CleanupInterval  time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	StoryTTL         time.Duration `envconfig:"STORY_TTL" default:"24h"`

	// Event distribution
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`

	// PostgreSQL
	DBHost        string        `envconfig:"DB_HOST" default:"localhost"`
	DBPort        string        `envconfig:"DB_PORT" default:"5432"`
	DBUser        string        `envconfig:"DB_USER" default:"postgres"`
	DBPassword    string        `envconfig:"DB_PASSWORD" default:"postgres"`
	DBName        string        `envconfig:"DB_NAME" default:"writefully"`
	DBSSLMode     string        `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns    int           `envconfig:"DB_MAX_CONNECTIONS" default:"15"`
	DBIdleTimeout time.Duration `envconfig:"DB_MAX_IDLE_MINUTES" default:"5m"`
	MigrationsDir string        `envconfig:"MIGRATIONS_DIR" default:"migrations"`
}

// GetDSN returns the PostgreSQL connection string.
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// MaskedDSN returns the DSN with the password replaced, for logging.
func (c *Config) MaskedDSN() string {
	dsn := c.GetDSN()
	parts := strings.Split(dsn, "@")
	if len(parts) != 2 {
		return "[invalid dsn format]"
	}
	userInfo := strings.Split(parts[0], ":")
	if len(userInfo) >= 2 {
		userInfo[len(userInfo)-1] = "********"
	}
	return strings.Join(userInfo, ":") + "@" + parts[1]
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return &cfg, nil
}
