package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	NATS         NATSConfig         `yaml:"nats"`
	LevelDB      LevelDBConfig      `yaml:"leveldb"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Breaker      BreakerConfig      `yaml:"breaker"`
	Retry        RetryConfig        `yaml:"retry"`
	Hub          HubConfig          `yaml:"hub"`
	Sources      []SourceConfig     `yaml:"sources"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`
	WriteTimeout int    `yaml:"writeTimeout"`
}

// NATSConfig holds NATS configuration for the intake and status subjects
type NATSConfig struct {
	URL             string `yaml:"url"`
	RequestsSubject string `yaml:"requestsSubject"`
	StatusSubject   string `yaml:"statusSubject"`
	QueueGroup      string `yaml:"queueGroup"`
}

// LevelDBConfig holds the snapshot store configuration
type LevelDBConfig struct {
	Path string `yaml:"path"`
}

// OrchestratorConfig bounds the orchestrator's concurrency and shutdown
type OrchestratorConfig struct {
	MaxInvestigations int `yaml:"maxInvestigations"`
	ShutdownTimeout   int `yaml:"shutdownTimeout"`
}

// BreakerConfig tunes the per-source circuit breakers. Thresholds and
// cooldowns are operational tuning parameters, so they live here rather than
// in code.
type BreakerConfig struct {
	FailureThreshold uint32 `yaml:"failureThreshold"` // failures within the window that open the breaker
	WindowSeconds    int    `yaml:"windowSeconds"`    // rolling window for failure counting
	CooldownSeconds  int    `yaml:"cooldownSeconds"`  // open -> half-open delay
	ParkTickMs       int    `yaml:"parkTickMs"`       // recheck cadence while parked on a denied breaker
	GiveUpSeconds    int    `yaml:"giveUpSeconds"`    // sustained denial beyond this fails the task
}

// RetryConfig tunes the per-attempt retry policy
type RetryConfig struct {
	BaseDelayMs int `yaml:"baseDelayMs"`
	MaxDelayMs  int `yaml:"maxDelayMs"`
	MaxAttempts int `yaml:"maxAttempts"`
}

// HubConfig tunes the event hub's per-investigation buffers
type HubConfig struct {
	BufferSize       int `yaml:"bufferSize"`       // ring buffer capacity per investigation
	SubscriberQueue  int `yaml:"subscriberQueue"`  // per-subscriber channel depth
	RetentionSeconds int `yaml:"retentionSeconds"` // how long finished streams stay queryable
}

// SourceConfig describes one external data source known to the orchestrator
type SourceConfig struct {
	ID             string `yaml:"id" json:"id"`
	Name           string `yaml:"name" json:"name"`
	TimeoutSeconds int    `yaml:"timeoutSeconds" json:"timeoutSeconds"`
	MaxAttempts    int    `yaml:"maxAttempts" json:"maxAttempts"` // 0 means the global retry default
}

// Default configuration values
const (
	DefaultServerPort         = "8080"
	DefaultServerReadTimeout  = 30
	DefaultServerWriteTimeout = 30
	DefaultRequestsSubject    = "inquest.investigations"
	DefaultStatusSubject      = "inquest.status"
	DefaultQueueGroup         = "inquest-orchestrators"
	DefaultLevelDBPath        = "./data/leveldb"
	DefaultMaxInvestigations  = 32
	DefaultShutdownTimeout    = 30
	DefaultFailureThreshold   = 5
	DefaultWindowSeconds      = 60
	DefaultCooldownSeconds    = 30
	DefaultParkTickMs         = 500
	DefaultGiveUpSeconds      = 120
	DefaultBaseDelayMs        = 500
	DefaultMaxDelayMs         = 10000
	DefaultMaxAttempts        = 3
	DefaultHubBufferSize      = 256
	DefaultSubscriberQueue    = 64
	DefaultRetentionSeconds   = 600
	DefaultSourceTimeout      = 30
)

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// Load creates a new configuration from the YAML file, overridden by
// environment variables where set. Source definitions come from the file.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Check mandatory environment variables
	natsURL := os.Getenv("INQUEST_NATS_URL")
	if natsURL == "" {
		natsURL = config.NATS.URL
	}
	if natsURL == "" {
		return nil, fmt.Errorf("INQUEST_NATS_URL environment variable is required")
	}

	config.Server = ServerConfig{
		Port:         getEnv("INQUEST_SERVER_PORT", DefaultServerPort),
		ReadTimeout:  getEnvInt("INQUEST_SERVER_READ_TIMEOUT", DefaultServerReadTimeout),
		WriteTimeout: getEnvInt("INQUEST_SERVER_WRITE_TIMEOUT", DefaultServerWriteTimeout),
	}

	config.NATS = NATSConfig{
		URL:             natsURL,
		RequestsSubject: getEnv("INQUEST_NATS_REQUESTS_SUBJECT", defaultString(config.NATS.RequestsSubject, DefaultRequestsSubject)),
		StatusSubject:   getEnv("INQUEST_NATS_STATUS_SUBJECT", defaultString(config.NATS.StatusSubject, DefaultStatusSubject)),
		QueueGroup:      getEnv("INQUEST_NATS_QUEUE_GROUP", defaultString(config.NATS.QueueGroup, DefaultQueueGroup)),
	}

	config.LevelDB = LevelDBConfig{
		Path: getEnv("INQUEST_LEVELDB_PATH", defaultString(config.LevelDB.Path, DefaultLevelDBPath)),
	}

	config.Orchestrator = OrchestratorConfig{
		MaxInvestigations: getEnvInt("INQUEST_MAX_INVESTIGATIONS", defaultInt(config.Orchestrator.MaxInvestigations, DefaultMaxInvestigations)),
		ShutdownTimeout:   getEnvInt("INQUEST_SHUTDOWN_TIMEOUT", defaultInt(config.Orchestrator.ShutdownTimeout, DefaultShutdownTimeout)),
	}

	config.Breaker = BreakerConfig{
		FailureThreshold: uint32(getEnvInt("INQUEST_BREAKER_FAILURE_THRESHOLD", defaultInt(int(config.Breaker.FailureThreshold), DefaultFailureThreshold))),
		WindowSeconds:    getEnvInt("INQUEST_BREAKER_WINDOW_SECONDS", defaultInt(config.Breaker.WindowSeconds, DefaultWindowSeconds)),
		CooldownSeconds:  getEnvInt("INQUEST_BREAKER_COOLDOWN_SECONDS", defaultInt(config.Breaker.CooldownSeconds, DefaultCooldownSeconds)),
		ParkTickMs:       getEnvInt("INQUEST_BREAKER_PARK_TICK_MS", defaultInt(config.Breaker.ParkTickMs, DefaultParkTickMs)),
		GiveUpSeconds:    getEnvInt("INQUEST_BREAKER_GIVE_UP_SECONDS", defaultInt(config.Breaker.GiveUpSeconds, DefaultGiveUpSeconds)),
	}

	config.Retry = RetryConfig{
		BaseDelayMs: getEnvInt("INQUEST_RETRY_BASE_DELAY_MS", defaultInt(config.Retry.BaseDelayMs, DefaultBaseDelayMs)),
		MaxDelayMs:  getEnvInt("INQUEST_RETRY_MAX_DELAY_MS", defaultInt(config.Retry.MaxDelayMs, DefaultMaxDelayMs)),
		MaxAttempts: getEnvInt("INQUEST_RETRY_MAX_ATTEMPTS", defaultInt(config.Retry.MaxAttempts, DefaultMaxAttempts)),
	}

	config.Hub = HubConfig{
		BufferSize:       getEnvInt("INQUEST_HUB_BUFFER_SIZE", defaultInt(config.Hub.BufferSize, DefaultHubBufferSize)),
		SubscriberQueue:  getEnvInt("INQUEST_HUB_SUBSCRIBER_QUEUE", defaultInt(config.Hub.SubscriberQueue, DefaultSubscriberQueue)),
		RetentionSeconds: getEnvInt("INQUEST_HUB_RETENTION_SECONDS", defaultInt(config.Hub.RetentionSeconds, DefaultRetentionSeconds)),
	}

	if config.Sources == nil {
		config.Sources = make([]SourceConfig, 0)
	}
	for i := range config.Sources {
		if config.Sources[i].TimeoutSeconds <= 0 {
			config.Sources[i].TimeoutSeconds = DefaultSourceTimeout
		}
		if config.Sources[i].MaxAttempts <= 0 {
			config.Sources[i].MaxAttempts = config.Retry.MaxAttempts
		}
	}

	return &config, nil
}

// Source returns the configuration for the given source ID, if known.
func (c *Config) Source(id string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.ID == id {
			return s, true
		}
	}
	return SourceConfig{}, false
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func defaultInt(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
