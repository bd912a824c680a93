package config

import (
	"time"

	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/ifuryst/quill/pkg/logger"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Logger     logger.Config    `yaml:"logger"`
	Provider   ProviderConfig   `yaml:"provider"`
	Generation GenerationConfig `yaml:"generation"`
	Automation AutomationConfig `yaml:"automation"`
	Redis      RedisConfig      `yaml:"redis"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type         string `yaml:"type"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	TimeZone     string `yaml:"timezone"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	AutoMigrate  bool   `yaml:"auto_migrate"`
}

// ProviderConfig points at an OpenAI compatible completions endpoint.
type ProviderConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Engine      string        `yaml:"engine"`
	Timeout     time.Duration `yaml:"timeout"`
	VocabFile   string        `yaml:"vocab_file"`
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

type GenerationConfig struct {
	ParagraphTokensPerUnit int     `yaml:"paragraph_tokens_per_unit"`
	ListTokensPerUnit      int     `yaml:"list_tokens_per_unit"`
	ContinuationMaxTokens  int     `yaml:"continuation_max_tokens"`
	Temperature            float64 `yaml:"temperature"`
	BoostWeight            int     `yaml:"boost_weight"`
	SuppressWeight         int     `yaml:"suppress_weight"`
}

type AutomationConfig struct {
	WorkerID               string        `yaml:"worker_id"`
	SupervisorInterval     time.Duration `yaml:"supervisor_interval"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
	ItemTimeout            time.Duration `yaml:"item_timeout"`
	ResumeOnStart          bool          `yaml:"resume_on_start"`
}

type RedisConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	LeaseTTL   time.Duration `yaml:"lease_ttl"`
	StarterTTL time.Duration `yaml:"starter_ttl"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type MonitoringConfig struct {
	ProgressInterval   time.Duration `yaml:"progress_interval"`
	ErrorRetentionDays int           `yaml:"error_retention_days"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	cfg.SetDefaults()
	return cfg, nil
}

// SetDefaults fills every unset field with its default value.
func (cfg *Config) SetDefaults() {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5334
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = "https://api.openai.com"
	}
	if cfg.Provider.Engine == "" {
		cfg.Provider.Engine = "gpt-3.5-turbo-instruct"
	}
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = 60 * time.Second
	}
	if cfg.Provider.MaxAttempts == 0 {
		cfg.Provider.MaxAttempts = 2
	}
	if cfg.Generation.ParagraphTokensPerUnit == 0 {
		cfg.Generation.ParagraphTokensPerUnit = 40
	}
	if cfg.Generation.ListTokensPerUnit == 0 {
		cfg.Generation.ListTokensPerUnit = 30
	}
	if cfg.Generation.ContinuationMaxTokens == 0 {
		cfg.Generation.ContinuationMaxTokens = 100
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = 0.7
	}
	if cfg.Generation.BoostWeight == 0 {
		cfg.Generation.BoostWeight = 5
	}
	if cfg.Generation.SuppressWeight == 0 {
		cfg.Generation.SuppressWeight = -100
	}
	if cfg.Automation.SupervisorInterval == 0 {
		cfg.Automation.SupervisorInterval = time.Minute
	}
	if cfg.Automation.MaxConsecutiveFailures == 0 {
		cfg.Automation.MaxConsecutiveFailures = 10
	}
	if cfg.Automation.ItemTimeout == 0 {
		cfg.Automation.ItemTimeout = 5 * time.Minute
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.LeaseTTL == 0 {
		cfg.Redis.LeaseTTL = 30 * time.Second
	}
	if cfg.Redis.StarterTTL == 0 {
		cfg.Redis.StarterTTL = time.Hour
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Monitoring.ProgressInterval == 0 {
		cfg.Monitoring.ProgressInterval = 30 * time.Second
	}
	if cfg.Monitoring.ErrorRetentionDays == 0 {
		cfg.Monitoring.ErrorRetentionDays = 90
	}
}
