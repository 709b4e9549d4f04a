package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // openai, anthropic, ollama
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"` // openai-compatible gateways
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"` // transport retries, not repair attempts
}

type ResearchConfig struct {
	MaxSubQuestions  int           `mapstructure:"max_sub_questions"`
	ExecConcurrency  int           `mapstructure:"exec_concurrency"`
	JobTimeout       time.Duration `mapstructure:"job_timeout"`
	SynthesisRetries int           `mapstructure:"synthesis_retries"`
}

type SandboxConfig struct {
	Image          string        `mapstructure:"image"`
	TempDir        string        `mapstructure:"temp_dir"`
	Network        string        `mapstructure:"network"` // docker network with query-engine access only
	Timeout        time.Duration `mapstructure:"timeout"`
	MemoryLimit    int64         `mapstructure:"memory_limit"` // bytes
	CPULimit       int64         `mapstructure:"cpu_limit"`    // millicores
	MaxAttempts    int           `mapstructure:"max_attempts"` // original + repairs
	MaxPreviewRows int           `mapstructure:"max_preview_rows"`
}

type CatalogConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type EngineConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	MaxRows      int           `mapstructure:"max_rows"`
}

type RetentionConfig struct {
	JobTTL        time.Duration `mapstructure:"job_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type Config struct {
	DatabaseURL string          `mapstructure:"database_url"`
	ServerPort  string          `mapstructure:"server_port"`
	JWTSecret   string          `mapstructure:"jwt_secret"` // signs sandbox query tokens
	LLM         LLMConfig       `mapstructure:"llm"`
	Research    ResearchConfig  `mapstructure:"research"`
	Sandbox     SandboxConfig   `mapstructure:"sandbox"`
	Catalog     CatalogConfig   `mapstructure:"catalog"`
	Engine      EngineConfig    `mapstructure:"engine"`
	Retention   RetentionConfig `mapstructure:"retention"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	// Fallback defaults
	if config.ServerPort == "" {
		config.ServerPort = "8080"
	}
	if config.JWTSecret == "" {
		log.Fatal("JWT secret must be set in the config file")
	}
	if config.LLM.Timeout == 0 {
		config.LLM.Timeout = 60 * time.Second
	}
	if config.LLM.MaxAttempts == 0 {
		config.LLM.MaxAttempts = 3
	}
	if config.Research.MaxSubQuestions == 0 {
		config.Research.MaxSubQuestions = 10
	}
	if config.Research.ExecConcurrency == 0 {
		config.Research.ExecConcurrency = 5
	}
	if config.Research.JobTimeout == 0 {
		config.Research.JobTimeout = 5 * time.Minute
	}
	if config.Research.SynthesisRetries == 0 {
		config.Research.SynthesisRetries = 1
	}
	if config.Sandbox.Timeout == 0 {
		config.Sandbox.Timeout = 120 * time.Second
	}
	if config.Sandbox.MemoryLimit == 0 {
		config.Sandbox.MemoryLimit = 1024 * 1024 * 1024 // 1GB
	}
	if config.Sandbox.MaxAttempts == 0 {
		config.Sandbox.MaxAttempts = 3
	}
	if config.Sandbox.MaxPreviewRows == 0 {
		config.Sandbox.MaxPreviewRows = 50
	}
	if config.Sandbox.TempDir == "" {
		config.Sandbox.TempDir = "/tmp"
	}
	if config.Catalog.BaseURL == "" {
		// Catalog and query engine usually run in the same service.
		config.Catalog.BaseURL = config.Engine.BaseURL
	}
	if config.Engine.QueryTimeout == 0 {
		config.Engine.QueryTimeout = 60 * time.Second
	}
	if config.Engine.MaxRows == 0 {
		config.Engine.MaxRows = 1000
	}
	if config.Retention.JobTTL == 0 {
		config.Retention.JobTTL = 30 * 24 * time.Hour
	}
	if config.Retention.SweepInterval == 0 {
		config.Retention.SweepInterval = time.Hour
	}

	return &config
}
