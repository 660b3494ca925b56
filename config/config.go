package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the kramen service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	ManualDir string `mapstructure:"manual_dir"`
}

// RetrievalConfig controls the hybrid retriever.
type RetrievalConfig struct {
	DenseModel    string `mapstructure:"dense_model"`
	PrefetchLimit int    `mapstructure:"prefetch_limit"`
	FinalLimit    int    `mapstructure:"final_limit"`
}

// LLMConfig contains the reasoning-function settings. APIKeys maps a model
// name to its credential; Default is used when a request carries no model.
type LLMConfig struct {
	BaseURL string            `mapstructure:"base_url"`
	APIKeys map[string]string `mapstructure:"api_keys"`
	Default string            `mapstructure:"default_model"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

// RegistryConfig contains the integration registry backing store settings.
type RegistryConfig struct {
	PostgresURL string `mapstructure:"postgres_url"`
}

// TelemetryConfig contains monitoring settings.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig loads configuration from file and environment. Environment
// variables use the KRAMEN_ prefix with dots replaced by underscores
// (e.g. KRAMEN_SERVER_ADDRESS).
func LoadConfig(path string) *Config {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("KRAMEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			log.Printf("[CONFIG] failed to read config file: %v", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("[CONFIG] failed to unmarshal config: %v", err)
	}

	// Credentials always come from the environment when not set in file.
	if cfg.LLM.APIKeys == nil {
		cfg.LLM.APIKeys = map[string]string{}
	}
	if key := v.GetString("openai_api_key"); key != "" {
		for _, model := range []string{"gpt-4o-mini", "gpt-4.1", "gpt-5", "openai/gpt-5", "openai/gpt-4.1", "openai/gpt-4o-mini"} {
			if _, ok := cfg.LLM.APIKeys[model]; !ok {
				cfg.LLM.APIKeys[model] = key
			}
		}
	}

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":10010")
	v.SetDefault("server.manual_dir", "manuals")
	v.SetDefault("retrieval.dense_model", "text-embedding-3-small")
	v.SetDefault("retrieval.prefetch_limit", 20)
	v.SetDefault("retrieval.final_limit", 5)
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.default_model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 90*time.Second)
	v.SetDefault("telemetry.enabled", true)
}
