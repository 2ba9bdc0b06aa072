// Package config loads settings from config.yaml and the environment.
// Environment variables (MINIMEMORI_*) override file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	DBPath            string  `yaml:"db_path" mapstructure:"db_path"`
	EmbeddingModel    string  `yaml:"embedding_model" mapstructure:"embedding_model"`
	ChatModel         string  `yaml:"chat_model" mapstructure:"chat_model"`
	OpenAIBaseURL     string  `yaml:"openai_base_url" mapstructure:"openai_base_url"`
	OpenAIAPIKey      string  `yaml:"openai_api_key" mapstructure:"openai_api_key"`
	LogLevel          string  `yaml:"log_level" mapstructure:"log_level"`
	RetrieveTopK      int     `yaml:"retrieve_top_k" mapstructure:"retrieve_top_k"`
	RetrieveThreshold float64 `yaml:"retrieve_threshold" mapstructure:"retrieve_threshold"`
}

func Default() *Config {
	return &Config{
		DBPath:            "memories.db",
		EmbeddingModel:    "text-embedding-3-small",
		ChatModel:         "gpt-4o-mini",
		OpenAIBaseURL:     "https://api.openai.com/v1",
		LogLevel:          "info",
		RetrieveTopK:      5,
		RetrieveThreshold: 0.0,
	}
}

var envVarRe = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)

func expandEnv(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "$")
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

func Load() (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		v.AddConfigPath(filepath.Join(xdg, "minimemori"))
	}
	home, _ := os.UserHomeDir()
	if home != "" {
		v.AddConfigPath(filepath.Join(home, ".config", "minimemori"))
	}

	v.SetEnvPrefix("MINIMEMORI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// registering defaults makes every key visible to AutomaticEnv
	v.SetDefault("db_path", cfg.DBPath)
	v.SetDefault("embedding_model", cfg.EmbeddingModel)
	v.SetDefault("chat_model", cfg.ChatModel)
	v.SetDefault("openai_base_url", cfg.OpenAIBaseURL)
	v.SetDefault("openai_api_key", cfg.OpenAIAPIKey)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("retrieve_top_k", cfg.RetrieveTopK)
	v.SetDefault("retrieve_threshold", cfg.RetrieveThreshold)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// no config file; defaults plus env
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	cfg.OpenAIAPIKey = expandEnv(cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = expandEnv(cfg.OpenAIBaseURL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("config: db_path is required")
	}
	if c.EmbeddingModel == "" {
		return fmt.Errorf("config: embedding_model is required")
	}
	if c.RetrieveTopK < 1 {
		return fmt.Errorf("config: retrieve_top_k must be >= 1, got %d", c.RetrieveTopK)
	}
	if c.RetrieveThreshold < -1 || c.RetrieveThreshold > 1 {
		return fmt.Errorf("config: retrieve_threshold must be in [-1, 1], got %g", c.RetrieveThreshold)
	}
	return nil
}
