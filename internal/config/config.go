package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type CreditsConfig struct {
	// Enabled is the single global metering switch. When false (self-hosted
	// unmetered mode) every ledger check short-circuits to allowed with no
	// mutation.
	Enabled bool `mapstructure:"enabled"`
}

type AgentConfig struct {
	// Backend selects the model calling convention: "chat" sends the full
	// history each turn, "responses" continues a prior response by id.
	Backend        string        `mapstructure:"backend"`
	Model          string        `mapstructure:"model"`
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	MaxIterations  int           `mapstructure:"max_iterations"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type Config struct {
	DatabaseURL string        `mapstructure:"database_url"`
	RedisURL    string        `mapstructure:"redis_url"`
	ServerPort  string        `mapstructure:"server_port"`
	JWTSecret   string        `mapstructure:"jwt_secret"`
	Credits     CreditsConfig `mapstructure:"credits"`
	Agent       AgentConfig   `mapstructure:"agent"`
	Stripe      StripeConfig  `mapstructure:"stripe"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	v.SetDefault("credits.enabled", true)
	v.SetDefault("agent.backend", "chat")
	v.SetDefault("agent.model", "gpt-4o")
	v.SetDefault("agent.base_url", "https://api.openai.com/v1")
	v.SetDefault("agent.max_iterations", 8)
	v.SetDefault("agent.request_timeout", 60*time.Second)

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
	if config.RedisURL == "" {
		config.RedisURL = "redis://localhost:6379/0"
	}

	if config.JWTSecret == "" {
		log.Fatal("JWT secret must be set in the config file")
	}

	return &config
}
