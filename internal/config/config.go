// Package config loads service configuration from config.yaml and the
// environment via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Server struct {
		Addr     string `mapstructure:"addr"`
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"server"`
	Engine struct {
		// MaxIterations is the global circuit breaker: the ceiling on
		// worker executions per workflow.
		MaxIterations int `mapstructure:"max_iterations"`
		// LoopCheckThreshold is the iteration count after which the loop
		// breaker starts inspecting the decision window.
		LoopCheckThreshold int `mapstructure:"loop_check_threshold"`
		// DecisionWindow is the length of the trailing routing-decision
		// window. Must be at least 3 for the loop breaker to work.
		DecisionWindow int `mapstructure:"decision_window"`
	} `mapstructure:"engine"`
	Oracle struct {
		URL     string        `mapstructure:"url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"oracle"`
	Auth struct {
		Enable       bool   `mapstructure:"enable"`
		Issuer       string `mapstructure:"issuer"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		RedirectURL  string `mapstructure:"redirect_url"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// LoadConfig loads the configuration from a file and the environment.
// An empty path uses the default search locations.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// A missing file is fine; defaults and env cover everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Auth.Issuer = normalizeIssuer(config.Auth.Issuer)

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("engine.max_iterations", 10)
	viper.SetDefault("engine.loop_check_threshold", 5)
	viper.SetDefault("engine.decision_window", 5)
	viper.SetDefault("oracle.timeout", 60*time.Second)
}

func (c *Config) validate() error {
	if c.Engine.MaxIterations <= 0 {
		return fmt.Errorf("engine.max_iterations must be positive, got %d", c.Engine.MaxIterations)
	}
	if c.Engine.DecisionWindow < 3 {
		return fmt.Errorf("engine.decision_window must be at least 3, got %d", c.Engine.DecisionWindow)
	}
	if c.Engine.LoopCheckThreshold < 0 {
		return fmt.Errorf("engine.loop_check_threshold must not be negative, got %d", c.Engine.LoopCheckThreshold)
	}
	return nil
}

// normalizeIssuer ensures the OIDC issuer string is in a predictable form.
// It removes any trailing slash and leaves the scheme and path intact.
func normalizeIssuer(input string) string {
	iss := strings.TrimSpace(input)
	return strings.TrimRight(iss, "/")
}
