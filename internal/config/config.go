/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings. The loaded Config is immutable after startup and passed by value
 * into the poller, ingestor and confirmation engine.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the settlement-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort          string `mapstructure:"SERVER_PORT"`
	DatabaseURL         string `mapstructure:"DATABASE_URL"`
	RabbitMQURL         string `mapstructure:"RABBITMQ_URL"`
	InternalAPIKey      string `mapstructure:"INTERNAL_API_KEY"`
	ChainID             uint64 `mapstructure:"CHAIN_ID"`
	ChainQueryURL       string `mapstructure:"CHAIN_QUERY_URL"`
	ChainQueryAPIKey    string `mapstructure:"CHAIN_QUERY_API_KEY"`
	PollIntervalSeconds int    `mapstructure:"POLL_INTERVAL_SECONDS"`
	TickTimeoutSeconds  int    `mapstructure:"TICK_TIMEOUT_SECONDS"`
	PageSize            int    `mapstructure:"PAGE_SIZE"`
	ConfirmDepth        uint64 `mapstructure:"CONFIRM_DEPTH"`
	FinalizeDepth       uint64 `mapstructure:"FINALIZE_DEPTH"`
	GatewayAllowlist    string `mapstructure:"GATEWAY_ALLOWLIST"`
	EventExchange       string `mapstructure:"SETTLEMENT_EVENT_EXCHANGE"`
}

// maxPageSize bounds PAGE_SIZE so one tick stays finite.
const maxPageSize = 1000

// LoadConfig reads configuration from environment variables from the given
// path. It uses Viper to automatically bind environment variables to the
// Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8084")
	viper.SetDefault("CHAIN_ID", 1)
	viper.SetDefault("POLL_INTERVAL_SECONDS", 5)
	viper.SetDefault("TICK_TIMEOUT_SECONDS", 30)
	viper.SetDefault("PAGE_SIZE", 500)
	viper.SetDefault("CONFIRM_DEPTH", 3)
	viper.SetDefault("FINALIZE_DEPTH", 12)
	viper.SetDefault("SETTLEMENT_EVENT_EXCHANGE", "settlement_events")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "SETTLEMENT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("CHAIN_ID")
	_ = viper.BindEnv("CHAIN_QUERY_URL")
	_ = viper.BindEnv("CHAIN_QUERY_API_KEY")
	_ = viper.BindEnv("POLL_INTERVAL_SECONDS")
	_ = viper.BindEnv("TICK_TIMEOUT_SECONDS")
	_ = viper.BindEnv("PAGE_SIZE")
	_ = viper.BindEnv("CONFIRM_DEPTH")
	_ = viper.BindEnv("FINALIZE_DEPTH")
	_ = viper.BindEnv("GATEWAY_ALLOWLIST")
	_ = viper.BindEnv("SETTLEMENT_EVENT_EXCHANGE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if config.PollIntervalSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive poll interval; using default\" value=%d", config.PollIntervalSeconds)
		config.PollIntervalSeconds = 5
	}
	if config.TickTimeoutSeconds <= 0 {
		config.TickTimeoutSeconds = 30
	}
	if config.PageSize <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive page size; using default\" value=%d", config.PageSize)
		config.PageSize = 500
	}
	if config.PageSize > maxPageSize {
		log.Printf("level=warn component=config msg=\"page size too large; capping\" value=%d cap=%d", config.PageSize, maxPageSize)
		config.PageSize = maxPageSize
	}

	// An inverted depth configuration is tolerated: payments then skip the
	// confirmed state and go straight to finalized.
	if config.FinalizeDepth > 0 && config.ConfirmDepth > config.FinalizeDepth {
		log.Printf("level=warn component=config msg=\"confirm depth exceeds finalize depth; payments may skip confirmation\" confirm_depth=%d finalize_depth=%d",
			config.ConfirmDepth, config.FinalizeDepth)
	}

	config.GatewayAllowlist = strings.TrimSpace(config.GatewayAllowlist)

	return
}

// PollInterval returns the tick interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// TickTimeout returns the per-tick deadline as a duration.
func (c Config) TickTimeout() time.Duration {
	return time.Duration(c.TickTimeoutSeconds) * time.Second
}

// AllowedGateways parses the CSV allow-list into addresses. An empty list
// accepts every gateway.
func (c Config) AllowedGateways() []string {
	if c.GatewayAllowlist == "" {
		return nil
	}
	parts := strings.Split(c.GatewayAllowlist, ",")
	gateways := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			gateways = append(gateways, part)
		}
	}
	return gateways
}
