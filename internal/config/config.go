/**
 * @description
 * This package handles the configuration management for the registry-service.
 * It uses the Viper library to read configuration from environment variables
 * (plus an optional .env file), providing a centralized and straightforward
 * way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the registry-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	JWTSecret                  string `mapstructure:"JWT_SECRET"`
	JWTIssuer                  string `mapstructure:"JWT_ISSUER"`
	JWTAudience                string `mapstructure:"JWT_AUDIENCE"`
	AdminPrincipal             string `mapstructure:"ADMIN_PRINCIPAL"`
	TransferRateLimitPerMinute int    `mapstructure:"TRANSFER_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "assetvault:rate_limit")
	viper.SetDefault("TRANSFER_RATE_LIMIT_PER_MINUTE", 60)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("JWT_SECRET", "JWT_SECRET", "REGISTRY_SERVICE_JWT_SECRET")
	_ = viper.BindEnv("JWT_ISSUER")
	_ = viper.BindEnv("JWT_AUDIENCE")
	_ = viper.BindEnv("ADMIN_PRINCIPAL")
	_ = viper.BindEnv("TRANSFER_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.JWTSecret = strings.TrimSpace(config.JWTSecret)
	config.AdminPrincipal = strings.TrimSpace(config.AdminPrincipal)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "assetvault:rate_limit"
	}
	if config.TransferRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative transfer rate limit configured; coercing to zero\" limit=%d", config.TransferRateLimitPerMinute)
		config.TransferRateLimitPerMinute = 0
	}

	return config, nil
}
