package config

import (
	"os"
	"strconv"
)

// FromEnv overlays environment variables onto cfg
func FromEnv(cfg *Config) {
	if v := os.Getenv("SQSBINDER_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = n
		}
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("SQSBINDER_SQS_ENDPOINT"); v != "" {
		cfg.AWS.Endpoint = v
	}
	if v := os.Getenv("SQSBINDER_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("SQSBINDER_DEV"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DevMode = b
		}
	}
}
