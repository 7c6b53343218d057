// Package config reads server settings from the environment, with an
// optional YAML file layered underneath for deployments that prefer files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all server settings.
type Config struct {
	Port              string        `yaml:"port"`
	NATSURL           string        `yaml:"nats_url"`
	NATSSubjectPrefix string        `yaml:"nats_subject_prefix"`
	SessionTTL        time.Duration `yaml:"session_ttl"`
	ReapInterval      time.Duration `yaml:"reap_interval"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
}

// Default returns the built-in settings. NATS is off until a URL is set.
func Default() Config {
	return Config{
		Port:              "8080",
		NATSURL:           "",
		NATSSubjectPrefix: "darts.session",
		SessionTTL:        2 * time.Hour,
		ReapInterval:      5 * time.Minute,
		AllowedOrigins:    []string{"*"},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE if set, then environment variables on top.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.NATSSubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", cfg.NATSSubjectPrefix)

	var err error
	if cfg.SessionTTL, err = getEnvDuration("SESSION_TTL", cfg.SessionTTL); err != nil {
		return Config{}, err
	}
	if cfg.ReapInterval, err = getEnvDuration("REAP_INTERVAL", cfg.ReapInterval); err != nil {
		return Config{}, err
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitAndTrim(origins)
	}

	if cfg.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("session TTL must be positive, got %s", cfg.SessionTTL)
	}
	if cfg.ReapInterval <= 0 {
		return Config{}, fmt.Errorf("reap interval must be positive, got %s", cfg.ReapInterval)
	}
	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return Config{}, fmt.Errorf("invalid port %q", cfg.Port)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s=%q: %w", key, v, err)
	}
	return d, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
