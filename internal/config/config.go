// Package config loads runtime configuration from environment variables and
// per-target build descriptors from a YAML file.
package config

import (
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config holds runtime configuration for the build service.
type Config struct {
	Env            string
	HTTPAddr       string
	LogLevel       string
	Backend        string // "latexmk" or "tectonic"
	LatexmkPath    string
	TectonicPath   string
	MaxConcurrent  int
	CompileTimeout time.Duration
	KillGrace      time.Duration
	TargetsFile    string

	WebhookMaxRetries int
	WebhookTimeout    time.Duration
}

// Load reads configuration from environment variables with sane defaults for
// local development.
func Load() Config {
	return Config{
		Env:               getEnv("APP_ENV", "dev"),
		HTTPAddr:          getEnv("API_ADDR", ":8080"),
		LogLevel:          getEnv("LOG_LEVEL", "INFO"),
		Backend:           getEnv("BUILD_BACKEND", "latexmk"),
		LatexmkPath:       getEnv("LATEXMK_PATH", "latexmk"),
		TectonicPath:      getEnv("TECTONIC_PATH", "tectonic"),
		MaxConcurrent:     getEnvInt("MAX_CONCURRENT_BUILDS", runtime.NumCPU()),
		CompileTimeout:    getEnvDuration("COMPILE_TIMEOUT", 3*time.Minute),
		KillGrace:         getEnvDuration("KILL_GRACE", 2*time.Second),
		TargetsFile:       getEnv("TARGETS_FILE", ""),
		WebhookMaxRetries: getEnvInt("WEBHOOK_MAX_RETRIES", 5),
		WebhookTimeout:    getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
