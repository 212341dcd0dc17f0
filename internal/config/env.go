package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix starts every environment variable the player reads
const EnvPrefix = "STREAMPLAYER_"

// LoadEnv loads the given .env files (missing files are skipped) and applies
// STREAMPLAYER_* overrides to config. Variables already set in the process
// environment win over .env entries.
func LoadEnv(config *Config, files ...string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return fmt.Errorf("failed to load env files: %w", err)
		}
	}
	return ApplyEnv(config)
}

// ApplyEnv overrides config fields from the process environment
func ApplyEnv(config *Config) error {
	var err error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && err == nil {
			n, e := strconv.Atoi(v)
			if e != nil {
				err = fmt.Errorf("%s%s: %w", EnvPrefix, key, e)
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && err == nil {
			f, e := strconv.ParseFloat(v, 64)
			if e != nil {
				err = fmt.Errorf("%s%s: %w", EnvPrefix, key, e)
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && err == nil {
			b, e := strconv.ParseBool(v)
			if e != nil {
				err = fmt.Errorf("%s%s: %w", EnvPrefix, key, e)
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *Duration) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && err == nil {
			d, e := time.ParseDuration(v)
			if e != nil {
				err = fmt.Errorf("%s%s: %w", EnvPrefix, key, e)
				return
			}
			dst.Duration = d
		}
	}

	str("BACKEND", &config.Audio.Backend)
	integer("SAMPLE_RATE", &config.Audio.SampleRate)
	float("VOLUME", &config.Audio.Volume)
	duration("RING_DURATION", &config.Audio.RingDuration)
	duration("HTTP_TIMEOUT", &config.HTTP.Timeout)
	str("USER_AGENT", &config.HTTP.UserAgent)
	str("LOG_LEVEL", &config.Logging.Level)
	boolean("LOG_JSON", &config.Logging.JSON)
	str("LOG_FILE", &config.Logging.File)

	return err
}
