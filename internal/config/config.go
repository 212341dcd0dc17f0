package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// Config holds player configuration
type Config struct {
	Audio   AudioConfig   `json:"audio"`
	Engine  EngineConfig  `json:"engine"`
	Player  PlayerConfig  `json:"player"`
	HTTP    HTTPConfig    `json:"http"`
	Logging LoggingConfig `json:"logging"`
}

// AudioConfig configures the output device and the sink in front of it
type AudioConfig struct {
	Backend       string   `json:"backend"` // auto, speaker or null
	SampleRate    int      `json:"sample_rate"`
	Volume        float64  `json:"volume"`
	RingDuration  Duration `json:"ring_duration"`
	WriteTimeout  Duration `json:"write_timeout"`
	SpeakerBuffer Duration `json:"speaker_buffer"`
}

// EngineConfig sets the decode loop pacing
type EngineConfig struct {
	IdleSleep   Duration `json:"idle_sleep"`
	PacketSleep Duration `json:"packet_sleep"`
}

// PlayerConfig sizes the facade queues
type PlayerConfig struct {
	PollInterval Duration `json:"poll_interval"`
	ActionQueue  int      `json:"action_queue"`
	StatusQueue  int      `json:"status_queue"`
}

// HTTPConfig configures chunk requests
type HTTPConfig struct {
	Timeout   Duration `json:"timeout"`
	UserAgent string   `json:"user_agent"`
}

// LoggingConfig configures the logger
type LoggingConfig struct {
	Level string `json:"level"`
	JSON  bool   `json:"json"`
	File  string `json:"file"`
}

// Duration is a time.Duration written as "200ms" in JSON
type Duration struct {
	time.Duration
}

// D wraps a time.Duration
func D(d time.Duration) Duration {
	return Duration{d}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// bare numbers are nanoseconds
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("invalid duration %s", b)
		}
		d.Duration = time.Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// GetDefaultConfig returns default configuration
func GetDefaultConfig() *Config {
	return &Config{
		Audio: AudioConfig{
			Backend:       "auto",
			SampleRate:    44100,
			Volume:        0.5,
			RingDuration:  D(200 * time.Millisecond),
			WriteTimeout:  D(2 * time.Second),
			SpeakerBuffer: D(100 * time.Millisecond),
		},
		Engine: EngineConfig{
			IdleSleep:   D(200 * time.Millisecond),
			PacketSleep: D(20 * time.Millisecond),
		},
		Player: PlayerConfig{
			PollInterval: D(10 * time.Millisecond),
			ActionQueue:  64,
			StatusQueue:  256,
		},
		HTTP: HTTPConfig{
			Timeout:   D(30 * time.Second),
			UserAgent: "streamplayer/1.0",
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// Validate rejects values the player cannot run with
func (c *Config) Validate() error {
	switch c.Audio.Backend {
	case "", "auto", "speaker", "null":
	default:
		return fmt.Errorf("unknown audio backend %q", c.Audio.Backend)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.Volume < 0 || c.Audio.Volume > 1 {
		return fmt.Errorf("volume must be within 0-1, got %v", c.Audio.Volume)
	}
	if c.Audio.RingDuration.Duration <= 0 {
		return fmt.Errorf("ring duration must be positive")
	}
	if c.Player.ActionQueue <= 0 || c.Player.StatusQueue <= 0 {
		return fmt.Errorf("queue sizes must be positive")
	}
	if c.Player.PollInterval.Duration <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	return nil
}

// LoadConfig reads and unmarshals configuration from file. Fields missing
// from the file keep their defaults.
func LoadConfig(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return GetDefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := GetDefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return config, nil
}

// SaveConfig marshals and saves configuration to file
func SaveConfig(fs afero.Fs, config *Config, path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadOrCreate loads config from path or creates default if not exists
func LoadOrCreate(fs afero.Fs, path string) (*Config, error) {
	config, err := LoadConfig(fs, path)
	if err != nil {
		return nil, err
	}

	// Save default config if file didn't exist
	if exists, _ := afero.Exists(fs, path); !exists {
		if err := SaveConfig(fs, config, path); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
	}

	return config, nil
}

// GetConfigPath returns the default config file path
func GetConfigPath() string {
	// Check environment variable first
	if path := os.Getenv(EnvPrefix + "CONFIG"); path != "" {
		return path
	}

	// Use XDG config directory if available
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "streamplayer", "config.json")
	}

	// Fall back to home directory
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}

	return filepath.Join(home, ".config", "streamplayer", "config.json")
}
