package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config holds all visualizer configuration.
type Config struct {
	mu sync.RWMutex

	// Orientation source
	Serial SerialConfig `yaml:"serial" json:"serial"`

	// Reconnect policy
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Display preferences (consumed client-side)
	Display DisplayConfig `yaml:"display" json:"display"`

	// Logging
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type SerialConfig struct {
	Mock       bool     `yaml:"mock" json:"mock"`              // Skip serial entirely, use the mock source
	PortPath   string   `yaml:"port_path" json:"portPath"`     // Hint, e.g. /dev/ttyUSB0 or COM3
	Candidates []string `yaml:"candidates" json:"candidates"`  // Override the platform trial list
	ReadMs     int      `yaml:"read_timeout_ms" json:"readMs"` // Per-read window
}

type RetryConfig struct {
	MaxAttempts  int `yaml:"max_attempts" json:"maxAttempts"`
	BackoffMs    int `yaml:"backoff_ms" json:"backoffMs"`
	BackoffMaxMs int `yaml:"backoff_max_ms" json:"backoffMaxMs"`
}

// DisplayConfig mirrors the original visualizer's tunables. Smoothing
// is the EMA alpha (0..1, higher = less smoothing); the trail is the
// number of ghost orientations drawn behind the live one.
type DisplayConfig struct {
	Smoothing   float64 `yaml:"smoothing" json:"smoothing"`
	TrailLength int     `yaml:"trail_length" json:"trailLength"`
}

type LoggingConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Path     string `yaml:"path" json:"path"`
	Interval int    `yaml:"interval_ms" json:"intervalMs"` // ms between log entries
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			Mock:     false,
			PortPath: "",
			ReadMs:   1000,
		},
		Retry: RetryConfig{
			MaxAttempts:  5,
			BackoffMs:    500,
			BackoffMaxMs: 8000,
		},
		Display: DisplayConfig{
			Smoothing:   0.25,
			TrailLength: 12,
		},
		Logging: LoggingConfig{
			Enabled:  false,
			Path:     "/var/log/mpuviz",
			Interval: 100,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and
// environment variable overrides. Falls back to defaults if the YAML
// is not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env from the config's directory, then the CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		val = strings.Trim(val, `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config
// values. Supported: MPU_MOCK, MPU_PORT, MPU_READ_MS, LISTEN_ADDR,
// LOG_ENABLED, LOG_PATH, LOG_INTERVAL_MS
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MPU_MOCK"); v != "" {
		c.Serial.Mock = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("MPU_PORT"); v != "" {
		c.Serial.PortPath = v
	}
	if v := os.Getenv("MPU_READ_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Serial.ReadMs = n
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("LOG_ENABLED"); v != "" {
		c.Logging.Enabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
	if v := os.Getenv("LOG_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Logging.Interval = n
		}
	}
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = "/etc/mpuviz/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields absent from the
// incoming JSON are preserved (port paths, retry policy, logging).
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values
// are merged rather than replaced; everything else overwrites.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
