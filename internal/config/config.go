// Package config handles Blockwright configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/blockwright/config.yaml, /etc/blockwright/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "blockwright", "config.yaml"))
	}

	paths = append(paths, "/etc/blockwright/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Editor transports.
const (
	TransportWebSocket = "websocket"
	TransportMQTT      = "mqtt"
	TransportNone      = "none"
)

// Config holds all Blockwright configuration.
type Config struct {
	Listen      ListenConfig    `yaml:"listen"`
	Environment string          `yaml:"environment"`
	LogLevel    string          `yaml:"log_level"`
	LogFormat   string          `yaml:"log_format"` // text or json
	DataDir     string          `yaml:"data_dir"`
	Anthropic   AnthropicConfig `yaml:"anthropic"`
	WordPress   WordPressConfig `yaml:"wordpress"`
	Editor      EditorConfig    `yaml:"editor"`
	Agent       AgentConfig     `yaml:"agent"`
	Cache       CacheConfig     `yaml:"cache"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey           string `yaml:"api_key"`
	Model            string `yaml:"model"`
	MaxTokens        int    `yaml:"max_tokens"`
	ExtendedThinking bool   `yaml:"extended_thinking"`
	ThinkingBudget   int    `yaml:"thinking_budget"`
}

// WordPressConfig defines the content API connection. Credentials are a
// pre-issued application password; Blockwright never mints its own.
type WordPressConfig struct {
	URL         string `yaml:"url"`
	Username    string `yaml:"username"`
	AppPassword string `yaml:"app_password"`
	CacheTTLSec int    `yaml:"cache_ttl_sec"`
}

// CacheTTL returns the lookup cache lifetime.
func (c WordPressConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSec) * time.Second
}

// EditorConfig defines how commands reach the live block editor.
type EditorConfig struct {
	Transport       string     `yaml:"transport"`
	ReplyTimeoutSec int        `yaml:"reply_timeout_sec"`
	MQTT            MQTTConfig `yaml:"mqtt"`
}

// ReplyTimeout returns how long a deferred editor command waits for its reply.
func (c EditorConfig) ReplyTimeout() time.Duration {
	return time.Duration(c.ReplyTimeoutSec) * time.Second
}

// MQTTConfig defines the broker used by the mqtt editor transport.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// AgentConfig tunes the orchestration loop.
type AgentConfig struct {
	MaxIterations         int  `yaml:"max_iterations"`
	SubagentMaxIterations int  `yaml:"subagent_max_iterations"`
	Planning              bool `yaml:"planning"`
	RequirePlanApproval   bool `yaml:"require_plan_approval"`
	RetryToolCalls        bool `yaml:"retry_tool_calls"`
}

// CacheConfig toggles the SQLite lookup cache. When disabled, lookups
// always hit the content API.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file, expanding ${VAR}
// references against the environment and filling defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.DataDir == "" {
		c.DataDir = "./db"
	}
	if c.Anthropic.Model == "" {
		c.Anthropic.Model = "claude-sonnet-4-20250514"
	}
	if c.Anthropic.MaxTokens == 0 {
		c.Anthropic.MaxTokens = 4096
	}
	if c.Anthropic.ThinkingBudget == 0 {
		c.Anthropic.ThinkingBudget = 2048
	}
	if c.WordPress.CacheTTLSec == 0 {
		c.WordPress.CacheTTLSec = 300
	}
	if c.Editor.Transport == "" {
		c.Editor.Transport = TransportWebSocket
	}
	if c.Editor.ReplyTimeoutSec == 0 {
		c.Editor.ReplyTimeoutSec = 10
	}
	if c.Editor.MQTT.TopicPrefix == "" {
		c.Editor.MQTT.TopicPrefix = "blockwright"
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 20
	}
	if c.Agent.SubagentMaxIterations == 0 {
		c.Agent.SubagentMaxIterations = 10
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q invalid (valid: text, json)", c.LogFormat))
	}
	switch c.Editor.Transport {
	case TransportWebSocket, TransportNone:
	case TransportMQTT:
		if c.Editor.MQTT.Broker == "" {
			errs = append(errs, errors.New("editor.mqtt.broker is required when editor.transport is mqtt"))
		}
	default:
		errs = append(errs, fmt.Errorf("editor.transport %q invalid (valid: websocket, mqtt, none)", c.Editor.Transport))
	}
	if c.Agent.MaxIterations < 1 {
		errs = append(errs, errors.New("agent.max_iterations must be at least 1"))
	}
	if c.Agent.SubagentMaxIterations < 1 {
		errs = append(errs, errors.New("agent.subagent_max_iterations must be at least 1"))
	}
	if c.WordPress.URL != "" && !strings.HasPrefix(c.WordPress.URL, "http") {
		errs = append(errs, fmt.Errorf("wordpress.url %q must be an http(s) URL", c.WordPress.URL))
	}
	return errors.Join(errs...)
}
