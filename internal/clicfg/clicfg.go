// Package clicfg holds configuration loading for the centrifuge-cli tool.
// Settings come from an optional YAML file with command-line flags taking
// precedence.
package clicfg

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultURL is the conventional local Centrifugo websocket endpoint.
const DefaultURL = "ws://localhost:8000/connection/websocket"

// Config carries connection settings for the CLI.
type Config struct {
	// URL of the server websocket endpoint.
	URL string `yaml:"url"`
	// Token is the connection JWT.
	Token string `yaml:"token"`
	// Timeout bounds individual operations.
	Timeout time.Duration `yaml:"timeout"`
}

// UnmarshalYAML decodes the config, accepting Go duration strings like
// "3s" for the timeout.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		URL     string `yaml:"url"`
		Token   string `yaml:"token"`
		Timeout string `yaml:"timeout"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	c.URL = raw.URL
	c.Token = raw.Token
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout: %w", err)
		}
		c.Timeout = d
	}
	return nil
}

// Load reads a YAML config file. A missing path returns an empty Config.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Merge overlays non-zero flag values onto the file config and fills in
// defaults.
func (c Config) Merge(url, token string, timeout time.Duration) Config {
	if url != "" {
		c.URL = url
	}
	if token != "" {
		c.Token = token
	}
	if timeout != 0 {
		c.Timeout = timeout
	}
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}
