// Package config loads imgrab defaults from an optional YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/tanq16/imgrab/internal/utils"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Workers          int
	Timeout          time.Duration
	KeepAliveTimeout time.Duration
	MaxRedirects     int
	PollInterval     time.Duration
	UserAgent        string
	Proxy            ProxyConfig
	Headers          map[string]string
	Debug            bool
}

type ProxyConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

func Default() Config {
	return Config{
		Workers:          utils.DefaultWorkers,
		Timeout:          time.Minute,
		KeepAliveTimeout: 90 * time.Second,
		MaxRedirects:     utils.DefaultMaxRedirects,
		PollInterval:     time.Second,
		UserAgent:        utils.ToolUserAgent,
		Headers:          map[string]string{},
	}
}

// yamlConfig keeps durations as strings so files can say "30s".
type yamlConfig struct {
	Workers          int               `yaml:"workers"`
	Timeout          string            `yaml:"timeout"`
	KeepAliveTimeout string            `yaml:"keep_alive_timeout"`
	MaxRedirects     int               `yaml:"max_redirects"`
	PollInterval     string            `yaml:"poll_interval"`
	UserAgent        string            `yaml:"user_agent"`
	Proxy            ProxyConfig       `yaml:"proxy"`
	Headers          map[string]string `yaml:"headers"`
	Debug            bool              `yaml:"debug"`
}

func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	if yc.MaxRedirects != 0 {
		cfg.MaxRedirects = yc.MaxRedirects
	}
	if yc.UserAgent != "" {
		cfg.UserAgent = yc.UserAgent
	}
	cfg.Proxy = yc.Proxy
	for k, v := range yc.Headers {
		cfg.Headers[k] = v
	}
	cfg.Debug = yc.Debug

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"timeout", yc.Timeout, &cfg.Timeout},
		{"keep_alive_timeout", yc.KeepAliveTimeout, &cfg.KeepAliveTimeout},
		{"poll_interval", yc.PollInterval, &cfg.PollInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.MaxRedirects < 1 {
		return fmt.Errorf("max_redirects must be at least 1, got %d", c.MaxRedirects)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", c.PollInterval)
	}
	return nil
}

// HTTPClientConfig builds the client settings shared by page and image fetches.
func (c Config) HTTPClientConfig() utils.HTTPClientConfig {
	userAgent := c.UserAgent
	if userAgent == "randomize" {
		userAgent = utils.GetRandomUserAgent()
	}
	return utils.HTTPClientConfig{
		Timeout:       c.Timeout,
		KATimeout:     c.KeepAliveTimeout,
		ProxyURL:      c.Proxy.URL,
		ProxyUsername: c.Proxy.Username,
		ProxyPassword: c.Proxy.Password,
		UserAgent:     userAgent,
		Headers:       c.Headers,
	}
}
