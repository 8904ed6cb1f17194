// Package config loads the service configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Addr string `yaml:"addr"`
}

type Sandbox struct {
	Root  string   `yaml:"root"`
	Allow []string `yaml:"allow"`
}

type Dispatch struct {
	TimeoutMS int `yaml:"timeout_ms"`
}

type LLM struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	// APIKeyEnv names the environment variable holding the provider key, so
	// credentials stay out of the config file.
	APIKeyEnv string `yaml:"api_key_env"`
}

type Notify struct {
	WebhookURL string `yaml:"webhook_url"`
}

type Config struct {
	Server   Server   `yaml:"server"`
	Sandbox  Sandbox  `yaml:"sandbox"`
	Dispatch Dispatch `yaml:"dispatch"`
	LLM      LLM      `yaml:"llm"`
	Notify   Notify   `yaml:"notify"`
}

func Default() Config {
	return Config{
		Server:   Server{Addr: "127.0.0.1:8787"},
		Sandbox:  Sandbox{Root: ".", Allow: []string{"**"}},
		Dispatch: Dispatch{TimeoutMS: 30000},
	}
}

// Load reads the config file at path, applying defaults for anything unset.
// An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = Default().Server.Addr
	}
	if cfg.Dispatch.TimeoutMS <= 0 {
		cfg.Dispatch.TimeoutMS = Default().Dispatch.TimeoutMS
	}
	if cfg.Sandbox.Root == "" {
		cfg.Sandbox.Root = "."
	}
	return cfg, nil
}

func (c Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Dispatch.TimeoutMS) * time.Millisecond
}
