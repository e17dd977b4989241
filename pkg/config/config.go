// Package config loads the gateway's feature configuration from a YAML
// file with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Features controls the FC pipeline's behavior.
type Features struct {
	// PromptTemplate overrides the built-in FC prompt. Must contain the
	// {tools_list} and {trigger_signal} placeholders.
	PromptTemplate string `yaml:"fc_prompt_template"`

	// EnableFcErrorRetry turns on the FC parse-error retry loop.
	EnableFcErrorRetry bool `yaml:"enable_fc_error_retry"`

	// FcErrorRetryMaxAttempts bounds retry attempts (default 3).
	FcErrorRetryMaxAttempts uint32 `yaml:"fc_error_retry_max_attempts"`

	// FcErrorRetryPromptTemplate overrides the retry prompt. Supports
	// {error_details} and {original_response} placeholders.
	FcErrorRetryPromptTemplate string `yaml:"fc_error_retry_prompt_template"`
}

// Upstream describes one upstream route target.
type Upstream struct {
	// Name identifies the upstream in logs.
	Name string `yaml:"name"`

	// Provider is the wire dialect: openai, openai_responses, anthropic,
	// gemini, or gemini_openai.
	Provider string `yaml:"provider"`

	// BaseURL is the upstream endpoint base (scheme + host + prefix).
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against the upstream. Environment variables of
	// the form ${VAR} are expanded at load time.
	APIKey string `yaml:"api_key"`

	// Models maps client-facing model aliases to upstream model names.
	// An empty map passes model names through unchanged.
	Models map[string]string `yaml:"models"`

	// FcInject forces prompt-based function calling for this upstream
	// even when the dialect supports native tools.
	FcInject bool `yaml:"fc_inject"`
}

// Config is the root gateway configuration.
type Config struct {
	Listen    string     `yaml:"listen"`
	Features  Features   `yaml:"features"`
	Upstreams []Upstream `yaml:"upstreams"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen: ":8787",
		Features: Features{
			FcErrorRetryMaxAttempts: 3,
		},
	}
}

// Load reads a YAML config file, applies defaults and environment
// overrides, and expands ${VAR} references in upstream API keys.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	applyEnvOverrides(cfg)
	if cfg.Features.FcErrorRetryMaxAttempts == 0 {
		cfg.Features.FcErrorRetryMaxAttempts = 3
	}
	for i := range cfg.Upstreams {
		cfg.Upstreams[i].APIKey = os.ExpandEnv(cfg.Upstreams[i].APIKey)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if listen := os.Getenv("GATEWAY_LISTEN"); listen != "" {
		cfg.Listen = listen
	}
	if v := os.Getenv("GATEWAY_ENABLE_FC_ERROR_RETRY"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Features.EnableFcErrorRetry = enabled
		}
	}
	if v := os.Getenv("GATEWAY_FC_RETRY_MAX_ATTEMPTS"); v != "" {
		if attempts, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Features.FcErrorRetryMaxAttempts = uint32(attempts)
		}
	}
}
