// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the immutable settings the query
// service runs with. Settings come from an optional yaml file plus
// DRIFTLINE_-prefixed environment overrides, and are validated once at
// startup; a Config value is never mutated after Load returns.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the process-wide configuration for the query service.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Retriever  RetrieverConfig  `mapstructure:"retriever"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Safety     SafetyConfig     `mapstructure:"safety"`
	Confidence ConfidenceConfig `mapstructure:"confidence"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
}

type ServerConfig struct {
	Port           string  `mapstructure:"port"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps" validate:"gt=0"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" validate:"gt=0"`
}

type LLMConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model" validate:"required"`
	EmbeddingModel string `mapstructure:"embedding_model" validate:"required"`
	BaseURL        string `mapstructure:"base_url"`
}

type RetrieverConfig struct {
	WeaviateHost   string `mapstructure:"weaviate_host"`
	WeaviateScheme string `mapstructure:"weaviate_scheme"`
	ClassName      string `mapstructure:"class_name" validate:"required"`
	SearchMethod   string `mapstructure:"search_method" validate:"oneof=similarity mmr compression"`
	TopK           int    `mapstructure:"top_k" validate:"gt=0"`
}

// CacheConfig controls the TTL cache and which stages consult it.
// TTL is the default entry lifetime; zero means entries never expire.
type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	TTL        time.Duration `mapstructure:"ttl"`
	Retrieval  bool          `mapstructure:"retrieval"`
	LLM        bool          `mapstructure:"llm"`
	Embeddings bool          `mapstructure:"embeddings"`
}

type SafetyConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	ModerationTimeout time.Duration `mapstructure:"moderation_timeout" validate:"gt=0"`
}

// ConfidenceConfig holds the ordered level thresholds. Validate enforces
// low < medium < high on top of the per-field range checks.
type ConfidenceConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	IncludeFactors  bool    `mapstructure:"include_factors"`
	LowThreshold    float64 `mapstructure:"low_threshold" validate:"gte=0,lte=1"`
	MediumThreshold float64 `mapstructure:"medium_threshold" validate:"gte=0,lte=1"`
	HighThreshold   float64 `mapstructure:"high_threshold" validate:"gte=0,lte=1"`
}

type ResilienceConfig struct {
	MaxRetries        int           `mapstructure:"max_retries" validate:"gte=0"`
	InitialDelay      time.Duration `mapstructure:"initial_delay" validate:"gt=0"`
	MaxDelay          time.Duration `mapstructure:"max_delay" validate:"gt=0"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" validate:"gte=1"`

	FailureThreshold int           `mapstructure:"failure_threshold" validate:"gt=0"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout" validate:"gt=0"`
	MonitoringPeriod time.Duration `mapstructure:"monitoring_period" validate:"gt=0"`

	GenerationTimeout    time.Duration `mapstructure:"generation_timeout" validate:"gt=0"`
	EmbeddingTimeout     time.Duration `mapstructure:"embedding_timeout" validate:"gt=0"`
	BulkEmbeddingTimeout time.Duration `mapstructure:"bulk_embedding_timeout" validate:"gt=0"`
}

// ConfigurationError reports invalid or missing settings. It is fatal at
// startup; the service refuses to start with a bad config.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Message)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// IsConfigurationError checks if an error is a *ConfigurationError.
func IsConfigurationError(err error) bool {
	_, ok := err.(*ConfigurationError)
	return ok
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "12310")
	v.SetDefault("server.rate_limit_rps", 10.0)
	v.SetDefault("server.rate_limit_burst", 20)

	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.embedding_model", "text-embedding-3-small")

	v.SetDefault("retriever.weaviate_scheme", "http")
	v.SetDefault("retriever.class_name", "DocumentChunk")
	v.SetDefault("retriever.search_method", "similarity")
	v.SetDefault("retriever.top_k", 5)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.retrieval", false)
	v.SetDefault("cache.llm", false)
	v.SetDefault("cache.embeddings", false)

	v.SetDefault("safety.enabled", true)
	v.SetDefault("safety.moderation_timeout", 10*time.Second)

	v.SetDefault("confidence.enabled", true)
	v.SetDefault("confidence.include_factors", true)
	v.SetDefault("confidence.low_threshold", 0.4)
	v.SetDefault("confidence.medium_threshold", 0.6)
	v.SetDefault("confidence.high_threshold", 0.8)

	v.SetDefault("resilience.max_retries", 3)
	v.SetDefault("resilience.initial_delay", time.Second)
	v.SetDefault("resilience.max_delay", 10*time.Second)
	v.SetDefault("resilience.backoff_multiplier", 2.0)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout", time.Minute)
	v.SetDefault("resilience.monitoring_period", time.Minute)
	v.SetDefault("resilience.generation_timeout", 30*time.Second)
	v.SetDefault("resilience.embedding_timeout", 30*time.Second)
	v.SetDefault("resilience.bulk_embedding_timeout", 60*time.Second)
}

// Load reads configuration from an optional config.yaml (searched in the
// working directory and ./configs) plus DRIFTLINE_-prefixed env vars, then
// validates the result.
//
// # Outputs
//
//   - *Config: Validated, immutable configuration.
//   - error: *ConfigurationError for any missing or inconsistent setting.
//
// # Example
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatalf("FATAL: %v", err)
//	}
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	v.SetEnvPrefix("DRIFTLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, &ConfigurationError{Message: fmt.Sprintf("reading config file: %v", err)}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigurationError{Message: fmt.Sprintf("unmarshal: %v", err)}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and the cross-field invariants the tags
// cannot express (threshold ordering, retry delay ordering).
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			first := errs[0]
			return &ConfigurationError{
				Field:   first.Namespace(),
				Message: fmt.Sprintf("failed %q validation", first.Tag()),
			}
		}
		return &ConfigurationError{Message: err.Error()}
	}

	if !(c.Confidence.LowThreshold < c.Confidence.MediumThreshold &&
		c.Confidence.MediumThreshold < c.Confidence.HighThreshold) {
		return &ConfigurationError{
			Field: "confidence",
			Message: fmt.Sprintf("thresholds must be ordered low < medium < high, got %v/%v/%v",
				c.Confidence.LowThreshold, c.Confidence.MediumThreshold, c.Confidence.HighThreshold),
		}
	}

	if c.Resilience.InitialDelay > c.Resilience.MaxDelay {
		return &ConfigurationError{
			Field:   "resilience",
			Message: "initial_delay must not exceed max_delay",
		}
	}

	return nil
}
