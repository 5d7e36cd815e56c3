// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the triage service configuration.
//
// Configuration comes from an optional YAML file with environment variable
// overrides for deployment-specific values. Every tunable has a safe default
// so the service starts with no config file at all.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port string `yaml:"port" validate:"required"`

	// WeaviateURL is the search collaborator endpoint. Empty disables
	// retrieval (the service answers ungrounded).
	WeaviateURL string `yaml:"weaviate_url"`

	// DataPath is the directory for embedded storage.
	DataPath string `yaml:"data_path" validate:"required"`

	// GeneratorBackend selects the generation backend: "openai" or
	// "offline".
	GeneratorBackend string `yaml:"generator_backend" validate:"oneof=openai offline"`

	Thresholds Thresholds `yaml:"thresholds"`
	Retrieval  Retrieval  `yaml:"retrieval"`
	RateLimit  RateLimit  `yaml:"rate_limit"`

	// MaxClarificationTurns bounds the clarification loop.
	MaxClarificationTurns int `yaml:"max_clarification_turns" validate:"min=1,max=5"`

	// GenerateTimeout bounds one online generation call before offline
	// fallback.
	GenerateTimeout time.Duration `yaml:"generate_timeout" validate:"min=1s"`
}

// Thresholds are the confidence fusion tunables.
type Thresholds struct {
	// Advisory: fused confidence below this attaches the low-confidence
	// advisory.
	Advisory float64 `yaml:"advisory" validate:"gt=0,lt=1"`

	// SuppressionFloor: retrieval confidence below this withholds citations.
	SuppressionFloor float64 `yaml:"suppression_floor" validate:"gt=0,lt=1"`
}

// Retrieval are the gateway tunables.
type Retrieval struct {
	TopK            int           `yaml:"top_k" validate:"min=1,max=20"`
	SimilarityFloor float64       `yaml:"similarity_floor" validate:"gte=0,lt=1"`
	Timeout         time.Duration `yaml:"timeout" validate:"min=100ms"`
}

// RateLimit is the per-client request budget.
type RateLimit struct {
	RPS   float64 `yaml:"rps" validate:"gt=0"`
	Burst int     `yaml:"burst" validate:"min=1"`
}

// Default returns the configuration the service runs with when no file and
// no environment overrides are present.
func Default() Config {
	return Config{
		Port:                  "12310",
		DataPath:              "/var/lib/medgate/triage",
		GeneratorBackend:      "offline",
		MaxClarificationTurns: 2,
		GenerateTimeout:       25 * time.Second,
		Thresholds: Thresholds{
			Advisory:         0.4,
			SuppressionFloor: 0.35,
		},
		Retrieval: Retrieval{
			TopK:            4,
			SimilarityFloor: 0.25,
			Timeout:         10 * time.Second,
		},
		RateLimit: RateLimit{
			RPS:   5,
			Burst: 10,
		},
	}
}

var validate = validator.New()

// Load reads configuration from path (if non-empty and present), applies
// environment overrides, and validates the result.
//
// # Environment Overrides
//
//   - TRIAGE_PORT
//   - WEAVIATE_SERVICE_URL
//   - TRIAGE_DATA_PATH
//   - LLM_BACKEND_TYPE
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv("TRIAGE_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("WEAVIATE_SERVICE_URL"); v != "" {
		cfg.WeaviateURL = v
	}
	if v := os.Getenv("TRIAGE_DATA_PATH"); v != "" {
		cfg.DataPath = v
	}
	if v := os.Getenv("LLM_BACKEND_TYPE"); v != "" {
		cfg.GeneratorBackend = v
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
