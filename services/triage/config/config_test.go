// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadDefaults verifies the service starts with no config file at all.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "12310", cfg.Port)
	assert.Equal(t, "offline", cfg.GeneratorBackend)
	assert.Equal(t, 2, cfg.MaxClarificationTurns)
	assert.InDelta(t, 0.4, cfg.Thresholds.Advisory, 1e-9)
	assert.InDelta(t, 0.35, cfg.Thresholds.SuppressionFloor, 1e-9)
	assert.Equal(t, 4, cfg.Retrieval.TopK)
	assert.Empty(t, cfg.WeaviateURL)
}

// TestLoadMissingFile verifies a nonexistent path falls back to defaults.
func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Port, cfg.Port)
}

// TestLoadFile verifies YAML values override defaults.
func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
weaviate_url: "http://weaviate:8080"
generator_backend: openai
max_clarification_turns: 3
thresholds:
  advisory: 0.5
  suppression_floor: 0.3
retrieval:
  top_k: 6
  similarity_floor: 0.2
  timeout: 5s
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "http://weaviate:8080", cfg.WeaviateURL)
	assert.Equal(t, "openai", cfg.GeneratorBackend)
	assert.Equal(t, 3, cfg.MaxClarificationTurns)
	assert.InDelta(t, 0.5, cfg.Thresholds.Advisory, 1e-9)
	assert.Equal(t, 6, cfg.Retrieval.TopK)
	assert.Equal(t, 5*time.Second, cfg.Retrieval.Timeout)
	// Untouched sections keep their defaults.
	assert.InDelta(t, Default().RateLimit.RPS, cfg.RateLimit.RPS, 1e-9)
}

// TestLoadEnvOverrides verifies environment variables beat file values.
func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TRIAGE_PORT", "8088")
	t.Setenv("WEAVIATE_SERVICE_URL", "http://search:8080")
	t.Setenv("TRIAGE_DATA_PATH", "/tmp/triage-data")
	t.Setenv("LLM_BACKEND_TYPE", "openai")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8088", cfg.Port)
	assert.Equal(t, "http://search:8080", cfg.WeaviateURL)
	assert.Equal(t, "/tmp/triage-data", cfg.DataPath)
	assert.Equal(t, "openai", cfg.GeneratorBackend)
}

// TestLoadRejectsInvalid verifies out-of-range values fail validation.
func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("LLM_BACKEND_TYPE", "mystery")
	_, err := Load("")
	assert.Error(t, err)
}

// TestLoadRejectsBadYAML verifies unparseable files are reported.
func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triage.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [unclosed"), 0600))
	_, err := Load(path)
	assert.Error(t, err)
}

// TestLoadRejectsBadClarificationBound verifies the clarification bound
// range.
func TestLoadRejectsBadClarificationBound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triage.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_clarification_turns: 9"), 0600))
	_, err := Load(path)
	assert.Error(t, err)
}
