// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/AleutianAI/AleutianQuery/services/query"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors query.Config in YAML form.
type fileConfig struct {
	Port                int     `yaml:"port"`
	LLMBackend          string  `yaml:"llm_backend"`
	EmbedBackend        string  `yaml:"embed_backend"`
	StoreBackend        string  `yaml:"store_backend"`
	WeaviateURL         string  `yaml:"weaviate_url"`
	BadgerPath          string  `yaml:"badger_path"`
	OTelEndpoint        string  `yaml:"otel_endpoint"`
	EnableMetrics       *bool   `yaml:"enable_metrics"`
	GinMode             string  `yaml:"gin_mode"`
	RetrievalDepth      int     `yaml:"retrieval_depth"`
	GroundingThreshold  float64 `yaml:"grounding_threshold"`
	RequireFullCoverage bool    `yaml:"require_full_coverage"`
}

// LoadConfig builds the service configuration from an optional YAML file
// and environment variable overrides. Environment wins over file, file
// wins over defaults.
func LoadConfig(path string) (query.Config, error) {
	var fc fileConfig
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return query.Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return query.Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg := query.Config{
		Port:                fc.Port,
		LLMBackend:          fc.LLMBackend,
		EmbedBackend:        fc.EmbedBackend,
		StoreBackend:        fc.StoreBackend,
		WeaviateURL:         fc.WeaviateURL,
		BadgerPath:          fc.BadgerPath,
		OTelEndpoint:        fc.OTelEndpoint,
		EnableMetrics:       true,
		GinMode:             fc.GinMode,
		RetrievalDepth:      fc.RetrievalDepth,
		GroundingThreshold:  fc.GroundingThreshold,
		RequireFullCoverage: fc.RequireFullCoverage,
	}
	if fc.EnableMetrics != nil {
		cfg.EnableMetrics = *fc.EnableMetrics
	}

	// Environment overrides, matching the container deployment's names.
	cfg.Port = getEnvInt("QUERYD_PORT", cfg.Port)
	cfg.LLMBackend = getEnvString("LLM_BACKEND_TYPE", cfg.LLMBackend)
	cfg.EmbedBackend = getEnvString("EMBED_BACKEND_TYPE", cfg.EmbedBackend)
	cfg.StoreBackend = getEnvString("STORE_BACKEND_TYPE", cfg.StoreBackend)
	cfg.WeaviateURL = getEnvString("WEAVIATE_SERVICE_URL", cfg.WeaviateURL)
	cfg.BadgerPath = getEnvString("TRACE_STORE_PATH", cfg.BadgerPath)
	cfg.OTelEndpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTelEndpoint)
	cfg.GinMode = getEnvString("GIN_MODE", cfg.GinMode)

	return cfg, nil
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
