// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
		{Level(-1), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := tt.level.String()
			if got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"bogus", LevelInfo}, // Unknown defaults to Info
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.name); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	tests := []struct {
		level Level
		want  slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{Level(99), slog.LevelInfo}, // Unknown defaults to Info
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			if got := tt.level.toSlogLevel(); got != tt.want {
				t.Errorf("Level.toSlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_FileLogging(t *testing.T) {
	logDir := t.TempDir()

	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  logDir,
		Service: "queryd-test",
		Quiet:   true,
	})
	logger.Info("query answered", "trace_id", "t1", "grounded", true)
	logger.Debug("filtered out", "detail", "below level")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	entries, err := os.ReadDir(logDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(entries))
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "queryd-test_") || !strings.HasSuffix(name, ".log") {
		t.Errorf("unexpected log file name %q", name)
	}

	data, err := os.ReadFile(filepath.Join(logDir, name))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "query answered") {
		t.Errorf("log file missing info message: %s", content)
	}
	if !strings.Contains(content, `"service":"queryd-test"`) {
		t.Errorf("log file missing service attribute: %s", content)
	}
	if strings.Contains(content, "filtered out") {
		t.Error("debug message should have been filtered at Info level")
	}
}

func TestNew_CreatesLogDir(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "nested", "logs")

	logger := New(Config{LogDir: logDir, Service: "queryd-test", Quiet: true})
	logger.Info("hello")
	defer logger.Close()

	if _, err := os.Stat(logDir); err != nil {
		t.Errorf("log directory was not created: %v", err)
	}
}

func TestWith_AddsAttributes(t *testing.T) {
	logDir := t.TempDir()

	logger := New(Config{LogDir: logDir, Service: "queryd-test", Quiet: true})
	child := logger.With("trace_id", "t42")
	child.Info("verifying answer")
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(logDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("entries = %v, err = %v", entries, err)
	}
	data, _ := os.ReadFile(filepath.Join(logDir, entries[0].Name()))
	if !strings.Contains(string(data), `"trace_id":"t42"`) {
		t.Errorf("child logger attribute missing: %s", data)
	}
}

func TestClose_WithoutFile(t *testing.T) {
	logger := New(Config{Quiet: true})
	if err := logger.Close(); err != nil {
		t.Errorf("Close() without file error = %v", err)
	}
	// Second close is a no-op.
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestSlog_ReturnsUsableLogger(t *testing.T) {
	logger := New(Config{Quiet: true})
	defer logger.Close()

	sl := logger.Slog()
	if sl == nil {
		t.Fatal("Slog() returned nil")
	}
	if !sl.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Info should be enabled at the default level")
	}
	if sl.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Debug should be filtered at the default level")
	}
}
