// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command queryd starts the grounded query engine HTTP server.
//
// Configuration comes from an optional YAML file (--config), overridden
// by environment variables.
//
// # Environment Variables
//
//   - QUERYD_PORT: HTTP server port (default: 12310)
//   - LLM_BACKEND_TYPE: LLM provider - openai, ollama, claude (default: ollama)
//   - EMBED_BACKEND_TYPE: Embedding provider - openai, ollama
//   - STORE_BACKEND_TYPE: Trace store - weaviate, badger
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL (required)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: aleutian-otel-collector:4317)
//   - QUERYD_LOG_LEVEL: minimum log level - debug, info, warn, error (default: info)
//   - QUERYD_LOG_DIR: directory for JSON log files (default: stderr only)
//   - QUERYD_SYSTEM_PROMPT: overrides the grounded-answer system prompt
//   - OPENAI_API_KEY: OpenAI key for the openai backends; falls back to the
//     /run/secrets/openai_api_key container secret
//   - OPENAI_MODEL, OPENAI_EMBED_MODEL: OpenAI generation/embedding models
//   - OLLAMA_BASE_URL, OLLAMA_MODEL: Ollama server and model for the ollama backends
//   - ANTHROPIC_API_KEY, CLAUDE_MODEL: Anthropic key and model for the claude backend
//
// # Usage
//
//	# Build
//	go build -o queryd ./cmd/queryd
//
//	# Run
//	./queryd serve --config queryd.yaml
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianQuery/pkg/logging"
	"github.com/AleutianAI/AleutianQuery/services/query"
	"github.com/AleutianAI/AleutianQuery/services/query/datatypes"
	"github.com/spf13/cobra"
)

var (
	configPath string
	serverURL  string
	queryMode  string
	queryTopK  int
	sessionID  string

	rootCmd = &cobra.Command{
		Use:   "queryd",
		Short: "Grounded retrieval and query engine",
		Long: `queryd answers natural-language questions from an ingested document
corpus, with citations back to the passages used and a verification pass
that checks each answer against its sources.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the query engine HTTP server",
		RunE:  runServe,
	}

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a running query engine a question",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
)

func main() {
	// Setup structured logging. Server runs log JSON for collectors;
	// `ask` keeps the human-readable text default.
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("QUERYD_LOG_LEVEL")),
		LogDir:  os.Getenv("QUERYD_LOG_DIR"),
		Service: "queryd",
		JSON:    len(os.Args) > 1 && os.Args[1] == "serve",
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	serveCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	askCmd.Flags().StringVar(&serverURL, "server", "http://localhost:12310", "query engine base URL")
	askCmd.Flags().StringVar(&queryMode, "mode", "", "retrieval mode: semantic, text, hybrid")
	askCmd.Flags().IntVar(&queryTopK, "top-k", 0, "number of passages to retrieve")
	askCmd.Flags().StringVar(&sessionID, "session", "", "session id for multi-turn conversations")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		_ = logger.Close()
		os.Exit(1)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("Starting query engine",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"store_backend", cfg.StoreBackend,
		"weaviate_url", cfg.WeaviateURL,
	)

	svc, err := query.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create query service: %w", err)
	}
	return svc.Run()
}

func runAsk(_ *cobra.Command, args []string) error {
	req := datatypes.AnswerRequest{
		Query:     strings.Join(args, " "),
		Mode:      datatypes.SearchMode(queryMode),
		TopK:      queryTopK,
		SessionID: sessionID,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Post(strings.TrimSuffix(serverURL, "/")+"/v1/query",
		"application/json", bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var answer datatypes.AnswerResponse
	if err := json.Unmarshal(body, &answer); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	fmt.Println(answer.Answer)
	if answer.Warning != "" {
		fmt.Printf("\nWarning: %s\n", answer.Warning)
	}
	if len(answer.Citations) > 0 {
		fmt.Println("\nSources:")
		for i := 1; i <= len(answer.Citations); i++ {
			if c, ok := answer.Citations[i]; ok {
				fmt.Printf("  [%d] %s (%s)\n", i, c.DocTitle, c.Source)
			}
		}
	}
	fmt.Printf("\ntrace: %s  session: %s\n", answer.TraceID, answer.SessionID)
	return nil
}
