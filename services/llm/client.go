package llm

import (
	"context"
	"os"
)

// defaultSystemPrompt frames every generation request: the model answers
// only from the context passages the prompt carries and cites them with
// bracketed ordinals so the grounding verifier can resolve the markers.
const defaultSystemPrompt = "You are a retrieval assistant. Answer using only the " +
	"numbered context passages provided in the prompt, and cite each fact with the " +
	"passage ordinal in square brackets, like [1] or [2]. If the passages do not " +
	"contain the answer, say that the context is insufficient instead of guessing."

// systemPrompt returns the system message sent to chat-style backends.
// QUERYD_SYSTEM_PROMPT overrides the built-in grounded-answer framing.
func systemPrompt() string {
	if custom := os.Getenv("QUERYD_SYSTEM_PROMPT"); custom != "" {
		return custom
	}
	return defaultSystemPrompt
}

// GenerationParams carries the optional sampling knobs passed through to
// the backend. Nil fields fall back to backend defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}
