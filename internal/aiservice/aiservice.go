// Package aiservice provides the default, concrete implementation of the
// otherwise-opaque CopilotSDKService external collaborator spec.md §1
// declares: a callable taking a prompt and an optional streaming-chunk
// callback. The core never imports this package directly except through the
// Service interface it defines, keeping the AI backend swappable.
package aiservice

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
)

// Service is the opaque CopilotSDKService contract spec.md §1 describes:
// "the core invokes a CopilotSDKService callable with a prompt and an
// optional streaming-chunk callback; implementation is opaque."
type Service interface {
	Call(ctx context.Context, prompt, model string, onChunk func(chunk string)) (string, error)
}

// Config selects the backing LLM provider for the genkit-backed default.
type Config struct {
	Provider string // "google" (default), "anthropic", "openai", "openai_compatible"
	Model    string
	APIKey   string
}

// genkitService is the default Service, backed by firebase/genkit/go. It
// degrades to a deterministic canned reply when no API key is configured,
// mirroring the teacher's "deterministic fallback" behavior in
// internal/engine/brain.go.
type genkitService struct {
	g        *genkit.Genkit
	cfg      Config
	llmOn    bool
	modelTag string
}

// New initializes the genkit-backed default Service for the given provider.
func New(ctx context.Context, cfg Config) *genkitService {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	apiKey := strings.TrimSpace(cfg.APIKey)

	var g *genkit.Genkit
	llmOn := false
	modelTag := cfg.Model

	switch provider {
	case "anthropic":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{APIKey: apiKey}))
			llmOn = true
			if modelTag == "" {
				modelTag = "claude-3-5-sonnet-latest"
			}
		} else {
			g = genkit.Init(ctx)
		}
	case "openai":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{Provider: "openai", APIKey: apiKey}))
			llmOn = true
			if modelTag == "" {
				modelTag = "gpt-4o-mini"
			}
		} else {
			g = genkit.Init(ctx)
		}
	default: // "google"
		if apiKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", apiKey)
			g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
			llmOn = true
			if modelTag == "" {
				modelTag = "googleai/gemini-2.0-flash"
			}
		} else {
			g = genkit.Init(ctx)
		}
	}

	return &genkitService{g: g, cfg: cfg, llmOn: llmOn, modelTag: modelTag}
}

// Call implements Service. When onChunk is non-nil, generation streams and
// onChunk is invoked for each text part as it arrives, matching the
// teacher's Stream discipline of accumulating a full reply alongside the
// per-chunk callback.
func (s *genkitService) Call(ctx context.Context, prompt, model string, onChunk func(string)) (string, error) {
	if !s.llmOn {
		return "no AI provider configured; echoing prompt: " + prompt, nil
	}

	modelName := s.modelTag
	if model != "" {
		modelName = model
	}

	if onChunk == nil {
		resp, err := genkit.Generate(ctx, s.g, ai.WithModelName(modelName), ai.WithPrompt(prompt))
		if err != nil {
			return "", fmt.Errorf("aiservice: generate: %w", err)
		}
		return resp.Text(), nil
	}

	var full strings.Builder
	stream := genkit.GenerateStream(ctx, s.g, ai.WithModelName(modelName), ai.WithPrompt(prompt))
	for val, err := range stream {
		if err != nil {
			return full.String(), fmt.Errorf("aiservice: stream: %w", err)
		}
		if val.Chunk != nil {
			for _, part := range val.Chunk.Content {
				if part.Kind == ai.PartText && part.Text != "" {
					onChunk(part.Text)
					full.WriteString(part.Text)
				}
			}
		}
	}
	return full.String(), nil
}
