package main

import "testing"

func TestResolveAIServiceConfig(t *testing.T) {
	tests := []struct {
		name         string
		model        string
		wantProvider string
	}{
		{name: "claude model maps to anthropic", model: "claude-sonnet-4", wantProvider: "anthropic"},
		{name: "gpt model maps to openai", model: "gpt-4o", wantProvider: "openai"},
		{name: "gemini model maps to google", model: "gemini-2.5-pro", wantProvider: "google"},
		{name: "unknown model falls back to google", model: "mystery-model", wantProvider: "google"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveAIServiceConfig(tt.model)
			if got.Provider != tt.wantProvider {
				t.Fatalf("provider mismatch: got %q want %q", got.Provider, tt.wantProvider)
			}
			if got.Model != tt.model {
				t.Fatalf("model mismatch: got %q want %q", got.Model, tt.model)
			}
		})
	}
}

func TestIsServerClosed(t *testing.T) {
	if isServerClosed(nil) {
		t.Fatal("nil error should not be treated as server-closed")
	}
}
