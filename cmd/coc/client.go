package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// dashboardClient is a thin REST client the run/list subcommands use to
// talk to an already-running `serve` process, grounded on the teacher's
// runStatusCommand HTTP-probe pattern.
type dashboardClient struct {
	baseURL string
	http    *http.Client
}

func newDashboardClient(host string, port int) *dashboardClient {
	return &dashboardClient{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type enqueueBody struct {
	Type     string `json:"type"`
	Priority string `json:"priority"`
	Payload  struct {
		AIClarification struct {
			Prompt string `json:"prompt"`
		} `json:"aiClarification"`
	} `json:"payload"`
}

func (c *dashboardClient) submit(ctx context.Context, prompt, priority string) (string, error) {
	body := enqueueBody{Type: "ai-clarification", Priority: priority}
	body.Payload.AIClarification.Prompt = prompt

	buf, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/queue", bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("is `coc serve` running at %s? %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	var out struct {
		Task struct {
			ID string `json:"id"`
		} `json:"task"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("server rejected task: %s", out.Error)
	}
	return out.Task.ID, nil
}

func (c *dashboardClient) list(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/queue", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("is `coc serve` running at %s? %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
