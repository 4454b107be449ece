package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaClient talks to a local Ollama server's /api/chat endpoint without
// streaming.
type OllamaClient struct {
	baseURL string
	client  *http.Client
}

// NewOllamaClient returns a client for the Ollama server at baseURL
// (e.g. http://localhost:11434).
func NewOllamaClient(baseURL string, timeout time.Duration) *OllamaClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatResponse struct {
	Message Message `json:"message"`
	Error   string  `json:"error"`
}

// Generate sends the conversation to Ollama and returns the assistant reply.
func (c *OllamaClient) Generate(ctx context.Context, model string, messages []Message) (string, error) {
	body, err := json.Marshal(ollamaChatRequest{Model: model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var chat ollamaChatResponse
	if err := json.Unmarshal(data, &chat); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	if chat.Error != "" {
		return "", fmt.Errorf("ollama error: %s", chat.Error)
	}
	return chat.Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
