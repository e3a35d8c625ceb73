package llm

import (
	"context"
	"net/http"
	"strings"
)

const (
	// DefaultOllamaEndpoint is where a local ollama serves its API.
	DefaultOllamaEndpoint = "http://localhost:11434"
	// DefaultOllamaModel is a small local model good enough for short answers.
	DefaultOllamaModel = "llama3.2:1b"
)

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Ollama talks to a local ollama server via /api/generate.
type Ollama struct {
	endpoint    string
	model       string
	temperature float64
	httpClient  *http.Client
}

// NewOllama creates a client. Empty endpoint or model fall back to the defaults.
func NewOllama(endpoint, model string, temperature float64) *Ollama {
	if endpoint == "" {
		endpoint = DefaultOllamaEndpoint
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	return &Ollama{
		endpoint:    strings.TrimRight(endpoint, "/"),
		model:       model,
		temperature: temperature,
		httpClient:  &http.Client{},
	}
}

// Model returns the configured model name.
func (o *Ollama) Model() string {
	return o.model
}

// Complete runs a non-streaming generation.
func (o *Ollama) Complete(ctx context.Context, prompt string) (string, error) {
	var resp generateResponse
	err := postJSON(ctx, o.httpClient, o.endpoint+"/api/generate", nil, generateRequest{
		Model:   o.model,
		Prompt:  prompt,
		Stream:  false,
		Options: generateOptions{Temperature: o.temperature},
	}, &resp)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Response)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
