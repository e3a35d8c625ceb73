package llm

import (
	"context"
	"net/http"
	"strings"
)

const (
	// DefaultGroqEndpoint is Groq's OpenAI-compatible API root.
	DefaultGroqEndpoint = "https://api.groq.com/openai/v1"
	// DefaultGroqModel is the hosted model used for plant-care answers.
	DefaultGroqModel = "gemma2-9b-it"
	// DefaultTemperature matches the tone the prompts were written for.
	DefaultTemperature = 0.7
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Groq talks to an OpenAI-compatible chat completions endpoint.
type Groq struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	httpClient  *http.Client
}

// NewGroq creates a client. Empty endpoint or model fall back to the defaults.
// The request deadline comes from the caller's context.
func NewGroq(endpoint, apiKey, model string, temperature float64) *Groq {
	if endpoint == "" {
		endpoint = DefaultGroqEndpoint
	}
	if model == "" {
		model = DefaultGroqModel
	}
	return &Groq{
		endpoint:    strings.TrimRight(endpoint, "/"),
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		httpClient:  &http.Client{},
	}
}

// Model returns the configured model name.
func (g *Groq) Model() string {
	return g.model
}

// Complete sends prompt as a single user message and returns the first choice.
func (g *Groq) Complete(ctx context.Context, prompt string) (string, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+g.apiKey)

	var resp chatCompletionResponse
	err := postJSON(ctx, g.httpClient, g.endpoint+"/chat/completions", header, chatCompletionRequest{
		Model:       g.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: g.temperature,
	}, &resp)
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
