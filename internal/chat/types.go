// Package chat answers follow-up questions about a diagnosis, using a
// language model when one is configured and canned guidance otherwise.
package chat

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidRequest is returned when a request carries neither a disease nor a message.
	ErrInvalidRequest = errors.New("disease and message are required")
	// ErrBackend wraps any failure of the language-model backend, including timeouts.
	ErrBackend = errors.New("language model backend failed")
	// ErrNoBackend is the reason reported when no backend is configured.
	ErrNoBackend = errors.New("no language model backend configured")
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a report's conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Request is one chat exchange. History is the caller's full conversation;
// the engine never modifies it.
type Request struct {
	Disease string `json:"disease"`
	Message string `json:"message"`
	History []Turn `json:"chatHistory"`
}

// Outcome tags how a reply was produced.
type Outcome int

const (
	// Answered means the language model produced the reply.
	Answered Outcome = iota
	// Degraded means a fallback rule produced the reply.
	Degraded
)

func (o Outcome) String() string {
	switch o {
	case Answered:
		return "answered"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Reply is the assistant's answer. Reason is set only for Degraded replies.
type Reply struct {
	Text    string
	Outcome Outcome
	Reason  error
}

// IsFallback reports whether the reply came from the rule-based responder.
func (r Reply) IsFallback() bool {
	return r.Outcome == Degraded
}

// OpeningMessage is the first assistant turn stored with a new diagnosis.
func OpeningMessage(disease string, confidence float64) string {
	return fmt.Sprintf("I've detected %s in your plant with %.2f%% confidence. How can I help you with this?",
		disease, confidence*100)
}
