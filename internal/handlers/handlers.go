package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Brownie44l1/plant-api/internal/chat"
	"github.com/Brownie44l1/plant-api/internal/model"
	"github.com/Brownie44l1/plant-api/internal/preprocess"
	"github.com/Brownie44l1/plant-api/internal/store"
	"github.com/Brownie44l1/plant-api/internal/tensor"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Predictor runs the classifier on a prepared tensor.
type Predictor interface {
	Predict(ctx context.Context, input *tensor.Tensor) (model.OutputVector, error)
	Loaded() bool
}

// Preprocessor turns image bytes into a model input tensor.
type Preprocessor interface {
	Preprocess(data []byte) (*tensor.Tensor, error)
}

// Responder answers chat requests.
type Responder interface {
	Respond(ctx context.Context, req chat.Request) (chat.Reply, error)
	HasBackend() bool
}

// ReportStore persists diagnosis reports.
type ReportStore interface {
	CreateFromResult(ctx context.Context, result model.ClassificationResult) (*store.Report, error)
	List(ctx context.Context) ([]store.Report, error)
	Get(ctx context.Context, id uuid.UUID) (*store.Report, error)
	SaveChatHistory(ctx context.Context, id uuid.UUID, history []chat.Turn) (*store.Report, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type Handler struct {
	predictor      Predictor
	preprocessor   Preprocessor
	chat           Responder
	reports        ReportStore
	maxUploadBytes int64
	logger         *slog.Logger
}

// Options holds optional Handler collaborators.
type Options struct {
	// Reports may be nil; diagnoses are then returned but not stored and
	// the history routes are not registered.
	Reports        ReportStore
	MaxUploadBytes int64
	Logger         *slog.Logger
}

func NewHandler(predictor Predictor, preprocessor Preprocessor, responder Responder, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	return &Handler{
		predictor:      predictor,
		preprocessor:   preprocessor,
		chat:           responder,
		reports:        opts.Reports,
		maxUploadBytes: opts.MaxUploadBytes,
		logger:         opts.Logger,
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"modelLoaded": h.predictor.Loaded(),
		"chatBackend": h.chat.HasBackend(),
		"storage":     h.reports != nil,
		"timestamp":   time.Now().UTC(),
	})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrScoring):
		return http.StatusBadGateway
	case errors.Is(err, preprocess.ErrDecode),
		errors.Is(err, tensor.ErrShape),
		errors.Is(err, chat.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrLoad):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
