package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Brownie44l1/plant-api/internal/chat"
	"github.com/Brownie44l1/plant-api/internal/config"
	"github.com/Brownie44l1/plant-api/internal/handlers"
	"github.com/Brownie44l1/plant-api/internal/llm"
	"github.com/Brownie44l1/plant-api/internal/model"
	"github.com/Brownie44l1/plant-api/internal/preprocess"
	"github.com/Brownie44l1/plant-api/internal/store"
	"github.com/gin-gonic/gin"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := config.InitLogger(cfg.Log.Level, nil)

	loader := &model.ONNXLoader{
		ModelLocation:     cfg.Model.Location,
		MetadataLocation:  cfg.Model.MetadataLocation,
		SharedLibraryPath: cfg.Model.SharedLibrary,
		Client:            &http.Client{Timeout: cfg.Model.FetchTimeout},
		Logger:            logger,
	}
	// Metadata and model are fetched separately, each bounded by FetchTimeout.
	runtime := model.NewRuntime(loader, logger, model.WithLoadTimeout(2*cfg.Model.FetchTimeout))
	defer runtime.Close()

	if cfg.Model.Preload {
		logger.Info("Loading model", "location", cfg.Model.Location)
		if err := runtime.Warm(context.Background()); err != nil {
			logger.Error("Failed to load model", "error", err)
			os.Exit(1)
		}
	}

	engine := chat.NewEngine(newBackend(cfg, logger),
		chat.WithTimeout(cfg.Chat.Timeout),
		chat.WithLogger(logger),
	)

	opts := handlers.Options{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Logger:         logger,
	}
	if cfg.Database.Driver != "" {
		db, err := store.Open(cfg.Database)
		if err != nil {
			logger.Error("Failed to open database", "error", err)
			os.Exit(1)
		}
		opts.Reports = store.NewRepository(db)
		logger.Info("Report storage enabled", "driver", cfg.Database.Driver)
	} else {
		logger.Warn("No database configured, reports will not be stored")
	}

	gin.SetMode(cfg.Server.Mode)
	handler := handlers.NewHandler(runtime, preprocess.New(logger), engine, opts)
	router := handlers.NewRouter(handler, cfg.Server)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Server.Port, "classes", len(model.Classes()))
		logger.Info("Endpoints",
			"health", "GET /health",
			"analyze", "POST /disease/analyze",
			"analyzeImage", "POST /disease/analyze-image",
			"chat", "POST /chat/message",
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	waitForShutdown(server, logger)
}

// newBackend returns nil when chat should answer from fallback templates only.
func newBackend(cfg *config.Config, logger *slog.Logger) chat.Backend {
	switch cfg.ChatBackend() {
	case "groq":
		groq := llm.NewGroq(cfg.Chat.Endpoint, cfg.Chat.APIKey, cfg.Chat.Model, cfg.Chat.Temperature)
		logger.Info("Chat backend configured", "backend", "groq", "model", groq.Model())
		return groq
	case "ollama":
		ollama := llm.NewOllama(cfg.Chat.Endpoint, cfg.Chat.Model, cfg.Chat.Temperature)
		logger.Info("Chat backend configured", "backend", "ollama", "model", ollama.Model())
		return ollama
	default:
		logger.Warn("No chat backend configured, using fallback answers")
		return nil
	}
}

func waitForShutdown(server *http.Server, logger *slog.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return
	}

	logger.Info("Server gracefully stopped")
}
