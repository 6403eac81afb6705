// Package main provides a reference HTTP server that exposes an ADK-style
// agent to AG-UI compatible frontends over Server-Sent Events (SSE).
//
// The server runs against the Gemini API when GOOGLE_API_KEY is set and falls
// back to a scripted echo agent otherwise, so the protocol surface can be
// exercised without credentials.
//
// Configuration is via environment variables:
//
//	BRIDGE_PORT              - Server port (default: 8000)
//	BRIDGE_LOG_LEVEL         - Log level: debug, info, warn, error (default: info)
//	BRIDGE_MODEL             - Gemini model (default: gemini-2.5-flash)
//	BRIDGE_APP_NAME          - App name used for session scoping (default: bridge_demo)
//	BRIDGE_USER_ID           - Static user id; per-thread ids when unset
//	BRIDGE_SESSION_TIMEOUT   - Idle session expiry (default: 20m)
//	BRIDGE_EXECUTION_TIMEOUT - Background execution staleness (default: 10m)
//	BRIDGE_TOOL_TIMEOUT      - Per-tool invocation bound (default: 5m)
//	BRIDGE_MAX_CONCURRENT    - Concurrent execution cap (default: 10)
//	BRIDGE_MESSAGES_SNAPSHOT - Emit MESSAGES_SNAPSHOT after runs (default: false)
//	GOOGLE_API_KEY           - Google API key
//
// Usage:
//
//	GOOGLE_API_KEY=... go run ./cmd/bridgeserver
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/genai"

	"github.com/spetersoncode/adkbridge/adk"
	"github.com/spetersoncode/adkbridge/bridge"
)

func main() {
	// Load configuration
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	setupLogging(cfg.LogLevel)

	ctx := context.Background()

	// Shared between the bridge and the runner so both see the same sessions.
	svc := adk.NewInMemorySessionService()

	agent := &adk.Agent{
		Name:        cfg.AppName,
		Description: "Reference agent exposed over the AG-UI protocol",
		Instruction: adk.StaticInstruction(
			"You are a helpful assistant. Use the available tools when they help answer the user.",
		),
		Tools: []adk.Tool{currentTimeTool{}},
	}

	factory, backend, err := createRunnerFactory(ctx, cfg, svc)
	if err != nil {
		log.Fatalf("Failed to create runner: %v", err)
	}

	opts := []bridge.Option{
		bridge.WithAppName(cfg.AppName),
		bridge.WithSessionService(svc),
		bridge.WithSessionTimeout(cfg.SessionTimeout),
		bridge.WithExecutionTimeout(cfg.ExecutionTimeout),
		bridge.WithToolTimeout(cfg.ToolTimeout),
		bridge.WithMaxConcurrentExecutions(cfg.MaxConcurrent),
		bridge.WithMessagesSnapshot(cfg.EmitMessagesSnapshot),
	}
	if cfg.UserID != "" {
		opts = append(opts, bridge.WithUserID(cfg.UserID))
	}

	b, err := bridge.New(agent, factory, opts...)
	if err != nil {
		log.Fatalf("Failed to create bridge: %v", err)
	}
	defer b.Close()

	// Setup routes
	mux := http.NewServeMux()
	mux.Handle("/api/agent", corsMiddleware(NewAgentHandler(b)))
	mux.HandleFunc("/health", healthHandler)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE needs no write timeout
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	// Start server
	log.Printf("Bridge server starting on :%s", cfg.Port)
	log.Printf("Backend:  %s", backend)
	log.Printf("Endpoint: POST http://localhost:%s/api/agent", cfg.Port)
	log.Printf("Health:   GET  http://localhost:%s/health", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server stopped")
}

func createRunnerFactory(ctx context.Context, cfg *Config, svc adk.SessionService) (adk.RunnerFactory, string, error) {
	if cfg.GoogleKey == "" {
		return newEchoRunnerFactory(svc, slog.Default()), "echo (no GOOGLE_API_KEY)", nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GoogleKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, "", err
	}
	return newGeminiRunnerFactory(client, cfg.Model, svc, slog.Default()), "gemini (" + cfg.Model + ")", nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
