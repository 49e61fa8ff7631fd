package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/examforge/digitizer"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	outputDir := flag.String("output", "output_data", "Base directory for job output")
	uploadDir := flag.String("uploads", "", "Directory for uploaded documents (default: system temp)")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := digitizer.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			slog.Error("opening config", "error", err)
			os.Exit(1)
		}
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			f.Close()
			slog.Error("parsing config", "error", err)
			os.Exit(1)
		}
		f.Close()
	}

	// Override from environment variables.
	if v := os.Getenv("DIGITIZER_PANDOC_PATH"); v != "" {
		cfg.PandocPath = v
	}
	if v := os.Getenv("DIGITIZER_MAGICK_PATH"); v != "" {
		cfg.MagickPath = v
	}
	if v := os.Getenv("DIGITIZER_CACHE_PATH"); v != "" {
		cfg.CachePath = v
	}
	if v := os.Getenv("DIGITIZER_VISION_PROVIDER"); v != "" {
		cfg.Vision.Provider = v
	}
	if v := os.Getenv("DIGITIZER_VISION_MODEL"); v != "" {
		cfg.Vision.Model = v
	}
	if v := os.Getenv("DIGITIZER_VISION_BASE_URL"); v != "" {
		cfg.Vision.BaseURL = v
	}
	if v := os.Getenv("DIGITIZER_VISION_API_KEY"); v != "" {
		cfg.Vision.APIKey = v
	}
	if v := os.Getenv("DIGITIZER_TEXT_PROVIDER"); v != "" {
		cfg.Text.Provider = v
	}
	if v := os.Getenv("DIGITIZER_TEXT_MODEL"); v != "" {
		cfg.Text.Model = v
	}
	if v := os.Getenv("DIGITIZER_TEXT_BASE_URL"); v != "" {
		cfg.Text.BaseURL = v
	}
	if v := os.Getenv("DIGITIZER_TEXT_API_KEY"); v != "" {
		cfg.Text.APIKey = v
	}
	if v := os.Getenv("DIGITIZER_STORAGE_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("DIGITIZER_STORAGE_ACCESS_KEY"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("DIGITIZER_STORAGE_SECRET_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}
	if v := os.Getenv("DIGITIZER_STORAGE_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("DIGITIZER_STORAGE_PUBLIC_URL"); v != "" {
		cfg.Storage.PublicURL = v
	}

	// Fallback: well-known provider env vars for API keys.
	if cfg.Vision.APIKey == "" && cfg.Vision.Provider == "openai" {
		cfg.Vision.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Text.APIKey == "" && cfg.Text.Provider == "openai" {
		cfg.Text.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	apiKey := os.Getenv("DIGITIZER_API_KEY")
	corsOrigins := os.Getenv("DIGITIZER_CORS_ORIGINS")

	pipeline, err := digitizer.New(cfg)
	if err != nil {
		slog.Error("creating pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	h, err := newHandler(pipeline, *outputDir, *uploadDir)
	if err != nil {
		slog.Error("creating handler", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /process", h.handleProcess)
	mux.HandleFunc("GET /jobs/{id}", h.handleJobResult)
	mux.HandleFunc("GET /download/{path...}", h.handleDownload)
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // processing a large document can be long
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr, "output", *outputDir)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
