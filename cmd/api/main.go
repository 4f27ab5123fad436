package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/viralcut/clipper/internal/api"
	"github.com/viralcut/clipper/internal/config"
	"github.com/viralcut/clipper/internal/db"
	"github.com/viralcut/clipper/internal/facetrack"
	"github.com/viralcut/clipper/internal/jobstore"
	"github.com/viralcut/clipper/internal/orchestrator"
	"github.com/viralcut/clipper/internal/queue"
	"github.com/viralcut/clipper/internal/services"
	"github.com/viralcut/clipper/internal/storage"
	"github.com/viralcut/clipper/internal/webhook"
	"github.com/viralcut/clipper/internal/worker"
)

const version = "1.2.0"

func main() {
	log.Println("Starting Clipper API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to Redis queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	log.Println("Connected to Redis queue")

	// Optional Postgres job archive
	archive, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open job archive: %v", err)
	}
	if archive != nil {
		defer archive.Close()
		log.Println("Connected to job archive")
	}

	// In-memory job store with TTL sweeper
	store := jobstore.New()
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	store.StartSweeper(rootCtx)

	// Initialize services
	drive := storage.NewDriveService(cfg.DriveClientID, cfg.DriveClientSecret, cfg.DriveRefreshToken)
	engine := services.NewFFmpegService()
	gemini := services.NewGeminiService(cfg.GeminiAPIKey, cfg.GeminiModel)
	transcriber := services.NewTranscriptionService(cfg.DeepInfraAPIKey, cfg.DeepInfraBaseURL, cfg.WhisperModel, gemini, engine)
	if cfg.DeepInfraAPIKey != "" {
		log.Printf("Transcription: Whisper via DeepInfra (model: %s)", cfg.WhisperModel)
	} else {
		log.Println("Transcription: Gemini fallback only (no DEEPINFRA_API_KEY)")
	}

	// Face tracking uses the ffmpeg frame sampler. No detector is wired in
	// this build, so clips fall back to a centered crop.
	tracker := facetrack.New(engine, nil)

	pipeline := orchestrator.New(orchestrator.Deps{
		Store:         store,
		Source:        drive,
		Analysis:      gemini,
		Transcriber:   transcriber,
		Engine:        engine,
		Notifier:      webhook.NewSender(),
		Tracker:       tracker,
		Archive:       archive,
		TempDir:       cfg.TempDir,
		DriveFolderID: cfg.DriveFolderID,
		FontFile:      cfg.CaptionFontFile,
		BoldFontFile:  cfg.CaptionBoldFontFile,
		MaxSourceMB:   cfg.MaxSourceMB,
	})

	// Start workers
	w := worker.New(q, pipeline, cfg.WorkerCount, cfg.TempDir)
	w.Start(rootCtx)
	log.Printf("Started %d workers", cfg.WorkerCount)

	// Create API handler
	handler := api.NewHandler(store, q, archive, version)
	router := api.NewRouter(handler, api.RouterConfig{
		APIKey:             cfg.APIKey,
		CorsAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Stop workers and the TTL sweeper
	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
