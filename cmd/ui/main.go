package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trade-journal-go/internal/blobstore"
	"trade-journal-go/internal/config"
	"trade-journal-go/internal/database"
	"trade-journal-go/internal/gemini"
	"trade-journal-go/internal/imaging"
	"trade-journal-go/internal/journal"
	"trade-journal-go/internal/logger"
	"trade-journal-go/internal/mentor"
	"trade-journal-go/internal/profile"
	"trade-journal-go/internal/store"
	"trade-journal-go/internal/tracing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	shutdownTracing, err := tracing.Init(cfg.Tracing, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	// Connect to the database
	db, err := database.NewDatabase(cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	blobs, err := blobstore.NewOnDisk(cfg.Storage.Root, cfg.Storage.PublicBaseURL, log)
	if err != nil {
		log.Fatal("Failed to initialize storage", zap.Error(err))
	}

	records := store.New(db, log)
	gateway := gemini.NewClient(cfg.Gemini, log)
	normalizer := imaging.NewNormalizer(cfg.Imaging.MaxDimension, cfg.Imaging.Quality, log)
	if cfg.Imaging.MaxPixels > 0 {
		normalizer.MaxPixels = cfg.Imaging.MaxPixels
	}

	apiHandler := NewAPIHandler(log,
		journal.NewService(records, blobs, gateway, normalizer, log),
		profile.NewService(records, blobs, cfg.Profile.UsernameDebounce, log),
		mentor.NewService(gateway, log),
	)

	if cfg.Logger.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := NewRouter(log, apiHandler, blobs.FileSystem(), blobs.PublicBaseURL(), cfg.Server.MaxUploadBytes)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Setup graceful shutdown
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error("Server shutdown failed", zap.Error(err))
		}
		if err := shutdownTracing(ctx); err != nil {
			log.Error("Tracing shutdown failed", zap.Error(err))
		}
	}()

	log.Info("Starting web server", zap.String("address", server.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("Web server failed", zap.Error(err))
	}
	log.Info("Web server stopped")
}
