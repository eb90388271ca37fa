package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	appconfig "estimate-service/internal/config"
	"estimate-service/internal/export"
	"estimate-service/internal/handlers"
	"estimate-service/internal/kinesis"
	"estimate-service/internal/media"
	"estimate-service/internal/paypal"
	"estimate-service/internal/pricing"
	"estimate-service/internal/service"
	"estimate-service/internal/storage"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	kinesisService "github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/gorilla/mux"
)

func main() {
	// Setup structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := appconfig.Load()

	// Pricing tables are loaded once and shared read-only
	labor, err := pricing.LoadLaborIndexTable(cfg.LaborIndexFile)
	if err != nil {
		slog.Error("Failed to load labor index table", "file", cfg.LaborIndexFile, "error", err)
		os.Exit(1)
	}
	trades, err := pricing.LoadTradeLaneTable(cfg.TradesFile)
	if err != nil {
		slog.Error("Failed to load trade lane table", "file", cfg.TradesFile, "error", err)
		os.Exit(1)
	}
	engine := pricing.NewEngine(labor, trades)
	slog.Info("Pricing tables loaded", "states", len(labor), "lanes", engine.Lanes())

	jobStorage, deviceStorage, closeStorage := initStorage(cfg)
	defer closeStorage()

	mediaStore, err := media.NewStore(cfg.UploadsDir, cfg.MaxUploadBytes(), cfg.AllowedMimePrefix)
	if err != nil {
		slog.Error("Failed to initialize media store", "error", err)
		os.Exit(1)
	}

	exportsDir := filepath.Join(cfg.UploadsDir, "exports")
	exporter, err := export.NewExporter(exportsDir, cfg.BaseURL, cfg.LegalCompanyName, export.NewChromePDFRenderer(cfg.ChromeBin))
	if err != nil {
		slog.Error("Failed to initialize exporter", "error", err)
		os.Exit(1)
	}

	// Fall back to trusting the client when PayPal credentials are absent
	var verifier paypal.SubscriptionVerifier = paypal.TrustingVerifier{}
	if cfg.PayPalClientID != "" && cfg.PayPalClientSecret != "" {
		verifier = paypal.NewClient(paypal.BaseURLForEnv(cfg.PayPalEnv), cfg.PayPalClientID, cfg.PayPalClientSecret, cfg.PayPalPlanID)
		slog.Info("PayPal subscription verification enabled", "env", cfg.PayPalEnv)
	} else {
		slog.Warn("PayPal credentials not set, subscriptions are accepted without verification")
	}

	estimates := service.NewEstimateService(jobStorage, deviceStorage, engine, verifier, exporter, service.Options{
		DevMode:        cfg.DevMode,
		FreePhotoLimit: cfg.FreePhotoLimit,
	})

	// Initialize Kinesis streamer if stream name is provided
	if cfg.KinesisStream != "" {
		awsCfg, err := config.LoadDefaultConfig(context.TODO(), config.WithRegion(cfg.AWSRegion))
		if err != nil {
			slog.Warn("Failed to load AWS config for Kinesis", "error", err)
		} else {
			streamer := kinesis.NewStreamer(kinesisService.NewFromConfig(awsCfg), cfg.KinesisStream)
			estimates.SetKinesisStreamer(streamer)
			slog.Info("Kinesis estimate event streaming enabled", "stream", cfg.KinesisStream)
		}
	}

	sweeper := export.NewSweeper(exportsDir, cfg.ExportRetention, cfg.ExportSweepInterval)
	sweeper.Start()
	defer sweeper.Stop()

	httpHandler := handlers.NewHTTPHandler(estimates, mediaStore, handlers.ClientConfig{
		PayPalClientID: cfg.PayPalClientID,
		PayPalPlanID:   cfg.PayPalPlanID,
		PayPalEnv:      cfg.PayPalEnv,
		PaywallPrice:   cfg.PaywallPrice,
		FreePhotoLimit: cfg.FreePhotoLimit,
		Dev:            cfg.DevMode,
		VapidPublicKey: cfg.VapidPublicKey,
		LegalCompany:   cfg.LegalCompanyName,
	}, cfg.MaxUploadBytes())

	// Setup routes
	router := mux.NewRouter()

	// Use path prefix if running behind load balancer
	routes := router
	if cfg.PathPrefix != "" {
		routes = router.PathPrefix(cfg.PathPrefix).Subrouter()
	}
	httpHandler.RegisterRoutes(routes)
	handlers.RegisterStatic(routes, cfg.PathPrefix, cfg.UploadsDir, cfg.PublicDir)

	router.Use(handlers.DeviceMiddleware)

	// CORS wraps the router so preflight requests are answered before method matching
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.CORSMiddleware(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Setup graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	// Start server in a goroutine
	go func() {
		slog.Info("Estimate Service starting", "port", cfg.Port, "base_url", cfg.BaseURL, "dev", cfg.DevMode, "storage", cfg.StorageType)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Estimate Service failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	<-c
	slog.Info("Estimate Service shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
}

// initStorage selects the job and device backends from STORAGE_TYPE
func initStorage(cfg *appconfig.Config) (storage.JobStorage, storage.DeviceStorage, func()) {
	noop := func() {}

	switch cfg.StorageType {
	case "dynamodb":
		awsCfg, err := config.LoadDefaultConfig(context.TODO(), config.WithRegion(cfg.AWSRegion))
		if err != nil {
			slog.Error("Failed to load AWS config", "error", err)
			os.Exit(1)
		}

		dynamoClient := dynamodb.NewFromConfig(awsCfg)
		slog.Info("Using DynamoDB storage", "jobs_table", cfg.DynamoDBJobsTable, "devices_table", cfg.DynamoDBDevicesTable)
		return storage.NewDynamoDBJobStorage(dynamoClient, cfg.DynamoDBJobsTable),
			storage.NewDynamoDBDeviceStorage(dynamoClient, cfg.DynamoDBDevicesTable),
			noop
	case "postgres":
		pg, err := storage.NewPostgresStorage(cfg.PostgresDSN)
		if err != nil {
			slog.Error("Failed to connect to Postgres", "error", err)
			os.Exit(1)
		}
		slog.Info("Using Postgres storage")
		return pg, pg, func() { pg.Close() }
	case "memory":
		slog.Info("Using in-memory storage")
		return storage.NewMemoryJobStorage(), storage.NewMemoryDeviceStorage(), noop
	default:
		jobs, err := storage.NewFileJobStorage(cfg.DataDir)
		if err != nil {
			slog.Error("Failed to initialize file job storage", "error", err)
			os.Exit(1)
		}
		devices, err := storage.NewFileDeviceStorage(cfg.DataDir)
		if err != nil {
			slog.Error("Failed to initialize file device storage", "error", err)
			os.Exit(1)
		}
		slog.Info("Using file storage", "data_dir", cfg.DataDir)
		return jobs, devices, noop
	}
}
