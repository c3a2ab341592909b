package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lomolisso/esn-cloud-api/internal/client"
	"github.com/lomolisso/esn-cloud-api/internal/command"
	"github.com/lomolisso/esn-cloud-api/internal/config"
	"github.com/lomolisso/esn-cloud-api/internal/domain"
	"github.com/lomolisso/esn-cloud-api/internal/feedback"
	apphttp "github.com/lomolisso/esn-cloud-api/internal/http"
	"github.com/lomolisso/esn-cloud-api/internal/inference"
	applogger "github.com/lomolisso/esn-cloud-api/internal/logger"
	appmqtt "github.com/lomolisso/esn-cloud-api/internal/mqtt"
	"github.com/lomolisso/esn-cloud-api/internal/repository/postgres"
	"github.com/lomolisso/esn-cloud-api/internal/service"
	"github.com/lomolisso/esn-cloud-api/internal/store"
	"github.com/lomolisso/esn-cloud-api/internal/worker"

	"go.uber.org/zap"
)

const exportQueueSize = 1000

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.LoadConfig()

	logger, err := applogger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			log.Printf("Error during logger sync: %v", err)
		}
	}()

	logger.Info("Starting ESN cloud API",
		zap.String("version", "1.0.0"),
		zap.Bool("latency_benchmark", cfg.Inference.LatencyBenchmark),
		zap.Bool("adaptive_inference", cfg.Inference.AdaptiveInference),
		zap.Duration("polling_interval", cfg.Inference.PollingInterval),
		zap.Duration("polling_timeout", cfg.Inference.PollingTimeout))

	dataClient := client.NewClient("data", cfg.Services.DataURL, cfg.Services.RequestTimeout, logger)
	commandClient := client.NewClient("command", cfg.Services.CommandURL, cfg.Services.RequestTimeout, logger)
	inferenceClient := client.NewClient("inference", cfg.Services.InferenceURL, cfg.Services.RequestTimeout, logger)

	readings := store.NewSensorReadingStore(dataClient, logger)
	dispatcher := command.NewDispatcher(commandClient, readings, logger)
	feedbackHandler := feedback.NewHandler(dispatcher, logger)

	var opts []service.Option
	services := apphttp.Services{
		Commands: dispatcher,
		Sensors:  readings,
	}

	if cfg.DBConfig.DBSource != "" {
		repo, err := postgres.NewPostgresRepository(ctx, cfg.DBConfig, logger)
		if err != nil {
			logger.Error("Failed to connect to database", zap.Error(err))
			return
		}
		defer func() {
			repo.Close()
			logger.Info("Database connection closed")
		}()

		logger.Info("Export audit log enabled")
		opts = append(opts, service.WithRecorder(repo))
		services.Audit = service.NewAuditService(repo, logger)
	}

	var (
		mqttClient *appmqtt.Client
		subscriber *appmqtt.Subscriber
	)
	if cfg.MQTT.Enabled() {
		mqttClient, err = appmqtt.NewClient(cfg.MQTT, logger)
		if err != nil {
			logger.Error("Failed to connect to MQTT broker", zap.Error(err))
			return
		}
		defer mqttClient.Close()

		opts = append(opts, service.WithPublisher(
			appmqtt.NewPublisher(mqttClient.Native(), cfg.MQTT.PredictionTopic, logger)))
	}

	predictions := inference.NewClient(inferenceClient)
	services.Models = predictions

	orchestrator := service.NewOrchestrator(
		cfg.Inference,
		readings,
		predictions,
		dispatcher,
		feedbackHandler,
		logger,
		opts...,
	)
	services.Exports = orchestrator

	httpServer := apphttp.NewHTTPServer(cfg.RESTPort, services, logger)
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()

	var pool *worker.Pool
	if mqttClient != nil {
		exports := make(chan *domain.SensorDataExport, exportQueueSize)
		pool = worker.NewPool(orchestrator, cfg.WorkerCount, logger)
		pool.Start(ctx, exports)

		subscriber = appmqtt.NewSubscriber(mqttClient.Native(), cfg.MQTT.ExportTopic, exports, logger)
		if err := subscriber.Subscribe(); err != nil {
			logger.Error("MQTT subscription failed", zap.Error(err))
			cancel()
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}
	logger.Info("Shutting down...")

	// stop intake and let the workers drain the queue before cancelling
	if subscriber != nil {
		subscriber.Stop()
	}
	if pool != nil {
		pool.Wait()
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	logger.Info("ESN cloud API stopped")
}
