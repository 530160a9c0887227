package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	ordershttp "github.com/dannyCSStudent/mojara/internal/http"

	"github.com/dannyCSStudent/mojara/internal/consumer"
	"github.com/dannyCSStudent/mojara/internal/pkg/logger"
	"github.com/dannyCSStudent/mojara/internal/publisher"
	"github.com/dannyCSStudent/mojara/internal/repository"
)

type Config struct {
	HTTPPort        string
	KafkaBrokers    []string
	ChangesTopic    string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	LogLevel        slog.Level
	DB              repository.Credentials
}

func loadConfig() (*Config, error) {
	port, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, errors.New("invalid DB_PORT")
	}
	level, err := logger.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		KafkaBrokers:    strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		ChangesTopic:    getEnv("ORDER_CHANGES_TOPIC", ""),
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        level,
		DB: repository.Credentials{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              port,
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", "postgres"),
			DBName:            getEnv("DB_NAME", "mojara"),
			MigrationsDirPath: getEnv("MIGRATIONS_PATH", "./internal/repository/migrations"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	log := logger.New("orders-service", cfg.LogLevel, os.Stdout)
	log.Info("orders-service starting...")

	repo, err := repository.NewRepository(&cfg.DB)
	if err != nil {
		log.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer repo.Close()

	if err := repo.RunMigrations(&cfg.DB); err != nil {
		log.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("database migrations completed")

	var wg sync.WaitGroup
	workersCtx, workersCancel := context.WithCancel(context.Background())

	checkoutConsumer := consumer.NewKafkaConsumer(repo, log, cfg.KafkaBrokers...)
	outbox := publisher.NewOutboxPoller(repo,
		publisher.NewKafkaWriter(cfg.ChangesTopic, cfg.KafkaBrokers...),
		publisher.WithLogger(log))

	wg.Add(2)
	go func() {
		defer wg.Done()
		checkoutConsumer.Run(workersCtx)
	}()
	go func() {
		defer wg.Done()
		outbox.Run(workersCtx)
	}()

	handler := ordershttp.NewOrdersHandler(repo, cfg.RequestTimeout, log)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("orders service listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down orders service...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", slog.Any("error", err))
	}
	workersCancel()

	doneChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneChan)
	}()

	select {
	case <-doneChan:
		log.Info("workers stopped cleanly")
	case <-shutdownCtx.Done():
		log.Warn("workers didn't stop in time")
	}

	checkoutConsumer.Close()
	if err := outbox.Close(); err != nil {
		log.Error("error closing kafka writer", slog.Any("error", err))
	}
	log.Info("orders service stopped")
}
