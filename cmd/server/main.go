package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"delivery-tracking/internal/auth"
	"delivery-tracking/internal/config"
	"delivery-tracking/internal/database"
	"delivery-tracking/internal/gateway"
	"delivery-tracking/internal/handlers"
	"delivery-tracking/internal/hub"
	"delivery-tracking/internal/kafka"
	"delivery-tracking/internal/logger"
	"delivery-tracking/internal/models"
	"delivery-tracking/internal/redis"
	"delivery-tracking/internal/services"
	"delivery-tracking/internal/store"
)

func main() {
	// Загрузка конфигурации
	cfg := config.Load()

	// Инициализация логгера
	log := logger.New(&cfg.Logger)
	defer log.Close()
	log.Info("Starting delivery tracking hub...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var workers sync.WaitGroup

	st := store.New()
	eventHub := hub.New(cfg.Hub.QueueSize, log)

	// Подключение к базе данных
	var (
		db       *database.DB
		snapshot *services.SnapshotService
	)
	if cfg.Database.Enabled {
		var err error
		db, err = database.Connect(&cfg.Database, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to database")
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			log.WithError(err).Fatal("Failed to migrate database")
		}

		snapshot = services.NewSnapshotService(db, log)
		if err := snapshot.LoadInto(ctx, st); err != nil {
			log.WithError(err).Fatal("Failed to load snapshot")
		}

		sub := eventHub.Subscribe("postgres-snapshot")
		workers.Add(1)
		go func() {
			defer workers.Done()
			snapshot.RunWriter(ctx, sub, st)
		}()
	}

	// Подключение к Redis
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		var err error
		redisClient, err = redis.Connect(&cfg.Redis, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisClient.Close()
	}

	// Инициализация сервисов
	locationService := services.NewLocationService(st, eventHub, log)
	dispatchService := services.NewDispatchService(st, eventHub, log)
	cacheService := services.NewCacheService(redisClient, &cfg.Cache, log)
	rateLimiter := services.NewRateLimiterService(redisClient, &cfg.RateLimit, log)

	if cacheService.Enabled() {
		sub := eventHub.Subscribe("cache-invalidator")
		workers.Add(1)
		go func() {
			defer workers.Done()
			cacheService.RunInvalidator(ctx, sub)
		}()
	}

	// Kafka: зеркало событий и прием телеметрии
	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(&cfg.Kafka, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()

		sub := eventHub.Subscribe("kafka-mirror")
		workers.Add(1)
		go func() {
			defer workers.Done()
			producer.RunMirror(ctx, sub)
		}()

		consumer, err = kafka.NewConsumer(&cfg.Kafka, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to create Kafka consumer")
		}
		consumer.RegisterHandler(models.EventTypeLocationReported, kafka.LocationReportedHandler(locationService))
		consumer.Start(ctx)
	}

	authenticator := auth.NewJWTAuthenticator(&cfg.Auth)
	realtime := gateway.New(&cfg.Gateway, authenticator, eventHub, st, locationService, dispatchService, log)

	// Инициализация handlers
	router := &handlers.Router{
		Agents:        handlers.NewAgentHandler(st, dispatchService, cacheService, snapshot, log),
		Packages:      handlers.NewPackageHandler(st, dispatchService, cacheService, log),
		Health:        handlers.NewHealthHandler(db, redisClient, eventHub, realtime.Registry(), st),
		Cache:         handlers.NewCacheHandler(cacheService, log),
		RateLimit:     handlers.NewRateLimitHandler(rateLimiter, log),
		Realtime:      realtime,
		Authenticator: authenticator,
		RateLimiter:   rateLimiter,
		Log:           log,
	}

	// Создание HTTP сервера
	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:     router.Handler(),
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		// WriteTimeout не действует на перехваченные WebSocket соединения
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Запуск сервера в горутине
	go func() {
		log.WithField("address", server.Addr).Info("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}
	if err := realtime.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Realtime sessions did not close in time")
	}
	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			log.WithError(err).Error("Failed to stop Kafka consumer")
		}
	}

	// Финальный снимок: регистрации и события, не успевшие дойти до писателя
	cancel()
	workers.Wait()
	if snapshot != nil {
		if err := snapshot.SaveAll(shutdownCtx, st); err != nil {
			log.WithError(err).Error("Failed to save final snapshot")
		}
	}

	log.WithField("hub", eventHub.Stats()).Info("Server exited")
}
