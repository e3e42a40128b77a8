package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"revintel/internal/servicetoken"
	"revintel/internal/util"
	"revintel/pkg/ai"
	"revintel/pkg/notify"
	"revintel/pkg/queue"
	"revintel/pkg/storage"
	"revintel/pkg/store"
	"revintel/services/intel/internal/app"
	"revintel/services/intel/internal/config"
	"revintel/services/intel/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	verifyKeys, err := servicetoken.ParseVerifyPublicKeys(cfg.InternalJWTVerifyPublicKeys)
	if err != nil {
		log.Fatalf("failed to parse internal verify keys: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	jobQueue, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.JobStream,
		Group:    cfg.JobGroup,
	})
	if err != nil {
		log.Fatalf("failed to init job queue: %v", err)
	}

	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}

	var generator ai.TextGenerator
	switch strings.ToLower(strings.TrimSpace(cfg.AIProvider)) {
	case "openai":
		generator = ai.NewOpenAICompatGenerator(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel)
	default:
		generator = ai.NewOllamaGenerator(ai.NewOllamaClient(cfg.OllamaBaseURL), cfg.OllamaModel)
	}

	var events notify.Publisher = notify.NopPublisher{}
	if cfg.AMQPURL != "" {
		publisher, err := notify.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			log.Fatalf("failed to init amqp publisher: %v", err)
		}
		defer publisher.Close()
		events = publisher
	}

	appCore, err := app.New(app.Config{
		Store:        st,
		Queue:        jobQueue,
		Objects:      objects,
		Generator:    generator,
		Events:       events,
		PersonaCount: cfg.PersonaCount,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	jobQueue.Start(ctx, cfg.WorkerConcurrency, appCore.HandleJob)

	httpServer, err := server.New(server.Config{
		App:                         appCore,
		InternalJWTKeyID:            cfg.InternalJWTKeyID,
		InternalJWTPublicKeyPath:    cfg.InternalJWTPublicKeyPath,
		InternalJWTVerifyPublicKeys: verifyKeys,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("intel server listening", "addr", addr, "workers", cfg.WorkerConcurrency)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
