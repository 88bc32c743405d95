package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-engine/internal/analytics"
	"github.com/ignite/campaign-engine/internal/api"
	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/events"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/repository/postgres"
	"github.com/ignite/campaign-engine/internal/trigger"
)

func main() {
	log.Println("Starting campaign engine API server...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancelPing()
		log.Fatalf("Failed to ping database: %v", err)
	}
	cancelPing()
	log.Println("Connected to database")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to ping redis: %v", err)
		}
		defer rdb.Close()
		log.Println("Connected to redis")
	}

	workflowStore := postgres.NewWorkflowStore(db)
	instanceStore := postgres.NewInstanceStore(db)
	campaignStore := postgres.NewCampaignStore(db)
	messageStore := postgres.NewMessageStore(db)
	abtestStore := postgres.NewABTestStore(db)
	analyticsStore := postgres.NewAnalyticsStore(db)
	contactStore := postgres.NewContactStore(db)

	aggregator := analytics.NewAggregator(analyticsStore, abtestStore)

	// With a queue configured, webhooks publish to SQS and the worker
	// consumes. Without one, events fold in-process.
	var publisher events.Publisher
	if cfg.Events.QueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Events.Region))
		if err != nil {
			log.Fatalf("Failed to load AWS config: %v", err)
		}
		publisher = events.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.Events.QueueURL)
		log.Println("Publishing events to SQS")
	} else {
		bus := events.NewInProcBus(1024)
		bus.Start(ctx, aggregator.Handle)
		defer bus.Stop()
		publisher = bus
		log.Println("Using in-process event bus")
	}

	dispatcher := trigger.NewDispatcher(workflowStore, instanceStore, contactStore)
	watcher := trigger.NewSegmentWatcher(workflowStore, dispatcher, cfg.Engine.SegmentDebounce())
	defer watcher.Stop()

	handlers := &api.Handlers{
		Workflows: workflowStore,
		Instances: instanceStore,
		Campaigns: campaignStore,
		ABTests:   abtestStore,
		Messages:  messageStore,
		Analytics: aggregator,
		Events:    dispatcher,
		Segments:  watcher,
		Publisher: publisher,
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.SetupRoutes(handlers, cfg.Server.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
