package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-engine/internal/abtest"
	"github.com/ignite/campaign-engine/internal/analytics"
	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/events"
	"github.com/ignite/campaign-engine/internal/gateway"
	"github.com/ignite/campaign-engine/internal/pkg/backoff"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/repository/postgres"
	"github.com/ignite/campaign-engine/internal/trigger"
	"github.com/ignite/campaign-engine/internal/workflow"
)

func main() {
	log.Println("Starting campaign engine worker...")

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
	} else {
		log.Println("Redis not configured, instance leases fall back to advisory locks")
	}

	workflowStore := postgres.NewWorkflowStore(db)
	instanceStore := postgres.NewInstanceStore(db)
	campaignStore := postgres.NewCampaignStore(db)
	messageStore := postgres.NewMessageStore(db)
	abtestStore := postgres.NewABTestStore(db)
	analyticsStore := postgres.NewAnalyticsStore(db)
	contactStore := postgres.NewContactStore(db)

	gw := buildGateway(ctx, cfg)
	aggregator := analytics.NewAggregator(analyticsStore, abtestStore)

	var publisher events.Publisher
	if cfg.Events.QueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Events.Region))
		if err != nil {
			log.Fatalf("Failed to load AWS config: %v", err)
		}
		client := sqs.NewFromConfig(awsCfg)
		publisher = events.NewSQSPublisher(client, cfg.Events.QueueURL)
		consumer := events.NewSQSConsumer(client, cfg.Events.QueueURL)
		consumer.Start(ctx, aggregator.Handle)
		defer consumer.Stop()
		log.Println("Consuming events from SQS")
	} else {
		bus := events.NewInProcBus(1024)
		bus.Start(ctx, aggregator.Handle)
		defer bus.Stop()
		publisher = bus
		log.Println("Using in-process event bus")
	}

	allocator := abtest.NewAllocator(abtestStore)
	budget := backoff.Default
	if cfg.Engine.SendMaxAttempts > 0 {
		budget.MaxAttempts = cfg.Engine.SendMaxAttempts
	}

	sendHandler := workflow.NewSendMessageHandler(
		campaignStore, messageStore, abtestStore, allocator,
		gw, publisher, budget, cfg.Engine.GatewayTimeout())

	handlers := map[domain.StepKind]workflow.StepHandler{
		domain.StepSendMessage: sendHandler,
		domain.StepWait:        workflow.NewWaitHandler(),
		domain.StepCondition:   workflow.NewConditionHandler(),
		domain.StepAction:      workflow.NewActionHandler(),
	}

	leases := func(id uuid.UUID) distlock.Lease {
		return distlock.ForInstance(rdb, db, id.String(), cfg.Engine.LeaseTTL())
	}
	executor := workflow.NewExecutor(workflowStore, instanceStore, leases, handlers)

	pool := workflow.NewPool(instanceStore, executor,
		cfg.Engine.Workers, cfg.Engine.ScanInterval(), cfg.Engine.ClaimBatchSize)
	pool.Start(ctx)
	defer pool.Stop()
	log.Printf("Executor pool started (%d workers)", cfg.Engine.Workers)

	evaluator := abtest.NewEvaluator(abtestStore, cfg.Engine.ABTestEvalInterval())
	evaluator.Start(ctx)
	defer evaluator.Stop()

	dispatcher := trigger.NewDispatcher(workflowStore, instanceStore, contactStore)
	if rdb != nil {
		scheduler := trigger.NewScheduler(workflowStore, contactStore, dispatcher, rdb, cfg.Engine.SchedulePoll())
		scheduler.Start(ctx)
		defer scheduler.Stop()
		log.Println("Schedule trigger poller started")
	} else {
		logger.Warn("redis not configured, schedule triggers disabled",
			"reason", "occurrence dedupe requires redis")
	}

	<-ctx.Done()
	log.Println("Shutting down...")
}

// buildGateway selects the dispatch gateway from config.
func buildGateway(ctx context.Context, cfg *config.Config) gateway.Gateway {
	switch cfg.Gateway.Provider {
	case "ses":
		gw, err := gateway.NewSESGateway(ctx, cfg.Gateway.SESRegion)
		if err != nil {
			log.Fatalf("Failed to initialize SES gateway: %v", err)
		}
		log.Printf("Using SES gateway (region %s)", cfg.Gateway.SESRegion)
		return gw
	default:
		endpoints := make(map[domain.CampaignType]string, len(cfg.Gateway.Endpoints))
		for channel, url := range cfg.Gateway.Endpoints {
			endpoints[domain.CampaignType(channel)] = url
		}
		apiKey := ""
		if cfg.Gateway.APIKeyEnv != "" {
			apiKey = os.Getenv(cfg.Gateway.APIKeyEnv)
		}
		log.Printf("Using HTTP gateway (%d channel endpoints)", len(endpoints))
		return gateway.NewHTTPGateway(endpoints, apiKey)
	}
}
