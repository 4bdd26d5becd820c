// ragcore server - hosts the orchestrator, ingestion, and conversation roles
// of the action-bus protocol plus the HTTP/WebSocket API in one process.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/nooble8/ragcore/pkg/actions"
	"github.com/nooble8/ragcore/pkg/api"
	"github.com/nooble8/ragcore/pkg/bus"
	"github.com/nooble8/ragcore/pkg/chat"
	"github.com/nooble8/ragcore/pkg/config"
	"github.com/nooble8/ragcore/pkg/configcache"
	"github.com/nooble8/ragcore/pkg/conversation"
	"github.com/nooble8/ragcore/pkg/database"
	"github.com/nooble8/ragcore/pkg/ingestion"
	"github.com/nooble8/ragcore/pkg/parser"
	"github.com/nooble8/ragcore/pkg/progress"
	"github.com/nooble8/ragcore/pkg/store"
	"github.com/nooble8/ragcore/pkg/vector"
	"github.com/nooble8/ragcore/pkg/worker"
)

// Service role names: each owns its action queues and callback queue.
const (
	orchestratorService = "orchestrator"
	ingestionService    = "ingestion"
	conversationService = "conversation"
)

func main() {
	envFile := flag.String("env-file", ".env", "Path to environment file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("Warning: Could not load %s file: %v", *envFile, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", *envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	gin.SetMode(cfg.GinMode)

	log.Printf("Starting %s", cfg.ServiceName)
	log.Printf("HTTP Port: %s", cfg.HTTPPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("Error closing database client: %v", err)
		}
	}()
	log.Println("✓ Connected to PostgreSQL database")

	// Redis (action bus + shared KV)
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Invalid REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()
	log.Println("✓ Connected to Redis")

	// Vector store
	qdrantDriver, err := vector.NewQdrantDriver(cfg.Qdrant)
	if err != nil {
		log.Fatalf("Failed to connect to Qdrant: %v", err)
	}
	defer qdrantDriver.Close()

	vectors := vector.NewStore(qdrantDriver)
	if err := vectors.Initialize(ctx, vector.DefaultVectorSize); err != nil {
		log.Fatalf("Failed to initialize vector collection: %v", err)
	}
	log.Println("✓ Vector collection ready")

	// Stores and shared components
	relational := store.New(store.NewPgxRows(dbClient.Pool()))
	docParser := parser.New()
	progressManager := progress.NewManager(5 * time.Second)

	configCache := configcache.New(relational, rdb, cfg.ConfigCacheTTL)
	configCache.StartCleanup(ctx, cfg.ConfigCacheTTL)

	// Service roles, each with its own bus identity and worker pool.
	orchestratorBus := bus.NewClient(rdb, orchestratorService)
	ingestionBus := bus.NewClient(rdb, ingestionService)
	conversationBus := bus.NewClient(rdb, conversationService)

	chatService := chat.NewService(orchestratorBus, configCache, progressManager, orchestratorService)
	ingestionSvc := ingestion.NewService(ingestionBus, rdb, relational, vectors, docParser, progressManager, ingestionService)
	conversationSvc := conversation.NewService(relational)

	orchestratorRegistry := worker.NewRegistry()
	chatService.RegisterHandlers(orchestratorRegistry)
	orchestratorRegistry.Register(actions.TypeConfigInvalidate, configCache.HandleInvalidate)

	ingestionRegistry := worker.NewRegistry()
	ingestionSvc.RegisterHandlers(ingestionRegistry)

	conversationRegistry := worker.NewRegistry()
	conversationSvc.RegisterHandlers(conversationRegistry)

	pools := []*worker.Pool{
		worker.NewPool(orchestratorService, orchestratorBus, orchestratorRegistry, cfg.Worker),
		worker.NewPool(ingestionService, ingestionBus, ingestionRegistry, cfg.Worker),
		worker.NewPool(conversationService, conversationBus, conversationRegistry, cfg.Worker),
	}
	for _, pool := range pools {
		pool.Start(ctx)
	}
	log.Println("✓ Worker pools started")

	// HTTP server
	verifier := &api.HeaderVerifier{Store: relational}
	server := api.NewServer(cfg, dbClient, ingestionSvc, chatService, progressManager, verifier)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on :%s", cfg.HTTPPort)
		errCh <- server.Start(":" + cfg.HTTPPort)
	}()

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down", sig)
	case err := <-errCh:
		log.Printf("HTTP server stopped: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.GracefulShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}
	for _, pool := range pools {
		pool.Stop()
	}
	cancel()

	log.Println("Shutdown complete")
}
