/**
 * @description
 * This is the main entry point for the registry-service. It is responsible
 * for initializing all components of the service, including configuration,
 * the storage backend (PostgreSQL, or the in-memory store for local
 * development), the RabbitMQ event producer, the optional Redis rate limiter,
 * the core application service, and the HTTP server. It wires everything
 * together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for rate limiting.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/rabbitmq: RabbitMQ event producer.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/assetvault/registry-service/internal/api"
	"github.com/assetvault/registry-service/internal/app"
	"github.com/assetvault/registry-service/internal/config"
	"github.com/assetvault/registry-service/internal/store"
	"github.com/assetvault/registry-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}
	if cfg.AdminPrincipal == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"admin principal must be configured\" env=ADMIN_PRINCIPAL")
	}

	log.Printf("level=info component=bootstrap msg=\"starting registry-service\" port=%s", cfg.ServerPort)

	// Select the storage backend. PostgreSQL in production; the in-memory
	// store when no DATABASE_URL is configured (local development only).
	var repository store.Repository
	if cfg.DatabaseURL != "" {
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
		}
		poolConfig.MaxConns = 50
		poolConfig.MinConns = 5
		poolConfig.MaxConnLifetime = 30 * time.Minute
		poolConfig.MaxConnIdleTime = 5 * time.Minute

		dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
		}
		defer dbpool.Close()

		pgRepo := store.NewPostgresRepository(dbpool)
		schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelSchema()
		if err := pgRepo.EnsureSchema(schemaCtx); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"schema bootstrap failed\" err=%v", err)
		}
		repository = pgRepo
		log.Println("level=info component=bootstrap msg=\"database connected\"")
	} else {
		repository = store.NewMemoryRepository()
		log.Println("level=warn component=bootstrap msg=\"no database url configured; using in-memory store\"")
	}

	// Initialize the RabbitMQ producer to publish registry events.
	var producer rabbitmq.Publisher
	if cfg.RabbitMQURL != "" {
		eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
			producer = &rabbitmq.EventProducerFallback{}
		} else {
			defer eventProducer.Close()
			producer = eventProducer
			log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
		}
	} else {
		log.Println("level=warn component=bootstrap msg=\"no rabbitmq url configured; events disabled\"")
		producer = &rabbitmq.EventProducerFallback{}
	}

	// Initialize the optional Redis client for transfer rate limiting.
	var redisClient *redis.Client
	if cfg.RedisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; transfer rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; transfer rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; transfer rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the core application service with its dependencies.
	registryService := app.NewService(repository, producer, cfg.AdminPrincipal)
	if redisClient != nil {
		registryService.SetTransferRateLimiter(
			app.NewRedisTransferRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.TransferRateLimitPerMinute,
		)
	}

	// Initialize the API handlers.
	registryHandlers := api.NewRegistryHandlers(registryService)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/registry", api.RegistryRoutes(registryHandlers, cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
