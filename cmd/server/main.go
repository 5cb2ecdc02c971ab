package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/coordinator"
	"github.com/iliyamo/bus-seat-reservation/internal/database"
	"github.com/iliyamo/bus-seat-reservation/internal/handler"
	"github.com/iliyamo/bus-seat-reservation/internal/layout"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
	"github.com/iliyamo/bus-seat-reservation/internal/router"
	"github.com/iliyamo/bus-seat-reservation/internal/service"
)

func main() {
	// .env is optional; real deployments pass the environment directly
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("env: %v", err)
	}
	cfg := config.Load()

	db, err := database.Open(database.Settings{
		User: cfg.DBUser, Pass: cfg.DBPass,
		Host: cfg.DBHost, Port: cfg.DBPort,
		Name: cfg.DBName,
	})
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()
	if cfg.DBMigrate {
		if err := database.Migrate(context.Background(), db); err != nil {
			log.Fatalf("db: migrate: %v", err)
		}
	}

	rdb := config.NewRedisClient() // nil when Redis is unreachable
	if rdb != nil {
		defer rdb.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	publisher, err := service.NewPublisher(cfg.Broker)
	if err != nil {
		log.Printf("broker: %v; booking events are only logged", err)
		publisher = service.LogPublisher{}
	}
	defer publisher.Close()
	startConsumer(ctx, cfg.Broker)

	bookings := repository.NewBookingRepo(db)
	catalog := layout.NewCatalog(repository.NewBusRepo(db), cfg.Hub.CatalogTTL)
	hub := coordinator.NewHub(coordinator.Config{
		Holds:      holdStore(cfg.Hub, db, rdb),
		Bookings:   bookings,
		Catalog:    catalog,
		Publisher:  publisher,
		SendBuffer: cfg.Hub.SendBuffer,
		HolderKey:  []byte(cfg.Hub.HolderKey),
	})
	go hub.RunSweeper(ctx, cfg.Hub.SweepInterval)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.Logger())
	router.RegisterRoutes(e, router.Handlers{
		Auth:  handler.NewAuthHandler(cfg, repository.NewUserRepo(db), repository.NewTokenRepo(db)),
		Bus:   handler.NewBusHandler(catalog, bookings, bookings),
		Seats: handler.NewSeatChannelHandler(hub, catalog, cfg.Hub.Origins),
		Rooms: hub.Rooms,
	}, router.Options{
		JWTSecret: cfg.JWTSecret,
		Redis:     rdb,
		Cache:     config.LoadCacheConfig(),
		RateLimit: config.LoadRateLimitConfig(),
	})

	addr := ":" + cfg.Port
	go func() {
		log.Printf("listening on %s (env=%s, holds=%s, broker=%s)", addr, cfg.Env, cfg.Hub.HoldStore, cfg.Broker.Kind)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// holdStore picks the hold table backend.  Redis falls back to memory when
// no client could be created, which is only safe for a single process.
func holdStore(cfg config.HubConfig, db *sql.DB, rdb *redis.Client) coordinator.HoldStore {
	switch cfg.HoldStore {
	case "mysql":
		return coordinator.NewSQLStore(repository.NewSeatHoldRepo(db))
	case "memory":
		return coordinator.NewMemoryStore()
	}
	if rdb == nil {
		log.Printf("holds: redis unavailable, using in-process hold table")
		return coordinator.NewMemoryStore()
	}
	return coordinator.NewRedisStore(rdb, cfg.HoldPrefix)
}

// startConsumer runs the booking log consumer next to the API when enabled.
func startConsumer(ctx context.Context, cfg config.BrokerConfig) {
	if !cfg.Consume {
		return
	}
	bl := queue.NewBookingLog("")
	switch cfg.Kind {
	case "amqp":
		go func() {
			if err := queue.StartBookingConsumer(ctx, cfg.RabbitURL, bl); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("rabbitmq: consumer stopped: %v", err)
			}
		}()
	case "kafka":
		go func() {
			if err := queue.StartKafkaBookingConsumer(ctx, cfg.KafkaBrokers, cfg.KafkaTopic, bl); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("kafka: consumer stopped: %v", err)
			}
		}()
	}
}
