package server

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"skyrush/internal/cache"
	"skyrush/internal/crash"
	"skyrush/internal/database"
	"skyrush/internal/events"
	"skyrush/internal/game"
	"skyrush/internal/ws"
)

type FiberServer struct {
	*fiber.App

	db    database.Service
	cache cache.Service

	hub        *ws.Hub
	store      crash.Store
	engine     *crash.Engine
	settlement *crash.Settlement
	query      *crash.Query
	registry   *game.Registry

	adminToken string
}

func New() *FiberServer {
	db := database.New()

	redisService := cache.New()
	if redisService == nil {
		log.Fatal("[SERVER] Redis is required for game functionality")
	}

	store := crash.NewPostgresStore(db.Pool())
	hub := ws.NewHub()
	publisher := events.NewPublisher(redisService.Client())

	engine := crash.NewEngine(crash.DefaultConfig(), store, hub)
	engine.SetSnapshotSink(publisher)
	engine.SetStatsSink(publisher)

	settlement := crash.NewSettlement(crash.DefaultConfig(), store, engine, hub)
	settlement.SetAuditSink(publisher)
	settlement.SetStatsSink(publisher)
	engine.SetCashier(settlement)

	registry := game.NewRegistry()
	registry.Register(engine)

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "skyrush",
			AppName:       "skyrush",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		db:         db,
		cache:      redisService,
		hub:        hub,
		store:      store,
		engine:     engine,
		settlement: settlement,
		query:      crash.NewQuery(store, engine),
		registry:   registry,
		adminToken: os.Getenv("SKYRUSH_ADMIN_TOKEN"),
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	go hub.Run()
	if err := registry.StartAll(context.Background()); err != nil {
		log.Fatalf("[SERVER] Failed to start game engines: %v", err)
	}

	log.Println("[SERVER] Game engines started")
	return server
}

// Shutdown stops the engines and closes external connections.
func (s *FiberServer) Shutdown() error {
	log.Println("[SERVER] Shutting down...")

	if s.registry != nil {
		if err := s.registry.StopAll(context.Background()); err != nil {
			log.Printf("[SERVER] Error stopping game engines: %v", err)
		}
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}
