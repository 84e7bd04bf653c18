package main

import (
	"context"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/catalog"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/checkout"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/config"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/httpx"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/inventory"
	kafkax "github.com/YesWoolley/OnlineBookstore-sub002/internal/kafka"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/metrics"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/orders"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/payment"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/postgres"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Metrics
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "api")

	// Kafka producer (semua topic lewat satu writer)
	prod := kafkax.NewProducer(cfg.KafkaBrokers, cfg.ServiceName, 1024)
	prod.Start(ctx)
	events := &kafkax.EventPublisher{Producer: prod}

	// Gateway
	gw := payment.NewClient(cfg.GatewayURL, cfg.GatewayTimeout, cfg.GatewayMaxAttempts, cfg.GatewayBackoff)
	gw.Observe = m.ObserveGateway

	cache := &redisx.StatusCache{RDB: rdb}
	books := &catalog.Repo{DB: db}
	orch := &checkout.Orchestrator{
		Ledger:            &inventory.PGLedger{DB: db, OnShortfall: m.StockShortfalls.Inc},
		Orders:            &orders.Repo{DB: db},
		Payments:          &payment.Repo{DB: db},
		Gateway:           gw,
		Catalog:           books,
		Events:            events,
		Cache:             cache,
		Scheduler:         &checkout.EventScheduler{Events: events, Service: cfg.ServiceName},
		Metrics:           m,
		Service:           cfg.ServiceName,
		Currency:          cfg.Currency,
		ReconcileAttempts: cfg.ReconcileAttempts,
		ReconcileBackoff:  cfg.ReconcileBackoff,
	}

	router := httpx.NewRouter(m)
	oh := &httpx.OrdersHandler{
		Orch:    orch,
		Catalog: books,
		Redis:   rdb,
		Cache:   cache,
		Service: cfg.ServiceName,
	}
	oh.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // tutup inbox -> flush & close writer
	prod.WaitClosed() // drain
	cancel()
}
