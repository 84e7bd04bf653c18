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
	service := cfg.ServiceName + "-reconciler"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "reconciler")

	// Producer: order.paid / order.failed
	prod := kafkax.NewProducer(cfg.KafkaBrokers, service, 1024)
	prod.Start(ctx)

	gw := payment.NewClient(cfg.GatewayURL, cfg.GatewayTimeout, cfg.GatewayMaxAttempts, cfg.GatewayBackoff)
	gw.Observe = m.ObserveGateway

	orch := &checkout.Orchestrator{
		Ledger:            &inventory.PGLedger{DB: db, OnShortfall: m.StockShortfalls.Inc},
		Orders:            &orders.Repo{DB: db},
		Payments:          &payment.Repo{DB: db},
		Gateway:           gw,
		Catalog:           &catalog.Repo{DB: db},
		Events:            &kafkax.EventPublisher{Producer: prod},
		Cache:             &redisx.StatusCache{RDB: rdb},
		Metrics:           m,
		Service:           service,
		Currency:          cfg.Currency,
		ReconcileAttempts: cfg.ReconcileAttempts,
		ReconcileBackoff:  cfg.ReconcileBackoff,
	}

	// Consumer
	rec := &checkout.Reconciler{Orch: orch, Redis: rdb, Service: service}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ReconcilerGroup, orders.TopicPaymentAmbiguous, service, cfg.ReconcilerWorkers)
	go func() {
		log.Printf("reconciler consumer started: group=%s topic=%s workers=%d", cfg.ReconcilerGroup, orders.TopicPaymentAmbiguous, cfg.ReconcilerWorkers)
		if err := cons.Start(ctx, rec.HandlePaymentAmbiguous); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	// Sweep checkout yang ditinggal
	sw := &checkout.Sweeper{
		Orch:         orch,
		Redis:        rdb,
		Interval:     cfg.SweepInterval,
		AbandonAfter: cfg.AbandonAfter,
		Service:      service,
	}
	go sw.Run(ctx)

	// health + metrics
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: httpx.NewRouter(m), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics listener: %v", err)
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Println("shutting down reconciler...")
	cancel()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	time.Sleep(500 * time.Millisecond)
	prod.Close()
	prod.WaitClosed()
}
