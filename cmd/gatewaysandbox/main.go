// Command gatewaysandbox serves a local payment gateway for development and
// integration runs. State is kept in a BoltDB file.
package main

import (
	"context"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/config"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/gatewaysandbox"
	"github.com/joho/godotenv"
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

	st, err := gatewaysandbox.Open(cfg.SandboxDBPath)
	if err != nil {
		log.Fatalf("open %s: %v", cfg.SandboxDBPath, err)
	}
	defer st.Close()
	st.DeclineOverCents = cfg.SandboxDeclineOver

	h := &gatewaysandbox.Handler{Store: st, CaptureDelay: cfg.SandboxCaptureDelay, Service: "gateway-sandbox"}
	srv := &http.Server{Addr: cfg.SandboxAddr, Handler: h.Router(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Printf("gateway sandbox listening at %s (db=%s decline_over=%d capture_delay=%s)",
			cfg.SandboxAddr, cfg.SandboxDBPath, cfg.SandboxDeclineOver, cfg.SandboxCaptureDelay)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
