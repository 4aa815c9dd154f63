// Command mcsorchd runs the sales-email orchestration server: the admin
// HTTP surface and, for every enabled channel, the ingestion scheduler's
// poll loop. Grounded on the teacher's cmd/neuralmaild serve path.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/loudon84/mcs-orchestrator/internal/app"
	"github.com/loudon84/mcs-orchestrator/internal/config"
)

func main() {
	cfg, err := config.Load(os.Getenv("MCS_CONFIG"))
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	appInstance, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("app init error: %v", err)
	}
	defer appInstance.Close()

	log.Printf("mcsorchd serving on %s (channels: %v)", cfg.HTTP.Addr, cfg.Listener.Enabled)
	if err := appInstance.Serve(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
