// Command mcsorch-reconcile runs one checkpoint-eviction sweep (spec.md
// §4.5) and exits. Intended to be invoked periodically by an external
// scheduler (cron, k8s CronJob), mirroring the teacher's
// cmd/nerve-reconcile one-shot invocation shape.
package main

import (
	"context"
	"log"
	"os"

	"github.com/loudon84/mcs-orchestrator/internal/config"
	"github.com/loudon84/mcs-orchestrator/internal/reconcile"
	"github.com/loudon84/mcs-orchestrator/internal/store"
)

func main() {
	cfg, err := config.Load(os.Getenv("MCS_CONFIG"))
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	dsn := cfg.Database.OrchestrationDSN
	if dsn == "" {
		dsn = cfg.Database.DSN
	}
	st, err := store.Open(dsn)
	if err != nil {
		log.Fatalf("store error: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := store.Migrate(ctx, st.DB()); err != nil {
		log.Fatalf("migration error: %v", err)
	}

	svc := reconcile.NewService(st)
	report, err := svc.Run(ctx)
	if err != nil {
		log.Fatalf("reconciliation failed: %v", err)
	}
	log.Printf("reconciliation complete: runs_pruned=%d", report.RunsPruned)
}
