package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"bitbucket.org/mmdatafocus/scrapstock_backend/config"
	"bitbucket.org/mmdatafocus/scrapstock_backend/workflow"
	"github.com/robfig/cron/v3"
)

// Periodic drift-correction service. Schedule via env:
// - RECON_CRON (default "0 3 * * *", daily at 03:00)
func main() {
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	logger := config.GetLogger()

	spec := os.Getenv("RECON_CRON")
	if spec == "" {
		spec = "0 3 * * *"
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx := context.Background()
		results, err := workflow.ReconcileAll(ctx, db, logger)
		if err != nil {
			config.LogError(logger, "recon-service", "main", "scheduled reconciliation", nil, err)
			return
		}
		rebuilt := 0
		for _, r := range results {
			if r != nil && r.Rebuilt {
				rebuilt++
			}
		}
		log.Printf("scheduled reconciliation done (items=%d rebuilt=%d)", len(results), rebuilt)
	})
	if err != nil {
		log.Fatalf("invalid RECON_CRON %q: %v", spec, err)
	}
	c.Start()
	log.Printf("recon-service started (cron=%q)", spec)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	<-c.Stop().Done()
}
