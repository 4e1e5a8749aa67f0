package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/scrapstock_backend/config"
	"bitbucket.org/mmdatafocus/scrapstock_backend/models"
	"bitbucket.org/mmdatafocus/scrapstock_backend/utils"
	"bitbucket.org/mmdatafocus/scrapstock_backend/workflow"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func main() {
	itemName := flag.String("item", "", "Optional: reconcile a single item by name")
	all := flag.Bool("all", false, "Reconcile every item")
	runID := flag.String("run-id", "", "Optional: run id for retry-safe administrative runs (defaults to a fresh uuid)")
	retries := flag.Int("retries", 3, "Lock-contention retry attempts")
	flag.Parse()

	if strings.TrimSpace(*itemName) == "" && !*all {
		fmt.Fprintln(os.Stderr, "one of --item or --all is required")
		os.Exit(1)
	}
	if strings.TrimSpace(*runID) == "" {
		*runID = uuid.NewString()
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()
	ctx := context.Background()

	var results []*workflow.ItemReconciliation
	err := utils.WithLockRetry(ctx, *retries, func() error {
		if *all {
			rs, err := workflow.ReconcileAll(ctx, db, logger)
			results = rs
			return err
		}
		item, err := models.ResolveItem(db.WithContext(ctx), *itemName, false)
		if err != nil {
			return err
		}
		r, err := workflow.ReconcileItemWithIdempotency(ctx, db, logger, item.ID, *runID)
		if r != nil {
			results = []*workflow.ItemReconciliation{r}
		}
		return err
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconciliation failed: %v\n", err)
		os.Exit(1)
	}

	for _, r := range results {
		if r == nil {
			continue
		}
		b, _ := json.Marshal(r)
		fmt.Println(string(b))
	}
}
