package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"bitbucket.org/mmdatafocus/scrapstock_backend/config"
	"bitbucket.org/mmdatafocus/scrapstock_backend/models"
)

func main() {
	itemName := flag.String("item", "", "Optional: per-lot breakdown for one item")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	ctx := context.Background()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if strings.TrimSpace(*itemName) != "" {
		item, err := models.GetItemByName(ctx, *itemName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "item %q: %v\n", *itemName, err)
			os.Exit(1)
		}
		lots, err := models.GetItemStockBreakdown(ctx, item.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "breakdown: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintln(w, "LOT\tBATCH\tACQUIRED\tQTY\tREMAINING\tRATE")
		for _, lot := range lots {
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n",
				lot.LotID, lot.PurchaseRecordID, lot.AcquiredDate.Format("2006-01-02"),
				lot.Qty, lot.RemainingQty, lot.Rate)
		}
		return
	}

	stocks, err := models.GetAllItemStocks(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stock report: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintln(w, "ITEM\tON HAND")
	for _, s := range stocks {
		fmt.Fprintf(w, "%s\t%s\n", s.ItemName, s.OnHand)
	}
}
