package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/scrapstock_backend/config"
	"bitbucket.org/mmdatafocus/scrapstock_backend/models"
	"bitbucket.org/mmdatafocus/scrapstock_backend/utils"
	"bitbucket.org/mmdatafocus/scrapstock_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func setupIntegration(t *testing.T) (context.Context, *gorm.DB) {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "scrapstock_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}
	return context.Background(), db
}

func mustPurchase(t *testing.T, ctx context.Context, firm, item string, qty float64, rate float64, date string) *models.PurchaseRecord {
	t.Helper()
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	record, err := models.CreatePurchaseRecord(ctx, &models.NewPurchaseRecord{
		FirmName:     firm,
		PurchaseDate: d,
		Lines: []models.NewPurchaseLine{
			{ItemName: item, Qty: decimal.NewFromFloat(qty), Rate: decimal.NewFromFloat(rate)},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseRecord: %v", err)
	}
	return record
}

func saleInput(item string, qty float64, date string) *models.NewSale {
	d, _ := time.Parse("2006-01-02", date)
	return &models.NewSale{
		ItemName:  item,
		Qty:       decimal.NewFromFloat(qty),
		Rate:      decimal.NewFromInt(1000),
		BuyerName: "Test Buyer",
		SaleDate:  d,
	}
}

func itemRemaining(t *testing.T, ctx context.Context, item string) decimal.Decimal {
	t.Helper()
	onHand, err := models.GetItemStockByName(ctx, item)
	if err != nil {
		t.Fatalf("GetItemStockByName(%q): %v", item, err)
	}
	return onHand
}

func TestFifoAllocationSpansLotsOldestFirst(t *testing.T) {
	ctx, _ := setupIntegration(t)

	mustPurchase(t, ctx, "Firm A", "MS Plate", 10, 800, "2024-01-01")
	mustPurchase(t, ctx, "Firm B", "MS Plate", 5, 820, "2024-01-05")

	sale, err := models.CreateSale(ctx, saleInput("MS Plate", 12, "2024-02-01"))
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	allocations, err := models.GetSaleAllocations(ctx, sale.ID)
	if err != nil {
		t.Fatalf("GetSaleAllocations: %v", err)
	}
	if len(allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(allocations))
	}
	if !allocations[0].Qty.Equal(decimal.NewFromInt(10)) || !allocations[1].Qty.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("unexpected allocation split: %s / %s", allocations[0].Qty, allocations[1].Qty)
	}

	item, err := models.GetItemByName(ctx, "MS Plate")
	if err != nil {
		t.Fatalf("GetItemByName: %v", err)
	}
	lots, err := models.GetItemStockBreakdown(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetItemStockBreakdown: %v", err)
	}
	if !lots[0].RemainingQty.IsZero() {
		t.Fatalf("oldest lot should be depleted, has %s", lots[0].RemainingQty)
	}
	if !lots[1].RemainingQty.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("newest lot should have 3 left, has %s", lots[1].RemainingQty)
	}
}

func TestInsufficientStockLeavesNoTrace(t *testing.T) {
	ctx, db := setupIntegration(t)

	mustPurchase(t, ctx, "Firm A", "Copper Wire", 10, 5000, "2024-01-01")

	_, err := models.CreateSale(ctx, saleInput("Copper Wire", 10.5, "2024-02-01"))
	var insufficient *utils.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("want InsufficientStockError, got %v", err)
	}
	if !insufficient.Available.Equal(decimal.NewFromInt(10)) ||
		!insufficient.Deficit.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("unexpected detail: available=%s deficit=%s", insufficient.Available, insufficient.Deficit)
	}

	var saleCount, allocCount int64
	db.Model(&models.Sale{}).Count(&saleCount)
	db.Model(&models.Allocation{}).Count(&allocCount)
	if saleCount != 0 || allocCount != 0 {
		t.Fatalf("failed sale left rows behind: sales=%d allocations=%d", saleCount, allocCount)
	}
	if got := itemRemaining(t, ctx, "Copper Wire"); !got.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("stock mutated on failed sale: %s", got)
	}
}

func TestDeleteSaleRestoresExactly(t *testing.T) {
	ctx, _ := setupIntegration(t)

	mustPurchase(t, ctx, "Firm A", "Brass Scrap", 10, 3000, "2024-01-01")

	sale, err := models.CreateSale(ctx, saleInput("Brass Scrap", 4, "2024-02-01"))
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if got := itemRemaining(t, ctx, "Brass Scrap"); !got.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("after sale: %s", got)
	}

	if _, err := models.DeleteSale(ctx, sale.ID); err != nil {
		t.Fatalf("DeleteSale: %v", err)
	}
	if got := itemRemaining(t, ctx, "Brass Scrap"); !got.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("after delete: %s", got)
	}
	allocations, _ := models.GetSaleAllocations(ctx, sale.ID)
	if len(allocations) != 0 {
		t.Fatalf("allocations not removed: %d", len(allocations))
	}
}

func TestQuantityCorrectionPreservesSoldVolume(t *testing.T) {
	ctx, _ := setupIntegration(t)

	record := mustPurchase(t, ctx, "Firm A", "Aluminium", 20, 1500, "2024-01-01")
	lotId := record.Lots[0].ID

	if _, err := models.CreateSale(ctx, saleInput("Aluminium", 8, "2024-02-01")); err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	lot, err := models.CorrectLotQuantity(ctx, lotId, decimal.NewFromInt(15), nil)
	if err != nil {
		t.Fatalf("CorrectLotQuantity: %v", err)
	}
	if !lot.RemainingQty.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("remaining should be 7, got %s", lot.RemainingQty)
	}
}

func TestManualAllocationMismatchLeavesNoTrace(t *testing.T) {
	ctx, db := setupIntegration(t)

	record := mustPurchase(t, ctx, "Firm A", "Cast Iron", 20, 900, "2024-01-01")

	input := saleInput("Cast Iron", 10, "2024-02-01")
	input.Manual = []models.LotPortion{{LotID: record.Lots[0].ID, Qty: decimal.NewFromInt(9)}}

	_, err := models.CreateSale(ctx, input)
	var mismatch *utils.AllocationMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("want AllocationMismatchError, got %v", err)
	}

	var saleCount int64
	db.Model(&models.Sale{}).Count(&saleCount)
	if saleCount != 0 {
		t.Fatalf("failed manual sale left %d sale rows", saleCount)
	}
}

func TestConcurrentSalesResolveToOneWinner(t *testing.T) {
	ctx, _ := setupIntegration(t)

	mustPurchase(t, ctx, "Firm A", "Lead Scrap", 10, 1100, "2024-01-01")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = models.CreateSale(ctx, saleInput("Lead Scrap", 7, "2024-02-01"))
		}(i)
	}
	wg.Wait()

	var successes, insufficient int
	for _, err := range errs {
		var is *utils.InsufficientStockError
		switch {
		case err == nil:
			successes++
		case errors.As(err, &is):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || insufficient != 1 {
		t.Fatalf("want exactly one winner, got successes=%d insufficient=%d", successes, insufficient)
	}
	if got := itemRemaining(t, ctx, "Lead Scrap"); !got.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("remaining should be 3, got %s", got)
	}
}

func TestReconciliationRebuildsDriftAndIsIdempotent(t *testing.T) {
	ctx, db := setupIntegration(t)
	logger := logrus.New()

	mustPurchase(t, ctx, "Firm A", "Tin Scrap", 10, 2000, "2024-01-01")
	mustPurchase(t, ctx, "Firm B", "Tin Scrap", 5, 2050, "2024-01-05")
	if _, err := models.CreateSale(ctx, saleInput("Tin Scrap", 12, "2024-02-01")); err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	item, err := models.GetItemByName(ctx, "Tin Scrap")
	if err != nil {
		t.Fatalf("GetItemByName: %v", err)
	}

	// Inject drift the way a trusted-counter bug would: a remaining balance
	// that disagrees with the ledger.
	if err := db.Exec("UPDATE lots SET remaining_qty = qty WHERE item_id = ?", item.ID).Error; err != nil {
		t.Fatalf("inject drift: %v", err)
	}
	if got := itemRemaining(t, ctx, "Tin Scrap"); !got.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("drift injection failed: %s", got)
	}

	first, err := workflow.ReconcileItem(ctx, db, logger, item.ID)
	if err != nil {
		t.Fatalf("ReconcileItem: %v", err)
	}
	if !first.DriftDetected || !first.Rebuilt {
		t.Fatalf("expected drift rebuild, got %+v", first)
	}
	if got := itemRemaining(t, ctx, "Tin Scrap"); !got.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("after rebuild: %s", got)
	}

	second, err := workflow.ReconcileItem(ctx, db, logger, item.ID)
	if err != nil {
		t.Fatalf("second ReconcileItem: %v", err)
	}
	if second.DriftDetected {
		t.Fatalf("second pass should detect no drift: %+v", second)
	}
	if got := itemRemaining(t, ctx, "Tin Scrap"); !got.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("second pass changed state: %s", got)
	}
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("scrapstock-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=scrapstock_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
