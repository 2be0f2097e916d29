package models_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/stockroom_backend/config"
	"bitbucket.org/mmdatafocus/stockroom_backend/models"
	"bitbucket.org/mmdatafocus/stockroom_backend/utils"
	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
)

// setupDatabase points the global handle at a fresh in-memory sqlite database
// named after the test and migrates it. Redis stays off unless the test starts it.
func setupDatabase(t *testing.T) context.Context {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	t.Setenv("REDIS_ADDRESS", "")

	config.DisconnectRedis()
	config.ConnectDatabaseWithRetry()
	models.MigrateTable()
	t.Cleanup(config.CloseDatabase)

	return utils.SetUsernameInContext(context.Background(), "tester")
}

// startRedis runs miniredis for the rest of the test and connects the globals to it.
func startRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_ADDRESS", mr.Addr())
	t.Setenv("REDIS_CONNECT_ATTEMPTS", "1")
	config.ConnectRedisWithRetry()
	if config.GetRedisDB() == nil {
		t.Fatalf("redis did not connect to miniredis at %s", mr.Addr())
	}
	t.Cleanup(config.DisconnectRedis)
	return mr
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func intPtr(n int) *int {
	return &n
}

func daysFromNow(days int) *time.Time {
	t := utils.Today().AddDate(0, 0, days)
	return &t
}

func validVendorInput(company string) *models.NewVendor {
	return &models.NewVendor{
		CompanyName:  company,
		ContactName:  "Pat Doe",
		Email:        "orders@example.com",
		Phone:        "(201) 555-0123",
		AddressLine1: "1 Main St",
		City:         "Springfield",
		State:        "NJ",
		ZipCode:      "07081",
		Website:      "example.com",
	}
}

func mustCreateVendor(t *testing.T, ctx context.Context, company string) *models.Vendor {
	t.Helper()
	vendor, err := models.CreateVendor(ctx, validVendorInput(company))
	if err != nil {
		t.Fatalf("CreateVendor(%q): %v", company, err)
	}
	return vendor
}

func mustCreateItem(t *testing.T, ctx context.Context, barcode string, name string, price string) *models.InventoryItem {
	t.Helper()
	item, err := models.UpsertInventoryItem(ctx, models.ItemKeyBarcode, &models.NewInventoryItem{
		Name:      name,
		Barcode:   barcode,
		UnitPrice: decPtr(price),
	})
	if err != nil {
		t.Fatalf("UpsertInventoryItem(%q): %v", barcode, err)
	}
	return item
}
