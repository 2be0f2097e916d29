package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/stockroom_backend/config"
	"bitbucket.org/mmdatafocus/stockroom_backend/models"
	"bitbucket.org/mmdatafocus/stockroom_backend/utils"
	"github.com/sirupsen/logrus"
)

func main() {
	dryRun := flag.Bool("dry-run", true, "Report drift only (no writes)")
	confirm := flag.String("confirm", "", "Type REVALUE to proceed when dry-run=false")
	flag.Parse()

	if !*dryRun && strings.TrimSpace(*confirm) != "REVALUE" {
		fmt.Fprintln(os.Stderr, "set --confirm=REVALUE to proceed")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	defer config.CloseDatabase()
	logger := config.GetLogger()

	ctx := utils.SetUsernameInContext(context.Background(), "inventory-revalue")
	drifted, err := models.RevalueInventory(ctx, !*dryRun)
	for _, r := range drifted {
		fmt.Printf("item=%d name=%q quantity %s -> %s unit_cost %s -> %s\n",
			r.InventoryItemId, r.Name,
			r.StoredQuantity, r.BatchQuantity,
			r.StoredUnitCost, r.BatchUnitCost)
	}
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "inventory-revalue"}).Error(err.Error())
		os.Exit(1)
	}
	logger.WithFields(logrus.Fields{
		"dry_run": *dryRun,
		"drifted": len(drifted),
	}).Info("inventory revalue finished")
}
