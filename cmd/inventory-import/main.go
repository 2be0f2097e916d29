package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bitbucket.org/mmdatafocus/stockroom_backend/config"
	"bitbucket.org/mmdatafocus/stockroom_backend/models"
	"bitbucket.org/mmdatafocus/stockroom_backend/utils"
	"github.com/sirupsen/logrus"
)

func main() {
	file := flag.String("file", "", "Required: CSV or XLSX file with the labelled inventory columns")
	invalidOut := flag.String("invalid-out", "", "Write rejected rows to this XLSX file")
	user := flag.String("user", "import", "Name recorded in the history rows")
	migrate := flag.Bool("migrate", false, "Run AutoMigrate before importing")
	flag.Parse()

	if strings.TrimSpace(*file) == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	defer config.CloseDatabase()
	if *migrate {
		models.MigrateTable()
	}
	logger := config.GetLogger()

	f, err := os.Open(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", *file, err)
		os.Exit(1)
	}
	var records []models.InventoryRecord
	if strings.EqualFold(filepath.Ext(*file), ".xlsx") {
		records, err = models.ReadInventoryXLSX(f)
	} else {
		records, err = models.ReadInventoryCSV(f)
	}
	f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", *file, err)
		os.Exit(1)
	}

	ctx := utils.SetUsernameInContext(context.Background(), *user)
	result, err := models.ImportInventoryRecords(ctx, records)
	if err != nil {
		logger.WithFields(logrus.Fields{"file": *file}).Error("import failed: " + err.Error())
		os.Exit(1)
	}

	logger.WithFields(logrus.Fields{
		"file":     *file,
		"rows":     len(records),
		"imported": result.Imported,
		"created":  result.Created,
		"updated":  result.Updated,
		"invalid":  len(result.Invalid),
	}).Info("inventory import finished")

	for _, inv := range result.Invalid {
		fmt.Printf("row %d (%s): %v\n", inv.Row, inv.Record.ItemName, inv.Errors)
	}

	if *invalidOut != "" && len(result.Invalid) > 0 {
		out, err := os.Create(*invalidOut)
		if err != nil {
			fmt.Fprintf(os.Stderr, "create %s: %v\n", *invalidOut, err)
			os.Exit(1)
		}
		defer out.Close()
		if err := models.WriteInvalidRecordsXLSX(out, result.Invalid); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", *invalidOut, err)
			os.Exit(1)
		}
	}
}
