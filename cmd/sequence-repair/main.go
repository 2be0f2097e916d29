package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/stockroom_backend/config"
	"bitbucket.org/mmdatafocus/stockroom_backend/models"
	"github.com/sirupsen/logrus"
)

// Moves the vendor and purchase order counters up to the highest number in use,
// e.g. after rows were loaded directly into the tables.
func main() {
	names := flag.String("sequences", models.SequenceVendor+","+models.SequencePurchaseOrder, "Comma-separated sequence names")
	dryRun := flag.Bool("dry-run", false, "Print the current counters only")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	defer config.CloseDatabase()
	logger := config.GetLogger()
	ctx := context.Background()

	failed := false
	for _, name := range strings.Split(*names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		before, err := models.CurrentSequence(ctx, name)
		if err != nil {
			config.LogError(logger, "sequence-repair", "main", "read counter", name, err)
			failed = true
			continue
		}
		if *dryRun {
			fmt.Printf("%s: %d\n", name, before)
			continue
		}
		after, err := models.RepairSequence(ctx, name)
		if err != nil {
			config.LogError(logger, "sequence-repair", "main", "repair counter", name, err)
			failed = true
			continue
		}
		logger.WithFields(logrus.Fields{
			"sequence": name,
			"before":   before,
			"after":    after,
		}).Info("sequence checked")
	}
	if failed {
		os.Exit(1)
	}
}
