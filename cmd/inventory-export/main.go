package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/stockroom_backend/config"
	"bitbucket.org/mmdatafocus/stockroom_backend/models"
)

func main() {
	format := flag.String("format", "csv", "csv, xlsx or template")
	output := flag.String("out", "", "Output file (default stdout)")
	flag.Parse()

	var w io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "create %s: %v\n", *output, err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}

	var err error
	switch strings.ToLower(*format) {
	case "template":
		err = models.WriteImportTemplateXLSX(w)
	case "xlsx":
		config.ConnectDatabaseWithRetry()
		defer config.CloseDatabase()
		err = models.WriteInventoryXLSX(context.Background(), w)
	case "csv":
		config.ConnectDatabaseWithRetry()
		defer config.CloseDatabase()
		err = models.WriteInventoryCSV(context.Background(), w)
	default:
		fmt.Fprintf(os.Stderr, "unknown --format %q\n", *format)
		os.Exit(1)
	}
	if err != nil {
		config.LogError(config.GetLogger(), "inventory-export", "main", "export "+*format, nil, err)
		os.Exit(1)
	}
}
