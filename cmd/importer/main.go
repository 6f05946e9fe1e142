package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/flowsma/record-importer/internal/config"
	"github.com/flowsma/record-importer/internal/diag"
	"github.com/flowsma/record-importer/internal/export"
	"github.com/flowsma/record-importer/internal/flowsma"
	"github.com/flowsma/record-importer/internal/parser"
	"github.com/flowsma/record-importer/internal/pipeline"
	"github.com/flowsma/record-importer/internal/pkg/logger"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to configuration file")
		filePath   = flag.String("file", "", "input file to import (.csv, .txt, .xlsx, .json)")
		outDir     = flag.String("out", "", "export directory (overrides config)")
		exportDoc  = flag.Bool("export-parsed", false, "also write the parsed document to the export dir")
		dryRun     = flag.Bool("dry-run", false, "parse and report without calling the remote API")
		verbose    = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	if *verbose {
		logger.SetLevel(logger.DEBUG)
	}

	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "usage: importer -file <records.csv> [-config config.yaml]")
		os.Exit(2)
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "path", *configPath, "error", err.Error())
		os.Exit(1)
	}
	if *outDir != "" {
		cfg.Export.Dir = *outDir
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err.Error())
		os.Exit(1)
	}

	data, err := os.ReadFile(*filePath)
	if err != nil {
		logger.Error("failed to read input file", "path", *filePath, "error", err.Error())
		os.Exit(1)
	}

	doc, err := parser.Parse(data, filepath.Base(*filePath), parser.ParseHeaderMode(cfg.Batch.HeaderMode))
	if err != nil {
		logger.Error("failed to parse input file", "path", *filePath, "error", err.Error())
		os.Exit(1)
	}
	logger.Info("input file parsed", "path", *filePath, "rows", len(doc.Rows), "columns", len(doc.Headers))

	if *dryRun {
		fmt.Printf("Dry run: %d rows, %d columns (%v)\n", len(doc.Rows), len(doc.Headers), doc.Headers)
		return
	}

	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	tracker := diag.NewTracker(cfg.Batch.Diagnostics)
	pipe := pipeline.New(cfg, flowsma.NewClient(cfg.API), tracker)

	res := pipe.Run(ctx, doc)
	printSummary(res)

	if path, err := export.WriteResult(cfg.Export.Dir, res); err != nil {
		logger.Warn("failed to write result artifact", "error", err.Error())
	} else {
		logger.Info("result written", "path", path)
	}
	if cfg.Batch.Diagnostics {
		if path, err := export.WriteDiagnostics(cfg.Export.Dir, res.RunID, tracker); err != nil {
			logger.Warn("failed to write diagnostics", "error", err.Error())
		} else {
			logger.Info("diagnostics written", "path", path)
		}
	}
	if *exportDoc {
		if path, err := export.WriteDocument(cfg.Export.Dir, cfg.Export.Format, res.RunID, doc); err != nil {
			logger.Warn("failed to export parsed document", "error", err.Error())
		} else {
			logger.Info("parsed document written", "path", path)
		}
	}

	if res.Err || res.Failed > 0 {
		os.Exit(1)
	}
}

func printSummary(res *pipeline.Result) {
	fmt.Println("=== Import summary ===")
	fmt.Printf("Run ID:                %s\n", res.RunID)
	fmt.Printf("Total rows:            %d\n", res.TotalRows)
	fmt.Printf("Imported:              %d\n", res.Imported)
	fmt.Printf("Duplicates skipped:    %d\n", res.Duplicates)
	fmt.Printf("Failed:                %d\n", res.Failed)
	fmt.Printf("Verifications failed:  %d\n", res.VerificationsFailed)
	fmt.Printf("Duration:              %s\n", res.Duration.Round(time.Millisecond))
	if res.Err {
		fmt.Printf("Run error:             %s\n", res.ErrMessage)
	}
	for _, d := range res.DuplicateDetails {
		fmt.Printf("  duplicate row %d: %s (existing id %d)\n", d.Row, d.Reference, d.ExistingID)
	}
	for _, e := range res.ErrorDetails {
		fmt.Printf("  failed row %d: %s: %s\n", e.Row, e.Reference, e.Message)
	}
}
