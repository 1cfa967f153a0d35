// costreport dumps the stored per-document cost metrics into an XLSX
// workbook, for offline spend review.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mgebhardt/docintake/internal/costs"
	"github.com/mgebhardt/docintake/internal/repository"
)

func main() {
	var (
		dsn = flag.String("db", os.Getenv("DB_URL"), "database DSN (postgres:// or a SQLite file)")
		out = flag.String("out", fmt.Sprintf("costs-%s.xlsx", time.Now().Format("2006-01-02")), "output workbook path")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if *dsn == "" {
		logger.Error("no database DSN, pass -db or set DB_URL")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := repository.Open(ctx, repository.Config{DSN: *dsn}, logger)
	if err != nil {
		logger.Error("db open failed", "error", err)
		os.Exit(1)
	}
	defer db.Close(logger)

	records, err := repository.NewCostMetricsRepository(db, logger).ListAll(ctx)
	if err != nil {
		logger.Error("list cost metrics failed", "error", err)
		os.Exit(1)
	}

	data, err := costs.WriteReportXLSX(records, logger)
	if err != nil {
		logger.Error("report failed", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		logger.Error("write failed", "path", *out, "error", err)
		os.Exit(1)
	}

	summary := costs.Summarize(records)
	fmt.Printf("wrote %s: %d documents, total %.6f USD\n", *out, summary.DocumentCount, summary.TotalCost)
}
