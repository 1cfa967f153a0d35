package costs

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"
)

// WriteReportXLSX renders per-document cost rows plus a summary block into an
// XLSX workbook and returns its bytes.
func WriteReportXLSX(records []Record, logger *slog.Logger) ([]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	f := excelize.NewFile()
	const sheet = "Costs"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Document ID",
		"Model Tier",
		"Input Tokens",
		"Output Tokens",
		"Estimated Cost (USD)",
		"Batch API",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	write := func(col, row int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, v)
	}

	row := 2
	for _, r := range records {
		write(1, row, r.DocumentID)
		write(2, row, string(r.Model))
		write(3, row, r.InputTokens)
		write(4, row, r.OutputTokens)
		write(5, row, fmt.Sprintf("%.6f", r.EstimatedCost))
		write(6, row, r.UsedBatchAPI)
		row++
	}

	s := Summarize(records)
	row++
	write(1, row, "Total")
	write(5, row, fmt.Sprintf("%.6f", s.TotalCost))
	row++
	write(1, row, "Batch savings")
	write(5, row, fmt.Sprintf("%.6f", s.BatchSavings))
	row++
	write(1, row, "Average per document")
	write(5, row, fmt.Sprintf("%.6f", s.AverageCostPerDocument))

	_ = f.SetColWidth(sheet, "A", "A", 38)
	_ = f.SetColWidth(sheet, "B", "B", 12)
	_ = f.SetColWidth(sheet, "C", "E", 18)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}

	logger.Info("costs.report.written",
		"records", len(records),
		"bytes", buf.Len(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
