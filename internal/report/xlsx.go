// Package report renders run history as an Excel workbook.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/dataclean/cleanctl/internal/models"
)

const (
	runsSheet    = "Runs"
	summarySheet = "Summary"
)

var runHeaders = []interface{}{
	"Finished", "File", "Type", "Status", "Total rows", "Missing values",
	"Outliers", "Duplicates", "Normalized columns", "Seconds", "Processed file", "Message",
}

// WriteRuns writes runs to w as an .xlsx workbook with a Runs and a Summary sheet.
func WriteRuns(w io.Writer, runs []models.Run) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", runsSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	if err := f.SetSheetRow(runsSheet, "A1", &runHeaders); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if err := f.SetCellStyle(runsSheet, "A1", "L1", header); err != nil {
		return fmt.Errorf("styling header: %w", err)
	}

	var succeeded, failed, rows int
	for i, run := range runs {
		res := run.Result
		if res == nil {
			res = models.NewErrorResult(run.FileName, "")
		}
		if res.Succeeded() {
			succeeded++
		} else {
			failed++
		}
		rows += res.Statistics.TotalRows

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []interface{}{
			run.FinishedAt.UTC().Format(time.RFC3339),
			run.FileName,
			run.FileType,
			string(res.Status),
			res.Statistics.TotalRows,
			res.Statistics.MissingValues,
			res.Statistics.Outliers,
			res.Statistics.Duplicates,
			strings.Join(res.Statistics.NormalizedColumns, ", "),
			res.ProcessingTime,
			res.ProcessedFile,
			res.Message,
		}
		if err := f.SetSheetRow(runsSheet, cell, &values); err != nil {
			return fmt.Errorf("writing run %s: %w", run.ID, err)
		}
	}
	if err := f.SetColWidth(runsSheet, "A", "B", 24); err != nil {
		return err
	}
	if err := f.SetColWidth(runsSheet, "I", "L", 28); err != nil {
		return err
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("creating summary sheet: %w", err)
	}
	summary := [][]interface{}{
		{"Runs", len(runs)},
		{"Succeeded", succeeded},
		{"Failed", failed},
		{"Rows processed", rows},
	}
	for i, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("writing summary: %w", err)
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", fmt.Sprintf("A%d", len(summary)), header); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
