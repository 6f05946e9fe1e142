// Package export writes import artifacts to disk: the parsed document
// in a chosen format, the run result, and the diagnostics report.
// Filenames carry the run ID so artifacts from repeated runs never
// collide.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/flowsma/record-importer/internal/diag"
	"github.com/flowsma/record-importer/internal/parser"
	"github.com/flowsma/record-importer/internal/pipeline"
)

// WriteDocument writes the document to dir in the given format and
// returns the path of the written file.
func WriteDocument(dir, format, runID string, doc *parser.Document) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export dir: %w", err)
	}

	switch strings.ToLower(format) {
	case "csv":
		path := filepath.Join(dir, fmt.Sprintf("records-%s.csv", runID))
		return path, writeCSV(path, doc)
	case "xlsx":
		path := filepath.Join(dir, fmt.Sprintf("records-%s.xlsx", runID))
		return path, writeXLSX(path, doc)
	case "json":
		path := filepath.Join(dir, fmt.Sprintf("records-%s.json", runID))
		return path, writeJSON(path, doc)
	default:
		return "", fmt.Errorf("unsupported export format %q", format)
	}
}

// WriteResult writes the run result as JSON and returns its path.
func WriteResult(dir string, res *pipeline.Result) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export dir: %w", err)
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("result-%s.json", res.RunID))
	return path, os.WriteFile(path, data, 0o644)
}

// WriteDiagnostics writes the tracker's report as JSON and returns its
// path.
func WriteDiagnostics(dir, runID string, tracker *diag.Tracker) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export dir: %w", err)
	}
	data, err := tracker.ExportJSON()
	if err != nil {
		return "", fmt.Errorf("failed to encode diagnostics: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("diagnostics-%s.json", runID))
	return path, os.WriteFile(path, data, 0o644)
}

// QuoteCell wraps a cell in quotes when it contains a delimiter or
// quote, doubling embedded quotes, so the output re-parses to the same
// value.
func QuoteCell(s string) string {
	if strings.ContainsAny(s, ",\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

func writeCSV(path string, doc *parser.Document) error {
	var b strings.Builder
	writeLine := func(cells []string) {
		for i, c := range cells {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(QuoteCell(c))
		}
		b.WriteByte('\n')
	}

	writeLine(doc.Headers)
	for _, row := range doc.Rows {
		cells := make([]string, len(doc.Headers))
		for i, h := range doc.Headers {
			cells[i] = row.Get(h)
		}
		writeLine(cells)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func writeXLSX(path string, doc *parser.Document) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for col, h := range doc.Headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for r, row := range doc.Rows {
		for col, h := range doc.Headers {
			cell, err := excelize.CoordinatesToCellName(col+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, row.Get(h)); err != nil {
				return err
			}
		}
	}

	if len(doc.Headers) > 0 {
		last, err := excelize.ColumnNumberToName(len(doc.Headers))
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, "A", last, 18); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

func writeJSON(path string, doc *parser.Document) error {
	out := make([]map[string]string, 0, len(doc.Rows))
	for _, row := range doc.Rows {
		obj := make(map[string]string, len(doc.Headers))
		for _, h := range doc.Headers {
			obj[h] = row.Get(h)
		}
		out = append(out, obj)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
