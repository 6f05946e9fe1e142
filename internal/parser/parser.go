// Package parser turns uploaded file bytes into a uniform sequence of
// row records. Format is detected from the file extension: delimited
// text (.csv, .txt), spreadsheet (.xlsx, .xls) or structured objects
// (.json).
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrEmptyInput indicates no non-blank rows remained after trimming.
	ErrEmptyInput = errors.New("input file contains no data rows")
)

// UnsupportedFormatError indicates the file extension is not recognized.
type UnsupportedFormatError struct {
	Filename string
	Ext      string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file format %q (%s)", e.Ext, e.Filename)
}

// HeaderMode controls how the first row of a file is interpreted.
type HeaderMode int

const (
	// HeaderAuto applies the best-effort detection heuristic.
	HeaderAuto HeaderMode = iota
	// HeaderPresent forces the first row to be treated as headers.
	HeaderPresent
	// HeaderAbsent forces synthetic headers, with data starting at row 0.
	HeaderAbsent
)

// ParseHeaderMode converts a configuration string into a HeaderMode.
func ParseHeaderMode(s string) HeaderMode {
	switch strings.ToLower(s) {
	case "present":
		return HeaderPresent
	case "absent":
		return HeaderAbsent
	default:
		return HeaderAuto
	}
}

// Row maps a column label to its raw string value. Column order is
// carried by the owning Document's Headers slice.
type Row map[string]string

// Document is the uniform output of Parse for every input format.
type Document struct {
	Headers []string
	Rows    []Row
}

// Get returns the value of the named column, or "" when absent.
func (r Row) Get(name string) string { return r[name] }

// First returns the first non-empty value among the named columns.
func (r Row) First(names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(r[n]); v != "" {
			return v
		}
	}
	return ""
}

// syntheticHeaders is substituted when a delimited file carries no
// header row. The order matches the column layout of the upstream
// accounting exports this importer was built for.
var syntheticHeaders = []string{
	"ID", "Numero", "Comprobante", "Fecha", "Concepto", "Fecha Compromiso",
	"Motivo", "Nombre", "Direccion", "Localidad", "Imp Gravado", "Imp IVA1",
	"Imp Exento", "Imp Total", "Estado", "Flag",
}

// headerVocabulary is the fixed set of column-name fragments that mark
// a first row as a genuine header row.
var headerVocabulary = []string{
	"id", "nombre", "concepto", "fecha", "comprobante", "importe", "total",
	"cliente", "direccion", "localidad", "motivo", "estado", "gravado",
	"exento", "iva", "impuesto",
}

// Parse converts raw file bytes into a Document. The format is chosen
// by extension; mode overrides the header heuristic for row-oriented
// formats.
func Parse(data []byte, filename string, mode HeaderMode) (*Document, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".csv", ".txt":
		return parseDelimited(string(data), mode)
	case ".xlsx", ".xls":
		return parseSpreadsheet(data, mode)
	case ".json":
		return parseJSON(data)
	default:
		return nil, &UnsupportedFormatError{Filename: filename, Ext: ext}
	}
}

// =============================================================================
// DELIMITED TEXT
// =============================================================================

func parseDelimited(text string, mode HeaderMode) (*Document, error) {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, ErrEmptyInput
	}

	firstLine := SplitLine(lines[0])
	headers, dataStart := resolveHeaders(firstLine, mode)
	if dataStart >= len(lines) {
		return nil, ErrEmptyInput
	}

	doc := &Document{Headers: headers}
	for i := dataStart; i < len(lines); i++ {
		values := SplitLine(lines[i])
		row := make(Row, len(headers))
		for idx, header := range headers {
			if idx < len(values) {
				row[header] = values[idx]
			} else {
				row[header] = ""
			}
		}
		doc.Rows = append(doc.Rows, row)
	}
	return doc, nil
}

// SplitLine splits one delimited line on commas, honoring quoted cells.
// A quote toggles the in-quotes state; a doubled quote inside a quoted
// cell emits a literal quote character. Cells are trimmed.
func SplitLine(line string) []string {
	var result []string
	var current strings.Builder
	inQuotes := false

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			if inQuotes && i+1 < len(line) && line[i+1] == '"' {
				current.WriteByte('"')
				i++
			} else {
				inQuotes = !inQuotes
			}
		case c == ',' && !inQuotes:
			result = append(result, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	result = append(result, strings.TrimSpace(current.String()))
	return result
}

func resolveHeaders(firstRow []string, mode HeaderMode) (headers []string, dataStart int) {
	hasHeaders := false
	switch mode {
	case HeaderPresent:
		hasHeaders = true
	case HeaderAbsent:
		hasHeaders = false
	default:
		hasHeaders = DetectHeaders(firstRow)
	}

	if hasHeaders {
		return firstRow, 1
	}

	headers = syntheticHeaders
	if len(firstRow) > len(headers) {
		// Wider file than the known layout: pad with positional names
		headers = append([]string{}, syntheticHeaders...)
		for i := len(headers); i < len(firstRow); i++ {
			headers = append(headers, fmt.Sprintf("Columna %d", i+1))
		}
	}
	return headers, 0
}

var (
	numericIDRegex = regexp.MustCompile(`^\d+$`)
	dateCellRegex  = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4}$|^\d{4}-\d{1,2}-\d{1,2}$`)
	amountRegex    = regexp.MustCompile(`^\d+\.\d{2}$`)
)

// DetectHeaders guesses whether a first row holds column names rather
// than data. The guess is best-effort and intentionally conservative:
// a row that carries a numeric leading ID, date-shaped cells and
// two-decimal amounts is data regardless of vocabulary matches, and an
// unclear row is assumed to be data.
func DetectHeaders(firstRow []string) bool {
	hasCommonHeaders := false
	for _, cell := range firstRow {
		lower := strings.ToLower(cell)
		for _, word := range headerVocabulary {
			if strings.Contains(lower, word) {
				hasCommonHeaders = true
				break
			}
		}
		if hasCommonHeaders {
			break
		}
	}

	firstFieldIsNumericID := len(firstRow) > 0 && numericIDRegex.MatchString(firstRow[0])

	hasDateCells := false
	for _, cell := range firstRow {
		if dateCellRegex.MatchString(cell) {
			hasDateCells = true
			break
		}
	}

	hasDecimalAmounts := false
	tail := firstRow
	if len(tail) > 6 {
		tail = tail[len(tail)-6:]
	}
	for _, cell := range tail {
		if amountRegex.MatchString(cell) {
			hasDecimalAmounts = true
			break
		}
	}

	if firstFieldIsNumericID && hasDateCells && hasDecimalAmounts {
		return false
	}
	return hasCommonHeaders
}

// =============================================================================
// SPREADSHEET
// =============================================================================

func parseSpreadsheet(data []byte, mode HeaderMode) (*Document, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyInput
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}

	var cells [][]string
	for _, row := range rows {
		blank := true
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
			if row[i] != "" {
				blank = false
			}
		}
		if !blank {
			cells = append(cells, row)
		}
	}
	if len(cells) == 0 {
		return nil, ErrEmptyInput
	}

	headers, dataStart := resolveHeaders(cells[0], mode)
	if dataStart >= len(cells) {
		return nil, ErrEmptyInput
	}

	doc := &Document{Headers: headers}
	for i := dataStart; i < len(cells); i++ {
		row := make(Row, len(headers))
		for idx, header := range headers {
			if idx < len(cells[i]) {
				row[header] = cells[i][idx]
			} else {
				row[header] = ""
			}
		}
		doc.Rows = append(doc.Rows, row)
	}
	return doc, nil
}
