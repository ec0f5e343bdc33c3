package importer

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// Row is one data row of a submission. Number is the 1-based position among
// the kept data rows (header excluded); implicit reference tokens address
// rows by this number.
type Row struct {
	Number int
	Cells  []string
}

// Sheet is a parsed upload: the raw header strings plus ordered data rows.
type Sheet struct {
	Headers []string
	Rows    []Row
}

// ReadSheet parses an uploaded CSV or XLSX payload into ordered rows of
// named columns. The first non-empty row is the header; fully empty rows
// are dropped and ragged rows padded to the header width.
func ReadSheet(fileName string, payload []byte) (Sheet, error) {
	if len(payload) == 0 {
		return Sheet{}, planErrorf("file is empty")
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload)
	case ".xlsx":
		return parseXLSX(payload)
	default:
		return Sheet{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte) (Sheet, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return Sheet{}, planErrorf("failed to read csv: %v", err)
	}

	return normalizeSheet(records)
}

func parseXLSX(payload []byte) (Sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return Sheet{}, planErrorf("failed to open xlsx: %v", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Sheet{}, planErrorf("excel file has no sheets")
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return Sheet{}, planErrorf("failed to read rows from xlsx: %v", err)
	}

	return normalizeSheet(records)
}

func normalizeSheet(records [][]string) (Sheet, error) {
	var headerRow []string
	var dataRows [][]string

	for _, row := range records {
		if rowIsEmpty(row) {
			continue
		}
		if headerRow == nil {
			headerRow = row
			continue
		}
		dataRows = append(dataRows, row)
	}

	if headerRow == nil {
		return Sheet{}, planErrorf("no header row detected")
	}

	headers := make([]string, len(headerRow))
	for i, value := range headerRow {
		headers[i] = strings.TrimSpace(value)
	}

	sheet := Sheet{Headers: headers}
	for i, row := range dataRows {
		cells := padRow(row, len(headers))
		for j, cell := range cells {
			cells[j] = strings.TrimSpace(cell)
		}
		sheet.Rows = append(sheet.Rows, Row{Number: i + 1, Cells: cells})
	}

	return sheet, nil
}

func rowIsEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func padRow(row []string, length int) []string {
	padded := make([]string, length)
	copy(padded, row)
	return padded
}
