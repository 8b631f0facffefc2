// Package xlsx decodes uploaded spreadsheets into raw rows.
//
// Decoding is deliberately thin: the package yields the first sheet's cells
// as strings and leaves all domain validation to the caller.
package xlsx

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// Decode errors. Both are file-level failures that fail the whole task.
var (
	// ErrNoSheet means the workbook contains no sheets.
	ErrNoSheet = errors.New("workbook has no sheets")

	// ErrEmptySheet means the first sheet has no data rows below the header.
	ErrEmptySheet = errors.New("sheet has no data rows")
)

// MimeType is the only accepted content type for uploaded chunks.
const MimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Sheet is the decoded first sheet of a workbook.
//
// Rows holds the data rows only; the header has been stripped. Row N of
// Rows corresponds to spreadsheet row N+2 (1-indexed, header is row 1),
// which is the numbering used in user-facing error reports.
type Sheet struct {
	Header []string
	Rows   [][]string
}

// ReadFirstSheet buffers and decodes a workbook, returning its first sheet.
func ReadFirstSheet(data []byte) (*Sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoSheet
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}

	if len(rows) < 2 {
		return nil, ErrEmptySheet
	}

	return &Sheet{
		Header: rows[0],
		Rows:   rows[1:],
	}, nil
}

// RowNumber converts an index into Sheet.Rows to the 1-indexed spreadsheet
// row number reported to users.
func RowNumber(idx int) int {
	return idx + 2
}
