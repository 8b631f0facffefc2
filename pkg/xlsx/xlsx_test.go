package xlsx

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// buildWorkbook renders rows (including the header) into an xlsx byte blob.
func buildWorkbook(t *testing.T, rows [][]any) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestReadFirstSheet(t *testing.T) {
	t.Parallel()

	data := buildWorkbook(t, [][]any{
		{"reservation_id", "guest_name", "check_in_date", "check_out_date", "status"},
		{"r-1", "Ada Lovelace", "2026-01-10", "2026-01-12", "PENDING"},
		{"r-2", "Alan Turing", "2026-02-01", "2026-02-03", "COMPLETED"},
	})

	sheet, err := ReadFirstSheet(data)
	require.NoError(t, err)

	assert.Equal(t, []string{"reservation_id", "guest_name", "check_in_date", "check_out_date", "status"}, sheet.Header)
	require.Len(t, sheet.Rows, 2)
	assert.Equal(t, "r-1", sheet.Rows[0][0])
	assert.Equal(t, "Alan Turing", sheet.Rows[1][1])
}

func TestReadFirstSheet_HeaderOnly(t *testing.T) {
	t.Parallel()

	data := buildWorkbook(t, [][]any{
		{"reservation_id", "guest_name", "check_in_date", "check_out_date", "status"},
	})

	_, err := ReadFirstSheet(data)
	assert.ErrorIs(t, err, ErrEmptySheet)
}

func TestReadFirstSheet_Garbage(t *testing.T) {
	t.Parallel()

	_, err := ReadFirstSheet([]byte("this is not a zip archive"))
	assert.Error(t, err)
}

func TestRowNumber(t *testing.T) {
	t.Parallel()

	// First data row is spreadsheet row 2 (row 1 is the header).
	assert.Equal(t, 2, RowNumber(0))
	assert.Equal(t, 12, RowNumber(10))
}
