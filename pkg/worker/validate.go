package worker

import (
	"fmt"
	"strings"
	"time"

	"github.com/stayware/bookingest/pkg/model"
	"github.com/stayware/bookingest/pkg/xlsx"
)

// Spreadsheet column names, matched case-insensitively against the header
// row.
const (
	colReservationID = "reservation_id"
	colGuestName     = "guest_name"
	colCheckIn       = "check_in_date"
	colCheckOut      = "check_out_date"
	colStatus        = "status"
)

var requiredColumns = []string{colReservationID, colGuestName, colCheckIn, colCheckOut, colStatus}

// parsedSheet is the outcome of validating a whole sheet: the rows that
// will be upserted and the per-row errors for the rest.
type parsedSheet struct {
	Reservations []model.Reservation
	RowErrors    []model.TaskError
}

// parseReservations validates every data row of the sheet. Invalid rows are
// collected into RowErrors and skipped; valid rows become Reservations in
// file order. Within one file the first valid occurrence of a
// reservation_id wins and later occurrences are rejected as duplicates, so
// the subsequent upserts never race each other on the same key.
//
// A header missing any required column is a file-level failure and returns
// an error.
func parseReservations(sheet *xlsx.Sheet, now time.Time) (*parsedSheet, error) {
	idx, err := columnIndex(sheet.Header)
	if err != nil {
		return nil, err
	}

	out := &parsedSheet{}
	seen := make(map[string]struct{}, len(sheet.Rows))

	for i, row := range sheet.Rows {
		rowNum := xlsx.RowNumber(i)

		if isEmptyRow(row, idx) {
			continue
		}

		r, errs := parseRow(row, idx, seen, now)
		if len(errs) > 0 {
			for _, msg := range errs {
				out.RowErrors = append(out.RowErrors, model.RowError(rowNum, msg))
			}
			continue
		}

		seen[r.ReservationID] = struct{}{}
		out.Reservations = append(out.Reservations, r)
	}

	return out, nil
}

// parseRow validates one data row and returns either the reservation or the
// list of error messages. All applicable errors for the row are reported,
// not just the first.
func parseRow(row []string, idx map[string]int, seen map[string]struct{}, now time.Time) (model.Reservation, []string) {
	var errs []string

	cells := make(map[string]string, len(requiredColumns))
	for _, col := range requiredColumns {
		cells[col] = cell(row, idx[col])
		if cells[col] == "" {
			errs = append(errs, fmt.Sprintf("missing required field %s", col))
		}
	}
	if len(errs) > 0 {
		return model.Reservation{}, errs
	}

	id := cells[colReservationID]
	if _, dup := seen[id]; dup {
		errs = append(errs, fmt.Sprintf("duplicate reservation_id %q", id))
	}

	checkIn, inErr := model.ParseDate(cells[colCheckIn])
	if inErr != nil {
		errs = append(errs, fmt.Sprintf("%s: %v", colCheckIn, inErr))
	}
	checkOut, outErr := model.ParseDate(cells[colCheckOut])
	if outErr != nil {
		errs = append(errs, fmt.Sprintf("%s: %v", colCheckOut, outErr))
	}
	if inErr == nil && outErr == nil && !checkOut.After(checkIn) {
		errs = append(errs, "check_out_date must be after check_in_date")
	}

	status, stErr := model.ParseReservationStatus(cells[colStatus])
	if stErr != nil {
		errs = append(errs, stErr.Error())
	}

	if len(errs) > 0 {
		return model.Reservation{}, errs
	}

	return model.Reservation{
		ReservationID: id,
		GuestName:     cells[colGuestName],
		Status:        status,
		CheckInDate:   checkIn.String(),
		CheckOutDate:  checkOut.String(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// columnIndex maps each required column to its position in the header.
func columnIndex(header []string) (map[string]int, error) {
	byName := make(map[string]int, len(header))
	for i, h := range header {
		byName[strings.ToLower(strings.TrimSpace(h))] = i
	}

	idx := make(map[string]int, len(requiredColumns))
	var missing []string
	for _, col := range requiredColumns {
		i, ok := byName[col]
		if !ok {
			missing = append(missing, col)
			continue
		}
		idx[col] = i
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return idx, nil
}

// cell returns the trimmed value at position i, tolerating short rows. The
// spreadsheet decoder omits trailing empty cells.
func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// isEmptyRow reports whether every required cell is blank. Spreadsheets
// routinely carry trailing blank rows; they are skipped without error.
func isEmptyRow(row []string, idx map[string]int) bool {
	for _, i := range idx {
		if cell(row, i) != "" {
			return false
		}
	}
	return true
}
