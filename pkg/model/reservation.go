package model

import (
	"fmt"
	"time"
)

// ReservationStatus is the set of statuses accepted from spreadsheet rows.
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "PENDING"
	ReservationStatusCanceled  ReservationStatus = "CANCELED"
	ReservationStatusCompleted ReservationStatus = "COMPLETED"
)

// ParseReservationStatus validates a raw status cell value.
func ParseReservationStatus(s string) (ReservationStatus, error) {
	switch ReservationStatus(s) {
	case ReservationStatusPending, ReservationStatusCanceled, ReservationStatusCompleted:
		return ReservationStatus(s), nil
	default:
		return "", fmt.Errorf("invalid status %q: must be one of PENDING, CANCELED, COMPLETED", s)
	}
}

// dateLayout is the only accepted date format for reservation dates.
const dateLayout = "2006-01-02"

// Date is a calendar date (no time-of-day) serialized as YYYY-MM-DD in both
// JSON and BSON. Storing dates as strings keeps the compound
// (checkInDate, checkOutDate) index lexicographically ordered by date.
type Date struct {
	t time.Time
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Date{t: t}, nil
}

// NewDate builds a Date from year, month, day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string   { return d.t.Format(dateLayout) }
func (d Date) IsZero() bool     { return d.t.IsZero() }
func (d Date) Time() time.Time  { return d.t }
func (d Date) After(o Date) bool { return d.t.After(o.t) }

// MarshalJSON renders the date as a quoted YYYY-MM-DD string.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON parses a quoted YYYY-MM-DD string.
func (d *Date) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("invalid date literal %s", b)
	}
	parsed, err := ParseDate(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalText supports BSON string encoding via the text codec.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses a YYYY-MM-DD string.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Reservation is the domain record upserted from validated spreadsheet rows.
// ReservationID is globally unique in the committed store.
type Reservation struct {
	ReservationID string            `bson:"reservationId" json:"reservationId"`
	GuestName     string            `bson:"guestName" json:"guestName"`
	Status        ReservationStatus `bson:"status" json:"status"`
	CheckInDate   string            `bson:"checkInDate" json:"checkInDate"`
	CheckOutDate  string            `bson:"checkOutDate" json:"checkOutDate"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}
