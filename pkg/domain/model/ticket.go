package model

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// TicketID is the human readable identifier CR-YYYYMMDD-NNNN. A device agent
// numbers the requests it creates offline CR-YYYYMMDD-LNNNN until the server
// assigns the final number on push.
type TicketID string

const ticketDayLayout = "20060102"

var ticketPattern = regexp.MustCompile(`^CR-(\d{8})-(L?)(\d{4,})$`)

// TicketDay returns the calendar day key (UTC) used to scope the ticket sequence
func TicketDay(t time.Time) string {
	return t.UTC().Format(ticketDayLayout)
}

// FormatTicketID builds a ticket ID from a day key and a 1-based sequence
func FormatTicketID(day string, seq int64) TicketID {
	return TicketID(fmt.Sprintf("CR-%s-%04d", day, seq))
}

// FormatProvisionalTicketID builds a device-local ticket ID
func FormatProvisionalTicketID(day string, seq int64) TicketID {
	return TicketID(fmt.Sprintf("CR-%s-L%04d", day, seq))
}

// ParseTicketID splits a ticket ID into its day key and sequence
func ParseTicketID(s string) (day string, seq int64, err error) {
	m := ticketPattern.FindStringSubmatch(s)
	if m == nil {
		return "", 0, goerr.New("malformed ticket ID", goerr.V(TicketIDKey, s))
	}
	if _, err := time.Parse(ticketDayLayout, m[1]); err != nil {
		return "", 0, goerr.Wrap(err, "invalid ticket day", goerr.V(TicketIDKey, s))
	}
	seq, err = strconv.ParseInt(m[3], 10, 64)
	if err != nil || seq < 1 {
		return "", 0, goerr.New("invalid ticket sequence", goerr.V(TicketIDKey, s))
	}
	return m[1], seq, nil
}

// Validate checks the ticket ID format
func (id TicketID) Validate() error {
	_, _, err := ParseTicketID(string(id))
	return err
}

// IsProvisional reports whether the ticket was numbered by a device and still
// waits for its server number
func (id TicketID) IsProvisional() bool {
	m := ticketPattern.FindStringSubmatch(string(id))
	return m != nil && m[2] == "L"
}

// String returns the string representation of TicketID
func (id TicketID) String() string {
	return string(id)
}
