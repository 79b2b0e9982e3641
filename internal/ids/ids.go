// Package ids issues sortable identifiers for audit events.
package ids

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// New returns a ULID string. IDs issued by one process sort in issue order.
func New() string {
	return ulid.Make().String()
}

// Time returns the creation time encoded in id.
func Time(id string) (time.Time, error) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
