package knmt

import "strings"

// Status is the request lifecycle state.
type Status string

const (
	StatusPending  Status = "P"
	StatusAccepted Status = "A"
	StatusRejected Status = "R"
	StatusArchived Status = "X"
)

// Text is the human-readable status.
func (s Status) Text() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusAccepted:
		return "Accepted"
	case StatusRejected:
		return "Rejected"
	case StatusArchived:
		return "Archived"
	}
	return string(s)
}

// State is the UI value state used to colour the status.
func (s Status) State() string {
	switch s {
	case StatusPending:
		return "Warning"
	case StatusAccepted:
		return "Success"
	case StatusRejected:
		return "Error"
	}
	return "None"
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusArchived:
		return true
	}
	return false
}

// ParseStatus accepts a status code or its text in any case.
func ParseStatus(v string) (Status, bool) {
	v = strings.TrimSpace(v)
	for _, s := range []Status{StatusPending, StatusAccepted, StatusRejected, StatusArchived} {
		if strings.EqualFold(v, string(s)) || strings.EqualFold(v, s.Text()) {
			return s, true
		}
	}
	return "", false
}
