package envelope

import (
	"errors"
	"strings"
)

// ErrMalformedEnvelope is returned when a wrapped payload is not valid JSON.
var ErrMalformedEnvelope = errors.New("envelope: malformed payload")

// ErrorDetail is one entry of an OData innererror.errordetails list.
type ErrorDetail struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Target   string `json:"target"`
	Severity string `json:"severity"`
}

// BackendError is a business error reported by SAP inside an otherwise
// successful response (key conflicts, validation failures, locks).
type BackendError struct {
	Code    string
	Message string
	Details []ErrorDetail
}

func (e *BackendError) Error() string {
	if e.Code != "" {
		return "backend: " + e.Code + ": " + e.Message
	}
	return "backend: " + e.Message
}

// Targets returns the distinct, non-empty detail targets in order.
func (e *BackendError) Targets() []string {
	seen := make(map[string]struct{}, len(e.Details))
	var out []string
	for _, d := range e.Details {
		t := strings.TrimSpace(d.Target)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// AsBackendError unwraps err to a *BackendError.
func AsBackendError(err error) (*BackendError, bool) {
	var be *BackendError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
