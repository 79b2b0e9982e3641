// Package sysenv resolves which SAP system (DE2, QA2 or PRD) a request is
// routed to. The result is sent as X-PORKY-SYSID on every backend call.
package sysenv

import (
	"fmt"
	"strings"
)

// System is an SAP landscape tag.
type System string

const (
	DE2 System = "DE2"
	QA2 System = "QA2"
	PRD System = "PRD"
)

// Parse accepts a system tag in any case. Blank input is not an error and
// yields "" so callers can tell "unset" from "PRD".
func Parse(s string) (System, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case string(DE2):
		return DE2, nil
	case string(QA2):
		return QA2, nil
	case string(PRD):
		return PRD, nil
	}
	return "", fmt.Errorf("unknown system %q", s)
}

// Resolve picks the routing system. An explicit session system wins; the
// URL heuristic (de2/qa2 anywhere in href) is consulted only when the
// session carries none. Unknown session values count as unset.
func Resolve(sessionSystem, href string) System {
	if sys, err := Parse(sessionSystem); err == nil && sys != "" {
		return sys
	}
	lower := strings.ToLower(href)
	switch {
	case strings.Contains(lower, "de2"):
		return DE2
	case strings.Contains(lower, "qa2"):
		return QA2
	}
	return PRD
}
