// Package entitlement decides which customers and sales organizations a
// portal user may see.
package entitlement

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"porky.com/knmt/internal/knmt"
	"porky.com/knmt/internal/sysenv"
)

// ErrNoEntitlements means the user is known to the portal but has not been
// granted any customers.
var ErrNoEntitlements = errors.New("entitlement: user has no entitlements")

// Entitlement grants one user a set of customers within a sales org.
// Kunnr is a comma-separated list; System "" applies to every system.
type Entitlement struct {
	Email  string        `json:"email"`
	Kunnr  string        `json:"kunnr"`
	Vkorg  string        `json:"vkorg"`
	Werks  string        `json:"werks,omitempty"`
	System sysenv.System `json:"system,omitempty"`
}

// Scope converts the grant into a query restriction.
func (e Entitlement) Scope() knmt.Scope {
	return knmt.Scope{Kunnrs: knmt.SplitKunnrs(e.Kunnr), Vkorg: strings.TrimSpace(e.Vkorg)}
}

// Store looks up entitlements.
type Store interface {
	ForUser(ctx context.Context, email string, sys sysenv.System) ([]Entitlement, error)
	Grant(ctx context.Context, e Entitlement) error
}

// Filter renders the OData restriction for ents. An empty result means the
// grants do not restrict anything.
func Filter(ents []Entitlement) string {
	scopes := make([]knmt.Scope, 0, len(ents))
	for _, e := range ents {
		scopes = append(scopes, e.Scope())
	}
	return knmt.ScopesFilter(scopes)
}

// Allows reports whether any grant covers the record key.
func Allows(ents []Entitlement, k knmt.Key) bool {
	k = k.Normalize()
	kunnr := knmt.PadKunnr(k.Kunnr)
	for _, e := range ents {
		s := e.Scope()
		if s.Vkorg != "" && s.Vkorg != k.Vkorg {
			continue
		}
		if len(s.Kunnrs) == 0 {
			return true
		}
		for _, allowed := range s.Kunnrs {
			if allowed == kunnr {
				return true
			}
		}
	}
	return false
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MemoryStore keeps grants in process; used in development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entitlement
}

func NewMemoryStore(entries ...Entitlement) *MemoryStore {
	m := &MemoryStore{}
	for _, e := range entries {
		_ = m.Grant(context.Background(), e)
	}
	return m
}

func (m *MemoryStore) ForUser(_ context.Context, email string, sys sysenv.System) ([]Entitlement, error) {
	email = normalizeEmail(email)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entitlement
	for _, e := range m.entries {
		if e.Email == email && (e.System == "" || e.System == sys) {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoEntitlements
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Vkorg < out[j].Vkorg })
	return out, nil
}

// Grant replaces the grant for (email, vkorg, system).
func (m *MemoryStore) Grant(_ context.Context, e Entitlement) error {
	e.Email = normalizeEmail(e.Email)
	if e.Email == "" {
		return errors.New("entitlement: email is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.entries {
		if cur.Email == e.Email && cur.Vkorg == e.Vkorg && cur.System == e.System {
			m.entries[i] = e
			return nil
		}
	}
	m.entries = append(m.entries, e)
	return nil
}
