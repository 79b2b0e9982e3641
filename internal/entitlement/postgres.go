package entitlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"porky.com/knmt/internal/sysenv"
)

var _ Store = (*PGStore)(nil)

// PGStore reads grants from the knmt_entitlements table.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) ForUser(ctx context.Context, email string, sys sysenv.System) ([]Entitlement, error) {
	rows, err := s.db.QueryContext(ctx,
		`select email, kunnr, vkorg, werks, system from knmt_entitlements
		 where email = $1 and (system = '' or system = $2)
		 order by vkorg asc`,
		normalizeEmail(email), string(sys),
	)
	if err != nil {
		return nil, fmt.Errorf("query entitlements: %w", err)
	}
	defer rows.Close()

	var res []Entitlement
	for rows.Next() {
		var (
			e      Entitlement
			system string
		)
		if err := rows.Scan(&e.Email, &e.Kunnr, &e.Vkorg, &e.Werks, &system); err != nil {
			return nil, err
		}
		e.System = sysenv.System(system)
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, ErrNoEntitlements
	}
	return res, nil
}

func (s *PGStore) Grant(ctx context.Context, e Entitlement) error {
	e.Email = normalizeEmail(e.Email)
	if e.Email == "" {
		return errors.New("entitlement: email is required")
	}
	_, err := s.db.ExecContext(ctx,
		`insert into knmt_entitlements(email, kunnr, vkorg, werks, system)
		 values ($1,$2,$3,$4,$5)
		 on conflict (email, vkorg, system)
		 do update set kunnr = excluded.kunnr, werks = excluded.werks, updated_at = now()`,
		e.Email, e.Kunnr, e.Vkorg, e.Werks, string(e.System),
	)
	return err
}
