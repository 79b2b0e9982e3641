package entitlement

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"porky.com/knmt/internal/knmt"
	"porky.com/knmt/internal/sysenv"
)

func TestPGStoreForUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select email, kunnr, vkorg, werks, system from knmt_entitlements").
		WithArgs("ann@example.com", "QA2").
		WillReturnRows(sqlmock.NewRows([]string{"email", "kunnr", "vkorg", "werks", "system"}).
			AddRow("ann@example.com", "1234, 5678", "1000", "", "").
			AddRow("ann@example.com", "99", "2000", "W1", "QA2"))

	store := NewPGStore(db)
	ents, err := store.ForUser(context.Background(), " Ann@Example.com ", sysenv.QA2)
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}
	if len(ents) != 2 {
		t.Fatalf("expected 2 entitlements, got %d", len(ents))
	}
	if ents[1].System != sysenv.QA2 || ents[1].Werks != "W1" {
		t.Fatalf("unexpected second entitlement: %+v", ents[1])
	}

	want := "((kunnr eq '0000001234' or kunnr eq '0000005678') and vkorg eq '1000') or (kunnr eq '0000000099' and vkorg eq '2000')"
	if got := Filter(ents); got != want {
		t.Fatalf("unexpected filter:\n got %s\nwant %s", got, want)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreForUserNone(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select email, kunnr, vkorg, werks, system from knmt_entitlements").
		WithArgs("nobody@example.com", "PRD").
		WillReturnRows(sqlmock.NewRows([]string{"email", "kunnr", "vkorg", "werks", "system"}))

	_, err = NewPGStore(db).ForUser(context.Background(), "nobody@example.com", sysenv.PRD)
	if !errors.Is(err, ErrNoEntitlements) {
		t.Fatalf("expected ErrNoEntitlements, got %v", err)
	}
}

func TestPGStoreGrant(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("insert into knmt_entitlements").
		WithArgs("ann@example.com", "1234", "1000", "", "").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := NewPGStore(db).Grant(context.Background(), Entitlement{Email: "ANN@example.com", Kunnr: "1234", Vkorg: "1000"}); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if err := NewPGStore(db).Grant(context.Background(), Entitlement{}); err == nil {
		t.Fatal("expected error for empty email")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(
		Entitlement{Email: "ann@example.com", Kunnr: "1", Vkorg: "1000"},
		Entitlement{Email: "ann@example.com", Kunnr: "2", Vkorg: "2000", System: sysenv.DE2},
	)
	ctx := context.Background()

	ents, err := store.ForUser(ctx, "ANN@example.com", sysenv.PRD)
	if err != nil || len(ents) != 1 {
		t.Fatalf("PRD: got %v, %v", ents, err)
	}
	ents, err = store.ForUser(ctx, "ann@example.com", sysenv.DE2)
	if err != nil || len(ents) != 2 {
		t.Fatalf("DE2: got %v, %v", ents, err)
	}

	if err := store.Grant(ctx, Entitlement{Email: "ann@example.com", Kunnr: "7", Vkorg: "1000"}); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	ents, _ = store.ForUser(ctx, "ann@example.com", sysenv.PRD)
	if len(ents) != 1 || ents[0].Kunnr != "7" {
		t.Fatalf("grant did not replace: %+v", ents)
	}

	if _, err := store.ForUser(ctx, "bob@example.com", sysenv.PRD); !errors.Is(err, ErrNoEntitlements) {
		t.Fatalf("expected ErrNoEntitlements, got %v", err)
	}
}

func TestAllows(t *testing.T) {
	ents := []Entitlement{{Kunnr: "1234,5678", Vkorg: "1000"}, {Vkorg: "3000"}}
	cases := []struct {
		key  knmt.Key
		want bool
	}{
		{knmt.Key{Kunnr: "0000001234", Vkorg: "1000", Kdmat: "M"}, true},
		{knmt.Key{Kunnr: "1234", Vkorg: "1000", Kdmat: "M"}, true},
		{knmt.Key{Kunnr: "1234", Vkorg: "2000", Kdmat: "M"}, false},
		{knmt.Key{Kunnr: "9", Vkorg: "1000", Kdmat: "M"}, false},
		{knmt.Key{Kunnr: "anything", Vkorg: "3000", Kdmat: "M"}, true},
	}
	for _, tc := range cases {
		if got := Allows(ents, tc.key); got != tc.want {
			t.Fatalf("Allows(%v) = %v, want %v", tc.key, got, tc.want)
		}
	}
}

func TestFilterAgreesWithAllows(t *testing.T) {
	mixed := []Entitlement{
		{Email: "u@example.com"},
		{Email: "u@example.com", Kunnr: "1", Vkorg: "1000"},
	}
	other := knmt.Key{Kunnr: "9999", Vkorg: "2000", Kdmat: "M"}
	if !Allows(mixed, other) {
		t.Fatal("unrestricted grant should allow any key")
	}
	if got := Filter(mixed); got != "" {
		t.Fatalf("Filter(mixed) = %q, want no restriction", got)
	}

	scoped := mixed[1:]
	if Allows(scoped, other) {
		t.Fatal("scoped grant should not allow foreign key")
	}
	if got, want := Filter(scoped), "kunnr eq '0000000001' and vkorg eq '1000'"; got != want {
		t.Fatalf("Filter(scoped) = %q, want %q", got, want)
	}
}
