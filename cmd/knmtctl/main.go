// Command knmtctl talks to the KNMT backend and the entitlement table
// directly, for operators and smoke checks.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"porky.com/knmt/internal/config"
	"porky.com/knmt/internal/entitlement"
	"porky.com/knmt/internal/knmt"
	"porky.com/knmt/internal/sap"
	"porky.com/knmt/internal/sysenv"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "list":
		err = runList(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	case "grant":
		err = runGrant(os.Args[2:])
	case "smoke":
		err = runSmoke(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "knmtctl %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: knmtctl <command> [flags]

commands:
  list   query records as JSON (-kunnr, -vkorg, -kdmat, -status)
  export query records as CSV (same filters, -excel, -o)
  grant  add an entitlement (-email, -kunnr, -vkorg, -werks)
  smoke  create, read and soft-delete a throwaway record`)
	os.Exit(2)
}

type common struct {
	config string
	system string
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", "", "path to config.yaml")
	fs.StringVar(&c.system, "system", "", "SAP system (DE2, QA2, PRD)")
}

func (c *common) load() (*config.Config, sysenv.System, error) {
	cfg, err := config.Load(c.config)
	if err != nil {
		return nil, "", err
	}
	sys, err := sysenv.Parse(c.system)
	if err != nil {
		return nil, "", err
	}
	if sys == "" {
		sys = sysenv.PRD
	}
	return cfg, sys, nil
}

func newClient(cfg *config.Config) (*sap.Client, error) {
	return sap.New(sap.Config{
		BaseURL:          cfg.Backend.BaseURL,
		ServiceName:      cfg.Backend.ServiceName,
		EntitySet:        cfg.Backend.EntitySet,
		AppID:            cfg.Backend.AppID,
		APIKey:           cfg.Backend.APIKey,
		AuthToken:        cfg.Backend.AuthToken,
		BasicUser:        cfg.Backend.BasicUser,
		BasicPassword:    cfg.Backend.BasicPassword,
		Timeout:          cfg.Backend.Timeout,
		MaxResponseBytes: cfg.Backend.MaxResponseBytes,
	})
}

type query struct {
	common
	kunnr, vkorg, kdmat, status string
}

func (q *query) register(fs *flag.FlagSet) {
	q.common.register(fs)
	fs.StringVar(&q.kunnr, "kunnr", "", "comma-separated customers (scopes the backend query)")
	fs.StringVar(&q.vkorg, "vkorg", "", "sales org (scopes the backend query)")
	fs.StringVar(&q.kdmat, "kdmat", "", "customer material contains")
	fs.StringVar(&q.status, "status", "", "status code")
}

func (q *query) run() ([]knmt.Record, error) {
	cfg, sys, err := q.load()
	if err != nil {
		return nil, err
	}
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.Timeout+5*time.Second)
	defer cancel()

	scope := knmt.Scope{Kunnrs: knmt.SplitKunnrs(q.kunnr), Vkorg: q.vkorg}
	recs, err := client.List(ctx, sys, scope.ODataFilter())
	if err != nil {
		return nil, err
	}
	return knmt.DefaultFilter("", "", q.kdmat, q.status).Apply(recs), nil
}

func runList(args []string) error {
	var q query
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	q.register(fs)
	_ = fs.Parse(args)

	recs, err := q.run()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(recs)
}

func runExport(args []string) error {
	var q query
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	q.register(fs)
	excel := fs.Bool("excel", false, "prefix a UTF-8 BOM for Excel")
	out := fs.String("o", "", "output file (default stdout)")
	_ = fs.Parse(args)

	recs, err := q.run()
	if err != nil {
		return err
	}
	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := knmt.WriteCSV(w, recs, knmt.ExportOptions{Excel: *excel}); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "exported %d records\n", len(recs))
	return nil
}

func runGrant(args []string) error {
	var c common
	fs := flag.NewFlagSet("grant", flag.ExitOnError)
	c.register(fs)
	email := fs.String("email", "", "portal user email")
	kunnr := fs.String("kunnr", "", "comma-separated customers")
	vkorg := fs.String("vkorg", "", "sales org")
	werks := fs.String("werks", "", "plant")
	_ = fs.Parse(args)

	cfg, err := config.Load(c.config)
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return errors.New("database.dsn is not configured")
	}
	sys, err := sysenv.Parse(c.system)
	if err != nil {
		return err
	}

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := entitlement.NewPGStore(db)
	e := entitlement.Entitlement{Email: *email, Kunnr: *kunnr, Vkorg: *vkorg, Werks: *werks, System: sys}
	if err := store.Grant(ctx, e); err != nil {
		return err
	}
	ents, err := store.ForUser(ctx, *email, sys)
	if err != nil {
		return err
	}
	fmt.Printf("granted; %s now sees: %s\n", *email, entitlement.Filter(ents))
	return nil
}

func runSmoke(args []string) error {
	var c common
	fs := flag.NewFlagSet("smoke", flag.ExitOnError)
	c.register(fs)
	kunnr := fs.String("kunnr", "", "customer to create the record under")
	vkorg := fs.String("vkorg", "", "sales org")
	_ = fs.Parse(args)

	if *kunnr == "" || *vkorg == "" {
		return errors.New("-kunnr and -vkorg are required")
	}
	cfg, sys, err := c.load()
	if err != nil {
		return err
	}
	if sys == sysenv.PRD {
		return errors.New("refusing to write smoke records to PRD")
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*cfg.Backend.Timeout)
	defer cancel()

	rec := knmt.PrepareCreate(knmt.Record{
		Kunnr: knmt.PadKunnr(*kunnr),
		Vkorg: *vkorg,
		Kdmat: fmt.Sprintf("SMOKE-%d", time.Now().Unix()),
		Postx: "knmtctl smoke test",
	})
	if err := knmt.Validate(rec); err != nil {
		return err
	}
	if err := client.Create(ctx, sys, rec); err != nil {
		return fmt.Errorf("create: %w", err)
	}
	got, err := client.Get(ctx, sys, rec.Key())
	if err != nil {
		return fmt.Errorf("read back: %w", err)
	}
	if got.Kdmat != rec.Kdmat {
		return fmt.Errorf("read back %q, want %q", got.Kdmat, rec.Kdmat)
	}
	if err := client.SoftDelete(ctx, sys, rec.Key()); err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	fmt.Printf("smoke ok on %s: %s\n", sys, rec.Key())
	return nil
}
