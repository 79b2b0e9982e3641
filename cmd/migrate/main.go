package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"porky.com/knmt/internal/config"
	"porky.com/knmt/internal/migrate"
	"porky.com/knmt/ops/migrations"
)

func main() {
	log.SetFlags(0)
	var (
		configFile = flag.String("config", "", "path to config.yaml (for database.dsn)")
		dsn        = flag.String("dsn", os.Getenv("KNMT_DATABASE_DSN"), "PostgreSQL DSN; overrides the config file")
		dir        = flag.String("dir", "", "read migrations from this directory instead of the embedded set")
	)
	flag.Parse()

	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}
	if *dsn == "" {
		cfg, err := config.Load(*configFile)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		*dsn = cfg.Database.DSN
	}
	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn, KNMT_DATABASE_DSN or database.dsn")
	}

	var src fs.FS = migrations.FS
	if *dir != "" {
		src = os.DirFS(*dir)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, src, "sql", "seeds")

	var names []string
	switch flag.Arg(0) {
	case "up":
		names, err = mgr.Up(ctx)
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if errors.Is(err, migrate.ErrNothingApplied) {
			fmt.Println("nothing to roll back")
			return
		}
		if name != "" {
			names = []string{name}
		}
	case "seed":
		names, err = mgr.Seed(ctx)
	case "status":
		names, err = mgr.Status(ctx)
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
	for _, name := range names {
		fmt.Println(name)
	}
}
