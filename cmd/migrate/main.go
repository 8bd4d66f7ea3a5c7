package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"authority.dev/internal/config"
	"authority.dev/internal/migrate"
	"authority.dev/internal/store/pg"
	"authority.dev/ops/migrations"
)

func main() {
	log.SetFlags(0)
	if err := config.LoadEnvFiles(); err != nil {
		log.Fatalf("env: %v", err)
	}
	var (
		dsn            = flag.String("dsn", os.Getenv("AUTHORITY_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "", "Directory of SQL migrations (default: embedded schema)")
		seedsPath      = flag.String("seeds", "", "Directory of SQL seeds (default: embedded demo seeds)")
		timeout        = flag.Duration("timeout", 30*time.Second, "Overall deadline")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via --dsn or AUTHORITY_PG_DSN")
	}
	if flag.NArg() == 0 {
		log.Fatal("usage: migrate [--dsn DSN] up|down|seed|status")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	schema, seeds := migrations.Schema(), migrations.Seeds()
	if *migrationsPath != "" {
		schema = os.DirFS(*migrationsPath)
	}
	if *seedsPath != "" {
		seeds = os.DirFS(*seedsPath)
	}
	mgr := migrate.NewManager(store.DB(), schema, seeds)

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var applied, pending []string
		if applied, err = mgr.Status(ctx); err == nil {
			pending, err = mgr.Pending(ctx)
		}
		for _, item := range applied {
			fmt.Println("applied ", item)
		}
		for _, item := range pending {
			fmt.Println("pending ", item)
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
