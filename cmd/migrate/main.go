package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"edgauth.org/internal/auth"
	"edgauth.org/internal/migrate"
	"edgauth.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	_ = godotenv.Load()
	var (
		dsn = flag.String("dsn", os.Getenv("AUTH_PG_DSN"), "PostgreSQL DSN")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or AUTH_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, nil)

	switch flag.Arg(0) {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, name := range applied {
			fmt.Println("applied", name)
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			fmt.Println("rolled back", name)
		}
	case "seed":
		err = seedRoles(ctx, db)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

func seedRoles(ctx context.Context, db *sql.DB) error {
	admin, err := auth.NewRoleAdmin(pg.New(db), nil)
	if err != nil {
		return err
	}
	roles, err := admin.SeedDefaults(ctx)
	if err != nil {
		return err
	}
	for _, r := range roles {
		fmt.Printf("role %d %s\n", r.ID, r.Name)
	}
	return nil
}
