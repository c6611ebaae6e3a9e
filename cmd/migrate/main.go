package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"tenantauth.org/internal/migrate"
	"tenantauth.org/internal/store/sqlstore"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	dbURL := flag.String("database", os.Getenv("DATABASE_URL"), "Database URL (postgres://... or sqlite:///path)")
	flag.Parse()

	if *dbURL == "" {
		logger.Fatal("missing database URL: provide via -database or DATABASE_URL")
	}
	if len(flag.Args()) == 0 {
		logger.Fatal("usage: migrate [up|down|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := sqlstore.Open(*dbURL)
	if err != nil {
		logger.WithError(err).Fatal("open database")
	}
	defer store.Close()

	mgr, err := migrate.ForDialect(store.DB(), store.Dialect())
	if err != nil {
		logger.WithError(err).Fatal("load migrations")
	}

	switch cmd := flag.Arg(0); cmd {
	case "up":
		applied, err := mgr.Up(ctx)
		exitOn(logger, cmd, err)
		if len(applied) == 0 {
			logger.Info("database is up to date")
		}
		for _, name := range applied {
			logger.WithField("migration", name).Info("applied")
		}
	case "down":
		name, err := mgr.Down(ctx)
		exitOn(logger, cmd, err)
		logger.WithField("migration", name).Info("rolled back")
	case "status":
		history, err := mgr.Status(ctx)
		exitOn(logger, cmd, err)
		for _, item := range history {
			fmt.Println(item)
		}
	default:
		logger.Fatalf("unknown command %q", cmd)
	}
}

func exitOn(logger *logrus.Logger, cmd string, err error) {
	if err != nil {
		logger.WithError(err).Fatalf("migrate %s", cmd)
	}
}
