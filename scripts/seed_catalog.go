package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"courtbook/internal/catalog"
	"courtbook/internal/database"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		catalogPath = flag.String("catalog", "configs/catalog.yaml", "path to catalog.yaml")
		dbPath      = flag.String("db", "./data/courtbook.db", "path to sqlite db")
	)
	flag.Parse()

	c, err := catalog.Load(*catalogPath)
	if err != nil {
		return err
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := catalog.Apply(ctx, db, c, &logger)
	if err != nil {
		return err
	}

	fmt.Printf("done: venues=%d skipped=%d courts=%d templates=%d holidays=%d\n",
		res.Venues, res.SkippedVenues, res.Courts, res.Templates, res.Holidays)
	return nil
}
