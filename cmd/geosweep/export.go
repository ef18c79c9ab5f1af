package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/rendis/geosweep/internal/engine/storage"
)

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export a .db file to CSV or JSON",
		UsageText: `geosweep export --db ./projects/geosweep_20260212_101500.db
geosweep export --db data.db --output leads.json --format json`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Usage: "path to .db file", Required: true},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output file (default: next to the db)"},
			&cli.StringFlag{Name: "format", Value: "csv", Usage: "csv or json"},
		},
		Action: runExport,
	}
}

func runExport(c *cli.Context) error {
	dbPath := c.String("db")
	format := c.String("format")
	if format != "csv" && format != "json" {
		return fmt.Errorf("unsupported format: %s (csv or json)", format)
	}
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("opening db: %w", err)
	}

	outputPath := c.String("output")
	if outputPath == "" {
		dir := filepath.Dir(dbPath)
		base := strings.TrimSuffix(filepath.Base(dbPath), ".db")
		outputPath = filepath.Join(dir, base+"."+format)
	}

	store, err := storage.NewStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	places, err := store.LoadPlaces(context.Background())
	if err != nil {
		return fmt.Errorf("loading db: %w", err)
	}
	if len(places) == 0 {
		return fmt.Errorf("no places found in database")
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer f.Close()

	if format == "json" {
		err = storage.WriteJSON(f, places)
	} else {
		err = storage.WriteCSV(f, places)
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", format, err)
	}

	fmt.Fprintf(os.Stderr, "Exported %d places to %s\n", len(places), outputPath)
	return nil
}
