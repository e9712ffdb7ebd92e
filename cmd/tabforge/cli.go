package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/Strob0t/TabForge/internal/adapter/csvfile"
	"github.com/Strob0t/TabForge/internal/adapter/postgres"
	"github.com/Strob0t/TabForge/internal/domain/dataset"
	"github.com/Strob0t/TabForge/internal/service"
)

// runGenerate generates one table through Ollama without the queue.
func runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	prompt := fs.String("prompt", "", "table description (required)")
	rows := fs.Int("rows", 0, "row count; overrides a count in the prompt")
	out := fs.String("out", "", "write CSV to this file instead of stdout")
	cfg, flush, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	defer flush()
	if *prompt == "" {
		return errors.New("generate: -prompt is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gen := service.NewGenerationService(newCompleter(cfg), cfg.Ollama.Timeout)
	t := gen.Generate(ctx, *prompt, *rows)
	if t.Len() == 0 {
		fmt.Fprintln(os.Stderr, "warning: the model returned no usable rows")
	}
	return emit(t, *out)
}

// runFill fills missing columns and rows of a CSV file offline.
func runFill(args []string) error {
	fs := flag.NewFlagSet("fill", flag.ContinueOnError)
	in := fs.String("in", "", "input CSV file (required)")
	prompt := fs.String("prompt", "", "columns and row count to reach")
	out := fs.String("out", "", "write CSV to this file instead of stdout")
	_, flush, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	defer flush()
	if *in == "" {
		return errors.New("fill: -in is required")
	}

	f, err := os.Open(*in)
	if err != nil {
		return fmt.Errorf("open %s: %w", *in, err)
	}
	t, err := csvfile.Decode(f)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("read %s: %w", *in, err)
	}

	gen := service.NewGenerationService(nil, 0)
	return emit(*gen.Fill(&t, *prompt), *out)
}

// runMigrate applies all migrations, or rolls back -down steps.
func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	down := fs.Int("down", 0, "roll back this many migrations")
	cfg, flush, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	defer flush()

	ctx := context.Background()
	if *down > 0 {
		err = postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *down)
	} else {
		err = postgres.RunMigrations(ctx, cfg.Postgres.DSN)
	}
	if err != nil {
		return err
	}
	version, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Printf("database at migration version %d\n", version)
	return nil
}

// emit writes t to path, or to stdout as an aligned table on a terminal and
// as CSV otherwise.
func emit(t dataset.Table, path string) error {
	if path != "" {
		if err := writeOutput(path, func(f *os.File) error { return csvfile.Encode(f, t) }); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %d rows to %s\n", t.Len(), path)
		return nil
	}
	if term.IsTerminal(int(os.Stdout.Fd())) { //nolint:gosec // fd fits in int
		return printTable(os.Stdout, t)
	}
	return csvfile.Encode(os.Stdout, t)
}

func printTable(w io.Writer, t dataset.Table) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(t.Columns, "\t"))
	for i := range t.Rows {
		cells := t.Cells(i)
		parts := make([]string, len(cells))
		for j, v := range cells {
			if v != nil {
				parts[j] = fmt.Sprint(v)
			}
		}
		fmt.Fprintln(tw, strings.Join(parts, "\t"))
	}
	return tw.Flush()
}
