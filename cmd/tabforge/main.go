// Command tabforge runs the TabForge synthetic table service and its
// command-line tools.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// run dispatches subcommands. Without one, or when the first argument is a
// flag, the HTTP server runs.
func run(args []string) error {
	cmd := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return runServe(args, true)
	case "worker":
		return runServe(args, false)
	case "generate":
		return runGenerate(args)
	case "fill":
		return runFill(args)
	case "migrate":
		return runMigrate(args)
	case "help":
		printHelp()
		return nil
	default:
		printHelp()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: tabforge <command> [options]

Commands:
  serve      Run the HTTP API, status relay, janitor and job worker (default)
  worker     Run only the job worker
  generate   Generate a table from a prompt via Ollama and print or save it
  fill       Fill missing columns and rows of a CSV file without the model
  migrate    Apply database migrations, or roll back with -down N
  help       Show this help message

Shared options:
  -config, -c     path to YAML config (default tabforge.yaml)
  -port, -p       HTTP listen port
  -log-level      debug, info, warn, error
  -dsn            PostgreSQL DSN
  -nats-url       NATS server URL
  -ollama-url     Ollama endpoint URL
  -model          model name
  -storage-dir    local table storage directory

Examples:
  tabforge serve -port 8000
  tabforge generate -prompt "20 rows with columns name, surname, age" -out people.csv
  tabforge fill -in people.csv -prompt "columns name, salary, gender"
  tabforge migrate -down 1
`)
}
