package config

import (
	"flag"
	"fmt"
	"io"
	"os"
)

// CLIFlags holds command-line overrides. Nil fields were not supplied.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
	OllamaURL  *string
	Model      *string
	StorageDir *string
}

// ParseFlags parses the shared server flags from args. Only flags that
// were explicitly set end up non-nil.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("tabforge", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	collect := BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}
	return collect(), nil
}

// BindFlags registers the shared flags on fs so subcommands can combine
// them with their own. The returned function reports which were set and
// must be called after fs.Parse.
func BindFlags(fs *flag.FlagSet) func() CLIFlags {
	var (
		configPath, port, logLevel, dsn string
		natsURL, ollamaURL, model, dir  string
	)
	fs.StringVar(&configPath, "config", "", "path to YAML config")
	fs.StringVar(&configPath, "c", "", "path to YAML config (shorthand)")
	fs.StringVar(&port, "port", "", "HTTP listen port")
	fs.StringVar(&port, "p", "", "HTTP listen port (shorthand)")
	fs.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&dsn, "dsn", "", "PostgreSQL DSN")
	fs.StringVar(&natsURL, "nats-url", "", "NATS server URL")
	fs.StringVar(&ollamaURL, "ollama-url", "", "Ollama endpoint URL")
	fs.StringVar(&model, "model", "", "model name")
	fs.StringVar(&dir, "storage-dir", "", "local table storage directory")

	return func() CLIFlags {
		var out CLIFlags
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "config", "c":
				out.ConfigPath = &configPath
			case "port", "p":
				out.Port = &port
			case "log-level":
				out.LogLevel = &logLevel
			case "dsn":
				out.DSN = &dsn
			case "nats-url":
				out.NatsURL = &natsURL
			case "ollama-url":
				out.OllamaURL = &ollamaURL
			case "model":
				out.Model = &model
			case "storage-dir":
				out.StorageDir = &dir
			}
		})
		return out
	}
}

// LoadWithCLI loads configuration using defaults < YAML < ENV < CLI and
// returns the YAML path that was consulted.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if v := os.Getenv("TABFORGE_CONFIG"); v != "" {
		path = v
	}
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, path, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, path, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

func applyCLI(cfg *Config, f CLIFlags) {
	apply := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	apply(&cfg.Server.Port, f.Port)
	apply(&cfg.Logging.Level, f.LogLevel)
	apply(&cfg.Postgres.DSN, f.DSN)
	apply(&cfg.NATS.URL, f.NatsURL)
	apply(&cfg.Ollama.URL, f.OllamaURL)
	apply(&cfg.Ollama.Model, f.Model)
	apply(&cfg.Storage.Dir, f.StorageDir)
}
