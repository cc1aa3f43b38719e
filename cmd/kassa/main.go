package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/itchyny/gojq"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// Load .env if present; flags and real env vars still win.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "kassa",
		Usage: "Shared cash ledger and chain reconciliation service CLI",
		Description: `A command-line tool for managing and debugging the kassa service.

Use this CLI to inspect ledger state, resolve chain transactions, manage
reconciliation schedules, and stream verification events.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Database inspection commands
			{
				Name:  "db",
				Usage: "Database inspection commands",
				Subcommands: []*cli.Command{
					listTransactionsCommand(),
					listTransfersCommand(),
					balanceCommand(),
				},
			},
			// Chain explorer commands (via the HTTP API)
			{
				Name:  "chain",
				Usage: "Chain explorer commands",
				Subcommands: []*cli.Command{
					resolveCommand(),
				},
			},
			// Reconcile a single ledger row on demand
			verifyCommand(),
			// Temporal inspection and management commands
			{
				Name:  "temporal",
				Usage: "Temporal inspection and management commands",
				Subcommands: []*cli.Command{
					listSchedulesCommand(),
					describeScheduleCommand(),
					createScheduleCommand(),
					pauseScheduleCommand(),
					resumeScheduleCommand(),
					deleteScheduleCommand(),
					triggerScheduleCommand(),
				},
			},
			// NATS event streaming commands
			{
				Name:  "nats",
				Usage: "NATS event streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					inspectStreamCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Ledger service URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.StringFlag{
				Name:    "filter",
				Aliases: []string{"f"},
				Usage:   "jq expression applied to JSON output",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// outputJSON writes v to stdout as indented JSON, applying the global
// --filter jq expression when one is set.
func outputJSON(c *cli.Context, v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	filter := c.String("filter")
	if filter == "" {
		return enc.Encode(v)
	}

	query, err := gojq.Parse(filter)
	if err != nil {
		return fmt.Errorf("invalid filter expression: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return fmt.Errorf("failed to compile filter: %w", err)
	}

	// Round-trip through generic JSON so gojq can walk the value.
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("failed to unmarshal output: %w", err)
	}

	iter := code.Run(generic)
	for {
		out, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := out.(error); isErr {
			return fmt.Errorf("filter evaluation failed: %w", err)
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	return nil
}
