package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"github.com/vterekhov/kassa/service/db"
	"github.com/vterekhov/kassa/service/ledger"
)

func listTransactionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-transactions",
		Usage:   "List ledger transactions for a project",
		Aliases: []string{"txs"},
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:     "project",
				Aliases:  []string{"p"},
				Usage:    "Project (chat) ID",
				Required: true,
			},
			&cli.Int64Flag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "Filter by user ID",
			},
			&cli.StringFlag{
				Name:  "from",
				Usage: "Show transactions created at or after this time (RFC3339)",
			},
			&cli.StringFlag{
				Name:  "to",
				Usage: "Show transactions created before this time (RFC3339)",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx := context.Background()
			projectID := c.Int64("project")

			var transactions []ledger.Transaction

			switch {
			case c.String("from") != "" || c.String("to") != "":
				from, to, err := parseRangeFlags(c)
				if err != nil {
					return err
				}
				transactions, err = store.ListTransactionsByTimeRange(ctx, db.ListTransactionsByTimeRangeParams{
					ProjectID: projectID,
					StartTime: from,
					EndTime:   to,
				})
				if err != nil {
					return fmt.Errorf("failed to list transactions: %w", err)
				}
			case c.Int64("user") != 0:
				transactions, err = store.ListTransactionsByUser(ctx, projectID, c.Int64("user"))
				if err != nil {
					return fmt.Errorf("failed to list transactions: %w", err)
				}
			default:
				transactions, err = store.ListTransactionsByProject(ctx, projectID)
				if err != nil {
					return fmt.Errorf("failed to list transactions: %w", err)
				}
			}

			if c.Bool("json") {
				return outputJSON(c, transactions)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUSER\tDIR\tCURRENCY\tAMOUNT\tCHAIN\tHASH\tCREATED")
			for _, tx := range transactions {
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
					tx.ID,
					tx.UserID,
					tx.Direction,
					tx.Currency,
					tx.Amount.String(),
					tx.CryptoType,
					truncateHash(tx.Hash),
					tx.Created.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d transactions\n", len(transactions))
			return nil
		},
	}
}

func listTransfersCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-transfers",
		Usage:     "List recorded chain transfers for a transaction hash",
		Aliases:   []string{"transfers"},
		ArgsUsage: "<hash>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction hash")
			}

			hash := c.Args().First()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			transfers, err := store.ListChainTransfersByHash(context.Background(), hash)
			if err != nil {
				return fmt.Errorf("failed to list transfers: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c, transfers)
			}

			if len(transfers) == 0 {
				fmt.Println("No recorded transfers for this hash")
				return nil
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCHAIN\tAMOUNT\tTOKEN\tCREATED")
			sum := decimal.Zero
			for _, t := range transfers {
				sum = sum.Add(t.Amount)
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					t.ID,
					t.Chain,
					t.Amount.String(),
					t.Token,
					t.Created.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nRecorded sum: %s (%d transfers)\n", sum.String(), len(transfers))
			return nil
		},
	}
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:  "balance",
		Usage: "Fold the transaction log into a balance sheet",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:     "project",
				Aliases:  []string{"p"},
				Usage:    "Project (chat) ID",
				Required: true,
			},
			&cli.Int64Flag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "Narrow to one participant",
			},
			&cli.StringSliceFlag{
				Name:  "currency",
				Usage: "Currencies rendered on the sheet (repeatable)",
				Value: cli.NewStringSlice("USD ($)", "USDT (₮)"),
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx := context.Background()
			projectID := c.Int64("project")
			userID := c.Int64("user")
			currencies := c.StringSlice("currency")

			var transactions []ledger.Transaction
			if userID != 0 {
				transactions, err = store.ListTransactionsByUser(ctx, projectID, userID)
			} else {
				transactions, err = store.ListTransactionsByProject(ctx, projectID)
			}
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
			aggregator := ledger.NewAggregator(nil, logger)
			sheet := aggregator.Aggregate(currencies, transactions)

			if c.Bool("json") {
				return outputJSON(c, map[string]interface{}{
					"project_id": projectID,
					"user_id":    userID,
					"balances":   sheet,
					"total":      sheet.Total(),
				})
			}

			// Pretty output
			fmt.Printf("Project:  %d\n", projectID)
			if userID != 0 {
				fmt.Printf("User:     %d\n", userID)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, currency := range currencies {
				fmt.Fprintf(w, "%s\t%s\n", currency, sheet[currency].String())
			}
			w.Flush()
			fmt.Printf("Total:    %s\n", sheet.Total().String())

			return nil
		},
	}
}

// Helper function to connect to the database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	// Try to get from parent context first (for global flags)
	dbURL := c.String("database-url")
	if dbURL == "" && c.App != nil {
		// Try environment variable directly if flag not found
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool, nil)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// parseRangeFlags reads the --from/--to flags, filling open ends.
func parseRangeFlags(c *cli.Context) (time.Time, time.Time, error) {
	from := time.Unix(0, 0).UTC()
	to := time.Now().UTC()

	if s := c.String("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from (use RFC3339): %w", err)
		}
		from = t
	}
	if s := c.String("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to (use RFC3339): %w", err)
		}
		to = t
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to must not be before --from")
	}
	return from, to, nil
}

// truncateHash shortens long hashes for table output.
func truncateHash(hash string) string {
	if len(hash) <= 16 {
		return hash
	}
	return hash[:8] + "…" + hash[len(hash)-8:]
}
