package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"github.com/vterekhov/kassa/client"
)

func resolveCommand() *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "Resolve a transaction hash live against its chain explorer",
		ArgsUsage: "<hash>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "chain",
				Aliases:  []string{"c"},
				Usage:    "Explorer family: tronscan, etherscan, bscscan or blockchain",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction hash")
			}

			hash := c.Args().First()
			ledgerClient, err := getClient(c)
			if err != nil {
				return err
			}

			transfers, err := ledgerClient.ResolveChainTransaction(context.Background(), hash, c.String("chain"))
			if err != nil {
				return fmt.Errorf("failed to resolve transaction: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c, transfers)
			}

			if len(transfers) == 0 {
				fmt.Println("No transfers found on chain")
				return nil
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CHAIN\tAMOUNT\tTOKEN")
			sum := decimal.Zero
			for _, t := range transfers {
				sum = sum.Add(t.Amount)
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.Chain, t.Amount.String(), t.Token)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nOn-chain sum: %s (%d transfers)\n", sum.String(), len(transfers))
			return nil
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Reconcile one ledger transaction against its chain",
		ArgsUsage: "<transaction-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction ID")
			}

			transactionID, err := strconv.ParseInt(c.Args().First(), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid transaction ID: %w", err)
			}

			ledgerClient, err := getClient(c)
			if err != nil {
				return err
			}

			verification, err := ledgerClient.VerifyTransaction(context.Background(), transactionID)
			if err != nil {
				return fmt.Errorf("failed to verify transaction: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c, verification)
			}

			// Pretty output
			if verification.Confirmed {
				fmt.Printf("✓ Transaction %d confirmed\n", transactionID)
			} else {
				fmt.Printf("✗ Transaction %d NOT confirmed\n", transactionID)
			}
			fmt.Printf("  Recorded sum: %s\n", verification.RecordedSum.String())
			if verification.ExplorerLink != "" {
				fmt.Printf("  Explorer:     %s\n", verification.ExplorerLink)
			}

			return nil
		},
	}
}

// Helper function to build the HTTP API client
func getClient(c *cli.Context) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
	}
	return client.NewClient(serverURL, nil, nil), nil
}
