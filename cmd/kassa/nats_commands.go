package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
	natspkg "github.com/vterekhov/kassa/service/nats"
)

// subscribeCommand subscribes to ledger events for a project.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to ledger events for a project",
		ArgsUsage: "<project-id>",
		Description: `Subscribe to real-time ledger events published to NATS JetStream.

This command connects to NATS and streams verification or control point events
for the specified project. Events are published to the subjects:
  ledger.verifications.{project_id}
  ledger.control-points.{project_id}

Example:
  kassa nats subscribe 7 --kind verifications --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "kind",
				Aliases: []string{"k"},
				Usage:   "Event kind: verifications, control-points or all",
				Value:   "verifications",
			},
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "kassa-cli",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("project ID is required")
			}

			projectID, err := strconv.ParseInt(c.Args().First(), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid project ID: %w", err)
			}

			subject, err := subjectFor(c.String("kind"), projectID)
			if err != nil {
				return err
			}

			return streamEvents(subject, c.String("nats-url"), c.Bool("durable"), c.String("consumer-name"), c.Bool("json"))
		},
	}
}

// subjectFor maps an event kind flag to its JetStream filter subject.
func subjectFor(kind string, projectID int64) (string, error) {
	switch kind {
	case "verifications":
		return fmt.Sprintf("ledger.verifications.%d", projectID), nil
	case "control-points":
		return fmt.Sprintf("ledger.control-points.%d", projectID), nil
	case "all":
		return fmt.Sprintf("ledger.*.%d", projectID), nil
	default:
		return "", fmt.Errorf("unknown event kind %q (use verifications, control-points or all)", kind)
	}
}

// streamEvents connects to NATS and streams ledger events.
func streamEvents(subject, natsURL string, durable bool, consumerName string, jsonOutput bool) error {
	// Connect to NATS
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !jsonOutput {
		fmt.Printf("📡 Subscribing to: %s\n", subject)
		fmt.Printf("   NATS: %s\n", natsURL)
		if durable {
			fmt.Printf("   Consumer: %s (durable)\n", consumerName)
		}
		fmt.Printf("\nWaiting for events... (Ctrl-C to exit)\n\n")
	}

	// Create consumer config
	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}

	if durable {
		consumerConfig.Durable = consumerName
		consumerConfig.Name = consumerName
	}

	// Create or update consumer
	cons, err := js.CreateOrUpdateConsumer(context.Background(), natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Receive messages
	msgChan := make(chan jetstream.Msg, 10)

	// Start consuming in background
	go func() {
		_, _ = cons.Consume(func(msg jetstream.Msg) {
			msgChan <- msg
		})
	}()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			count++

			if jsonOutput {
				// Output raw JSON
				fmt.Println(string(msg.Data()))
				msg.Ack()
				continue
			}

			printEvent(msg, count)
			msg.Ack()

		case <-sigChan:
			if !jsonOutput {
				fmt.Printf("\n\n✅ Received %d events\n", count)
				fmt.Println("Shutting down...")
			}
			return nil
		}
	}
}

// printEvent renders one event in a human-friendly form, keyed off the subject.
func printEvent(msg jetstream.Msg, count int) {
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("Event #%d  (%s)\n", count, msg.Subject())
	fmt.Printf("─────────────────────────────────────────────────────\n")

	switch {
	case isVerificationSubject(msg.Subject()):
		var event natspkg.VerificationEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
			return
		}
		fmt.Printf("Transaction:  %d\n", event.TransactionID)
		fmt.Printf("Project:      %d\n", event.ProjectID)
		fmt.Printf("Hash:         %s\n", event.Hash)
		fmt.Printf("Chain:        %s\n", event.Chain)
		fmt.Printf("Ledger:       %s\n", event.LedgerAmount.String())
		fmt.Printf("Recorded:     %s\n", event.RecordedSum.String())
		fmt.Printf("Confirmed:    %v\n", event.Confirmed)
		if event.ExplorerLink != "" {
			fmt.Printf("Explorer:     %s\n", event.ExplorerLink)
		}
		fmt.Printf("Published:    %s\n", event.PublishedAt.Format(time.RFC3339))
	default:
		var event natspkg.ControlPointEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
			return
		}
		fmt.Printf("Project:      %d\n", event.ProjectID)
		fmt.Printf("Event ID:     %d\n", event.EventID)
		for currency, amount := range event.Balances {
			fmt.Printf("  %s: %s\n", currency, amount.String())
		}
		fmt.Printf("Published:    %s\n", event.PublishedAt.Format(time.RFC3339))
	}
	fmt.Printf("\n")
}

func isVerificationSubject(subject string) bool {
	const prefix = "ledger.verifications."
	return len(subject) >= len(prefix) && subject[:len(prefix)] == prefix
}

// inspectStreamCommand shows information about the NATS JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the LEDGER JetStream stream",
		Description: `Show information about the JetStream stream including:
- Message count
- Consumers
- Storage usage
- Stream configuration

Example:
  kassa nats inspect-stream`,
		Action: func(c *cli.Context) error {
			natsURL := c.String("nats-url")
			jsonOutput := c.Bool("json")

			// Connect to NATS
			nc, err := nats.Connect(natsURL)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			// Get stream info
			stream, err := js.Stream(context.Background(), natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if jsonOutput {
				return outputJSON(c, info)
			}

			fmt.Printf("Stream: %s\n", info.Config.Name)
			fmt.Printf("─────────────────────────────────────────────────────\n")
			fmt.Printf("Description:  %s\n", info.Config.Description)
			fmt.Printf("Subjects:     %v\n", info.Config.Subjects)
			fmt.Printf("Messages:     %d\n", info.State.Msgs)
			fmt.Printf("Bytes:        %d\n", info.State.Bytes)
			fmt.Printf("First Seq:    %d\n", info.State.FirstSeq)
			fmt.Printf("Last Seq:     %d\n", info.State.LastSeq)
			fmt.Printf("Consumers:    %d\n", info.State.Consumers)
			fmt.Printf("Max Age:      %s\n", info.Config.MaxAge)
			fmt.Printf("Storage:      %s\n", info.Config.Storage)
			fmt.Printf("\n")

			return nil
		},
	}
}
