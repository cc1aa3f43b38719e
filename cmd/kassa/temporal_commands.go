package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"
)

// scheduleIDForProject returns the schedule ID the worker expects for a project.
func scheduleIDForProject(projectID int64) string {
	return "reconcile-project-" + strconv.FormatInt(projectID, 10)
}

func listSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-schedules",
		Usage:   "List all Temporal schedules",
		Aliases: []string{"ls"},
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			iter, err := temporalClient.ScheduleClient().List(ctx, client.ScheduleListOptions{
				PageSize: 100,
			})
			if err != nil {
				return fmt.Errorf("failed to list schedules: %w", err)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCHEDULE ID")
			count := 0
			for iter.HasNext() {
				schedule, err := iter.Next()
				if err != nil {
					return fmt.Errorf("failed to iterate schedules: %w", err)
				}
				fmt.Fprintf(w, "%s\n", schedule.ID)
				count++
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d schedules\n", count)
			return nil
		},
	}
}

func describeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe-schedule",
		Usage:     "Describe a project's reconciliation schedule",
		Aliases:   []string{"desc"},
		ArgsUsage: "<project-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: project ID")
			}

			projectID, err := strconv.ParseInt(c.Args().First(), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid project ID: %w", err)
			}

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			scheduleID := scheduleIDForProject(projectID)
			handle := temporalClient.ScheduleClient().GetHandle(ctx, scheduleID)
			desc, err := handle.Describe(ctx)
			if err != nil {
				return fmt.Errorf("failed to describe schedule: %w", err)
			}

			// Pretty output
			fmt.Printf("Schedule ID:    %s\n", scheduleID)
			fmt.Printf("State Note:     %s\n", desc.Schedule.State.Note)
			fmt.Printf("Paused:         %v\n", desc.Schedule.State.Paused)

			if action := desc.Schedule.Action; action != nil {
				if wa, ok := action.(*client.ScheduleWorkflowAction); ok {
					fmt.Printf("\nWorkflow:\n")
					fmt.Printf("  Workflow:     %s\n", wa.Workflow)
					fmt.Printf("  Task Queue:   %s\n", wa.TaskQueue)
					fmt.Printf("  Args:         %v\n", wa.Args)
				}
			}

			if len(desc.Schedule.Spec.Intervals) > 0 {
				fmt.Printf("\nSchedule Spec:\n")
				for i, interval := range desc.Schedule.Spec.Intervals {
					fmt.Printf("  Interval %d:   Every %v\n", i+1, interval.Every)
				}
			}

			fmt.Printf("\nRecent Actions: %d\n", len(desc.Info.RecentActions))
			if len(desc.Info.RecentActions) > 0 {
				lastAction := desc.Info.RecentActions[len(desc.Info.RecentActions)-1]
				fmt.Printf("Last Action:  %s\n", lastAction.ActualTime.Format(time.RFC3339))
			}

			return nil
		},
	}
}

func createScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "create-schedule",
		Usage:     "Create a reconciliation schedule for a project",
		ArgsUsage: "<project-id> <interval>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "task-queue",
				Usage:   "Task queue name",
				Value:   "kassa-reconciliation",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Max transactions checked per pass",
				Value: 100,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires exactly two arguments: project-id interval")
			}

			projectID, err := strconv.ParseInt(c.Args().Get(0), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid project ID: %w", err)
			}

			interval, err := time.ParseDuration(c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("invalid interval: %w", err)
			}

			taskQueue := c.String("task-queue")
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			scheduleID := scheduleIDForProject(projectID)

			scheduleSpec := client.ScheduleSpec{
				Intervals: []client.ScheduleIntervalSpec{
					{
						Every: interval,
					},
				},
			}

			workflowAction := client.ScheduleWorkflowAction{
				ID:        scheduleID,
				Workflow:  "ReconcileProjectWorkflow",
				TaskQueue: taskQueue,
				Args: []interface{}{map[string]interface{}{
					"project_id": projectID,
					"limit":      c.Int("limit"),
				}},
			}

			_, err = temporalClient.ScheduleClient().Create(ctx, client.ScheduleOptions{
				ID:     scheduleID,
				Spec:   scheduleSpec,
				Action: &workflowAction,
				Memo: map[string]interface{}{
					"project_id": projectID,
					"created_by": "kassa-cli",
				},
			})
			if err != nil {
				return fmt.Errorf("failed to create schedule: %w", err)
			}

			fmt.Printf("✓ Schedule created: %s\n", scheduleID)
			fmt.Printf("  Project: %d\n", projectID)
			fmt.Printf("  Interval: %v\n", interval)
			fmt.Printf("  Task Queue: %s\n", taskQueue)
			return nil
		},
	}
}

func pauseScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "pause-schedule",
		Usage:     "Pause a project's reconciliation schedule",
		ArgsUsage: "<project-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why schedule is paused",
				Value: "Paused via kassa CLI",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: project ID")
			}

			projectID, err := strconv.ParseInt(c.Args().First(), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid project ID: %w", err)
			}
			note := c.String("note")

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			scheduleID := scheduleIDForProject(projectID)
			handle := temporalClient.ScheduleClient().GetHandle(ctx, scheduleID)
			err = handle.Pause(ctx, client.SchedulePauseOptions{
				Note: note,
			})
			if err != nil {
				return fmt.Errorf("failed to pause schedule: %w", err)
			}

			fmt.Printf("✓ Schedule paused: %s\n", scheduleID)
			if note != "" {
				fmt.Printf("  Note: %s\n", note)
			}
			return nil
		},
	}
}

func resumeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume-schedule",
		Usage:     "Resume a paused reconciliation schedule",
		ArgsUsage: "<project-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why schedule is resumed",
				Value: "Resumed via kassa CLI",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: project ID")
			}

			projectID, err := strconv.ParseInt(c.Args().First(), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid project ID: %w", err)
			}
			note := c.String("note")

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			scheduleID := scheduleIDForProject(projectID)
			handle := temporalClient.ScheduleClient().GetHandle(ctx, scheduleID)
			err = handle.Unpause(ctx, client.ScheduleUnpauseOptions{
				Note: note,
			})
			if err != nil {
				return fmt.Errorf("failed to resume schedule: %w", err)
			}

			fmt.Printf("✓ Schedule resumed: %s\n", scheduleID)
			if note != "" {
				fmt.Printf("  Note: %s\n", note)
			}
			return nil
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete-schedule",
		Usage:     "Delete a project's reconciliation schedule",
		ArgsUsage: "<project-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Skip confirmation prompt",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: project ID")
			}

			projectID, err := strconv.ParseInt(c.Args().First(), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid project ID: %w", err)
			}
			scheduleID := scheduleIDForProject(projectID)

			// Confirm deletion unless --force
			if !c.Bool("force") {
				fmt.Printf("Are you sure you want to delete schedule %s? (yes/no): ", scheduleID)
				var response string
				fmt.Scanln(&response)
				if response != "yes" {
					fmt.Println("Cancelled")
					return nil
				}
			}

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			handle := temporalClient.ScheduleClient().GetHandle(ctx, scheduleID)
			err = handle.Delete(ctx)
			if err != nil {
				return fmt.Errorf("failed to delete schedule: %w", err)
			}

			fmt.Printf("✓ Schedule deleted: %s\n", scheduleID)
			return nil
		},
	}
}

func triggerScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "trigger-schedule",
		Usage:     "Trigger an immediate reconciliation pass for a project",
		Aliases:   []string{"trigger"},
		ArgsUsage: "<project-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: project ID")
			}

			projectID, err := strconv.ParseInt(c.Args().First(), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid project ID: %w", err)
			}

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			scheduleID := scheduleIDForProject(projectID)
			handle := temporalClient.ScheduleClient().GetHandle(ctx, scheduleID)
			err = handle.Trigger(ctx, client.ScheduleTriggerOptions{})
			if err != nil {
				return fmt.Errorf("failed to trigger schedule: %w", err)
			}

			fmt.Printf("✓ Reconciliation triggered: %s\n", scheduleID)
			return nil
		},
	}
}

// Helper function to connect to Temporal
func getTemporalClient(c *cli.Context) (client.Client, error) {
	// Try to get from parent context first (for global flags)
	host := c.String("temporal-host")
	if host == "" && c.App != nil {
		// Try environment variable directly if flag not found
		host = os.Getenv("TEMPORAL_HOST")
	}
	if host == "" {
		host = "localhost:7233" // Default value
	}

	namespace := c.String("temporal-namespace")
	if namespace == "" && c.App != nil {
		// Try environment variable directly if flag not found
		namespace = os.Getenv("TEMPORAL_NAMESPACE")
	}
	if namespace == "" {
		namespace = "default" // Default value
	}

	temporalClient, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	return temporalClient, nil
}
