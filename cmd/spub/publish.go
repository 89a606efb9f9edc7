package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/elsanchez/smart-publish/pkg/client"
)

func cadenceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "per-day",
			Usage: "Schedule instead of publishing now: videos per day",
		},
		&cli.StringSliceFlag{
			Name:  "slot",
			Usage: "Publishing time HH:MM (repeatable; default: daemon slots)",
		},
		&cli.IntFlag{
			Name:  "start-days",
			Usage: "Days from today for the first scheduled video",
		},
	}
}

func cadenceFrom(cmd *cli.Command) client.Cadence {
	perDay := int(cmd.Int("per-day"))
	return client.Cadence{
		Enabled:   perDay > 0,
		PerDay:    perDay,
		Slots:     cmd.StringSlice("slot"),
		StartDays: int(cmd.Int("start-days")),
	}
}

func publishCommand() *cli.Command {
	return &cli.Command{
		Name:      "publish",
		Aliases:   []string{"p"},
		Usage:     "Publish a video with one account",
		ArgsUsage: "<file>",
		Flags: append([]cli.Flag{
			&cli.Int64Flag{
				Name:     "account",
				Aliases:  []string{"a"},
				Usage:    "Account ID",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "title",
				Aliases: []string{"t"},
				Usage:   "Title (default: file name)",
			},
			&cli.StringSliceFlag{
				Name:  "tag",
				Usage: "Tag (repeatable)",
			},
			&cli.StringFlag{
				Name:  "at",
				Usage: "Scheduled time, RFC 3339 or \"2006-01-02 15:04\" local",
			},
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Follow the task until it finishes",
			},
		}, cadenceFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return fmt.Errorf("exactly one file is required")
			}
			path, err := filepath.Abs(cmd.Args().First())
			if err != nil {
				return err
			}

			req := &client.PublishRequest{
				ContentPath: path,
				AccountID:   cmd.Int64("account"),
				Title:       cmd.String("title"),
				Tags:        cmd.StringSlice("tag"),
			}
			if cadence := cadenceFrom(cmd); cadence.Enabled {
				req.Cadence = &cadence
			}
			if at := cmd.String("at"); at != "" {
				t, err := parseTime(at)
				if err != nil {
					return err
				}
				req.ScheduledAt = &t
			}

			c := newClient(cmd)
			task, err := c.Publish(ctx, req)
			if err != nil {
				if client.IsConflict(err) && task != nil {
					printTask(task)
				}
				return err
			}

			fmt.Printf("✓ Task queued: %s\n", task.ID)
			if !cmd.Bool("wait") {
				printTask(task)
				return nil
			}
			return follow(ctx, c, task.ID)
		},
	}
}

func batchCommand() *cli.Command {
	return &cli.Command{
		Name:      "batch",
		Usage:     "Publish every file with every given account",
		ArgsUsage: "<file>...",
		Flags: append([]cli.Flag{
			&cli.Int64SliceFlag{
				Name:     "account",
				Aliases:  []string{"a"},
				Usage:    "Account ID (repeatable)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "title",
				Usage: "Title for all videos (default: each file name)",
			},
			&cli.StringSliceFlag{
				Name:  "tag",
				Usage: "Tag (repeatable)",
			},
		}, cadenceFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() == 0 {
				return fmt.Errorf("at least one file is required")
			}

			files := make([]string, 0, cmd.NArg())
			for _, arg := range cmd.Args().Slice() {
				path, err := filepath.Abs(arg)
				if err != nil {
					return err
				}
				files = append(files, path)
			}

			tasks, err := newClient(cmd).PublishBatch(ctx, &client.BatchRequest{
				Files:      files,
				AccountIDs: cmd.Int64Slice("account"),
				Title:      cmd.String("title"),
				Tags:       cmd.StringSlice("tag"),
				Cadence:    cadenceFrom(cmd),
			})
			if err != nil && len(tasks) == 0 {
				return err
			}

			fmt.Printf("✓ %d tasks queued\n\n", len(tasks))
			for i := range tasks {
				printTask(&tasks[i])
			}
			return err
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show a task",
		ArgsUsage: "<task-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Follow the task until it finishes",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("task ID is required")
			}

			c := newClient(cmd)
			if cmd.Bool("wait") {
				return follow(ctx, c, id)
			}

			task, err := c.GetTask(ctx, id)
			if err != nil {
				return err
			}
			printTask(task)
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Aliases:   []string{"ls"},
		Usage:     "List recent tasks",
		ArgsUsage: "[limit]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "state",
				Aliases: []string{"s"},
				Usage:   "Only tasks in this state",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			limit := 50
			if arg := cmd.Args().First(); arg != "" {
				n, err := strconv.Atoi(arg)
				if err != nil {
					return fmt.Errorf("invalid limit: %s", arg)
				}
				limit = n
			}

			tasks, err := newClient(cmd).ListTasks(ctx, cmd.String("state"), limit)
			if err != nil {
				return err
			}

			if len(tasks) == 0 {
				fmt.Println("No tasks found")
				return nil
			}

			fmt.Printf("Recent tasks (%d):\n\n", len(tasks))
			for i := range tasks {
				printTask(&tasks[i])
			}
			return nil
		},
	}
}

func cancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel a running task",
		ArgsUsage: "<task-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("task ID is required")
			}

			task, err := newClient(cmd).CancelTask(ctx, id)
			if err != nil {
				return err
			}
			fmt.Println("✓ Task cancelled")
			printTask(task)
			return nil
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show daemon statistics",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			stats, err := newClient(cmd).Stats(ctx)
			if err != nil {
				return err
			}

			fmt.Println("Task Statistics:")
			fmt.Println()
			for _, state := range []string{"pending", "authenticating", "uploading", "retrying", "scheduling", "publishing", "completed", "failed"} {
				fmt.Printf("  %-15s %d\n", state+":", stats.Tasks.ByState[state])
			}
			fmt.Println()
			fmt.Printf("  Workers:        %d / %d busy\n", stats.Tasks.WorkersBusy, stats.Tasks.Workers)
			fmt.Printf("  Running:        %d\n", stats.Tasks.Running)
			fmt.Printf("  Active logins:  %d\n", stats.ActiveLogins)
			fmt.Printf("  Subscribers:    %d (%d dropped)\n", stats.Subscribers, stats.Dropped)
			return nil
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Stream task state changes",
		ArgsUsage: "[task-id]...",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var topics []string
			for _, id := range cmd.Args().Slice() {
				topics = append(topics, "task:"+id)
			}

			return newClient(cmd).Watch(ctx, topics, func(ev client.Event) bool {
				data, err := ev.TaskEvent()
				if err != nil || data.TaskID == "" {
					fmt.Printf("%s %s %s\n", ev.At.Local().Format(time.TimeOnly), ev.Topic, ev.Type)
					return true
				}
				printEvent(ev.At, data)
				return true
			})
		},
	}
}

// follow muestra los cambios de estado de una tarea hasta que termina
func follow(ctx context.Context, c *client.Client, id string) error {
	task, err := c.WaitTask(ctx, id, func(ev client.TaskEventData) {
		printEvent(time.Now(), &ev)
	})
	if err != nil {
		return err
	}

	fmt.Println()
	printTask(task)
	if task.State == "failed" {
		return fmt.Errorf("task %s failed", task.ID)
	}
	return nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: use RFC 3339 or \"2006-01-02 15:04\"", s)
	}
	return t, nil
}

func printEvent(at time.Time, ev *client.TaskEventData) {
	line := fmt.Sprintf("%s %s → %s", at.Local().Format(time.TimeOnly), ev.TaskID, ev.State)
	if ev.Attempts > 0 {
		line += fmt.Sprintf(" (attempt %d)", ev.Attempts)
	}
	if ev.Error != nil {
		line += fmt.Sprintf(" [%s] %s", ev.Error.Kind, ev.Error.Reason)
	}
	fmt.Println(line)
}

func printTask(t *client.Task) {
	fmt.Printf("ID: %s\n", t.ID)
	fmt.Printf("  File:     %s\n", t.ContentPath)
	fmt.Printf("  Account:  %d (%s)\n", t.AccountID, t.Platform)
	fmt.Printf("  Title:    %s\n", t.Title)
	fmt.Printf("  State:    %s\n", t.State)

	if t.Attempts > 0 {
		fmt.Printf("  Retries:  %d\n", t.Attempts)
	}
	if t.ScheduledAt != nil {
		fmt.Printf("  Publish:  %s\n", t.ScheduledAt.Local().Format("2006-01-02 15:04"))
	}
	if t.Error != nil {
		fmt.Printf("  Error:    [%s] %s\n", t.Error.Kind, t.Error.Reason)
	}
	if t.Result != nil && t.Result.URL != "" {
		fmt.Printf("  URL:      %s\n", t.Result.URL)
	}

	fmt.Println()
}
