package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"bugtrail/internal/app"
	"bugtrail/internal/domain"
	"bugtrail/internal/engine"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Create and close tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskAssignCmd())
	task.AddCommand(taskCloseCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskLogsCmd())
	task.AddCommand(taskImageCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var imagePath string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task (developers)",
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := readImage(imagePath)
			if err != nil {
				return err
			}
			opts.Image = img
			return withActor(cmd.Context(), func(ctx context.Context, a *app.Context, actor int64) error {
				t, err := a.Engine.CreateTask(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().Int64Var(&opts.ProjectID, "project", 0, "project id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "task title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "details")
	cmd.Flags().StringVar(&opts.Priority, "priority", "MEDIUM", "LOW, MEDIUM, HIGH or CRITICAL")
	cmd.Flags().StringVar(&imagePath, "image", "", "image file")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskAssignCmd() *cobra.Command {
	var tester int64
	cmd := &cobra.Command{
		Use:   "assign <task-id>",
		Short: "Assign a task to a tester (admins)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("task", args[0])
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.Context, actor int64) error {
				t, err := a.Engine.AssignTask(ctx, actor, id, tester)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().Int64Var(&tester, "tester", 0, "tester user id")
	_ = cmd.MarkFlagRequired("tester")
	return cmd
}

func taskCloseCmd() *cobra.Command {
	var comment, imagePath string
	cmd := &cobra.Command{
		Use:   "close <task-id>",
		Short: "Close a task (testers)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("task", args[0])
			if err != nil {
				return err
			}
			img, err := readImage(imagePath)
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.Context, actor int64) error {
				t, err := a.Engine.CloseTaskByTester(ctx, actor, id, comment, img)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "closing comment")
	cmd.Flags().StringVar(&imagePath, "image", "", "screenshot attached to the closing log")
	return cmd
}

func taskListCmd() *cobra.Command {
	var opts engine.TaskListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks you can see",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.Context, actor int64) error {
				tasks, err := a.Engine.ListTasks(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
	cmd.Flags().Int64Var(&opts.ProjectID, "project", 0, "project id")
	cmd.Flags().StringVar(&opts.Status, "status", "", "status filter")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("task", args[0])
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.Context, actor int64) error {
				t, err := a.Engine.GetTask(ctx, actor, id)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
}

func taskLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs <task-id>",
		Short: "Show a task's history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("task", args[0])
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.Context, actor int64) error {
				logs, err := a.Engine.GetTaskLogs(ctx, actor, id)
				if err != nil {
					return err
				}
				return printLogs(logs)
			})
		},
	}
}

func taskImageCmd() *cobra.Command {
	var original bool
	var logID int64
	var out string
	cmd := &cobra.Command{
		Use:   "image <task-id>",
		Short: "Save a task's image, or a log record's image",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (logID == 0) {
				return fmt.Errorf("pass either a task id or --log")
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.Context, actor int64) error {
				var img *domain.Attachment
				var err error
				if logID > 0 {
					img, err = a.Engine.TaskLogImage(ctx, actor, logID)
				} else {
					var id int64
					if id, err = parseID("task", args[0]); err != nil {
						return err
					}
					img, err = a.Engine.TaskImage(ctx, actor, id, original)
				}
				if err != nil {
					return err
				}
				return writeImage(out, img)
			})
		},
	}
	cmd.Flags().BoolVar(&original, "original", false, "the image the task was created with")
	cmd.Flags().Int64Var(&logID, "log", 0, "log record id")
	cmd.Flags().StringVarP(&out, "output", "o", "-", "output file")
	return cmd
}
