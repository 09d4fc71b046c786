package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"bugtrail/internal/app"
	"bugtrail/internal/domain"
	"bugtrail/internal/engine"
)

func bugCmd() *cobra.Command {
	bug := &cobra.Command{Use: "bug", Short: "File and work bugs"}
	bug.AddCommand(bugCreateCmd())
	bug.AddCommand(bugAssignCmd())
	bug.AddCommand(bugStatusCmd())
	bug.AddCommand(bugTesterCmd("reopen", "Reopen a resolved bug you filed", func(e engine.Engine) testerFn { return e.ReopenBug }))
	bug.AddCommand(bugTesterCmd("close", "Close a resolved bug you filed", func(e engine.Engine) testerFn { return e.CloseBugByTester }))
	bug.AddCommand(bugReassignCmd())
	bug.AddCommand(bugLogCmd())
	bug.AddCommand(bugListCmd())
	bug.AddCommand(bugBreachedCmd())
	bug.AddCommand(bugShowCmd())
	bug.AddCommand(bugLogsCmd())
	bug.AddCommand(bugImageCmd())
	return bug
}

func bugCreateCmd() *cobra.Command {
	var opts engine.BugCreateOptions
	var imagePath string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "File a bug (testers)",
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := readImage(imagePath)
			if err != nil {
				return err
			}
			opts.Image = img
			return withActor(cmd.Context(), func(ctx context.Context, a *app.Context, actor int64) error {
				b, err := a.Engine.CreateBug(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printBug(b)
			})
		},
	}
	cmd.Flags().Int64Var(&opts.ProjectID, "project", 0, "project id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "bug title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "what happened")
	cmd.Flags().StringVar(&opts.Priority, "priority", "MEDIUM", "HIGH, MEDIUM or LOW")
	cmd.Flags().StringVar(&imagePath, "image", "", "screenshot file")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func bugAssignCmd() *cobra.Command {
	var developer int64
	cmd := &cobra.Command{
		Use:   "assign <bug-id>",
		Short: "Assign a bug to a developer (admins, or the current assignee)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("bug", args[0])
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.Context, actor int64) error {
				b, err := a.Engine.AssignBug(ctx, actor, id, developer)
				if err != nil {
					return err
				}
				return printBug(b)
			})
		},
	}
	cmd.Flags().Int64Var(&developer, "developer", 0, "developer user id")
	_ = cmd.MarkFlagRequired("developer")
	return cmd
}

func bugStatusCmd() *cobra.Command {
	var upd engine.BugStatusUpdate
	var imagePath string
	cmd := &cobra.Command{
		Use:   "status <bug-id>",
		Short: "Move an assigned bug to IN_PROGRESS, RESOLVED or CLOSED (assignee)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("bug", args[0])
			if err != nil {
				return err
			}
			if upd.Image, err = readImage(imagePath); err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.Context, actor int64) error {
				b, err := a.Engine.UpdateBugStatus(ctx, actor, id, upd)
				if err != nil {
					return err
				}
				return printBug(b)
			})
		},
	}
	cmd.Flags().StringVar(&upd.Status, "status", "", "target status")
	cmd.Flags().StringVar(&upd.Resolution, "resolution", "", "resolution text (required for RESOLVED)")
	cmd.Flags().StringVar(&imagePath, "image", "", "image file")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

type testerFn func(ctx context.Context, actorID, bugID int64, in engine.TesterAction) (domain.Bug, error)

func bugTesterCmd(use, short string, pick func(engine.Engine) testerFn) *cobra.Command {
	var text, imagePath string
	cmd := &cobra.Command{
		Use:   use + " <bug-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("bug", args[0])
			if err != nil {
				return err
			}
			img, err := readImage(imagePath)
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.Context, actor int64) error {
				b, err := pick(a.Engine)(ctx, actor, id, engine.TesterAction{Text: text, Image: img})
				if err != nil {
					return err
				}
				return printBug(b)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "note for the log")
	cmd.Flags().StringVar(&imagePath, "image", "", "image file")
	return cmd
}

func bugReassignCmd() *cobra.Command {
	var developer int64
	var text, imagePath string
	cmd := &cobra.Command{
		Use:   "reassign <bug-id>",
		Short: "Send a resolved bug you filed back to a project developer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("bug", args[0])
			if err != nil {
				return err
			}
			img, err := readImage(imagePath)
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.Context, actor int64) error {
				b, err := a.Engine.ReassignBugByTester(ctx, actor, id, developer, engine.TesterAction{Text: text, Image: img})
				if err != nil {
					return err
				}
				return printBug(b)
			})
		},
	}
	cmd.Flags().Int64Var(&developer, "developer", 0, "developer user id")
	cmd.Flags().StringVar(&text, "text", "", "note for the log")
	cmd.Flags().StringVar(&imagePath, "image", "", "image file")
	_ = cmd.MarkFlagRequired("developer")
	return cmd
}

func bugLogCmd() *cobra.Command {
	var text, imagePath string
	cmd := &cobra.Command{
		Use:   "log <bug-id>",
		Short: "Add a note to a bug you are assigned",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("bug", args[0])
			if err != nil {
				return err
			}
			img, err := readImage(imagePath)
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.Context, actor int64) error {
				rec, err := a.Engine.AddBugLog(ctx, actor, id, text, img)
				if err != nil {
					return err
				}
				return printLogs([]domain.LogRecord{rec})
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "note")
	cmd.Flags().StringVar(&imagePath, "image", "", "image file")
	return cmd
}

func bugListCmd() *cobra.Command {
	var opts engine.BugListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bugs you can see that have not breached",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.Context, actor int64) error {
				bugs, err := a.Engine.ListBugs(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printBugs(bugs)
			})
		},
	}
	cmd.Flags().Int64Var(&opts.ProjectID, "project", 0, "project id")
	cmd.Flags().StringVar(&opts.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority filter")
	cmd.Flags().IntVar(&opts.Days, "days", 0, "only bugs created in the last N days")
	cmd.Flags().BoolVar(&opts.ByPriority, "by-priority", false, "order HIGH, MEDIUM, LOW")
	return cmd
}

func bugBreachedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "breached",
		Short: "List bugs that overran the status time budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.Context, actor int64) error {
				bugs, err := a.Engine.ListBreachedBugs(ctx, actor)
				if err != nil {
					return err
				}
				return printBugs(bugs)
			})
		},
	}
}

func bugShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <bug-id>",
		Short: "Show a bug",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("bug", args[0])
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.Context, actor int64) error {
				b, err := a.Engine.GetBug(ctx, actor, id)
				if err != nil {
					return err
				}
				return printBug(b)
			})
		},
	}
}

func bugLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs <bug-id>",
		Short: "Show a bug's history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("bug", args[0])
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.Context, actor int64) error {
				logs, err := a.Engine.GetBugLogs(ctx, actor, id)
				if err != nil {
					return err
				}
				return printLogs(logs)
			})
		},
	}
}

func bugImageCmd() *cobra.Command {
	var original bool
	var logID int64
	var out string
	cmd := &cobra.Command{
		Use:   "image <bug-id>",
		Short: "Save a bug's current or original image, or a log record's image",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (logID == 0) {
				return fmt.Errorf("pass either a bug id or --log")
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.Context, actor int64) error {
				var img *domain.Attachment
				var err error
				if logID > 0 {
					img, err = a.Engine.BugLogImage(ctx, actor, logID)
				} else {
					var id int64
					if id, err = parseID("bug", args[0]); err != nil {
						return err
					}
					img, err = a.Engine.BugImage(ctx, actor, id, original)
				}
				if err != nil {
					return err
				}
				return writeImage(out, img)
			})
		},
	}
	cmd.Flags().BoolVar(&original, "original", false, "the image the bug was filed with")
	cmd.Flags().Int64Var(&logID, "log", 0, "log record id")
	cmd.Flags().StringVarP(&out, "output", "o", "-", "output file")
	return cmd
}

