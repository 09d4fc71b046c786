package main

import (
	"context"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bugtrail/internal/app"
	"bugtrail/internal/domain"
)

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage users"}
	user.AddCommand(userRegisterCmd())
	user.AddCommand(userListCmd())
	return user
}

func userRegisterCmd() *cobra.Command {
	var username, email, role string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				u, err := a.Engine.RegisterUser(ctx, username, email, role)
				if err != nil {
					return err
				}
				return printUsers([]domain.User{u})
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "login name")
	cmd.Flags().StringVar(&email, "email", "", "notification address")
	cmd.Flags().StringVar(&role, "role", "", "ADMIN, TESTER or DEVELOPER")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func userListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.Context, actor int64) error {
				users, err := a.Engine.ListUsers(ctx, actor, role)
				if err != nil {
					return err
				}
				return printUsers(users)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.Context, actor int64) error {
				u, err := a.Engine.WhoAmI(ctx, actor)
				if err != nil {
					return err
				}
				return printUsers([]domain.User{u})
			})
		},
	}
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project owned by the acting admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.Context, actor int64) error {
				p, err := a.Engine.CreateProject(ctx, actor, name, desc)
				if err != nil {
					return err
				}
				return printProjects([]domain.Project{p})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "project description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.Context, actor int64) error {
				projects, err := a.Engine.ListProjects(ctx, actor)
				if err != nil {
					return err
				}
				return printProjects(projects)
			})
		},
	}
}

func memberCmd() *cobra.Command {
	m := &cobra.Command{Use: "member", Short: "Manage project members"}
	m.AddCommand(memberAddCmd())
	m.AddCommand(memberListCmd())
	return m
}

func memberAddCmd() *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:   "add <project-id>",
		Short: "Add a developer or tester to a project you own",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := parseID("project", args[0])
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.Context, actor int64) error {
				m, err := a.Engine.AddProjectMember(ctx, actor, projectID, userID)
				if err != nil {
					return err
				}
				return printMembers([]domain.Member{m})
			})
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func memberListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <project-id>",
		Short: "List project members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := parseID("project", args[0])
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.Context, actor int64) error {
				members, err := a.Engine.ListMembers(ctx, actor, projectID)
				if err != nil {
					return err
				}
				return printMembers(members)
			})
		},
	}
}

func printUsers(users []domain.User) error {
	if viper.GetBool("json") {
		return printJSON(users)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Username", "Email", "Role", "Created"})
	for _, u := range users {
		tw.AppendRow(table.Row{u.ID, u.Username, u.Email, u.Role, formatTime(u.CreatedAt)})
	}
	tw.Render()
	return nil
}

func printProjects(projects []domain.Project) error {
	if viper.GetBool("json") {
		return printJSON(projects)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Name", "Owner", "Description", "Created"})
	for _, p := range projects {
		tw.AppendRow(table.Row{p.ID, p.Name, p.OwnerID, p.Description, formatTime(p.CreatedAt)})
	}
	tw.Render()
	return nil
}

func printMembers(members []domain.Member) error {
	if viper.GetBool("json") {
		return printJSON(members)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Project", "User", "Role"})
	for _, m := range members {
		tw.AppendRow(table.Row{m.ProjectID, m.UserID, m.Role})
	}
	tw.Render()
	return nil
}
