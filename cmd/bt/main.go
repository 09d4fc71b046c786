package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bugtrail/internal/app"
	"bugtrail/internal/config"
	"bugtrail/internal/domain"
)

var rootCmd = &cobra.Command{
	Use:   "bt",
	Short: "Bugtrail CLI",
	Long: `Bugtrail tracks bugs and tasks through a role-based workflow.
- Testers file bugs; admins assign them to developers; the assigned developer moves them to RESOLVED; the filing tester closes, reopens or reassigns.
- Developers create tasks; admins assign them to testers; testers close them.
- Every accepted transition is recorded in the entity's log.
- A bug sitting too long in one unresolved status is marked breached (see 'bt bug breached').
Most commands act as the user given by --actor or BUGTRAIL_ACTOR.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BUGTRAIL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Int64("actor", 0, "acting user id")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(bugCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads bugtrail.yml and applies secrets from the environment
// (BUGTRAIL_JWT_SECRET, BUGTRAIL_SMTP_PASSWORD).
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if s := viper.GetString("jwt-secret"); s != "" {
		cfg.Auth.JWTSecret = s
	}
	if s := viper.GetString("smtp-password"); s != "" {
		cfg.Notify.SMTP.Password = s
	}
	return cfg, nil
}

// withApp opens the workspace for one command and drains notifications
// before returning.
func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.OpenWithConfig(ctx, viper.GetString("workspace"), cfg, newLogger())
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}

// withActor is withApp for commands that act as a user.
func withActor(ctx context.Context, fn func(context.Context, *app.Context, int64) error) error {
	actor := viper.GetInt64("actor")
	if actor <= 0 {
		return fmt.Errorf("acting user required; pass --actor or set BUGTRAIL_ACTOR")
	}
	return withApp(ctx, func(ctx context.Context, a *app.Context) error {
		return fn(ctx, a, actor)
	})
}

func parseID(kind, s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", kind, s)
	}
	return id, nil
}

// readImage loads an attachment from disk; an empty path means none.
func readImage(path string) (*domain.Attachment, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return &domain.Attachment{ContentType: ct, Data: data}, nil
}

func writeImage(path string, img *domain.Attachment) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(img.Data)
		return err
	}
	if err := os.WriteFile(path, img.Data, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %d bytes (%s) to %s\n", len(img.Data), img.ContentType, path)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func optionalID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}

func printBugs(bugs []domain.Bug) error {
	if viper.GetBool("json") {
		return printJSON(bugs)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Project", "Title", "Priority", "Status", "Creator", "Assignee", "Breached", "Last change"})
	for _, b := range bugs {
		tw.AppendRow(table.Row{b.ID, b.ProjectID, b.Title, b.Priority, b.Status, b.CreatorID, optionalID(b.AssigneeID), b.Breached, formatTime(b.LastStatusChange)})
	}
	tw.Render()
	return nil
}

func printBug(b domain.Bug) error {
	if viper.GetBool("json") {
		return printJSON(b)
	}
	tw := newTable()
	tw.AppendRows([]table.Row{
		{"ID", b.ID},
		{"Project", b.ProjectID},
		{"Title", b.Title},
		{"Description", b.Description},
		{"Priority", b.Priority},
		{"Status", b.Status},
		{"Resolution", b.Resolution},
		{"Creator", b.CreatorID},
		{"Assignee", optionalID(b.AssigneeID)},
		{"Breached", b.Breached},
		{"Created", formatTime(b.CreatedAt)},
		{"Last change", formatTime(b.LastStatusChange)},
		{"Image", b.HasImage},
	})
	tw.Render()
	return nil
}

func printTasks(tasks []domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(tasks)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Project", "Title", "Priority", "Status", "Creator", "Assignee", "Created"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{t.ID, t.ProjectID, t.Title, t.Priority, t.Status, t.CreatorID, optionalID(t.AssigneeID), formatTime(t.CreatedAt)})
	}
	tw.Render()
	return nil
}

func printTask(t domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(t)
	}
	var assigned, closed string
	if t.AssignedAt != nil {
		assigned = formatTime(*t.AssignedAt)
	}
	if t.ClosedAt != nil {
		closed = formatTime(*t.ClosedAt)
	}
	tw := newTable()
	tw.AppendRows([]table.Row{
		{"ID", t.ID},
		{"Project", t.ProjectID},
		{"Title", t.Title},
		{"Description", t.Description},
		{"Priority", t.Priority},
		{"Status", t.Status},
		{"Creator", t.CreatorID},
		{"Assignee", optionalID(t.AssigneeID)},
		{"Created", formatTime(t.CreatedAt)},
		{"Assigned", assigned},
		{"Closed", closed},
		{"Image", t.HasImage},
	})
	tw.Render()
	return nil
}

func printLogs(logs []domain.LogRecord) error {
	if viper.GetBool("json") {
		return printJSON(logs)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Log", "Time", "Actor", "Status", "Text", "Image"})
	for _, l := range logs {
		tw.AppendRow(table.Row{l.ID, formatTime(l.Timestamp), l.ActorID, l.Status, l.Text, l.HasImage})
	}
	tw.Render()
	return nil
}
