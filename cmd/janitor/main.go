package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"janitor/internal/app"
	"janitor/internal/db"
	"janitor/internal/engine"
)

const rootLong = `Janitor keeps an agent workspace healthy.
- Audit: a read-only health check of disk, backups, database, agents and recent errors, scored 0-100.
- Wizard: an audit turned into sections and recommendations; every completed pass is recorded.
- Fix: a named remediation (cleanup_backups, create_backup, ...) followed by one fresh wizard pass.
- Review: a guardrail over proposed file edits and patches; blockers reject the change.
- Preflight: an end-to-end smoke test of the API, optionally against a throwaway sandbox.
- Trail: the append-only edit history and activity log, view with 'janitor logs list'.`

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "janitor",
		Short:         "Janitor CLI",
		Long:          rootLong,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := db.EnsureWorkspace(viper.GetString("workspace"))
			return err
		},
	}
	addPersistentFlags(root)
	registerCommands(root)
	return root
}

func main() {
	cobra.OnInitialize(initConfig)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("JANITOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags(root *cobra.Command) {
	root.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	root.PersistentFlags().String("config", "", "config file (default <workspace>/janitor.yml)")
	root.PersistentFlags().Bool("json", false, "output JSON")
	root.PersistentFlags().String("tenant", "", "tenant id (default \"default\")")
	root.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	for _, name := range []string{"workspace", "config", "json", "tenant", "actor-id"} {
		_ = viper.BindPFlag(name, root.PersistentFlags().Lookup(name))
	}
}

func registerCommands(root *cobra.Command) {
	root.AddCommand(serveCmd())
	root.AddCommand(auditCmd())
	root.AddCommand(wizardCmd())
	root.AddCommand(fixCmd())
	root.AddCommand(reviewCmd())
	root.AddCommand(preflightCmd())
	root.AddCommand(backupsCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(logsCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(agentsCmd())
	root.AddCommand(configCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(apiKeyCmd())
}

// withApp opens the workspace for one command and closes it afterwards.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, appOptions())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func appOptions() app.Options {
	return app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		Logger:     app.NewLogger(os.Stderr, "warn", "text"),
	}
}

func tenant() string {
	return strings.TrimSpace(viper.GetString("tenant"))
}

func tenantOrDefault() string {
	if t := tenant(); t != "" {
		return t
	}
	return engine.DefaultTenant
}

func actorID() string {
	return strings.TrimSpace(viper.GetString("actor-id"))
}

// tableView fills a table for terminal output. Pipes and --json get JSON.
type tableView func(tw table.Writer)

func printJSONOrTable(w io.Writer, v any, view tableView) error {
	if viper.GetBool("json") || view == nil || !isTerminal(w) {
		return printJSON(w, v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	view(tw)
	tw.Render()
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
