package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"janitor/internal/app"
	"janitor/internal/domain"
	"janitor/internal/engine"
)

func backupsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "backups", Short: "Manage database backups"}
	cmd.AddCommand(backupsListCmd())
	cmd.AddCommand(backupsCleanupCmd())
	cmd.AddCommand(backupsSnapshotCmd())
	cmd.AddCommand(backupsDeleteCmd())
	return cmd
}

func backupsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				files, err := a.Engine.ListBackups(ctx, tenant(), limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), files, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"Filename", "Size", "Modified"})
					for _, f := range files {
						tw.AppendRow(table.Row{f.Filename, f.SizeBytes, f.Modified})
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max backups")
	return cmd
}

func backupsCleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete backups older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			var daysToKeep *int
			if cmd.Flags().Changed("days") {
				daysToKeep = &days
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Cleanup(ctx, tenant(), daysToKeep)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "days to keep (default backups.retention_days)")
	return cmd
}

func backupsSnapshotCmd() *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Take a consistent copy of the service database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				f, err := a.Engine.Snapshot(ctx, tenant(), label)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), f)
			})
		},
	}
	cmd.Flags().StringVar(&label, "label", "manual", "snapshot label")
	return cmd
}

func backupsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <filename>",
		Short: "Delete one backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.DeleteBackup(ctx, tenant(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the edit trail, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListEdits(ctx, tenant(), limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), items, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Timestamp", "File", "Agent", "OK", "Reason"})
					for _, it := range items {
						tw.AppendRow(table.Row{it.ID, it.Timestamp, it.File, it.Agent, it.Success, it.Reason})
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries, 0 for all")
	cmd.AddCommand(historyAppendCmd())
	cmd.AddCommand(clearCmd("clear", "Attempt to clear the edit trail (always denied)", engine.Engine.ClearEdits))
	return cmd
}

func historyAppendCmd() *cobra.Command {
	var in engine.EditInput
	var failed bool
	cmd := &cobra.Command{
		Use:   "append <file>",
		Short: "Record an attempted file edit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.File = args[0]
			in.Success = !failed
			if in.Agent == "" {
				in.Agent = actorID()
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				item, err := a.Engine.AppendEdit(ctx, tenant(), in)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), item)
			})
		},
	}
	cmd.Flags().StringVar(&in.Agent, "agent", "", "agent id (default --actor-id)")
	cmd.Flags().StringVar(&in.Reason, "reason", "", "why the edit was made or failed")
	cmd.Flags().BoolVar(&failed, "failed", false, "record the edit as failed")
	return cmd
}

func logsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "logs", Short: "Inspect the activity log"}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List activity entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				logs, err := a.Engine.ListLogs(ctx, tenant(), limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), logs, logsView(logs))
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "max entries, 0 for all")
	cmd.AddCommand(list)
	cmd.AddCommand(clearCmd("clear", "Attempt to clear the activity log (always denied)", engine.Engine.ClearLogs))
	return cmd
}

func logsView(logs []domain.LogEntry) tableView {
	return func(tw table.Writer) {
		tw.AppendHeader(table.Row{"ID", "Timestamp", "Action", "Status", "Agent", "Details"})
		for _, l := range logs {
			tw.AppendRow(table.Row{l.ID, l.Timestamp, l.Action, l.Status, l.AgentID, l.Details})
		}
	}
}

// clearCmd exposes a clear operation so the denial is recorded like any
// other caller's attempt.
func clearCmd(use, short string, clear func(engine.Engine, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return clear(a.Engine, ctx, tenant())
			})
		},
	}
}
