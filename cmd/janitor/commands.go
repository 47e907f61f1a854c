package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"janitor/internal/app"
	"janitor/internal/domain"
	"janitor/internal/preflight"
)

func auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Run a read-only health audit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.RunAudit(ctx, tenant())
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), res, func(tw table.Writer) {
					tw.SetTitle(fmt.Sprintf("%s  score %d  (%d/%d checks)", res.Status, res.HealthScore, res.ChecksPassed, res.ChecksTotal))
					tw.AppendHeader(table.Row{"Severity", "Domain", "Finding"})
					for _, f := range res.Findings {
						tw.AppendRow(table.Row{f.Severity, f.Domain, f.Text})
					}
				})
			})
		},
	}
}

func wizardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wizard",
		Short: "Run the health wizard and record the pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.RunWizard(ctx, tenant())
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), res, recommendationsView(res))
			})
		},
	}
	cmd.AddCommand(wizardHistoryCmd())
	return cmd
}

func recommendationsView(res domain.WizardResult) tableView {
	return func(tw table.Writer) {
		s := res.Summary
		tw.SetTitle(fmt.Sprintf("run %d  %s  score %d  (%d/%d checks)", res.RunID, s.Status, s.HealthScore, s.ChecksPassed, s.ChecksTotal))
		tw.AppendHeader(table.Row{"Severity", "Recommendation", "Action", "Auto"})
		for _, r := range res.Recommendations {
			tw.AppendRow(table.Row{r.Severity, r.Title, r.Action, r.CanAutoFix})
		}
	}
}

func wizardHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded wizard runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				runs, err := a.Engine.WizardHistory(ctx, tenant(), limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), runs, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Timestamp", "Score", "Status", "Findings", "Checks"})
					for _, r := range runs {
						tw.AppendRow(table.Row{r.ID, r.Timestamp, r.HealthScore, r.Status, r.FindingsCount, fmt.Sprintf("%d/%d", r.ChecksPassed, r.ChecksTotal)})
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "max runs")
	return cmd
}

func fixCmd() *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   "fix <action>",
		Short: "Apply a remediation, then refresh the wizard",
		Long:  "Actions: cleanup_backups (days_to_keep), create_backup (label), vacuum_database, mark_stale_agents, purge_preflight_residue. Params are passed as --param key=value; values are parsed as JSON when they can be.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseParams(params)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.ApplyFix(ctx, tenant(), args[0], parsed)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if res.RemediationError != "" {
					return fmt.Errorf("remediation %s failed: %s", res.Action, res.RemediationError)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&params, "param", nil, "action parameter key=value (repeatable)")
	return cmd
}

func parseParams(kv []string) (map[string]any, error) {
	if len(kv) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(kv))
	for _, item := range kv {
		key, raw, ok := strings.Cut(item, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", item)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[key] = v
	}
	return out, nil
}

func reviewCmd() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "review <file>",
		Short: "Review a proposed file edit",
		Long:  "Review the new content for <file>. Content is read from --from (use - for stdin) or from <file> itself.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := from
			if src == "" {
				src = args[0]
			}
			content, err := readInput(cmd.InOrStdin(), src)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printReview(cmd.OutOrStdout(), a.Engine.Review(actorID(), args[0], string(content)))
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "read proposed content from this path")
	cmd.AddCommand(reviewPatchCmd())
	return cmd
}

func reviewPatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patch <diff-file|->",
		Short: "Review a unified diff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.ReviewPatch(actorID(), string(patch))
				if err != nil {
					return err
				}
				return printReview(cmd.OutOrStdout(), res)
			})
		},
	}
}

func printReview(w io.Writer, res domain.ReviewResult) error {
	err := printJSONOrTable(w, res, func(tw table.Writer) {
		tw.SetTitle(fmt.Sprintf("approved=%t  blockers=%d  warnings=%d", res.Approved, res.BlockerCount, res.WarningCount))
		tw.AppendHeader(table.Row{"Severity", "Rule", "File", "Line", "Issue"})
		for _, c := range res.Concerns {
			tw.AppendRow(table.Row{c.Severity, c.Rule, c.File, c.Line, c.Issue})
		}
	})
	if err != nil {
		return err
	}
	if !res.Approved {
		return fmt.Errorf("change rejected: %d blocker(s)", res.BlockerCount)
	}
	return nil
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func preflightCmd() *cobra.Command {
	var cfg preflight.Config
	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Smoke-test the API end to end",
		Long:  "Run the preflight checks against --api-base (or preflight.api_base from config), or with --isolated against a throwaway sandbox that never touches live state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.RunPreflight(ctx, tenant(), cfg)
				if err != nil {
					return err
				}
				err = printJSONOrTable(cmd.OutOrStdout(), res, func(tw table.Writer) {
					tw.SetTitle(fmt.Sprintf("%s  %s  isolated=%t", res.ID, res.Status, res.Isolated))
					tw.AppendHeader(table.Row{"Check", "Status", "ms", "Detail"})
					for _, c := range res.Checks {
						tw.AppendRow(table.Row{c.Name, c.Status, c.DurationMS, c.Detail})
					}
				})
				if err != nil {
					return err
				}
				if res.Status != domain.PreflightPass {
					return fmt.Errorf("preflight failed: %d check(s)", res.Failures)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&cfg.Isolated, "isolated", false, "run against a throwaway sandbox")
	cmd.Flags().BoolVar(&cfg.SkipOAuth, "skip-oauth", false, "skip the OAuth round trip")
	cmd.Flags().BoolVar(&cfg.OpenBrowser, "open-browser", false, "open the OAuth URL in a browser")
	cmd.Flags().BoolVar(&cfg.AllowDestructive, "allow-destructive", false, "include checks that create and delete backups")
	cmd.Flags().StringVar(&cfg.APIBase, "api-base", "", "live API root, e.g. http://127.0.0.1:8080")
	cmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Describe the preflight checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd.OutOrStdout(), preflight.ManualInfo())
		},
	})
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show service status and counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				st, err := a.Engine.Status(ctx, tenant())
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), st, func(tw table.Writer) {
					tw.SetTitle(fmt.Sprintf("%s (%s) tenant %s", st.Service.Name, st.Service.Version, st.Tenant))
					tw.AppendRows([]table.Row{
						{"wizard state", st.WizardState},
						{"uptime seconds", st.UptimeSeconds},
						{"system health", st.Metrics.SystemHealth},
						{"findings", st.Metrics.FindingsCount},
						{"last audit", deref(st.Metrics.LastAudit)},
						{"last preflight", deref(st.Metrics.LastPreflight) + " " + deref(st.Metrics.LastPreflightStatus)},
						{"wizard runs", st.Metrics.WizardRuns},
						{"backups", st.Metrics.Backups},
						{"backup bytes", st.Metrics.BackupBytes},
						{"edits 24h", st.Metrics.RecentEdits},
						{"errors 24h", st.Metrics.Errors24h},
						{"agents online", st.Metrics.AgentsOnline},
					})
				})
			})
		},
	}
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func agentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List agents and their heartbeat state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				agents, err := a.Engine.ListAgents(ctx, tenant())
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), agents, agentsView(agents))
			})
		},
	}
	var name string
	hb := &cobra.Command{
		Use:   "heartbeat [agent-id]",
		Short: "Record a heartbeat (defaults to --actor-id)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := actorID()
			if len(args) == 1 {
				id = args[0]
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				agent, err := a.Engine.Heartbeat(ctx, tenant(), id, name)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), agent)
			})
		},
	}
	hb.Flags().StringVar(&name, "name", "", "display name")
	cmd.AddCommand(hb)
	return cmd
}

func agentsView(agents []domain.Agent) tableView {
	return func(tw table.Writer) {
		tw.AppendHeader(table.Row{"ID", "Name", "Status", "Last heartbeat"})
		for _, a := range agents {
			tw.AppendRow(table.Row{a.ID, a.Name, a.Status, a.LastHeartbeat})
		}
	}
}
