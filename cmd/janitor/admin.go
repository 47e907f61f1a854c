package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"janitor/internal/app"
	"janitor/internal/config"
	"janitor/internal/domain"
	"janitor/internal/repo"
	"janitor/internal/server"
)

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage janitor.yml",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default janitor.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(appOptions())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate janitor.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := appOptions()
			opts.RequireConfig = true
			_, err := app.LoadConfig(opts)
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil}
				if err != nil {
					out["error"] = err.Error()
				}
				if perr := printJSON(cmd.OutOrStdout(), out); perr != nil {
					return perr
				}
				return err
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config OK")
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for --actor-id and --tenant",
		Long:  "Sign an HS256 token with JANITOR_JWT_SECRET. Meant for local tooling and scripts talking to 'janitor serve'.",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("JANITOR_JWT_SECRET is required")
			}
			t := tenantOrDefault()
			tok, err := server.SignToken(secret, actorID(), t, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	cmd.AddCommand(apiKeyCreateCmd())
	cmd.AddCommand(apiKeyListCmd())
	cmd.AddCommand(apiKeyDeleteCmd())
	return cmd
}

type createdAPIKey struct {
	domain.APIKey
	Key string `json:"key"`
}

func apiKeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for --actor-id in --tenant",
		Long:  "The plaintext key is printed once; only its hash is stored.",
		RunE: func(cmd *cobra.Command, args []string) error {
			plain, err := newAPIKey()
			if err != nil {
				return err
			}
			t := tenantOrDefault()
			key := domain.APIKey{
				ID:        uuid.NewString(),
				ActorID:   actorID(),
				TenantID:  t,
				Name:      name,
				KeyHash:   repo.HashAPIKey(plain),
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), createdAPIKey{APIKey: key, Key: plain})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	return cmd
}

func newAPIKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "jk_" + hex.EncodeToString(b), nil
}

func apiKeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys for --tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t := tenantOrDefault()
				keys, err := a.Engine.Repo.ListAPIKeys(ctx, t)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), keys, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
					for _, k := range keys {
						tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
					}
				})
			})
		},
	}
}

func apiKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}
