package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"janitor/internal/app"
	"janitor/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var anonymous bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serve the janitor API, its websocket notifications and /metrics. Bearer tokens are checked against JANITOR_JWT_SECRET; API keys are looked up in the workspace store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := appOptions()
			cfg, err := app.LoadConfig(opts)
			if err != nil {
				return err
			}
			logger := app.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
			opts.Logger = logger
			a, err := app.Open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			authCfg := server.AuthConfig{
				JWTSecret:      viper.GetString("jwt-secret"),
				AllowAnonymous: anonymous,
				Logger:         logger,
			}
			if authCfg.JWTSecret == "" && !anonymous {
				return fmt.Errorf("JANITOR_JWT_SECRET is required for bearer auth (or pass --allow-anonymous)")
			}
			hub := server.NewHub(logger)
			defer hub.Close()
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: basePath,
				Auth:     authCfg,
				Hub:      hub,
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				server.NewWebhookDispatcher(a.Engine.Repo, a.Config.Webhooks, logger).Run(ctx)
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				logger.Info("serving janitor api", "addr", addr, "base_path", basePath)
				fmt.Fprintf(cmd.ErrOrStderr(), "Serving Janitor API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return context.Canceled
			})
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&anonymous, "allow-anonymous", false, "accept unauthenticated requests")
	return cmd
}
