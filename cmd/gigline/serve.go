package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gigline/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacyHeader, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				AllowLegacyActorHeader: legacyHeader,
				EnableDevLogin:         devLogin,
				Logger:                 rt.Logger,
			}
			if authCfg.JWTSecret == "" && !legacyHeader {
				return fmt.Errorf("GIGLINE_JWT_SECRET is required for bearer auth")
			}
			if addr == "" {
				addr = rt.Config.Server.Addr
			}
			var limiter *server.RateLimiter
			if rl := rt.Config.Server.RateLimit; rl.RPS > 0 {
				limiter = server.NewRateLimiter(rl.RPS, rl.Burst)
				limiter.StartJanitor(ctx, 2*time.Minute)
			}
			handler, err := server.New(server.Config{Engine: rt.Engine, BasePath: basePath, Auth: authCfg, RateLimiter: limiter})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(ctx, rt.Engine.Repo, rt.Config.Webhooks, rt.Logger)

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			rt.Logger.Info("serving gigline API", "addr", addr, "base_path", basePath, "driver", rt.Dialect)
			fmt.Printf("Serving gigline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens (env GIGLINE_JWT_SECRET)")
	cmd.Flags().BoolVar(&legacyHeader, "legacy-actor-header", false, "accept the unauthenticated X-Actor-Id header")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}
