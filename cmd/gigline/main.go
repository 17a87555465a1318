package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gigline/internal/app"
	"gigline/internal/db"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gigline",
		Short: "gigline marketplace CLI",
		Long: `gigline runs a gig marketplace: owners post gigs with a number of positions,
bidders submit bids, and owners hire, reject or counter them.
- Gig: a job with positions_available seats. It moves open -> assigned -> filled -> completed.
- Bid: one bidder's offer on a gig. pending and countered bids are active; hired and rejected are final.
- Hiring reserves a seat before the bid flips to hired, so a gig never has more hires than seats.
- When the last seat is taken, every remaining pending bid is rejected with "all positions filled".
- Event log: every change is recorded; view it with 'gigline log tail'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			return nil
		},
	}
	addPersistentFlags(root)
	root.AddCommand(gigCmd())
	root.AddCommand(bidCmd())
	root.AddCommand(logCmd())
	root.AddCommand(configCmd())
	root.AddCommand(serveCmd())
	return root
}

func main() {
	// A missing .env is fine; real environment variables win either way.
	_ = godotenv.Load()
	cobra.OnInitialize(initConfig)
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GIGLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("config", "", "config file (default <workspace>/gigline.yml)")
	flags.String("database-driver", "", "database driver: sqlite or postgres (overrides config)")
	flags.String("database-dsn", "", "database DSN (overrides config)")
	flags.String("log-level", "warn", "log level: debug, info, warn, error")
	for _, name := range []string{"workspace", "json", "actor-id", "config", "database-driver", "database-dsn", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

// --- helpers ---

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelWarn
	}
	return app.NewLogger(level, viper.GetBool("json"))
}

func openRuntime(ctx context.Context) (*app.Runtime, error) {
	logger := newLogger()
	slog.SetDefault(logger)
	return app.Open(ctx, app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		Driver:     viper.GetString("database-driver"),
		DSN:        viper.GetString("database-dsn"),
		Logger:     logger,
	})
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func actorID() (string, error) {
	actor := strings.TrimSpace(viper.GetString("actor-id"))
	if actor == "" {
		return "", fmt.Errorf("--actor-id required")
	}
	return actor, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
