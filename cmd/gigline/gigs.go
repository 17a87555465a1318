package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gigline/internal/app"
	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/repo"
)

func gigCmd() *cobra.Command {
	gig := &cobra.Command{Use: "gig", Short: "Manage gigs"}
	gig.AddCommand(gigCreateCmd())
	gig.AddCommand(gigListCmd())
	gig.AddCommand(gigShowCmd())
	gig.AddCommand(gigDeleteCmd())
	gig.AddCommand(gigCompleteCmd())
	gig.AddCommand(gigReconcileCmd())
	gig.AddCommand(gigAdminCmd())
	return gig
}

func gigCreateCmd() *cobra.Command {
	var opts engine.GigCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Post a gig owned by the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := actorID()
			if err != nil {
				return err
			}
			opts.OwnerID = owner
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				g, err := rt.Engine.CreateGig(ctx, opts)
				if err != nil {
					return err
				}
				return printGig(g)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "gig title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().Int64Var(&opts.Budget, "budget", 0, "budget in whole currency units")
	cmd.Flags().StringSliceVar(&opts.Skills, "skills", nil, "required skills (comma separated)")
	cmd.Flags().IntVar(&opts.PositionsAvailable, "positions", 1, "number of positions")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func gigListCmd() *cobra.Command {
	var all bool
	var statuses []string
	var f repo.GigFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List gigs (open and assigned by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(statuses) == 0 {
				f.Statuses = []domain.GigStatus{domain.GigOpen, domain.GigAssigned}
			}
			for _, s := range statuses {
				f.Statuses = append(f.Statuses, domain.GigStatus(strings.TrimSpace(s)))
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				gigs, err := rt.Engine.ListGigs(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(gigs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Positions", "Budget", "Owner"})
				for _, g := range gigs {
					tw.AppendRow(table.Row{g.ID, g.Title, g.Status, fmt.Sprintf("%d/%d", g.PositionsFilled, g.PositionsAvailable), g.Budget, g.OwnerID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include filled and completed gigs")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "status filter")
	cmd.Flags().StringVar(&f.OwnerID, "owner", "", "owner filter")
	cmd.Flags().StringVarP(&f.Search, "query", "q", "", "search title, description and skills")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func gigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <gig-id>",
		Short: "Show a gig",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				g, err := rt.Engine.GetGig(ctx, args[0])
				if err != nil {
					return err
				}
				return printGig(g)
			})
		},
	}
}

func gigDeleteCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "delete <gig-id>",
		Short: "Delete a gig and its bids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Engine.DeleteGig(ctx, args[0], actor, confirm); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deleted": args[0]})
				}
				fmt.Printf("deleted gig %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "delete even when bidders were hired")
	return cmd
}

func gigCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <gig-id>",
		Short: "Mark a gig completed and close its open bids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				g, rejected, err := rt.Engine.CompleteGig(ctx, args[0], actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"gig": g, "rejected_bids": rejected})
				}
				fmt.Printf("gig %s completed; %d open bids rejected\n", g.ID, len(rejected))
				return nil
			})
		},
	}
}

func gigReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <gig-id>",
		Short: "Release stale reservations and finish settling the gig",
		Long: "Releases reservations older than policies.reservation_grace_seconds, left by hires that died\n" +
			"before committing, then re-applies the gig status and the rejection of pending bids.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.ReconcileCapacity(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"counters": res.Counters,
					"released": len(res.Released),
					"rejected": len(res.Rejected),
					"drift":    res.Drift,
				})
			})
		},
	}
}

func gigAdminCmd() *cobra.Command {
	admin := &cobra.Command{Use: "admin", Short: "Manage gig admins"}
	admin.AddCommand(&cobra.Command{
		Use:   "add <gig-id> <actor-id>",
		Short: "Let an actor hire, reject and counter on the gig",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				g, err := rt.Engine.AssignAdmin(ctx, args[0], actor, args[1])
				if err != nil {
					return err
				}
				return printGig(g)
			})
		},
	})
	admin.AddCommand(&cobra.Command{
		Use:   "remove <gig-id> <actor-id>",
		Short: "Remove a gig admin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				g, err := rt.Engine.RemoveAdmin(ctx, args[0], actor, args[1])
				if err != nil {
					return err
				}
				return printGig(g)
			})
		},
	})
	return admin
}

func printGig(g domain.Gig) error {
	if viper.GetBool("json") {
		return printJSON(g)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRows([]table.Row{
		{"ID", g.ID},
		{"Title", g.Title},
		{"Status", g.Status},
		{"Positions", fmt.Sprintf("%d/%d filled", g.PositionsFilled, g.PositionsAvailable)},
		{"Budget", g.Budget},
		{"Owner", g.OwnerID},
		{"Admins", strings.Join(g.Admins, ", ")},
		{"Skills", strings.Join(g.Skills, ", ")},
		{"Created", g.CreatedAt},
	})
	tw.Render()
	return nil
}
