package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gigline/internal/app"
	"gigline/internal/domain"
	"gigline/internal/engine"
)

func bidCmd() *cobra.Command {
	bid := &cobra.Command{
		Use:   "bid",
		Short: "Submit and decide on bids",
		Long:  "Bids move pending -> countered -> hired or rejected. Hire, reject and counter are for the gig owner and admins; accept is for the bidder.",
	}
	bid.AddCommand(bidSubmitCmd())
	bid.AddCommand(bidListCmd())
	bid.AddCommand(bidMineCmd())
	bid.AddCommand(bidShowCmd())
	bid.AddCommand(bidHireCmd())
	bid.AddCommand(bidRejectCmd())
	bid.AddCommand(bidCounterCmd())
	bid.AddCommand(bidAcceptCmd())
	return bid
}

func bidSubmitCmd() *cobra.Command {
	var opts engine.BidSubmitOptions
	cmd := &cobra.Command{
		Use:   "submit <gig-id>",
		Short: "Bid on a gig as the current actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bidder, err := actorID()
			if err != nil {
				return err
			}
			opts.GigID = args[0]
			opts.BidderID = bidder
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				b, err := rt.Engine.SubmitBid(ctx, opts)
				if err != nil {
					return err
				}
				return printBids([]domain.Bid{b})
			})
		},
	}
	cmd.Flags().Int64Var(&opts.Price, "price", 0, "offered price")
	cmd.Flags().StringVarP(&opts.Message, "message", "m", "", "message to the owner")
	_ = cmd.MarkFlagRequired("price")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func bidListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <gig-id>",
		Short: "List bids on a gig (owner and admins)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				bids, err := rt.Engine.ListBidsForGig(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printBids(bids)
			})
		},
	}
}

func bidMineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mine",
		Short: "List the current actor's bids",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				bids, err := rt.Engine.ListBidsByBidder(ctx, actor)
				if err != nil {
					return err
				}
				return printBids(bids)
			})
		},
	}
}

func bidShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <bid-id>",
		Short: "Show a bid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				b, err := rt.Engine.GetBid(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
}

func bidHireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hire <bid-id>",
		Short: "Hire a pending bid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.Hire(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printHire(res)
			})
		},
	}
}

func bidRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <bid-id>",
		Short: "Reject a pending or countered bid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				b, err := rt.Engine.RejectBid(ctx, args[0], actor, reason)
				if err != nil {
					return err
				}
				return printBids([]domain.Bid{b})
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason shown to the bidder")
	return cmd
}

func bidCounterCmd() *cobra.Command {
	var opts engine.CounterOfferOptions
	cmd := &cobra.Command{
		Use:   "counter <bid-id>",
		Short: "Answer a pending bid with a different price",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			opts.BidID = args[0]
			opts.ActorID = actor
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				b, err := rt.Engine.CounterOffer(ctx, opts)
				if err != nil {
					return err
				}
				return printBids([]domain.Bid{b})
			})
		},
	}
	cmd.Flags().Int64Var(&opts.Price, "price", 0, "counter price")
	cmd.Flags().StringVarP(&opts.Message, "message", "m", "", "message to the bidder")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func bidAcceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <bid-id>",
		Short: "Accept the counter-offer on your bid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.AcceptCounter(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printHire(res)
			})
		},
	}
}

func printBids(bids []domain.Bid) error {
	if viper.GetBool("json") {
		return printJSON(bids)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Gig", "Bidder", "Price", "Status", "Counter", "Note"})
	for _, b := range bids {
		counter := ""
		if offer, ok := b.CounterOffer(); ok {
			counter = fmt.Sprintf("%d", offer.Price)
		}
		note := ""
		switch st := b.State.(type) {
		case domain.Hired:
			note = "hired by " + st.By
		case domain.Rejected:
			note = st.Reason
		}
		tw.AppendRow(table.Row{b.ID, b.GigID, b.BidderID, b.Price, b.Status(), counter, note})
	}
	tw.Render()
	return nil
}

func printHire(res engine.HireResult) error {
	if viper.GetBool("json") {
		out := map[string]any{
			"bid":                 res.Bid,
			"counters":            res.Counters,
			"remaining_positions": res.RemainingPositions,
			"filled":              res.Filled,
			"rejected_bidders":    res.RejectedBidders(),
		}
		if res.SettleErr != nil {
			out["settle_error"] = res.SettleErr.Error()
		}
		return printJSON(out)
	}
	if err := printBids([]domain.Bid{res.Bid}); err != nil {
		return err
	}
	fmt.Printf("%d of %d positions filled", res.Counters.PositionsFilled, res.Counters.PositionsAvailable)
	if res.Filled {
		fmt.Printf("; gig filled, %d pending bids rejected", len(res.RejectedBids))
	}
	fmt.Println()
	if res.SettleErr != nil {
		fmt.Fprintf(os.Stderr, "warning: hire committed but the gig was not fully settled (%v); run gigline gig reconcile %s\n",
			res.SettleErr, res.Bid.GigID)
	}
	return nil
}
