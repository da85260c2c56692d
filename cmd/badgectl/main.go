package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"proof-badge-system/app"
	"proof-badge-system/config"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "badgectl",
	Short: "Operator tooling for the badge issuance service",
	Long: `badgectl runs the repair jobs of the badge service by hand: profile
and challenge reconciliation, badge backfill, stalled mint finalization and
degraded badge upgrades.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(finalizeCmd)
	rootCmd.AddCommand(upgradeCmd)
	rootCmd.AddCommand(statusCmd)

	finalizeCmd.Flags().Duration("older-than", 0, "Finalize reservations older than this (defaults to the configured stall threshold)")
	upgradeCmd.Flags().IntP("limit", "l", 0, "Maximum number of degraded badges to re-mint (defaults to the configured batch size)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp loads configuration, builds the services and hands them to fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) (interface{}, error)) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := fn(cmd.Context(), a)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [profile-id]",
	Short: "Recompute profile totals and challenge completions",
	Long:  `Without arguments every challenge and profile is recomputed. With a profile id only that profile is.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) (interface{}, error) {
			if len(args) == 1 {
				return a.Reconciler.Recompute(ctx, args[0])
			}
			challenges, err := a.Reconciler.RecomputeChallenges(ctx)
			if err != nil {
				return nil, err
			}
			profiles, err := a.Reconciler.RecomputeAll(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"challenges": challenges, "profiles": profiles}, nil
		})
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Create badge records for approved submissions that have none",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) (interface{}, error) {
			return a.Reconciler.BackfillBadges(ctx)
		})
	},
}

var finalizeCmd = &cobra.Command{
	Use:   "finalize",
	Short: "Finalize badge reservations whose mint never completed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		return withApp(cmd, func(ctx context.Context, a *app.App) (interface{}, error) {
			if olderThan <= 0 {
				olderThan = a.Config.Scheduler.StallThreshold
			}
			return a.Reconciler.FinalizeStalled(ctx, olderThan)
		})
	},
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Re-mint degraded badges now that the chain is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd, func(ctx context.Context, a *app.App) (interface{}, error) {
			if limit <= 0 {
				limit = a.Config.Scheduler.UpgradeBatch
			}
			return a.Reconciler.UpgradeDegraded(ctx, limit)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show badge counts by mint mode and chain configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) (interface{}, error) {
			stats, err := a.Reconciler.Stats(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"badges":             stats,
				"network":            a.Config.Chain.Network,
				"chain_id":           a.Config.Chain.ChainID,
				"simulated":          a.Config.Chain.Simulate,
				"configured":         a.Gateway.Configured(),
				"staking_configured": a.Gateway.StakingConfigured(),
			}, nil
		})
	},
}
