package main

import (
	"github.com/spf13/cobra"
)

func bicBlacklistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bic-blacklist",
		Short: "Blacklist BICs whose chargeback rate exceeds the thresholds",
		RunE: func(cmd *cobra.Command, args []string) error {
			window, _ := cmd.Flags().GetInt("window")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			a, err := bootstrap()
			if err != nil {
				return err
			}
			if window <= 0 {
				window = a.cfg.BicBlacklist.WindowDays
			}

			result, err := a.bics.Run(cmd.Context(), window, dryRun)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().IntP("window", "w", 0, "Lookback window in days (default from BIC_BLACKLIST_WINDOW_DAYS)")
	cmd.Flags().Bool("dry-run", false, "Evaluate without writing blacklist entries")

	return cmd
}
