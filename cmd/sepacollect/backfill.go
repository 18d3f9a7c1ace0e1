package main

import (
	"github.com/spf13/cobra"

	"github.com/WebOleg/sepacollect/internal/pkg/backfill"
)

func backfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Fill missing bank name, BIC and country derived from stored IBANs",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetString("target")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			batch, _ := cmd.Flags().GetInt("batch")

			kind, err := backfill.ParseKind(target)
			if err != nil {
				return err
			}

			a, err := bootstrap()
			if err != nil {
				return err
			}

			report, err := backfill.NewRunner(a.db, a.iban).Run(cmd.Context(), kind, backfill.Options{
				BatchSize: batch,
				DryRun:    dryRun,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringP("target", "t", "", "Records to backfill (debtors, attempts, vop)")
	cmd.Flags().Bool("dry-run", false, "Count the changes without writing them")
	cmd.Flags().Int("batch", backfill.DefaultBatchSize, "Rows per batch")
	_ = cmd.MarkFlagRequired("target")

	return cmd
}
