package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/WebOleg/sepacollect/app/models"
	"github.com/WebOleg/sepacollect/internal/pkg/dispatch"
)

func dispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Select eligible debtors and queue validation, verification and billing jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			model, _ := cmd.Flags().GetString("model")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			if model != "" && !models.BillingModel(model).IsValid() {
				return fmt.Errorf("unknown billing model %q", model)
			}

			a, err := bootstrap()
			if err != nil {
				return err
			}
			d := a.dispatcher()
			opts := dispatch.RunOptions{DryRun: dryRun}

			if model == "" {
				reports, err := d.RunAll(cmd.Context(), opts)
				if perr := printJSON(cmd.OutOrStdout(), reports); perr != nil {
					return perr
				}
				return err
			}

			report, err := d.Run(cmd.Context(), models.BillingModel(model), opts)
			if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
				return perr
			}
			return err
		},
	}

	cmd.Flags().StringP("model", "m", "", "Billing model to dispatch (flywheel, recovery, legacy); all when empty")
	cmd.Flags().Bool("dry-run", false, "Report what would be dispatched without claiming or queueing")

	return cmd
}
