package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/onnwee/openmic/showsync"
	"github.com/onnwee/openmic/telemetry"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation pass now",
	Long: `Pulls the roster, lists the managed broadcasts and converges them once,
ignoring the quiet period. With --dry-run the plan is printed and nothing is
changed.`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().Bool("dry-run", false, "Print the plan without applying it")
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return err
	}
	telemetry.Init()

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if dryRun {
		plan, err := a.job.Preview(cmd.Context())
		if err != nil {
			return err
		}
		return enc.Encode(plan)
	}
	summary, err := a.job.RunOnce(cmd.Context(), showsync.TriggerCLI)
	if err != nil {
		return err
	}
	return enc.Encode(summary)
}
