package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nullstream/eventstream/internal/logging"
	"github.com/nullstream/eventstream/repair"
)

var (
	repairObjectName string
	repairObjectID   string
	repairFrom       int64
	repairTo         int64
)

// repairCmd represents the repair command group: operator recovery for
// streams left broken by a partial commit.
var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Repair a broken stream",
	Long:  `Clears a broken stream's orphaned event range and records a rollback audit entry, per the document's recorded broken_info unless an explicit range is given.`,
}

var repairClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the recorded broken range for an object",
	Long:  `Clears the broken-stream marker recorded on the object's document, removing its orphaned events and restoring the stream to a writable state.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		doc, err := rawDocs.Load(ctx, repairObjectName, repairObjectID)
		if err != nil {
			exitWithError(fmt.Errorf("failed to load document %s/%s: %w", repairObjectName, repairObjectID, err))
			return
		}

		svc := repair.New(rawData, rawDocs, logging.Default())

		if cmd.Flags().Changed("from") && cmd.Flags().Changed("to") {
			if err := svc.RepairRange(ctx, doc, repairFrom, repairTo, "operator-requested range repair", nil); err != nil {
				exitWithError(fmt.Errorf("repair failed: %w", err))
				return
			}
			fmt.Printf("Repaired %s/%s range %d..%d.\n", repairObjectName, repairObjectID, repairFrom, repairTo)
			return
		}

		if err := svc.Repair(ctx, doc); err != nil {
			exitWithError(fmt.Errorf("repair failed: %w", err))
			return
		}
		fmt.Printf("Repaired %s/%s using its recorded broken range.\n", repairObjectName, repairObjectID)
	},
}

func init() {
	rootCmd.AddCommand(repairCmd)
	repairCmd.AddCommand(repairClearCmd)

	repairClearCmd.Flags().StringVar(&repairObjectName, "object", "Account", "Object name the stream belongs to")
	repairClearCmd.Flags().StringVar(&repairObjectID, "id", "", "Object ID to repair (required)")
	repairClearCmd.Flags().Int64Var(&repairFrom, "from", 0, "Explicit orphaned range start (overrides the document's recorded range when --to is also set)")
	repairClearCmd.Flags().Int64Var(&repairTo, "to", 0, "Explicit orphaned range end (overrides the document's recorded range when --from is also set)")
	_ = repairClearCmd.MarkFlagRequired("id")
}
