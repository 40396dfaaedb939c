package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	streamObjectName string
	streamObjectID   string
	streamFrom       int64
	streamUntil      int64
)

// streamCmd represents the stream command group: low-level, operator-facing
// access to a raw object stream, bypassing the aggregate fold.
var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Inspect raw event streams",
	Long:  `Provides commands for operators to inspect a stream's raw committed events and document state directly, without folding them through an aggregate.`,
}

var streamReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Read raw events from a stream",
	Long:  `Reads and prints the raw committed events for an object stream in [from, until] (until < 0 means through the current tip), without upcasting or aggregate folding display.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		doc, err := rawDocs.Load(ctx, streamObjectName, streamObjectID)
		if err != nil {
			exitWithError(fmt.Errorf("failed to load document %s/%s: %w", streamObjectName, streamObjectID, err))
			return
		}

		events, err := rawData.Read(ctx, doc, streamFrom, streamUntil)
		if err != nil {
			exitWithError(fmt.Errorf("failed to read stream %s/%s: %w", streamObjectName, streamObjectID, err))
			return
		}

		fmt.Printf("Stream %s/%s (current_stream_version=%d, broken=%t):\n",
			streamObjectName, streamObjectID, doc.Active.CurrentStreamVersion, doc.Active.IsBroken)
		for _, evt := range events {
			fmt.Printf("  [%d] %s (schema v%d) payload=%s\n", evt.EventVersion, evt.EventType, evt.SchemaVersion, string(evt.Payload))
		}
	},
}

var streamInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print an object's document metadata",
	Long:  `Prints the full StreamInformation document for an object, including broken-stream and snapshot bookkeeping, as JSON.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		doc, err := rawDocs.Load(ctx, streamObjectName, streamObjectID)
		if err != nil {
			exitWithError(fmt.Errorf("failed to load document %s/%s: %w", streamObjectName, streamObjectID, err))
			return
		}

		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			exitWithError(fmt.Errorf("failed to marshal document: %w", err))
			return
		}
		fmt.Println(string(out))
	},
}

func init() {
	rootCmd.AddCommand(streamCmd)
	streamCmd.AddCommand(streamReadCmd)
	streamCmd.AddCommand(streamInfoCmd)

	streamCmd.PersistentFlags().StringVar(&streamObjectName, "object", "Account", "Object name the stream belongs to")
	streamCmd.PersistentFlags().StringVar(&streamObjectID, "id", "", "Object ID to inspect (required)")
	_ = streamCmd.MarkPersistentFlagRequired("id")

	streamReadCmd.Flags().Int64Var(&streamFrom, "from", 0, "First event_version to read (inclusive)")
	streamReadCmd.Flags().Int64Var(&streamUntil, "until", -1, "Last event_version to read (inclusive); -1 reads through the current tip")
}
