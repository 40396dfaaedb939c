package cmd

import (
	"bufio" // Added for REPL input
	"fmt"
	"os"
	"strings" // Added for REPL input processing
	"sync"

	"github.com/spf13/cobra"

	"github.com/nullstream/eventstream/datastore"
	"github.com/nullstream/eventstream/example/ledger"
	"github.com/nullstream/eventstream/internal/logging"
	"github.com/nullstream/eventstream/migration"
)

var (
	// Shared application service instance
	ledgerService *ledger.Service

	// rawData/rawDocs are the concrete backend buildBackingStore selected
	// (config-driven: memory, bolt, or postgres). The stream/migrate/repair
	// command groups talk to them directly, bypassing the routing
	// decorator ledgerService sees, because they are operator tools for
	// raw stream access and the saga's own bookkeeping respectively (see
	// cmd/stream.go, cmd/migrate.go).
	rawData datastore.DataStore
	rawDocs datastore.DocumentStore

	// routingTable backs every migration saga run from this process and
	// is consulted by every ledgerService read/write via migration.RoutedStore;
	// a real deployment persists it (see migration.RoutingTable) instead
	// of keeping it in-process.
	routingTable = migration.NewTable()

	storeInitOnce sync.Once
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ledger-cli",
	Short: "A CLI for interacting with the event-sourced financial ledger",
	Long: `ledger-cli is a command-line interface to manage accounts and transactions
in the event-sourced financial ledger system.

It allows creating accounts, performing deposits, withdrawals,
currency conversions, transfers, and querying account balances and
history, plus operator commands for inspecting raw streams, running
schema migrations, and repairing broken streams.`,
	// Run: func(cmd *cobra.Command, args []string) { }, // No action for root command itself
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// PersistentPreRunE runs once flags are parsed, on every Execute call;
	// storeInitOnce confines the actual construction to the first call so
	// the REPL's repeated rootCmd.Execute() calls reuse the same store and
	// service instead of rebuilding (and losing) state on every line.
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		storeInitOnce.Do(func() { err = initBackingStore() })
		return err
	}

	// Add subcommands here (account.go, transaction.go, query.go,
	// migrate.go, repair.go, stream.go each register themselves via
	// their own init()).
	rootCmd.AddCommand(replCmd) // Add the repl command
}

// initBackingStore builds the configured backend and the ledger service
// on top of it.
func initBackingStore() error {
	data, docs, err := buildBackingStore()
	if err != nil {
		return fmt.Errorf("failed to initialize backing store: %w", err)
	}
	rawData, rawDocs = data, docs

	routed := migration.NewRoutedStore(rawData, rawDocs, routingTable, logging.Default())
	svc, err := ledger.New(ledger.Config{
		Data: routed,
		Docs: routed,
		Log:  logging.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize ledger service: %w", err)
	}
	ledgerService = svc
	return nil
}

// Helper function to print errors and exit
func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	// In REPL mode, we don't exit the process on command error
	// We just print the error and continue the loop.
}

// replCmd represents the repl command
var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Start an interactive REPL session",
	Long:  `Starts an interactive Read-Eval-Print Loop session to interact with the ledger.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Starting ledger CLI REPL. Type 'exit' or 'quit' to exit.")

		reader := bufio.NewReader(os.Stdin)

		for {
			fmt.Print("> ")
			input, _ := reader.ReadString('\n')
			input = strings.TrimSpace(input)

			if input == "exit" || input == "quit" {
				break
			}

			if input == "" {
				continue
			}

			// Split input into args, similar to how the OS shell does it.
			commandArgs := strings.Fields(input)

			// Execute the command using the root command. We need to
			// temporarily set os.Args to the command and its args and
			// then restore it. This is a bit hacky but works with Cobra.
			originalArgs := os.Args
			os.Args = append([]string{originalArgs[0]}, commandArgs...) // Prepend program name

			rootCmd.Execute()

			// Restore original os.Args
			os.Args = originalArgs
		}

		fmt.Println("Exiting REPL.")
	},
}
