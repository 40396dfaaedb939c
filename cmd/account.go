package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/nullstream/eventstream/example/ledger"
)

var (
	accountID string
	balances  []string
)

// accountCmd represents the account command group
var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage financial accounts",
	Long:  `Provides commands to create and manage financial accounts.`,
}

// createCmd represents the create command
var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new financial account",
	Long: `Creates a new financial account with an optional ID and initial balances.
If --id is not provided, a new UUID will be generated.
Initial balances can be set using the --balance flag multiple times,
e.g., --balance USD:100.50 --balance EUR:50`,
	Run: func(cmd *cobra.Command, args []string) {
		initialBalancesMap := make(map[ledger.Currency]decimal.Decimal)
		for _, b := range balances {
			parts := strings.SplitN(b, ":", 2)
			if len(parts) != 2 {
				exitWithError(fmt.Errorf("invalid balance format: %q. Use CURRENCY:AMOUNT (e.g., USD:100.50)", b))
				return
			}
			currency := ledger.Currency(strings.ToUpper(parts[0]))
			if !isValidCurrency(currency) {
				exitWithError(fmt.Errorf("invalid currency code: %q. Supported: USD, EUR, GBP", currency))
				return
			}
			amount, err := decimal.NewFromString(parts[1])
			if err != nil {
				exitWithError(fmt.Errorf("invalid amount format for %s: %q. %v", currency, parts[1], err))
				return
			}
			if amount.IsNegative() {
				exitWithError(fmt.Errorf("initial balance cannot be negative: %s %s", currency, amount))
				return
			}
			if _, exists := initialBalancesMap[currency]; exists {
				exitWithError(fmt.Errorf("duplicate initial balance provided for currency: %s", currency))
				return
			}
			initialBalancesMap[currency] = amount
		}

		// The service handles ID generation when accountID is empty and
		// returns the ID actually used.
		accountIDUsed, err := ledgerService.CreateAccount(context.Background(), accountID, initialBalancesMap)
		if err != nil {
			exitWithError(fmt.Errorf("failed to create account: %w", err))
			return
		}

		fmt.Printf("Account '%s' created successfully.\n", accountIDUsed)
		if len(initialBalancesMap) > 0 {
			fmt.Println("Initial Balances:")
			for cur, amt := range initialBalancesMap {
				fmt.Printf("  %s: %s\n", cur, amt.StringFixed(2))
			}
		}
	},
}

func init() {
	// Add accountCmd to root command
	rootCmd.AddCommand(accountCmd)

	// Add createCmd to accountCmd
	accountCmd.AddCommand(createCmd)

	// Define flags for createCmd
	createCmd.Flags().StringVar(&accountID, "id", "", "Optional unique ID for the account (generated if empty)")
	createCmd.Flags().StringSliceVarP(&balances, "balance", "b", []string{}, "Initial balance(s) in CURRENCY:AMOUNT format (e.g., USD:100.50). Can be used multiple times.")
}
