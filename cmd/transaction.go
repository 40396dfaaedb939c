package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/nullstream/eventstream/example/ledger"
)

// Variables to hold flag values for transaction commands
var (
	txAccountID    string // Use a different name to avoid conflict with account.go's accountID
	txCurrency     string
	txAmountStr    string
	txFromCurrency string
	txToCurrency   string
	txFromID       string
	txToID         string
)

// transactionCmd represents the transaction command group
var transactionCmd = &cobra.Command{
	Use:   "transaction",
	Short: "Perform financial transactions",
	Long:  `Provides commands for depositing, withdrawing, converting, and transferring funds between accounts.`,
}

// depositCmd represents the deposit command
var depositCmd = &cobra.Command{
	Use:   "deposit",
	Short: "Deposit funds into an account",
	Long:  `Adds a specified amount of a given currency to an account's balance.`,
	Run: func(cmd *cobra.Command, args []string) {
		currency := ledger.Currency(strings.ToUpper(txCurrency))
		if !isValidCurrency(currency) {
			exitWithError(fmt.Errorf("invalid currency code: %q. Supported: USD, EUR, GBP", currency))
			return
		}

		amount, err := decimal.NewFromString(txAmountStr)
		if err != nil {
			exitWithError(fmt.Errorf("invalid amount format: %q. %v", txAmountStr, err))
			return
		}
		if amount.IsNegative() || amount.IsZero() {
			exitWithError(fmt.Errorf("deposit amount must be positive: %s", amount))
			return
		}

		if err := ledgerService.Deposit(context.Background(), txAccountID, amount, currency); err != nil {
			exitWithError(fmt.Errorf("failed to deposit funds: %w", err))
			return
		}

		fmt.Printf("Successfully deposited %s %s into account '%s'.\n", amount.StringFixed(2), currency, txAccountID)
	},
}

// withdrawCmd represents the withdraw command
var withdrawCmd = &cobra.Command{
	Use:   "withdraw",
	Short: "Withdraw funds from an account",
	Long:  `Removes a specified amount of a given currency from an account's balance, checking for sufficient funds.`,
	Run: func(cmd *cobra.Command, args []string) {
		currency := ledger.Currency(strings.ToUpper(txCurrency))
		if !isValidCurrency(currency) {
			exitWithError(fmt.Errorf("invalid currency code: %q. Supported: USD, EUR, GBP", currency))
			return
		}

		amount, err := decimal.NewFromString(txAmountStr)
		if err != nil {
			exitWithError(fmt.Errorf("invalid amount format: %q. %v", txAmountStr, err))
			return
		}
		if amount.IsNegative() || amount.IsZero() {
			exitWithError(fmt.Errorf("withdrawal amount must be positive: %s", amount))
			return
		}

		if err := ledgerService.Withdraw(context.Background(), txAccountID, amount, currency); err != nil {
			exitWithError(fmt.Errorf("failed to withdraw funds: %w", err))
			return
		}

		fmt.Printf("Successfully withdrew %s %s from account '%s'.\n", amount.StringFixed(2), currency, txAccountID)
	},
}

// convertCmd represents the convert command
var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert currency within an account",
	Long:  `Converts a specified amount from one currency to another within the same account, using the service's configured exchange rate provider.`,
	Run: func(cmd *cobra.Command, args []string) {
		fromCurrency := ledger.Currency(strings.ToUpper(txFromCurrency))
		if !isValidCurrency(fromCurrency) {
			exitWithError(fmt.Errorf("invalid source currency code: %q. Supported: USD, EUR, GBP", fromCurrency))
			return
		}
		toCurrency := ledger.Currency(strings.ToUpper(txToCurrency))
		if !isValidCurrency(toCurrency) {
			exitWithError(fmt.Errorf("invalid target currency code: %q. Supported: USD, EUR, GBP", toCurrency))
			return
		}
		if fromCurrency == toCurrency {
			exitWithError(fmt.Errorf("source and target currencies cannot be the same"))
			return
		}

		amount, err := decimal.NewFromString(txAmountStr)
		if err != nil {
			exitWithError(fmt.Errorf("invalid amount format: %q. %v", txAmountStr, err))
			return
		}
		if amount.IsNegative() || amount.IsZero() {
			exitWithError(fmt.Errorf("conversion amount must be positive: %s", amount))
			return
		}

		if err := ledgerService.ConvertCurrency(context.Background(), txAccountID, amount, fromCurrency, toCurrency); err != nil {
			exitWithError(fmt.Errorf("failed to convert currency: %w", err))
			return
		}

		fmt.Printf("Successfully converted %s %s to %s for account '%s'.\n",
			amount.StringFixed(2), fromCurrency, toCurrency, txAccountID)
	},
}

// transferCmd represents the transfer command
var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Transfer funds between two accounts",
	Long:  `Transfers a specified amount and currency from the source account to the target account, committing a debit and a matching credit.`,
	Run: func(cmd *cobra.Command, args []string) {
		if txFromID == txToID {
			exitWithError(fmt.Errorf("source and target account IDs cannot be the same"))
			return
		}

		currency := ledger.Currency(strings.ToUpper(txCurrency))
		if !isValidCurrency(currency) {
			exitWithError(fmt.Errorf("invalid currency code: %q. Supported: USD, EUR, GBP", currency))
			return
		}

		amount, err := decimal.NewFromString(txAmountStr)
		if err != nil {
			exitWithError(fmt.Errorf("invalid amount format: %q. %v", txAmountStr, err))
			return
		}
		if amount.IsNegative() || amount.IsZero() {
			exitWithError(fmt.Errorf("transfer amount must be positive: %s", amount))
			return
		}

		if err := ledgerService.TransferMoney(context.Background(), txFromID, txToID, amount, currency); err != nil {
			exitWithError(fmt.Errorf("failed to transfer funds: %w", err))
			return
		}

		fmt.Printf("Successfully transferred %s %s from account '%s' to account '%s'.\n",
			amount.StringFixed(2), currency, txFromID, txToID)
	},
}

// isValidCurrency validates a currency code against the supported set.
func isValidCurrency(c ledger.Currency) bool {
	cUpper := ledger.Currency(strings.ToUpper(string(c)))
	return cUpper == ledger.USD || cUpper == ledger.EUR || cUpper == ledger.GBP
}

func init() {
	// Add transactionCmd to root command
	rootCmd.AddCommand(transactionCmd)

	// Add depositCmd to transactionCmd
	transactionCmd.AddCommand(depositCmd)

	depositCmd.Flags().StringVar(&txAccountID, "id", "", "Account ID to deposit into (required)")
	depositCmd.Flags().StringVar(&txCurrency, "currency", "", "Currency code (USD, EUR, GBP) (required)")
	depositCmd.Flags().StringVar(&txAmountStr, "amount", "", "Amount to deposit (required)")
	_ = depositCmd.MarkFlagRequired("id")
	_ = depositCmd.MarkFlagRequired("currency")
	_ = depositCmd.MarkFlagRequired("amount")

	// Add withdrawCmd to transactionCmd
	transactionCmd.AddCommand(withdrawCmd)

	withdrawCmd.Flags().StringVar(&txAccountID, "id", "", "Account ID to withdraw from (required)")
	withdrawCmd.Flags().StringVar(&txCurrency, "currency", "", "Currency code (USD, EUR, GBP) (required)")
	withdrawCmd.Flags().StringVar(&txAmountStr, "amount", "", "Amount to withdraw (required)")
	_ = withdrawCmd.MarkFlagRequired("id")
	_ = withdrawCmd.MarkFlagRequired("currency")
	_ = withdrawCmd.MarkFlagRequired("amount")

	// Add convertCmd to transactionCmd
	transactionCmd.AddCommand(convertCmd)

	convertCmd.Flags().StringVar(&txAccountID, "id", "", "Account ID for the conversion (required)")
	convertCmd.Flags().StringVar(&txFromCurrency, "from", "", "Source currency code (USD, EUR, GBP) (required)")
	convertCmd.Flags().StringVar(&txToCurrency, "to", "", "Target currency code (USD, EUR, GBP) (required)")
	convertCmd.Flags().StringVar(&txAmountStr, "amount", "", "Amount in source currency to convert (required)")
	_ = convertCmd.MarkFlagRequired("id")
	_ = convertCmd.MarkFlagRequired("from")
	_ = convertCmd.MarkFlagRequired("to")
	_ = convertCmd.MarkFlagRequired("amount")

	// Add transferCmd to transactionCmd
	transactionCmd.AddCommand(transferCmd)

	transferCmd.Flags().StringVar(&txFromID, "from-id", "", "Source account ID (required)")
	transferCmd.Flags().StringVar(&txToID, "to-id", "", "Target account ID (required)")
	transferCmd.Flags().StringVar(&txCurrency, "currency", "", "Currency code (USD, EUR, GBP) (required)")
	transferCmd.Flags().StringVar(&txAmountStr, "amount", "", "Amount to transfer (required)")
	_ = transferCmd.MarkFlagRequired("from-id")
	_ = transferCmd.MarkFlagRequired("to-id")
	_ = transferCmd.MarkFlagRequired("currency")
	_ = transferCmd.MarkFlagRequired("amount")
}
