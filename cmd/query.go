package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nullstream/eventstream/event"
	"github.com/nullstream/eventstream/example/ledger"
)

// Variables for query flags
var (
	queryAccountID string
	queryCurrency  string // Optional currency for balance query
	querySkip      int
	queryLimit     int
)

// queryCmd represents the query command group
var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query account information",
	Long:  `Provides commands to query account balances and transaction history.`,
}

// balanceCmd represents the balance command
var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Get account balance(s)",
	Long: `Retrieves the current balance for one or all currencies in a specified account.
If --currency is omitted, all balances are shown.`,
	Run: func(cmd *cobra.Command, args []string) {
		var targetCurrency *ledger.Currency
		if queryCurrency != "" {
			c := ledger.Currency(strings.ToUpper(queryCurrency))
			if !isValidCurrency(c) {
				exitWithError(fmt.Errorf("invalid currency code: %q. Supported: USD, EUR, GBP", c))
				return
			}
			targetCurrency = &c
		}

		balances, err := ledgerService.GetCurrentBalance(context.Background(), queryAccountID, targetCurrency)
		if err != nil {
			exitWithError(fmt.Errorf("failed to get balance: %w", err))
			return
		}

		if len(balances) == 0 {
			if targetCurrency != nil {
				fmt.Printf("Account '%s' Balance (%s): 0.00\n", queryAccountID, *targetCurrency)
			} else {
				fmt.Printf("Account '%s' has no balances.\n", queryAccountID)
			}
			return
		}

		fmt.Printf("Account '%s' Balances:\n", queryAccountID)
		currencies := make([]ledger.Currency, 0, len(balances))
		for cur := range balances {
			currencies = append(currencies, cur)
		}
		sort.Slice(currencies, func(i, j int) bool {
			return currencies[i] < currencies[j]
		})

		for _, cur := range currencies {
			fmt.Printf("  %s: %s\n", cur, balances[cur].StringFixed(2))
		}
	},
}

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Get account transaction history (events)",
	Long:  `Retrieves the sequence of events (transaction history) for a specified account, with optional pagination.`,
	Run: func(cmd *cobra.Command, args []string) {
		if querySkip < 0 {
			exitWithError(fmt.Errorf("skip value cannot be negative"))
			return
		}
		if queryLimit < 0 {
			exitWithError(fmt.Errorf("limit value cannot be negative"))
			return
		}

		history, err := ledgerService.GetTransactionHistory(context.Background(), queryAccountID, querySkip, queryLimit)
		if err != nil {
			exitWithError(fmt.Errorf("failed to get history: %w", err))
			return
		}

		if len(history) == 0 {
			fmt.Printf("No transaction history found for account '%s'.\n", queryAccountID)
			return
		}

		fmt.Printf("Transaction History for Account '%s':\n", queryAccountID)
		fmt.Println("--------------------------------------------------")
		for i, evt := range history {
			fmt.Printf("Event %d:\n", querySkip+i+1)
			printEventDetails(evt)
			fmt.Println("--------------------------------------------------")
		}
	},
}

// printEventDetails formats and prints the details of a single event.
// It decodes the payload into the concrete struct its EventType names,
// falling back to raw JSON for anything unrecognized.
func printEventDetails(evt event.Event) {
	fmt.Printf("  Type:          %s\n", evt.EventType)
	fmt.Printf("  Version:       %d\n", evt.EventVersion)
	fmt.Printf("  SchemaVersion: %d\n", evt.SchemaVersion)

	switch evt.EventType {
	case ledger.EventAccountCreated:
		var p ledger.AccountCreatedPayload
		if err := json.Unmarshal(evt.Payload, &p); err == nil {
			fmt.Println("  Details:")
			if len(p.InitialBalances) > 0 {
				for _, bal := range p.InitialBalances {
					fmt.Printf("    Initial Balance: %s %s\n", bal.Currency, bal.Amount.StringFixed(2))
				}
			} else {
				fmt.Println("    (No initial balances)")
			}
			return
		}
	case ledger.EventDepositMade:
		var p ledger.DepositMadePayload
		if err := json.Unmarshal(evt.Payload, &p); err == nil {
			fmt.Println("  Details:")
			fmt.Printf("    Amount:   %s\n", p.Amount.StringFixed(2))
			fmt.Printf("    Currency: %s\n", p.Currency)
			return
		}
	case ledger.EventWithdrawalMade:
		var p ledger.WithdrawalMadePayload
		if err := json.Unmarshal(evt.Payload, &p); err == nil {
			fmt.Println("  Details:")
			fmt.Printf("    Amount:   %s\n", p.Amount.StringFixed(2))
			fmt.Printf("    Currency: %s\n", p.Currency)
			return
		}
	case ledger.EventCurrencyConverted:
		var p ledger.CurrencyConvertedPayload
		if err := json.Unmarshal(evt.Payload, &p); err == nil {
			fmt.Println("  Details:")
			fmt.Printf("    From: %s %s\n", p.FromCurrency, p.FromAmount.StringFixed(2))
			fmt.Printf("    To:   %s %s\n", p.ToCurrency, p.ToAmount.StringFixed(2))
			fmt.Printf("    Rate: %s\n", p.ExchangeRate.String())
			return
		}
	case ledger.EventMoneyTransferred:
		var p ledger.MoneyTransferredPayload
		if err := json.Unmarshal(evt.Payload, &p); err == nil {
			fmt.Println("  Details:")
			fmt.Printf("    Transfer:    %s (%s)\n", p.TransferID, p.Direction)
			fmt.Printf("    Counterparty: %s\n", p.CounterpartyID)
			fmt.Printf("    Amount:      %s %s\n", p.Amount.StringFixed(2), p.Currency)
			fmt.Printf("    Rate:        %s\n", p.ExchangeRate.String())
			return
		}
	}

	// Fallback for unknown event types or a failed decode: print raw JSON.
	fmt.Println("  Details (Raw JSON):")
	fmt.Printf("    %s\n", string(evt.Payload))
}

func init() {
	// Add queryCmd to root command
	rootCmd.AddCommand(queryCmd)

	// Add balanceCmd to queryCmd
	queryCmd.AddCommand(balanceCmd)

	balanceCmd.Flags().StringVar(&queryAccountID, "id", "", "Account ID to query (required)")
	balanceCmd.Flags().StringVar(&queryCurrency, "currency", "", "Optional currency code (USD, EUR, GBP) to get specific balance")
	_ = balanceCmd.MarkFlagRequired("id")

	// Add historyCmd to queryCmd
	queryCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&queryAccountID, "id", "", "Account ID to query (required)")
	historyCmd.Flags().IntVar(&querySkip, "skip", 0, "Number of events to skip (for pagination)")
	historyCmd.Flags().IntVar(&queryLimit, "limit", 0, "Maximum number of events to return (0 for no limit)")
	_ = historyCmd.MarkFlagRequired("id")
}
