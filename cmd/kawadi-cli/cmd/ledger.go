package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"kawadi-core/internal/service/credit"
)

var auditAll bool

var auditCmd = &cobra.Command{
	Use:   "audit [collector-id]",
	Short: "Replay a collector's ledger and compare it with the stored balance",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		credits := credit.NewService(db)
		out := cmd.OutOrStdout()

		if auditAll || len(args) == 0 {
			bad, err := credits.AuditAll(cmd.Context())
			if err != nil {
				return err
			}
			if len(bad) == 0 {
				fmt.Fprintln(out, "all ledgers consistent")
				return nil
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(bad); err != nil {
				return err
			}
			return fmt.Errorf("%d account(s) failed the audit", len(bad))
		}

		collectorID, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("collector id %q is not a number", args[0])
		}
		report, auditErr := credits.Audit(cmd.Context(), collectorID)
		if report != nil {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
		}
		return auditErr
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance <collector-id>",
	Short: "Print a collector's credit balance and recent ledger rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		collectorID, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("collector id %q is not a number", args[0])
		}
		limit, _ := cmd.Flags().GetInt("limit")

		db, err := openDB()
		if err != nil {
			return err
		}
		credits := credit.NewService(db)
		acc, err := credits.EnsureAccount(cmd.Context(), collectorID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "collector %d balance %s (purchased %s, used %s)\n",
			acc.CollectorID, acc.CurrentBalance, acc.TotalPurchased, acc.TotalUsed)
		if acc.IsLowBalance() {
			fmt.Fprintf(out, "low balance: threshold %s\n", acc.LowBalanceThreshold)
		}

		rows, err := credits.History(cmd.Context(), collectorID, limit)
		if err != nil {
			return err
		}
		for _, r := range rows {
			fmt.Fprintf(out, "%s  %-6s %10s  %10s -> %10s  %s\n",
				r.CreatedAt.Format("2006-01-02 15:04"), r.Type, r.Amount, r.BalanceBefore, r.BalanceAfter, r.Description)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().BoolVar(&auditAll, "all", false, "Audit every account")

	rootCmd.AddCommand(balanceCmd)
	balanceCmd.Flags().IntP("limit", "l", 10, "Number of ledger rows to show")
}
