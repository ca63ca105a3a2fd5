package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"kawadi-core/internal/service/purchase"
)

var seedPackagesCmd = &cobra.Command{
	Use:   "seed-packages",
	Short: "Create or update the standard credit packages",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		catalog := purchase.NewCatalog(db, nil)
		for _, p := range purchase.DefaultPackages() {
			p := p
			if err := catalog.Upsert(cmd.Context(), &p); err != nil {
				return fmt.Errorf("seed %s: %w", p.Name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-12s pay %10s  get %10s (+%s bonus)\n",
				p.Name, p.PurchaseAmount, p.CreditAmount, p.BonusCredits)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedPackagesCmd)
}
