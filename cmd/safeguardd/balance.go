package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "查询 Safe 的原生代币余额",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.close()

		balance, err := rt.agent.Balance(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", balance.StringFixed(4), rt.cfg.Network.Symbol)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}
