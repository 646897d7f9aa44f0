package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "打印 Safe 的 owners 与阈值",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.close()

		info, err := rt.agent.Wallet()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Safe:      %s\n", info.Address.Hex())
		fmt.Fprintf(out, "Network:   %s\n", rt.cfg.Network.Name)
		fmt.Fprintf(out, "Threshold: %d/%d\n", info.Threshold, len(info.Owners))
		for i, owner := range info.Owners {
			fmt.Fprintf(out, "Owner %d:   %s\n", i+1, owner.Hex())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(walletCmd)
}
