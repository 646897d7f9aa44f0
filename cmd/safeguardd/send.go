package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"SafeGuard-Agent/internal/agent"
	"SafeGuard-Agent/internal/safe"
)

var sendCmd = &cobra.Command{
	Use:   "send <amount> <address>",
	Short: "不经过 Telegram，直接走一次完整的转账流水线",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := safe.ParseAmount(args[0])
		if err != nil {
			return err
		}

		rt, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.close()

		outcome := rt.agent.Transfer(cmd.Context(), agent.TransferRequest{
			Amount:    amount,
			Recipient: args[1],
			Source:    "cli",
		})

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Transfer:   %s\n", outcome.TransferID)
		fmt.Fprintf(out, "State:      %s\n", outcome.State)
		switch {
		case outcome.Accepted():
			fmt.Fprintf(out, "Nonce:      %d\n", outcome.Nonce)
			fmt.Fprintf(out, "SafeTxHash: %s\n", outcome.SafeTxHash.Hex())
			if outcome.Executed() {
				fmt.Fprintf(out, "ExecTx:     %s\n", outcome.ExecTxHash.Hex())
			}
			if outcome.Err != nil {
				fmt.Fprintf(out, "Warning:    %v\n", outcome.Err)
			}
			return nil
		case outcome.Declined():
			return errors.New("转账被风控拒绝")
		default:
			return fmt.Errorf("转账失败: %w", outcome.Err)
		}
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
