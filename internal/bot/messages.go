package bot

import "fmt"

// 面向用户的固定回复。错误细节只进入日志，不出现在回复中。
const (
	usageText      = "Usage: /send <amount> <wallet_address>"
	failedText     = "❌ Transaction failed. Check logs."
	declinedText   = "❌ AI declined this transaction for safety."
	badAmountText  = "❌ Amount must be a positive number, e.g. /send 1.5 0x…"
	forbiddenText  = "⛔ You are not allowed to send from this wallet."
	balanceErrText = "❌ Could not read the wallet balance. Check logs."
	askErrText     = "❌ Sorry, I could not answer that right now."
)

func startText(chain string) string {
	return fmt.Sprintf("👋 Hello! I'm your %s AI wallet bot.\n"+
		"Type /about to learn what I can do.\n"+
		"Try /balance or /send to get started.", chain)
}

func aboutText(chain, symbol string) string {
	return fmt.Sprintf("🤖 *I am your AI Wallet Assistant on %s!*\n\n"+
		"I can:\n"+
		"🔹 Check your wallet balance with /balance\n"+
		"🔹 Send %s safely with AI verification using /send <amount> <wallet_address>\n\n"+
		"🛡️ Every transaction is guarded by an AI rule system that checks for suspicious behavior.\n"+
		"If it looks risky, I’ll stop it.\n"+
		"\n_Stay safe out there!_", chain, symbol)
}

func balanceText(amount, symbol string) string {
	return fmt.Sprintf("🔹 Wallet Balance: %s %s", amount, symbol)
}

func sentText(safeTxHash, execTxHash string) string {
	text := "✅ Sent! TX Hash: " + safeTxHash
	if execTxHash != "" {
		text += "\n⛓ On-chain TX: " + execTxHash
	}
	return text
}
