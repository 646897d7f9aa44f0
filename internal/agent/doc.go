// Package agent runs the transfer authorization pipeline: guard verdict,
// Safe transaction build, owner signature, relay proposal and, for
// single-signer Safes, on-chain execution. Each stage short-circuits on
// failure and the resulting terminal state is returned as an Outcome.
// It also answers free-form questions and balance queries for the bot.
package agent
