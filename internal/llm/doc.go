// Package llm defines the provider-neutral chat-completion contract used by
// the transfer guard and the general question answering path.
package llm
