// Package config loads the daemon configuration from a JSON or YAML file and
// fills secrets (bot token, LLM key, Safe owner key, RPC endpoint) from the
// environment variables the deployment already exports.
package config
