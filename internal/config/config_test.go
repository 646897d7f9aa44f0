package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadYAMLWithDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "safeguard.yaml")
	content := `
wallet:
  safe_address: "0x1111111111111111111111111111111111111111"
network:
  rpc_url: "http://127.0.0.1:8545"
queue:
  driver: redis
knowledge:
  source: knowledge.json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Wallet.SafeAddress != "0x1111111111111111111111111111111111111111" {
		t.Fatalf("unexpected safe address %q", cfg.Wallet.SafeAddress)
	}
	if cfg.Queue.Driver != "redis" || cfg.Queue.Workers != 1 {
		t.Fatalf("unexpected queue config %+v", cfg.Queue)
	}
	if cfg.Network.Symbol != "POL" || cfg.Network.ExecGasLimit != 300000 {
		t.Fatalf("network defaults missing: %+v", cfg.Network)
	}
	if cfg.Knowledge.Source != filepath.Join(dir, "knowledge.json") {
		t.Fatalf("knowledge path not resolved: %s", cfg.Knowledge.Source)
	}
	if cfg.LLM.OpenAI.Model != "gpt-4" {
		t.Fatalf("unexpected model %q", cfg.LLM.OpenAI.Model)
	}
}

func TestApplyEnvDoesNotOverrideExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Wallet.SafeAddress = "0xfromfile"
	cfg.applyDefaults(".")

	env := map[string]string{
		"SAFE_ADDRESS":   "0xfromenv",
		"SAFE_OWNER_KEY": "deadbeef",
		"BOT_TOKEN":      "123:abc",
		"OPENAI_KEY":     "sk-test",
		"POLYGON_RPC":    "http://rpc",
	}
	cfg.applyEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})

	if cfg.Wallet.SafeAddress != "0xfromfile" {
		t.Fatalf("explicit value overridden: %s", cfg.Wallet.SafeAddress)
	}
	if cfg.Wallet.OwnerKey != "deadbeef" || cfg.Bot.Token != "123:abc" || cfg.Network.RPCURL != "http://rpc" {
		t.Fatalf("env values not applied: %+v", cfg)
	}
	if err := cfg.Validate(true); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestValidateReportsMissingSecrets(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults(".")
	if err := cfg.Validate(false); err == nil {
		t.Fatalf("expected validation error")
	}
}
