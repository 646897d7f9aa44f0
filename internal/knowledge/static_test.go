package knowledge

import (
	"os"
	"path/filepath"
	"testing"

	xerrors "SafeGuard-Agent/internal/errors"
)

func TestDefaultsMatchCommands(t *testing.T) {
	provider, err := LoadStaticProvider("", 2)
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	got := provider.Query("How do I check my BALANCE?")
	if len(got) != 1 || got[0].Title != "/balance" {
		t.Fatalf("unexpected snippets: %+v", got)
	}
	if len(provider.Query("what is the weather")) != 0 {
		t.Fatal("unrelated question should not match")
	}
	if len(provider.Query("send to a multisig owner after guard declined")) != 2 {
		t.Fatal("results should be capped at maxResults")
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.yaml")
	content := "- title: Fees\n  content: Gas is paid by the executing owner.\n  keywords: [gas, fee]\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	provider, err := LoadStaticProvider(path, 0)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	got := provider.Query("who pays the gas?")
	if len(got) != 1 || got[0].Title != "Fees" {
		t.Fatalf("unexpected snippets: %+v", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadStaticProvider(filepath.Join(t.TempDir(), "missing.json"), 3); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestQueryRanksByKeywordHits(t *testing.T) {
	provider := NewStaticProvider([]Snippet{
		{Title: "one", Content: "a", Keywords: []string{"safe"}},
		{Title: "two", Content: "b", Keywords: []string{"safe", "owner", " OWNER "}},
		{Title: "skipped", Content: "", Keywords: []string{"safe"}},
		{Title: "no-keywords", Content: "c"},
	}, 5)
	if provider.Len() != 2 {
		t.Fatalf("invalid entries should be dropped, got %d", provider.Len())
	}

	got := provider.Query("which owner controls the safe")
	if len(got) != 2 || got[0].Title != "two" || got[1].Title != "one" {
		t.Fatalf("unexpected ranking: %+v", got)
	}
}

func TestLoadRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.json")
	if err := os.WriteFile(path, []byte("[]"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := LoadStaticProvider(path, 3); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
