package guard

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	xerrors "SafeGuard-Agent/internal/errors"
	"SafeGuard-Agent/internal/llm"
)

// policyLLM answers the way the fixed policy prompt instructs.
type policyLLM struct {
	calls int
	last  llm.Request
}

var amountPattern = regexp.MustCompile(`send ([0-9.]+) POL to (\S+)\.`)

func (p *policyLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	p.calls++
	p.last = req
	match := amountPattern.FindStringSubmatch(req.Messages[len(req.Messages)-1].Content)
	if match == nil {
		return &llm.Response{Content: "no"}, nil
	}
	amount := decimal.RequireFromString(match[1])
	suspicious := len(match[2]) < 42 || match[2] == "0x0000000000000000000000000000000000000000"
	if amount.LessThanOrEqual(decimal.NewFromInt(5)) && !suspicious {
		return &llm.Response{Content: "yes"}, nil
	}
	return &llm.Response{Content: "no"}, nil
}

const recipient = "0xAbC1230000000000000000000000000000000001"

func TestEvaluateFollowsPolicy(t *testing.T) {
	stub := &policyLLM{}
	g := New(stub)

	for _, raw := range []string{"0.1", "1", "2", "5"} {
		decision, err := g.Evaluate(context.Background(), decimal.RequireFromString(raw), recipient)
		if err != nil {
			t.Fatalf("amount %s: unexpected error %v", raw, err)
		}
		if decision != Approve {
			t.Fatalf("amount %s: expected approve, got %s", raw, decision)
		}
	}
	for _, raw := range []string{"5.0001", "10", "1000"} {
		decision, err := g.Evaluate(context.Background(), decimal.RequireFromString(raw), recipient)
		if err != nil {
			t.Fatalf("amount %s: unexpected error %v", raw, err)
		}
		if decision != Deny {
			t.Fatalf("amount %s: expected deny, got %s", raw, decision)
		}
	}
	if stub.calls != 7 {
		t.Fatalf("expected one provider call per evaluation, got %d", stub.calls)
	}
}

func TestEvaluateUsesWalletPersona(t *testing.T) {
	stub := &policyLLM{}
	g := New(stub, WithModel("gpt-4"))
	if _, err := g.Evaluate(context.Background(), decimal.NewFromInt(1), recipient); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.last.Model != "gpt-4" {
		t.Fatalf("model not forwarded: %q", stub.last.Model)
	}
	if len(stub.last.Messages) != 2 || stub.last.Messages[0].Role != llm.RoleSystem {
		t.Fatalf("unexpected messages %+v", stub.last.Messages)
	}
	if stub.last.Messages[0].Content != "You are a secure crypto wallet AI." {
		t.Fatalf("unexpected persona %q", stub.last.Messages[0].Content)
	}
	if !strings.Contains(stub.last.Messages[1].Content, recipient) {
		t.Fatalf("recipient missing from prompt")
	}
}

func TestParseVerdict(t *testing.T) {
	approve := []string{"yes", "YES", "  Yes  ", "yes\nbecause the amount is small"}
	deny := []string{"", "no", "Yes please", "maybe", "yes.", "y", "\n\n", "no\nyes"}

	for _, reply := range approve {
		if ParseVerdict(reply) != Approve {
			t.Fatalf("%q should approve", reply)
		}
	}
	for _, reply := range deny {
		if ParseVerdict(reply) != Deny {
			t.Fatalf("%q should deny", reply)
		}
	}
}

func TestEvaluateFailsClosed(t *testing.T) {
	boom := errors.New("connection reset")
	g := New(llm.ClientFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		return nil, boom
	}))

	decision, err := g.Evaluate(context.Background(), decimal.NewFromInt(1), recipient)
	if decision != Deny {
		t.Fatalf("provider failure must deny")
	}
	if !xerrors.HasCode(err, xerrors.CodeGuardUnavailable) {
		t.Fatalf("expected GUARD_UNAVAILABLE, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("cause lost: %v", err)
	}
}

func TestEvaluateWithoutClient(t *testing.T) {
	decision, err := New(nil).Evaluate(context.Background(), decimal.NewFromInt(1), recipient)
	if decision != Deny || err == nil {
		t.Fatalf("expected deny with error, got %s %v", decision, err)
	}
}
