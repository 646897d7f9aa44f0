package bot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"SafeGuard-Agent/internal/agent"
	xerrors "SafeGuard-Agent/internal/errors"
	"SafeGuard-Agent/internal/ledger"
)

type stubPipeline struct {
	outcome   agent.Outcome
	transfers []agent.TransferRequest
	questions []string
	answer    string
	askErr    error
	balance   decimal.Decimal
	balErr    error
}

func (s *stubPipeline) Transfer(_ context.Context, req agent.TransferRequest) agent.Outcome {
	s.transfers = append(s.transfers, req)
	return s.outcome
}

func (s *stubPipeline) Ask(_ context.Context, question string) (string, error) {
	s.questions = append(s.questions, question)
	return s.answer, s.askErr
}

func (s *stubPipeline) Balance(context.Context) (decimal.Decimal, error) {
	return s.balance, s.balErr
}

func TestSendArityReturnsUsage(t *testing.T) {
	pipeline := &stubPipeline{}
	d := NewDispatcher(pipeline)

	for _, text := range []string{"/send", "/send 1", "/send 1 0xabc extra"} {
		reply := d.Handle(context.Background(), Update{ChatID: 1, Text: text})
		if reply.Text != "Usage: /send <amount> <wallet_address>" {
			t.Fatalf("%q: unexpected reply %q", text, reply.Text)
		}
	}
	if len(pipeline.transfers) != 0 {
		t.Fatal("wrong arity must not start a transfer")
	}
}

func TestSendRejectsNonPositiveAmount(t *testing.T) {
	pipeline := &stubPipeline{}
	d := NewDispatcher(pipeline)

	for _, amount := range []string{"0", "-1", "abc", "0.0000000000000000001"} {
		reply := d.Handle(context.Background(), Update{ChatID: 1, Text: "/send " + amount + " 0xabc"})
		if reply.Text != badAmountText {
			t.Fatalf("%s: unexpected reply %q", amount, reply.Text)
		}
	}
	if len(pipeline.transfers) != 0 {
		t.Fatal("invalid amounts must not start a transfer")
	}
}

func TestSendMapsOutcomes(t *testing.T) {
	safeHash := common.HexToHash("0x01")
	execHash := common.HexToHash("0x02")

	cases := []struct {
		name    string
		outcome agent.Outcome
		want    string
	}{
		{"executed", agent.Outcome{State: ledger.StateExecuted, SafeTxHash: safeHash, ExecTxHash: execHash},
			"✅ Sent! TX Hash: " + safeHash.Hex() + "\n⛓ On-chain TX: " + execHash.Hex()},
		{"pending", agent.Outcome{State: ledger.StatePendingCosign, SafeTxHash: safeHash},
			"✅ Sent! TX Hash: " + safeHash.Hex()},
		{"execution failed", agent.Outcome{State: ledger.StateExecutionFailed, SafeTxHash: safeHash, Err: errors.New("reverted")},
			"✅ Sent! TX Hash: " + safeHash.Hex()},
		{"declined", agent.Outcome{State: ledger.StateGuardRejected}, declinedText},
		{"guard down", agent.Outcome{State: ledger.StateGuardRejected, Err: xerrors.New(xerrors.CodeGuardUnavailable, "down")}, failedText},
		{"relay rejected", agent.Outcome{State: ledger.StateFailed, Err: xerrors.New(xerrors.CodeRelayRejected, "422")}, failedText},
	}
	for _, tc := range cases {
		pipeline := &stubPipeline{outcome: tc.outcome}
		reply := NewDispatcher(pipeline).Handle(context.Background(), Update{ChatID: 5, UserID: 7, Username: "alice", Text: "/send 1.5 0xabc"})
		if reply.Text != tc.want || reply.ChatID != 5 {
			t.Fatalf("%s: unexpected reply %+v", tc.name, reply)
		}
		req := pipeline.transfers[0]
		if !req.Amount.Equal(decimal.RequireFromString("1.5")) || req.Recipient != "0xabc" || req.UserID != 7 || req.Username != "alice" {
			t.Fatalf("%s: unexpected request %+v", tc.name, req)
		}
	}
}

func TestAllowedUsersRestrictSend(t *testing.T) {
	pipeline := &stubPipeline{answer: "hi"}
	d := NewDispatcher(pipeline, WithAllowedUsers(42))

	if reply := d.Handle(context.Background(), Update{UserID: 7, Text: "/send 1 0xabc"}); reply.Text != forbiddenText {
		t.Fatalf("unexpected reply %q", reply.Text)
	}
	if len(pipeline.transfers) != 0 {
		t.Fatal("unauthorised user must not start a transfer")
	}
	if reply := d.Handle(context.Background(), Update{UserID: 7, Text: "hello"}); reply.Text != "hi" {
		t.Fatalf("questions stay open to everyone, got %q", reply.Text)
	}
	d.Handle(context.Background(), Update{UserID: 42, Text: "/send 1 0xabc"})
	if len(pipeline.transfers) != 1 {
		t.Fatal("allowed user should reach the pipeline")
	}
}

func TestInformationalCommands(t *testing.T) {
	pipeline := &stubPipeline{balance: decimal.RequireFromString("12.345678")}
	d := NewDispatcher(pipeline, WithNetwork("Polygon", "POL"))

	if reply := d.Handle(context.Background(), Update{Text: "/balance"}); reply.Text != "🔹 Wallet Balance: 12.3457 POL" {
		t.Fatalf("unexpected balance reply %q", reply.Text)
	}
	about := d.Handle(context.Background(), Update{Text: "/about@SafeGuardBot"})
	if !about.Markdown || !strings.Contains(about.Text, "/send <amount> <wallet_address>") {
		t.Fatalf("unexpected about reply %+v", about)
	}
	start := d.Handle(context.Background(), Update{Text: "/start"})
	if !strings.HasPrefix(start.Text, "👋 Hello! I'm your Polygon AI wallet bot.") || start.Markdown {
		t.Fatalf("unexpected start reply %+v", start)
	}
	if reply := d.Handle(context.Background(), Update{Text: "/unknown"}); reply.Text != "" {
		t.Fatalf("unknown commands are ignored, got %q", reply.Text)
	}
	if len(pipeline.questions) != 0 || len(pipeline.transfers) != 0 {
		t.Fatal("informational commands must not reach the model or the pipeline")
	}
}

func TestQuestionFailuresAreGeneric(t *testing.T) {
	pipeline := &stubPipeline{askErr: errors.New("provider exploded with secret detail"), balErr: errors.New("rpc down")}
	d := NewDispatcher(pipeline)

	if reply := d.Handle(context.Background(), Update{Text: "what can you do?"}); reply.Text != askErrText {
		t.Fatalf("unexpected reply %q", reply.Text)
	}
	if pipeline.questions[0] != "what can you do?" {
		t.Fatalf("question must be forwarded unchanged, got %q", pipeline.questions[0])
	}
	if reply := d.Handle(context.Background(), Update{Text: "/balance"}); reply.Text != balanceErrText {
		t.Fatalf("unexpected reply %q", reply.Text)
	}
}
