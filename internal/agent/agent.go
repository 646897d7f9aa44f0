package agent

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	xerrors "SafeGuard-Agent/internal/errors"
	"SafeGuard-Agent/internal/guard"
	"SafeGuard-Agent/internal/knowledge"
	"SafeGuard-Agent/internal/ledger"
	"SafeGuard-Agent/internal/llm"
	"SafeGuard-Agent/internal/observability/alerting"
	"SafeGuard-Agent/internal/observability/metrics"
	"SafeGuard-Agent/internal/relay"
	"SafeGuard-Agent/internal/safe"
	"SafeGuard-Agent/internal/wallet"
	"SafeGuard-Agent/pkg/logger"
)

// Guard 给出转账判定。
type Guard interface {
	Evaluate(ctx context.Context, amount decimal.Decimal, recipient string) (guard.Decision, error)
}

// TxBuilder 构建待签名的 Safe 交易。
type TxBuilder interface {
	Build(ctx context.Context, to string, amount decimal.Decimal) (*safe.SafeTx, error)
}

// Signer 使用 owner 私钥签名 Safe 交易哈希。
type Signer interface {
	Sign(hash common.Hash) (safe.Signature, error)
	Address() common.Address
}

// Proposer 将签名后的交易提交给中继服务。
type Proposer interface {
	Propose(ctx context.Context, safeAddr common.Address, proposal relay.Proposal) error
}

// TxExecutor 在链上执行已满足阈值的交易。
type TxExecutor interface {
	Execute(ctx context.Context, tx *safe.SafeTx, sig safe.Signature) (common.Hash, error)
}

// WalletSource 提供当前的 Safe 元数据快照。
type WalletSource interface {
	Snapshot() wallet.Info
}

// BalanceReader 查询原生代币余额。
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Components 汇总流水线各阶段的依赖。Executor、Chain 与 LLM 可以为空。
type Components struct {
	Guard    Guard
	Builder  TxBuilder
	Signer   Signer
	Relay    Proposer
	Executor TxExecutor
	Wallet   WalletSource
	Chain    BalanceReader
	LLM      llm.Client
}

// TransferRequest 描述一次转账请求。
type TransferRequest struct {
	Amount    decimal.Decimal
	Recipient string
	Source    string
	ChatID    int64
	UserID    int64
	Username  string
}

// Outcome 是一次流水线运行的终态。
type Outcome struct {
	TransferID string
	State      ledger.State
	Nonce      uint64
	SafeTxHash common.Hash
	ExecTxHash common.Hash
	// Err 记录导致终态的错误；execution_failed 时交易仍在中继上等待执行。
	Err error
}

// Accepted 表示中继已接受提案，用户应看到成功回复。
func (o Outcome) Accepted() bool {
	switch o.State {
	case ledger.StatePendingCosign, ledger.StateExecuted, ledger.StateExecutionFailed:
		return true
	default:
		return false
	}
}

// Declined 表示守卫明确拒绝了转账。
func (o Outcome) Declined() bool {
	return o.State == ledger.StateGuardRejected && o.Err == nil
}

// Executed 表示交易已在链上广播。
func (o Outcome) Executed() bool {
	return o.State == ledger.StateExecuted
}

// Agent 串联守卫、构建、签名、中继与执行阶段，是系统的业务核心。
type Agent struct {
	guard      Guard
	builder    TxBuilder
	signer     Signer
	relay      Proposer
	executor   TxExecutor
	wallet     WalletSource
	chain      BalanceReader
	llmClient  llm.Client
	ledger     ledger.Store
	alerts     alerting.Dispatcher
	knowledge  knowledge.Provider
	model      string
	llmTimeout time.Duration
	newID      func() string
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithLedger 配置转账审计记录。
func WithLedger(store ledger.Store) Option {
	return func(a *Agent) {
		a.ledger = store
	}
}

// WithAlerts 配置告警分发器。
func WithAlerts(dispatcher alerting.Dispatcher) Option {
	return func(a *Agent) {
		a.alerts = dispatcher
	}
}

// WithKnowledgeProvider 配置知识库，用于在问答前补充上下文。
func WithKnowledgeProvider(provider knowledge.Provider) Option {
	return func(a *Agent) {
		a.knowledge = provider
	}
}

// WithModel 设置问答使用的模型。
func WithModel(model string) Option {
	return func(a *Agent) {
		a.model = strings.TrimSpace(model)
	}
}

// WithLLMTimeout 设置调用大模型（守卫与问答）的超时时间，0 表示不限制。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.llmTimeout = 0
			return
		}
		a.llmTimeout = timeout
	}
}

// WithIDGenerator 覆盖转账记录 ID 的生成方式。
func WithIDGenerator(fn func() string) Option {
	return func(a *Agent) {
		if fn != nil {
			a.newID = fn
		}
	}
}

// New 创建一个 Agent。
func New(c Components, opts ...Option) *Agent {
	ag := &Agent{
		guard:     c.Guard,
		builder:   c.Builder,
		signer:    c.Signer,
		relay:     c.Relay,
		executor:  c.Executor,
		wallet:    c.Wallet,
		chain:     c.Chain,
		llmClient: c.LLM,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	return ag
}

// Wallet 返回当前的 Safe 元数据快照。
func (a *Agent) Wallet() (wallet.Info, error) {
	if a.wallet == nil {
		return wallet.Info{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置钱包信息")
	}
	return a.wallet.Snapshot(), nil
}

// Transfer 按顺序执行各阶段，任一阶段失败即停止。每个远程调用只尝试一次。
func (a *Agent) Transfer(ctx context.Context, req TransferRequest) Outcome {
	run := &transferRun{agent: a, req: req, log: logger.Named("agent")}

	if err := a.ready(); err != nil {
		return run.finish(ctx, ledger.StateFailed, "", err)
	}
	run.outcome.TransferID = a.newID()
	run.create(ctx)
	if !req.Amount.IsPositive() {
		return run.finish(ctx, ledger.StateFailed, "", xerrors.New(xerrors.CodeInvalidArgument, "转账金额必须大于 0"))
	}

	decision, err := run.evaluate(ctx)
	if err != nil {
		metrics.ObserveGuardDecision("unavailable")
		return run.finish(ctx, ledger.StateGuardRejected, "guard", err)
	}
	metrics.ObserveGuardDecision(decision.String())
	if decision != guard.Approve {
		return run.finish(ctx, ledger.StateGuardRejected, "guard", nil)
	}
	run.transition(ctx, ledger.StateGuardApproved, ledger.Patch{})

	var tx *safe.SafeTx
	err = run.stage("build", func() error {
		var buildErr error
		tx, buildErr = a.builder.Build(ctx, req.Recipient, req.Amount)
		return buildErr
	})
	if err != nil {
		return run.finish(ctx, ledger.StateFailed, "build", err)
	}
	run.outcome.Nonce = tx.Nonce
	run.outcome.SafeTxHash = tx.Hash
	nonce := tx.Nonce
	run.transition(ctx, ledger.StateBuilt, ledger.Patch{Nonce: &nonce, SafeTxHash: tx.Hash.Hex()})

	var sig safe.Signature
	err = run.stage("sign", func() error {
		var signErr error
		sig, signErr = a.signer.Sign(tx.Hash)
		return signErr
	})
	if err != nil {
		return run.finish(ctx, ledger.StateFailed, "sign", err)
	}
	run.transition(ctx, ledger.StateSigned, ledger.Patch{})

	err = run.stage("propose", func() error {
		return a.relay.Propose(ctx, tx.Safe, relay.NewProposal(tx, sig, a.signer.Address()))
	})
	if err != nil {
		return run.finish(ctx, ledger.StateFailed, "propose", err)
	}
	run.transition(ctx, ledger.StateRelaySubmitted, ledger.Patch{})

	info := a.wallet.Snapshot()
	if !info.SingleSigner() {
		return run.finish(ctx, ledger.StatePendingCosign, "", nil)
	}
	if a.executor == nil {
		run.log.Warn("阈值为 1 但未配置执行器，交易等待手动执行", slog.String("transfer_id", run.outcome.TransferID))
		return run.finish(ctx, ledger.StatePendingCosign, "", nil)
	}

	var execHash common.Hash
	err = run.stage("execute", func() error {
		var execErr error
		execHash, execErr = a.executor.Execute(ctx, tx, sig)
		return execErr
	})
	if err != nil {
		return run.finish(ctx, ledger.StateExecutionFailed, "execute", err)
	}
	run.outcome.ExecTxHash = execHash
	return run.finish(ctx, ledger.StateExecuted, "", nil)
}

func (a *Agent) ready() error {
	switch {
	case a.guard == nil:
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置守卫", xerrors.WithStage("guard"))
	case a.builder == nil:
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置交易构建器", xerrors.WithStage("build"))
	case a.signer == nil:
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置签名者", xerrors.WithStage("sign"))
	case a.relay == nil:
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置中继客户端", xerrors.WithStage("propose"))
	case a.wallet == nil:
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置钱包信息", xerrors.WithStage("wallet"))
	}
	return nil
}

// transferRun 保存单次流水线运行的状态。
type transferRun struct {
	agent   *Agent
	req     TransferRequest
	outcome Outcome
	log     *slog.Logger
}

func (r *transferRun) evaluate(ctx context.Context) (guard.Decision, error) {
	guardCtx := ctx
	if r.agent.llmTimeout > 0 {
		var cancel context.CancelFunc
		guardCtx, cancel = context.WithTimeout(ctx, r.agent.llmTimeout)
		defer cancel()
	}
	decision := guard.Deny
	err := r.stage("guard", func() error {
		var evalErr error
		decision, evalErr = r.agent.guard.Evaluate(guardCtx, r.req.Amount, r.req.Recipient)
		return evalErr
	})
	if err != nil {
		return guard.Deny, err
	}
	return decision, nil
}

// stage 计时执行一个阶段。未分类的错误会被标记上阶段名。
func (r *transferRun) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.ObserveStage(name, time.Since(start), err)
	if err == nil {
		return nil
	}
	if _, ok := xerrors.From(err); !ok {
		err = xerrors.Wrap(xerrors.CodeUnknown, err, name+" 阶段失败", xerrors.WithStage(name))
	}
	return err
}

func (r *transferRun) create(ctx context.Context) {
	if r.agent.ledger == nil {
		return
	}
	record := &ledger.Transfer{
		ID:        r.outcome.TransferID,
		Source:    r.req.Source,
		ChatID:    r.req.ChatID,
		UserID:    r.req.UserID,
		Username:  r.req.Username,
		Amount:    r.req.Amount.String(),
		Recipient: r.req.Recipient,
		State:     ledger.StateReceived,
	}
	if err := r.agent.ledger.Create(ctx, record); err != nil {
		r.log.Error("写入转账记录失败", slog.String("transfer_id", record.ID), slog.Any("error", err))
	}
}

func (r *transferRun) transition(ctx context.Context, state ledger.State, patch ledger.Patch) {
	r.outcome.State = state
	if r.agent.ledger == nil || r.outcome.TransferID == "" {
		return
	}
	if err := r.agent.ledger.Transition(ctx, r.outcome.TransferID, state, patch); err != nil {
		r.log.Error("更新转账状态失败",
			slog.String("transfer_id", r.outcome.TransferID),
			slog.String("state", string(state)),
			slog.Any("error", err))
	}
}

// finish 记录终态，并在需要时通知运维。
func (r *transferRun) finish(ctx context.Context, state ledger.State, stage string, err error) Outcome {
	patch := ledger.Patch{}
	if r.outcome.ExecTxHash != (common.Hash{}) {
		patch.ExecTxHash = r.outcome.ExecTxHash.Hex()
	}
	if err != nil {
		patch.ErrorCode = string(xerrors.CodeOf(err))
		patch.ErrorMessage = err.Error()
	}
	r.transition(ctx, state, patch)
	r.outcome.Err = err
	metrics.ObserveTransferOutcome(string(state))

	attrs := []any{
		slog.String("transfer_id", r.outcome.TransferID),
		slog.String("state", string(state)),
		slog.String("amount", r.req.Amount.String()),
		slog.String("recipient", r.req.Recipient),
		slog.Int64("user_id", r.req.UserID),
	}
	if r.outcome.SafeTxHash != (common.Hash{}) {
		attrs = append(attrs, slog.String("safe_tx_hash", r.outcome.SafeTxHash.Hex()), slog.Uint64("nonce", r.outcome.Nonce))
	}
	if r.outcome.ExecTxHash != (common.Hash{}) {
		attrs = append(attrs, slog.String("exec_tx_hash", r.outcome.ExecTxHash.Hex()))
	}
	if err != nil {
		attrs = append(attrs, slog.String("stage", stage), slog.String("error_code", string(xerrors.CodeOf(err))), slog.Any("error", err))
		r.log.Error("转账流水线失败", attrs...)
	}
	logger.Audit().Info("transfer finished", attrs...)

	if event, ok := alerting.FromError(err, r.outcome.TransferID, stage); ok && r.agent.alerts != nil {
		if notifyErr := r.agent.alerts.Notify(ctx, event); notifyErr != nil {
			r.log.Warn("发送告警失败", slog.String("transfer_id", r.outcome.TransferID), slog.Any("error", notifyErr))
		}
	}
	return r.outcome
}
