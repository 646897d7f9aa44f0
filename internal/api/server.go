package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "SafeGuard-Agent/internal/errors"
	"SafeGuard-Agent/internal/ledger"
	"SafeGuard-Agent/internal/observability/metrics"
	"SafeGuard-Agent/internal/wallet"
	"SafeGuard-Agent/pkg/logger"
)

const transfersPath = "/api/v1/transfers"

// WalletView 提供当前的 Safe 元数据快照。
type WalletView interface {
	Snapshot() wallet.Info
}

// Server 负责暴露运维接口。
type Server struct {
	addr   string
	store  ledger.Store
	wallet WalletView
	token  string
}

// Option 定义可选配置。
type Option func(*Server)

// WithToken 要求 /api/v1 下的请求携带 Bearer token。
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = strings.TrimSpace(token)
	}
}

// WithWallet 暴露 /api/v1/wallet。
func WithWallet(view WalletView) Option {
	return func(s *Server) {
		s.wallet = view
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, store ledger.Store, opts ...Option) *Server {
	s := &Server{addr: addr, store: store}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc(transfersPath, s.handleListTransfers)
	api.HandleFunc(transfersPath+"/", s.handleTransferDetail)
	api.HandleFunc("/api/v1/wallet", s.handleWallet)

	mux := http.NewServeMux()
	mux.Handle("/healthz", instrument("/healthz", http.HandlerFunc(handleHealth)))
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/api/v1/", instrument("/api/v1", s.requireToken(api)))
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Named("api").Info("运维接口已启动", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "ledger 未初始化", http.StatusServiceUnavailable)
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	transfers, err := s.store.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transfers)
}

func (s *Server) handleTransferDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "ledger 未初始化", http.StatusServiceUnavailable)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, transfersPath+"/"), "/")
	if id == "" {
		http.Error(w, "缺少转账 ID", http.StatusBadRequest)
		return
	}
	if id == "stats" {
		s.handleStats(w, r)
		return
	}
	transfer, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	stats, err := s.store.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type walletResponse struct {
	Address   string   `json:"address"`
	Owners    []string `json:"owners"`
	Threshold uint64   `json:"threshold"`
	LoadedAt  int64    `json:"loaded_at"`
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.wallet == nil {
		http.Error(w, "钱包信息未配置", http.StatusServiceUnavailable)
		return
	}
	info := s.wallet.Snapshot()
	resp := walletResponse{
		Address:   info.Address.Hex(),
		Owners:    make([]string, 0, len(info.Owners)),
		Threshold: info.Threshold,
		LoadedAt:  info.LoadedAt.Unix(),
	}
	for _, owner := range info.Owners {
		resp.Owners = append(resp.Owners, owner.Hex())
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseListOptions(r *http.Request) ([]ledger.ListOption, error) {
	query := r.URL.Query()
	var opts []ledger.ListOption

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, errors.New("limit 必须为正整数")
		}
		opts = append(opts, ledger.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, errors.New("offset 必须为非负整数")
		}
		opts = append(opts, ledger.WithOffset(offset))
	}
	var states []ledger.State
	for _, raw := range query["state"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if !ledger.IsValidState(ledger.State(part)) {
				return nil, errors.New("未知的状态: " + part)
			}
			states = append(states, ledger.State(part))
		}
	}
	if len(states) > 0 {
		opts = append(opts, ledger.WithStates(states...))
	}
	if raw := query.Get("source"); raw != "" {
		opts = append(opts, ledger.WithSource(raw))
	}
	if raw := query.Get("user_id"); raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID == 0 {
			return nil, errors.New("user_id 必须为非零整数")
		}
		opts = append(opts, ledger.WithUserID(userID))
	}
	if raw := query.Get("recipient"); raw != "" {
		if !common.IsHexAddress(raw) {
			return nil, errors.New("recipient 不是合法地址")
		}
		opts = append(opts, ledger.WithRecipient(raw))
	}
	for key, apply := range map[string]func(time.Time) ledger.ListOption{
		"since": ledger.WithUpdatedSince,
		"until": ledger.WithUpdatedUntil,
	} {
		raw := query.Get(key)
		if raw == "" {
			continue
		}
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ts <= 0 {
			return nil, errors.New(key + " 必须为 Unix 秒级时间戳")
		}
		opts = append(opts, apply(time.Unix(ts, 0)))
	}
	switch strings.ToLower(query.Get("order")) {
	case "", "desc":
	case "asc":
		opts = append(opts, ledger.WithSortOrder(ledger.SortByUpdatedAsc))
	default:
		return nil, errors.New("order 仅支持 asc 或 desc")
	}
	return opts, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := xerrors.HTTPStatusOf(err)
	writeJSON(w, status, map[string]string{
		"code":    string(xerrors.CodeOf(err)),
		"message": http.StatusText(status),
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

// requireToken 在配置了 token 时校验 Authorization 头。
func (s *Server) requireToken(next http.Handler) http.Handler {
	if s.token == "" {
		return next
	}
	expected := []byte("Bearer " + s.token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, expected) != 1 {
			logger.Audit().Warn("access_denied",
				"path", r.URL.Path,
				"method", r.Method,
				"remote", r.RemoteAddr,
			)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusWriter 捕获响应状态码。
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.ObserveHTTPRequest(name, r.Method, sw.status, time.Since(start))
	})
}
