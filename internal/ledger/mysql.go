package ledger

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "SafeGuard-Agent/internal/errors"
)

// MySQLConfig 描述 MySQL 连接池参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MySQLStore 使用 MySQL 记录转账状态。
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewMySQLStore 连接数据库并执行内置迁移。
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行数据库迁移失败")
	}
	return newMySQLStore(db), nil
}

func newMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db, now: time.Now}
}

const selectColumns = `id, source, chat_id, user_id, username, amount, recipient, state, nonce,
        safe_tx_hash, exec_tx_hash, error_code, error_message, created_at, updated_at`

// Create 插入新的转账记录。
func (s *MySQLStore) Create(ctx context.Context, transfer *Transfer) error {
	if transfer == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "transfer 不能为空")
	}
	if strings.TrimSpace(transfer.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "记录 ID 不能为空")
	}
	now := s.now().Unix()
	if transfer.State == "" {
		transfer.State = StateReceived
	}
	if transfer.CreatedAt == 0 {
		transfer.CreatedAt = now
	}
	transfer.UpdatedAt = now

	const stmt = `INSERT INTO transfers
        (id, source, chat_id, user_id, username, amount, recipient, state, nonce, safe_tx_hash, exec_tx_hash, error_code, error_message, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		transfer.ID,
		transfer.Source,
		transfer.ChatID,
		transfer.UserID,
		transfer.Username,
		transfer.Amount,
		transfer.Recipient,
		string(transfer.State),
		nullableNonce(transfer.Nonce),
		transfer.SafeTxHash,
		transfer.ExecTxHash,
		transfer.ErrorCode,
		transfer.ErrorMessage,
		transfer.CreatedAt,
		transfer.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入转账记录失败")
	}
	return nil
}

// Transition 以当前状态为乐观锁条件更新记录。
func (s *MySQLStore) Transition(ctx context.Context, id string, state State, patch Patch) error {
	if !IsValidState(state) {
		return xerrors.New(xerrors.CodeInvalidArgument, "未知的转账状态: "+string(state))
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if IsTerminal(current.State) {
		return ErrConflict
	}
	previous := current.State
	patch.apply(current)

	const stmt = `UPDATE transfers SET state = ?, nonce = ?, safe_tx_hash = ?, exec_tx_hash = ?, error_code = ?, error_message = ?, updated_at = ?
        WHERE id = ? AND state = ?`

	res, err := s.db.ExecContext(ctx, stmt,
		string(state),
		nullableNonce(current.Nonce),
		current.SafeTxHash,
		current.ExecTxHash,
		current.ErrorCode,
		current.ErrorMessage,
		s.now().Unix(),
		id,
		string(previous),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新转账状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

// Get 查询指定记录。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Transfer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM transfers WHERE id = ?`, id)
	transfer, err := scanTransfer(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询转账记录失败")
	}
	return transfer, nil
}

// List 返回符合过滤条件的记录。
func (s *MySQLStore) List(ctx context.Context, opts ...ListOption) ([]*Transfer, error) {
	options := buildListOptions(opts)
	where, args := buildWhere(options)

	order := "DESC"
	if options.Order == SortByUpdatedAsc {
		order = "ASC"
	}
	query := `SELECT ` + selectColumns + ` FROM transfers` + where +
		` ORDER BY updated_at ` + order + `, created_at ` + order + `, id ASC LIMIT ? OFFSET ?`
	args = append(args, options.Limit, options.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询转账列表失败")
	}
	defer rows.Close()

	results := make([]*Transfer, 0, options.Limit)
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析转账记录失败")
		}
		results = append(results, transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历转账记录失败")
	}
	return results, nil
}

// Stats 按状态分组统计。
func (s *MySQLStore) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	options := buildListOptions(opts)
	where, args := buildWhere(options)
	query := `SELECT state, COUNT(*), MIN(updated_at), MAX(updated_at) FROM transfers` + where + ` GROUP BY state`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计转账记录失败")
	}
	defer rows.Close()

	stats := Stats{ByState: make(map[State]int)}
	for rows.Next() {
		var (
			state          string
			count          int
			oldest, newest int64
		)
		if err := rows.Scan(&state, &count, &oldest, &newest); err != nil {
			return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析统计结果失败")
		}
		stats.add(State(state), count, oldest, newest)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历统计结果失败")
	}
	return stats, nil
}

// Close 关闭连接池。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (*Transfer, error) {
	var (
		transfer Transfer
		state    string
		nonce    sql.NullInt64
		errMsg   sql.NullString
	)
	if err := row.Scan(
		&transfer.ID,
		&transfer.Source,
		&transfer.ChatID,
		&transfer.UserID,
		&transfer.Username,
		&transfer.Amount,
		&transfer.Recipient,
		&state,
		&nonce,
		&transfer.SafeTxHash,
		&transfer.ExecTxHash,
		&transfer.ErrorCode,
		&errMsg,
		&transfer.CreatedAt,
		&transfer.UpdatedAt,
	); err != nil {
		return nil, err
	}
	transfer.State = State(state)
	if nonce.Valid {
		n := uint64(nonce.Int64)
		transfer.Nonce = &n
	}
	transfer.ErrorMessage = errMsg.String
	return &transfer, nil
}

func buildWhere(opts ListOptions) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if len(opts.States) > 0 {
		placeholders := make([]string, len(opts.States))
		for i, state := range opts.States {
			placeholders[i] = "?"
			args = append(args, string(state))
		}
		clauses = append(clauses, "state IN ("+strings.Join(placeholders, ", ")+")")
	}
	if opts.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, opts.Source)
	}
	if opts.UserID != 0 {
		clauses = append(clauses, "user_id = ?")
		args = append(args, opts.UserID)
	}
	if opts.Recipient != "" {
		clauses = append(clauses, "LOWER(recipient) = ?")
		args = append(args, strings.ToLower(opts.Recipient))
	}
	if opts.UpdatedGTE > 0 {
		clauses = append(clauses, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		clauses = append(clauses, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func nullableNonce(nonce *uint64) sql.NullInt64 {
	if nonce == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*nonce), Valid: true}
}

var _ Store = (*MySQLStore)(nil)
