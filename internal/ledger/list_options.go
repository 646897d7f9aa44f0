package ledger

import (
	"slices"
	"strings"
	"time"
)

// SortOrder 控制列表按更新时间的排列方向。
type SortOrder int

const (
	SortByUpdatedDesc SortOrder = iota
	SortByUpdatedAsc
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ListOptions 描述转账查询的过滤与分页条件，零值表示不过滤。
type ListOptions struct {
	Limit      int
	Offset     int
	States     []State
	Source     string
	UserID     int64
	Recipient  string
	UpdatedGTE int64
	UpdatedLTE int64
	Order      SortOrder
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

// WithLimit 限制返回条数，超过上限时截断为 100。
func WithLimit(limit int) ListOption {
	return func(o *ListOptions) { o.Limit = limit }
}

// WithOffset 跳过前 offset 条记录。
func WithOffset(offset int) ListOption {
	return func(o *ListOptions) { o.Offset = offset }
}

// WithStates 仅返回处于给定状态的转账，未知状态会被忽略。
func WithStates(states ...State) ListOption {
	return func(o *ListOptions) { o.States = slices.Clone(states) }
}

// WithSource 按发起渠道过滤，例如 telegram、api 或 cli。
func WithSource(source string) ListOption {
	return func(o *ListOptions) { o.Source = strings.ToLower(strings.TrimSpace(source)) }
}

// WithUserID 按 Telegram 用户过滤。
func WithUserID(userID int64) ListOption {
	return func(o *ListOptions) { o.UserID = userID }
}

// WithRecipient 按收款地址过滤，不区分大小写。
func WithRecipient(recipient string) ListOption {
	return func(o *ListOptions) { o.Recipient = strings.TrimSpace(recipient) }
}

// WithUpdatedSince 仅返回在 ts 及之后更新过的转账。
func WithUpdatedSince(ts time.Time) ListOption {
	return func(o *ListOptions) { o.UpdatedGTE = unixOrZero(ts) }
}

// WithUpdatedUntil 仅返回在 ts 及之前更新过的转账。
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(o *ListOptions) { o.UpdatedLTE = unixOrZero(ts) }
}

// WithSortOrder 修改排序方向。
func WithSortOrder(order SortOrder) ListOption {
	return func(o *ListOptions) { o.Order = order }
}

func buildListOptions(opts []ListOption) ListOptions {
	var o ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	switch {
	case o.Limit <= 0:
		o.Limit = defaultListLimit
	case o.Limit > maxListLimit:
		o.Limit = maxListLimit
	}
	o.Offset = max(o.Offset, 0)
	o.States = knownStates(o.States)
	if o.Order != SortByUpdatedAsc {
		o.Order = SortByUpdatedDesc
	}
	return o
}

// knownStates 去重并丢弃未知状态；全部无效时返回 nil，即不按状态过滤。
func knownStates(input []State) []State {
	var out []State
	for _, state := range input {
		if IsValidState(state) && !slices.Contains(out, state) {
			out = append(out, state)
		}
	}
	return out
}

func unixOrZero(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Unix()
}

// matches 判断单条转账是否满足过滤条件，供内存存储使用。
func (o ListOptions) matches(t *Transfer) bool {
	switch {
	case len(o.States) > 0 && !slices.Contains(o.States, t.State):
		return false
	case o.Source != "" && !strings.EqualFold(t.Source, o.Source):
		return false
	case o.UserID != 0 && t.UserID != o.UserID:
		return false
	case o.Recipient != "" && !strings.EqualFold(t.Recipient, o.Recipient):
		return false
	case o.UpdatedGTE > 0 && t.UpdatedAt < o.UpdatedGTE:
		return false
	case o.UpdatedLTE > 0 && t.UpdatedAt > o.UpdatedLTE:
		return false
	}
	return true
}
