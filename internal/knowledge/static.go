// Package knowledge 为问答请求提供可引用的静态知识片段。
package knowledge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "SafeGuard-Agent/internal/errors"
)

// Provider 定义知识库检索的通用接口。
type Provider interface {
	Query(question string) []Snippet
}

// Snippet 描述可供大模型引用的一段知识。
type Snippet struct {
	Title    string   `json:"title" yaml:"title"`
	Content  string   `json:"content" yaml:"content"`
	Keywords []string `json:"keywords" yaml:"keywords"`
}

// Defaults 描述机器人自身的命令，未配置知识库文件时使用。
func Defaults() []Snippet {
	return []Snippet{
		{
			Title:    "/balance",
			Content:  "/balance shows the native token balance of the shared Safe wallet, rounded to 4 decimals.",
			Keywords: []string{"balance", "余额", "how much", "funds"},
		},
		{
			Title:    "/send",
			Content:  "/send <amount> <wallet_address> proposes a transfer from the Safe. An AI guard must approve it first; transfers above 5 or to suspicious addresses are declined.",
			Keywords: []string{"send", "transfer", "pay", "转账"},
		},
		{
			Title:    "Multisig",
			Content:  "The wallet is a Safe multisig. Each transfer is signed by one owner and proposed to the Safe transaction service; it executes immediately only when the threshold is 1, otherwise other owners must co-sign.",
			Keywords: []string{"safe", "multisig", "owner", "threshold", "sign", "co-sign"},
		},
		{
			Title:    "Guard",
			Content:  "The AI guard answers only yes or no. Anything other than yes, including a guard outage, declines the transfer.",
			Keywords: []string{"guard", "declined", "decline", "safety", "rejected"},
		},
	}
}

// StaticProvider 按关键词命中数对静态条目排序，命中越多越靠前。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态知识库实例，maxResults 非正时取 3。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	p := &StaticProvider{items: make([]Snippet, 0, len(items)), maxResults: maxResults}
	for _, item := range items {
		item.Keywords = normalizeKeywords(item.Keywords)
		if len(item.Keywords) == 0 || strings.TrimSpace(item.Content) == "" {
			continue
		}
		p.items = append(p.items, item)
	}
	return p
}

// LoadStaticProvider 从 JSON 或 YAML 文件加载知识条目，路径为空时使用内置条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return NewStaticProvider(Defaults(), maxResults), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取知识库文件失败", xerrors.WithMetadata("path", path))
	}

	var entries []Snippet
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &entries)
	default:
		err = json.Unmarshal(data, &entries)
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析知识库文件失败", xerrors.WithMetadata("path", path))
	}
	if len(entries) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "知识库文件没有任何条目", xerrors.WithMetadata("path", path))
	}
	return NewStaticProvider(entries, maxResults), nil
}

// Len 返回有效条目数量。
func (p *StaticProvider) Len() int {
	if p == nil {
		return 0
	}
	return len(p.items)
}

// Query 返回与问题关键词匹配的条目。
func (p *StaticProvider) Query(question string) []Snippet {
	if p == nil {
		return nil
	}
	question = strings.ToLower(strings.TrimSpace(question))
	if question == "" {
		return nil
	}

	type hit struct {
		snippet Snippet
		score   int
	}
	var hits []hit
	for _, item := range p.items {
		if score := keywordHits(item, question); score > 0 {
			hits = append(hits, hit{snippet: item, score: score})
		}
	}
	slices.SortStableFunc(hits, func(a, b hit) int { return b.score - a.score })

	results := make([]Snippet, 0, min(len(hits), p.maxResults))
	for _, h := range hits[:min(len(hits), p.maxResults)] {
		results = append(results, h.snippet)
	}
	return results
}

func keywordHits(snippet Snippet, question string) int {
	n := 0
	for _, keyword := range snippet.Keywords {
		if strings.Contains(question, keyword) {
			n++
		}
	}
	return n
}

func normalizeKeywords(keywords []string) []string {
	var out []string
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" && !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}

var _ Provider = (*StaticProvider)(nil)
