package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 描述了守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Bot       BotConfig       `json:"bot" yaml:"bot"`
	LLM       LLMConfig       `json:"llm" yaml:"llm"`
	Wallet    WalletConfig    `json:"wallet" yaml:"wallet"`
	Network   NetworkConfig   `json:"network" yaml:"network"`
	Queue     QueueConfig     `json:"queue" yaml:"queue"`
	Ledger    LedgerConfig    `json:"ledger" yaml:"ledger"`
	Server    ServerConfig    `json:"server" yaml:"server"`
	Alerting  AlertingConfig  `json:"alerting" yaml:"alerting"`
	Knowledge KnowledgeConfig `json:"knowledge" yaml:"knowledge"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

// BotConfig 配置 Telegram 机器人。
type BotConfig struct {
	Token          string  `json:"token" yaml:"token"`
	TokenEnv       string  `json:"token_env" yaml:"token_env"`
	PollTimeout    int     `json:"poll_timeout_seconds" yaml:"poll_timeout_seconds"`
	AllowedUserIDs []int64 `json:"allowed_user_ids" yaml:"allowed_user_ids"`
	OperatorChatID int64   `json:"operator_chat_id" yaml:"operator_chat_id"`
	Debug          bool    `json:"debug" yaml:"debug"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	OpenAI OpenAIConfig `json:"openai" yaml:"openai"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的访问参数。
type OpenAIConfig struct {
	APIKey         string `json:"api_key" yaml:"api_key"`
	APIKeyEnv      string `json:"api_key_env" yaml:"api_key_env"`
	BaseURL        string `json:"base_url" yaml:"base_url"`
	Model          string `json:"model" yaml:"model"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// Timeout 返回调用超时时间，0 表示不设置。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WalletConfig 描述 Safe 钱包与签名账户。
type WalletConfig struct {
	SafeAddress     string `json:"safe_address" yaml:"safe_address"`
	SafeAddressEnv  string `json:"safe_address_env" yaml:"safe_address_env"`
	OwnerKey        string `json:"owner_key" yaml:"owner_key"`
	OwnerKeyEnv     string `json:"owner_key_env" yaml:"owner_key_env"`
	RefreshInterval int    `json:"refresh_interval_seconds" yaml:"refresh_interval_seconds"`
}

// NetworkConfig 包含访问区块链节点与 Safe 中继服务所需的参数。
type NetworkConfig struct {
	Name           string `json:"name" yaml:"name"`
	RPCURL         string `json:"rpc_url" yaml:"rpc_url"`
	RPCURLEnv      string `json:"rpc_url_env" yaml:"rpc_url_env"`
	RelayURL       string `json:"relay_url" yaml:"relay_url"`
	Symbol         string `json:"symbol" yaml:"symbol"`
	ChainID        uint64 `json:"chain_id" yaml:"chain_id"`
	ExecGasLimit   uint64 `json:"exec_gas_limit" yaml:"exec_gas_limit"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	Origin         string `json:"origin" yaml:"origin"`
}

// Timeout 返回 RPC 与中继调用的超时时间，0 表示不设置。
func (c NetworkConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// QueueConfig 控制入站消息队列。
type QueueConfig struct {
	Driver   string         `json:"driver" yaml:"driver"`
	Workers  int            `json:"workers" yaml:"workers"`
	Size     int            `json:"size" yaml:"size"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
	NATS     NATSConfig     `json:"nats" yaml:"nats"`
}

// RedisConfig 描述 Redis 队列。
type RedisConfig struct {
	Address   string `json:"address" yaml:"address"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	Queue     string `json:"queue" yaml:"queue"`
	BlockWait int    `json:"block_wait_seconds" yaml:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL        string `json:"url" yaml:"url"`
	Queue      string `json:"queue" yaml:"queue"`
	Prefetch   int    `json:"prefetch" yaml:"prefetch"`
	Durable    bool   `json:"durable" yaml:"durable"`
	AutoDelete bool   `json:"auto_delete" yaml:"auto_delete"`
}

// NATSConfig 描述 NATS 队列。
type NATSConfig struct {
	URL        string `json:"url" yaml:"url"`
	Subject    string `json:"subject" yaml:"subject"`
	QueueGroup string `json:"queue_group" yaml:"queue_group"`
}

// LedgerConfig 配置转账审计记录的存储。
type LedgerConfig struct {
	Driver                 string `json:"driver" yaml:"driver"`
	DSN                    string `json:"dsn" yaml:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds"`
}

// ServerConfig 控制运维 API 的监听地址等参数。
type ServerConfig struct {
	Address  string `json:"address" yaml:"address"`
	Token    string `json:"token" yaml:"token"`
	TokenEnv string `json:"token_env" yaml:"token_env"`

	// MetricsAddress 非空时额外启动独立的 /metrics 监听。
	MetricsAddress string `json:"metrics_address" yaml:"metrics_address"`
}

// AlertingConfig 配置运维告警。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
}

// KnowledgeConfig 配置问答使用的知识库。
type KnowledgeConfig struct {
	Source     string `json:"source" yaml:"source"`
	MaxResults int    `json:"max_results" yaml:"max_results"`
}

// LogConfig 对应 pkg/logger 的配置。
type LogConfig struct {
	Level       string   `json:"level" yaml:"level"`
	Format      string   `json:"format" yaml:"format"`
	OutputPaths []string `json:"output_paths" yaml:"output_paths"`
	AuditPath   string   `json:"audit_path" yaml:"audit_path"`
}

// Load 负责解析指定路径的配置文件，按扩展名选择 JSON 或 YAML。
// 路径为空时仅使用默认值与环境变量。
func Load(path string) (*Config, error) {
	var cfg Config
	baseDir := "."
	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(content, &cfg)
		default:
			err = json.Unmarshal(content, &cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
		baseDir = filepath.Dir(path)
	}

	cfg.applyDefaults(baseDir)
	cfg.applyEnv(os.LookupEnv)
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Bot.TokenEnv == "" {
		c.Bot.TokenEnv = "BOT_TOKEN"
	}
	if c.Bot.PollTimeout <= 0 {
		c.Bot.PollTimeout = 60
	}

	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_KEY"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4"
	}

	if c.Wallet.SafeAddressEnv == "" {
		c.Wallet.SafeAddressEnv = "SAFE_ADDRESS"
	}
	if c.Wallet.OwnerKeyEnv == "" {
		c.Wallet.OwnerKeyEnv = "SAFE_OWNER_KEY"
	}

	if c.Network.Name == "" {
		c.Network.Name = "polygon"
	}
	if c.Network.RPCURLEnv == "" {
		c.Network.RPCURLEnv = "POLYGON_RPC"
	}
	if c.Network.RelayURL == "" {
		c.Network.RelayURL = "https://safe-transaction-polygon.safe.global/api/v1"
	}
	if c.Network.Symbol == "" {
		c.Network.Symbol = "POL"
	}
	if c.Network.ExecGasLimit == 0 {
		c.Network.ExecGasLimit = 300000
	}
	if c.Network.Origin == "" {
		c.Network.Origin = "Telegram AI Agent"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	// 默认串行处理，避免同一 Safe 的 nonce 竞争。
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 1
	}
	if c.Queue.Size <= 0 {
		c.Queue.Size = 256
	}

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "memory"
	}

	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.TokenEnv == "" {
		c.Server.TokenEnv = "OPERATOR_API_TOKEN"
	}

	if c.Knowledge.MaxResults <= 0 {
		c.Knowledge.MaxResults = 3
	}
	if c.Knowledge.Source != "" && !filepath.IsAbs(c.Knowledge.Source) {
		c.Knowledge.Source = filepath.Join(baseDir, c.Knowledge.Source)
	}
	if c.Log.AuditPath != "" && !filepath.IsAbs(c.Log.AuditPath) {
		c.Log.AuditPath = filepath.Join(baseDir, c.Log.AuditPath)
	}
}

// applyEnv 使用环境变量补全密钥类配置，文件中的显式值优先。
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	fill := func(target *string, envName string) {
		if strings.TrimSpace(*target) != "" || envName == "" {
			return
		}
		if value, ok := lookup(envName); ok {
			*target = strings.TrimSpace(value)
		}
	}
	fill(&c.Bot.Token, c.Bot.TokenEnv)
	fill(&c.LLM.OpenAI.APIKey, c.LLM.OpenAI.APIKeyEnv)
	fill(&c.Wallet.SafeAddress, c.Wallet.SafeAddressEnv)
	fill(&c.Wallet.OwnerKey, c.Wallet.OwnerKeyEnv)
	fill(&c.Network.RPCURL, c.Network.RPCURLEnv)
	fill(&c.Server.Token, c.Server.TokenEnv)
}

// Validate 检查链上操作所需的配置是否齐全。
func (c *Config) Validate(requireBot bool) error {
	var errs []error
	if requireBot && c.Bot.Token == "" {
		errs = append(errs, fmt.Errorf("缺少机器人 token（%s）", c.Bot.TokenEnv))
	}
	if c.LLM.OpenAI.APIKey == "" {
		errs = append(errs, fmt.Errorf("缺少 OpenAI API Key（%s）", c.LLM.OpenAI.APIKeyEnv))
	}
	if c.Wallet.SafeAddress == "" {
		errs = append(errs, fmt.Errorf("缺少 Safe 地址（%s）", c.Wallet.SafeAddressEnv))
	}
	if c.Wallet.OwnerKey == "" {
		errs = append(errs, fmt.Errorf("缺少 Safe owner 私钥（%s）", c.Wallet.OwnerKeyEnv))
	}
	if c.Network.RPCURL == "" {
		errs = append(errs, fmt.Errorf("缺少 RPC 地址（%s）", c.Network.RPCURLEnv))
	}
	return errors.Join(errs...)
}
