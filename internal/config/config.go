package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"ConsensusMCP-Chain/pkg/logger"
)

// Config 描述了 consensusd 在启动阶段需要加载的核心配置。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Storage    StorageConfig    `json:"storage"`
	Queue      QueueConfig      `json:"queue"`
	LLM        LLMConfig        `json:"llm"`
	Web3       Web3Config       `json:"web3"`
	Oracle     OracleConfig     `json:"oracle"`
	Agent      AgentConfig      `json:"agent"`
	Automation AutomationConfig `json:"automation"`
	Runtime    RuntimeConfig    `json:"runtime"`
	Log        logger.Config    `json:"log"`
	Alerting   AlertingConfig   `json:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`

	// MetricsAddress 非空时额外启动独立的 /metrics 监听。
	MetricsAddress string `json:"metrics_address"`
}

// StorageConfig 描述任务与分析记录的持久化后端。
type StorageConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// QueueConfig 配置任务注册事件的发布通道。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Buffer   int            `json:"buffer"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 对应 redis 列表队列。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 对应 AMQP 队列。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string             `json:"provider"`
	OpenAI   OpenAIConfig       `json:"openai"`
	Python   PythonBridgeConfig `json:"python_bridge"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的访问信息。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回请求超时时间。
func (o OpenAIConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// ResolveAPIKey 优先使用显式配置，其次读取环境变量。
func (o OpenAIConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(o.APIKey); key != "" {
		return key
	}
	if o.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(o.APIKeyEnv))
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `json:"python_executable"`
	ScriptPath       string `json:"script_path"`
	WorkingDir       string `json:"working_dir"`
}

// Web3Config 包含访问区块链节点与自动化合约所需的信息。
type Web3Config struct {
	RPCURL           string   `json:"rpc_url"`
	ChainConfig      string   `json:"chain_config"`
	DefaultChain     string   `json:"default_chain"`
	AccountAddress   string   `json:"account_address"`
	PrivateKeyEnv    string   `json:"private_key_env"`
	RegistryContract string   `json:"registry_contract"`
	ConflictPatterns []string `json:"conflict_patterns"`
}

// ResolvePrivateKey 从环境变量读取签名私钥。
func (w Web3Config) ResolvePrivateKey() string {
	if w.PrivateKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(w.PrivateKeyEnv))
}

// OracleConfig 描述行情数据源。
type OracleConfig struct {
	BaseURL        string `json:"base_url"`
	APIKeyEnv      string `json:"api_key_env"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	HistoryHours   int    `json:"history_hours"`
}

// AgentConfig 控制单轮分析的行为。
type AgentConfig struct {
	Pairs               []string `json:"pairs"`
	IntervalSeconds     int      `json:"interval_seconds"`
	HistoryDepth        int      `json:"history_depth"`
	ExpertPanel         bool     `json:"expert_panel"`
	ExpertProfiles      string   `json:"expert_profiles"`
	AnalyzerEnabled     bool     `json:"analyzer_enabled"`
	AutoExecute         bool     `json:"auto_execute"`
	ConfidenceThreshold int      `json:"confidence_threshold"`
	Budget              float64  `json:"budget"`
	Target              string   `json:"target"`
}

// AutomationConfig 对应自动化注册流程中的常量。
type AutomationConfig struct {
	Steps               int    `json:"steps"`
	StepIntervalSeconds uint64 `json:"step_interval_seconds"`
	SlippageBps         uint64 `json:"slippage_bps"`
	BalanceBuffer       uint64 `json:"balance_buffer"`
	TxOverhead          uint64 `json:"tx_overhead"`
	FallbackFeeCap      uint64 `json:"fallback_fee_cap"`
	ReferenceGasBudget  uint64 `json:"reference_gas_budget"`
	GasPrice            uint64 `json:"gas_price"`
	ExpiryBufferSeconds int    `json:"expiry_buffer_seconds"`
	MaxAttempts         int    `json:"max_attempts"`
	SettleDelayMillis   int    `json:"settle_delay_millis"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir            string `json:"data_dir"`
	CallTimeoutSeconds int    `json:"call_timeout_seconds"`
}

// CallTimeout 返回外部调用的超时时间。
func (r RuntimeConfig) CallTimeout() time.Duration {
	return time.Duration(r.CallTimeoutSeconds) * time.Second
}

// AlertingConfig 控制告警分发。
type AlertingConfig struct {
	Enabled        bool   `json:"enabled"`
	WebhookURL     string `json:"webhook_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回 webhook 推送超时。
func (c AlertingConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DefaultPath 返回配置文件路径，优先读取 CONSENSUS_CONFIG。
func DefaultPath() string {
	if path := strings.TrimSpace(os.Getenv("CONSENSUS_CONFIG")); path != "" {
		return path
	}
	return filepath.Join("configs", "consensus.json")
}

// LoadEnv 加载 .env 文件中的密钥，文件不存在时忽略。
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("加载环境变量文件失败: %w", err)
	}
	return nil
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// Default 返回未读取文件时的默认配置。
func Default() *Config {
	var cfg Config
	cfg.applyDefaults(".")
	return &cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Buffer <= 0 {
		c.Queue.Buffer = 256
	}
	if c.Queue.Redis.Queue == "" {
		c.Queue.Redis.Queue = "consensus:tasks"
	}
	if c.Queue.RabbitMQ.Queue == "" {
		c.Queue.RabbitMQ.Queue = "consensus.tasks"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = 60
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	c.LLM.Python.WorkingDir = resolveDir(baseDir, c.LLM.Python.WorkingDir, baseDir)

	if c.Web3.PrivateKeyEnv == "" {
		c.Web3.PrivateKeyEnv = "LEDGER_PRIVATE_KEY"
	}
	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}
	if len(c.Web3.ConflictPatterns) == 0 {
		c.Web3.ConflictPatterns = []string{"nonce too low", "sequence number too old"}
	}

	if c.Oracle.APIKeyEnv == "" {
		c.Oracle.APIKeyEnv = "ORACLE_API_KEY"
	}
	if c.Oracle.TimeoutSeconds <= 0 {
		c.Oracle.TimeoutSeconds = 10
	}
	if c.Oracle.HistoryHours <= 0 {
		c.Oracle.HistoryHours = 24
	}

	if len(c.Agent.Pairs) == 0 {
		c.Agent.Pairs = []string{"BTC/USD"}
	}
	if c.Agent.IntervalSeconds <= 0 {
		c.Agent.IntervalSeconds = 300
	}
	if c.Agent.HistoryDepth <= 0 {
		c.Agent.HistoryDepth = 10
	}
	if c.Agent.ConfidenceThreshold <= 0 {
		c.Agent.ConfidenceThreshold = 75
	}
	if c.Agent.ExpertProfiles != "" && !filepath.IsAbs(c.Agent.ExpertProfiles) {
		c.Agent.ExpertProfiles = filepath.Join(baseDir, c.Agent.ExpertProfiles)
	}

	if c.Automation.Steps <= 0 {
		c.Automation.Steps = 2
	}
	if c.Automation.StepIntervalSeconds == 0 {
		c.Automation.StepIntervalSeconds = 300
	}
	if c.Automation.SlippageBps == 0 {
		c.Automation.SlippageBps = 100
	}
	if c.Automation.BalanceBuffer == 0 {
		c.Automation.BalanceBuffer = 100_000
	}
	if c.Automation.TxOverhead == 0 {
		c.Automation.TxOverhead = 10_000
	}
	if c.Automation.FallbackFeeCap == 0 {
		c.Automation.FallbackFeeCap = 50_000
	}
	if c.Automation.ReferenceGasBudget == 0 {
		c.Automation.ReferenceGasBudget = 500_000
	}
	if c.Automation.GasPrice == 0 {
		c.Automation.GasPrice = 100
	}
	if c.Automation.ExpiryBufferSeconds <= 0 {
		c.Automation.ExpiryBufferSeconds = 3600
	}
	if c.Automation.MaxAttempts <= 0 {
		c.Automation.MaxAttempts = 3
	}
	if c.Automation.SettleDelayMillis == 0 {
		c.Automation.SettleDelayMillis = 3000
	} else if c.Automation.SettleDelayMillis < 0 {
		c.Automation.SettleDelayMillis = 0
	}

	c.Runtime.DataDir = resolveDir(baseDir, c.Runtime.DataDir, filepath.Join(baseDir, "data"))
	if c.Runtime.CallTimeoutSeconds <= 0 {
		c.Runtime.CallTimeoutSeconds = 30
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func resolveDir(baseDir, value, fallback string) string {
	if value == "" {
		return fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}
