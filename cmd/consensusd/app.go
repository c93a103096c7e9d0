package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"ConsensusMCP-Chain/internal/agent"
	"ConsensusMCP-Chain/internal/analysis"
	"ConsensusMCP-Chain/internal/automation"
	"ConsensusMCP-Chain/internal/config"
	"ConsensusMCP-Chain/internal/expert"
	"ConsensusMCP-Chain/internal/llm"
	"ConsensusMCP-Chain/internal/llm/openai"
	"ConsensusMCP-Chain/internal/llm/pythonbridge"
	"ConsensusMCP-Chain/internal/market"
	"ConsensusMCP-Chain/internal/observability/alerting"
	"ConsensusMCP-Chain/internal/storage/mysql"
	"ConsensusMCP-Chain/internal/task"
	"ConsensusMCP-Chain/internal/web3/ethereum"
	"ConsensusMCP-Chain/internal/web3/provider"
	"ConsensusMCP-Chain/pkg/logger"
)

// app 汇总一次进程运行所需的全部依赖。
type app struct {
	cfg      *config.Config
	chains   *provider.Registry
	ledger   *ethereum.Ledger
	account  string
	db       *mysql.Database
	queue    task.Queue
	registry *task.Registry
	agent    *agent.Agent
	log      *slog.Logger
}

type appOptions struct {
	configPath string
	chain      string
	// needAgent 为假时只初始化任务与链上查询。
	needAgent bool
}

func loadConfig(path string) (*config.Config, error) {
	if err := config.LoadEnv(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, nil
}

func buildApp(ctx context.Context, opts appOptions) (_ *app, err error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: logger.Named("consensusd")}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return nil, err
	}

	if err := a.openChain(ctx, opts.chain); err != nil {
		return nil, err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	queue, err := openQueue(cfg.Queue)
	if err != nil {
		return nil, err
	}
	a.queue = queue

	registryOpts := []task.RegistryOption{
		task.WithProducer(queue),
		task.WithStatusTimeout(cfg.Runtime.CallTimeout()),
	}
	if a.ledger != nil {
		registryOpts = append(registryOpts, task.WithStatusReader(a.ledger))
	}
	a.registry = task.NewRegistry(store, registryOpts...)

	if opts.needAgent {
		ag, err := a.buildAgent(ctx)
		if err != nil {
			return nil, err
		}
		a.agent = ag
	}
	return a, nil
}

func (a *app) openChain(ctx context.Context, chain string) error {
	cfg := a.cfg.Web3
	if strings.TrimSpace(cfg.RPCURL) == "" && strings.TrimSpace(cfg.ChainConfig) == "" {
		a.log.Warn("未配置区块链节点，自动化提交与状态查询不可用")
		a.account = strings.TrimSpace(cfg.AccountAddress)
		return nil
	}
	chains, err := provider.NewRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	a.chains = chains

	var ledger *ethereum.Ledger
	if chain = strings.TrimSpace(chain); chain != "" {
		l, ok := chains.Ledger(chain)
		if !ok {
			return fmt.Errorf("未知的链 %s，可选: %s", chain, strings.Join(chains.Chains(), ", "))
		}
		ledger = l
	} else {
		l, err := chains.Default()
		if err != nil {
			return err
		}
		ledger = l
	}
	a.ledger = ledger

	a.account = strings.TrimSpace(cfg.AccountAddress)
	if signer, ok := ledger.SignerAddress(); ok {
		if a.account != "" && !strings.EqualFold(a.account, signer) {
			return fmt.Errorf("account_address %s 与签名私钥地址 %s 不一致", a.account, signer)
		}
		a.account = signer
	}
	a.log.Info("已连接区块链", slog.String("chain", ledger.Name()), slog.String("account", a.account))
	return nil
}

func (a *app) openStore(ctx context.Context) (task.Store, error) {
	switch strings.ToLower(a.cfg.Storage.Driver) {
	case "", "memory":
		return task.NewMemoryStore(), nil
	case "mysql":
		db, err := mysql.Open(ctx, mysql.ConfigFromStorage(a.cfg.Storage))
		if err != nil {
			return nil, err
		}
		a.db = db
		return db.Tasks(), nil
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", a.cfg.Storage.Driver)
	}
}

func openQueue(cfg config.QueueConfig) (task.Queue, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return task.NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		return task.NewRedisQueue(task.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}

func (a *app) buildAgent(ctx context.Context) (*agent.Agent, error) {
	cfg := a.cfg
	oracle, err := market.NewHTTPOracle(market.HTTPOracleConfig{
		BaseURL: cfg.Oracle.BaseURL,
		APIKey:  envValue(cfg.Oracle.APIKeyEnv),
		Timeout: time.Duration(cfg.Oracle.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	opts := []agent.Option{
		agent.WithPolicy(agent.PolicyFromConfig(cfg.Agent, cfg.Oracle.HistoryHours)),
		agent.WithHistoryDepth(cfg.Agent.HistoryDepth),
		agent.WithCallTimeout(cfg.Runtime.CallTimeout()),
		agent.WithAlerting(alerting.FromConfig(cfg.Alerting)),
	}

	if cfg.Agent.AnalyzerEnabled || cfg.Agent.ExpertPanel {
		client, err := createLLMClient(cfg)
		if err != nil {
			return nil, err
		}
		if cfg.Agent.AnalyzerEnabled {
			opts = append(opts, agent.WithAnalyzer(analysis.NewLLMAnalyzer(client)))
		}
		if cfg.Agent.ExpertPanel {
			profiles := expert.DefaultProfiles()
			if cfg.Agent.ExpertProfiles != "" {
				loaded, err := expert.LoadProfiles(cfg.Agent.ExpertProfiles)
				if err != nil {
					return nil, err
				}
				profiles = loaded
			}
			panel := expert.NewPanel(expert.NewLLMOpinions(client),
				expert.WithProfiles(profiles),
				expert.WithCallTimeout(cfg.Runtime.CallTimeout()))
			opts = append(opts, agent.WithPanel(panel))
		}
	}

	if a.ledger != nil && a.account != "" {
		submitter := automation.NewSubmitter(a.ledger, a.registry, a.account,
			automation.WithSettings(automation.SettingsFromConfig(cfg.Automation, cfg.Web3.ConflictPatterns)),
			automation.WithCallTimeout(cfg.Runtime.CallTimeout()))
		opts = append(opts, agent.WithSubmitter(submitter))
	} else if cfg.Agent.AutoExecute {
		a.log.Warn("auto_execute 已开启但缺少链或账户配置，本次运行不会提交任务")
	}

	if a.db != nil {
		records := a.db.Records()
		opts = append(opts, agent.WithRecordStore(records))
		ag := agent.New(oracle, opts...)
		restored, err := records.ListRecent(ctx, cfg.Agent.HistoryDepth)
		if err != nil {
			a.log.Warn("恢复分析历史失败", slog.Any("error", err))
		} else {
			ag.Restore(restored)
		}
		return ag, nil
	}
	return agent.New(oracle, opts...), nil
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "python_bridge":
		scriptPath := pythonbridge.ResolveScriptPath(cfg.LLM.Python.WorkingDir, cfg.LLM.Python.ScriptPath)
		return pythonbridge.NewClient(cfg.LLM.Python.PythonExecutable, scriptPath, cfg.LLM.Python.WorkingDir)
	case "", "openai":
		apiKey := cfg.LLM.OpenAI.ResolveAPIKey()
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLM.OpenAI.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func envValue(name string) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}

// Close 按依赖逆序释放资源。
func (a *app) Close() {
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.log.Warn("关闭任务队列失败", slog.Any("error", err))
		}
	}
	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			a.log.Warn("关闭任务存储失败", slog.Any("error", err))
		}
	} else if a.db != nil {
		_ = a.db.Close()
	}
	if a.chains != nil {
		a.chains.Close()
	}
	if err := logger.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "关闭日志失败: %v\n", err)
	}
}
