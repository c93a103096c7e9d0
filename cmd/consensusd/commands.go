package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ConsensusMCP-Chain/internal/api"
	"ConsensusMCP-Chain/internal/observability/metrics"
	"ConsensusMCP-Chain/internal/task"
)

type rootFlags struct {
	configPath string
	chain      string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "consensusd",
		Short:         "多专家共识交易代理与链上自动化注册",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "配置文件路径，默认读取 CONSENSUS_CONFIG 或 configs/consensus.json")
	root.PersistentFlags().StringVar(&flags.chain, "chain", "", "使用的链名称，默认取 default_chain")

	root.AddCommand(
		newServeCmd(flags),
		newRoundCmd(flags),
		newStatusCmd(flags),
		newTasksCmd(flags),
		newWatchCmd(flags),
	)
	return root
}

func (f *rootFlags) options(needAgent bool) appOptions {
	return appOptions{configPath: f.configPath, chain: f.chain, needAgent: needAgent}
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "按周期执行交易轮次并启动 REST 接口",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, flags.options(true))
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	server := api.NewServer(a.cfg.Server.Address, a.agent, a.registry, a.account)
	g.Go(func() error { return server.Start(ctx) })

	if addr := strings.TrimSpace(a.cfg.Server.MetricsAddress); addr != "" {
		g.Go(func() error { return metrics.StartServer(ctx, addr) })
	}

	watcher := task.NewWatcher(a.queue, a.registry)
	g.Go(func() error { return watcher.Start(ctx) })

	g.Go(func() error {
		a.schedule(ctx)
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		a.log.Info("consensusd 已停止")
		return nil
	}
	return err
}

// schedule 每个周期为每个交易对各起一轮，同一交易对的轮次不会重叠。
func (a *app) schedule(ctx context.Context) {
	interval := time.Duration(a.cfg.Agent.IntervalSeconds) * time.Second
	pairs := a.cfg.Agent.Pairs
	busy := make(map[string]chan struct{}, len(pairs))
	for _, pair := range pairs {
		busy[pair] = make(chan struct{}, 1)
	}

	var inflight sync.WaitGroup
	defer inflight.Wait()

	tick := func() {
		for _, pair := range pairs {
			slot := busy[pair]
			select {
			case slot <- struct{}{}:
			default:
				a.log.Warn("上一轮尚未结束，跳过本周期", slog.String("pair", pair))
				continue
			}
			inflight.Add(1)
			go func(pair string) {
				defer inflight.Done()
				defer func() { <-slot }()
				if _, err := a.agent.RunRound(ctx, pair); err != nil {
					a.log.Error("交易轮次失败", slog.String("pair", pair), slog.Any("error", err))
				}
			}(pair)
		}
	}

	a.log.Info("交易调度已启动", slog.Any("pairs", pairs), slog.Duration("interval", interval))
	tick()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

func newRoundCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "round [PAIR...]",
		Short: "立即执行一轮并输出结果，未指定交易对时使用配置中的列表",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, flags.options(true))
			if err != nil {
				return err
			}
			defer a.Close()

			pairs := args
			if len(pairs) == 0 {
				pairs = a.cfg.Agent.Pairs
			}
			for _, pair := range pairs {
				result, err := a.agent.RunRound(ctx, pair)
				if err != nil {
					return err
				}
				if result == nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: 本轮没有可用结论\n", pair)
					continue
				}
				if err := printJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newStatusCmd(flags *rootFlags) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "查询账户的链上自动化状态",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, flags.options(false))
			if err != nil {
				return err
			}
			defer a.Close()

			if strings.TrimSpace(address) == "" {
				address = a.account
			}
			if address == "" {
				return errors.New("未指定账户地址，请使用 --address 或配置 web3.account_address")
			}
			return printJSON(cmd.OutOrStdout(), a.registry.RefreshStatus(ctx, address))
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "查询的账户地址")
	return cmd
}

func newTasksCmd(flags *rootFlags) *cobra.Command {
	var (
		limit    int
		offset   int
		statuses []string
		pair     string
		stats    bool
	)
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "列出已注册的自动化任务",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, flags.options(false))
			if err != nil {
				return err
			}
			defer a.Close()

			if stats {
				summary, err := a.registry.Stats(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), summary)
			}

			filter := make([]task.Status, 0, len(statuses))
			for _, raw := range statuses {
				status := task.Status(strings.ToUpper(strings.TrimSpace(raw)))
				if !task.IsValidStatus(status) {
					return fmt.Errorf("未知的任务状态: %s", raw)
				}
				filter = append(filter, status)
			}
			tasks, err := a.registry.List(ctx,
				task.WithLimit(limit),
				task.WithOffset(offset),
				task.WithStatuses(filter...),
				task.WithPair(pair),
			)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tasks)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "返回的最大条数，0 表示不限制")
	cmd.Flags().IntVar(&offset, "offset", 0, "跳过的条数")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "按状态过滤，可重复或逗号分隔")
	cmd.Flags().StringVar(&pair, "pair", "", "按交易对过滤")
	cmd.Flags().BoolVar(&stats, "stats", false, "输出按状态汇总的统计")
	return cmd
}

func newWatchCmd(flags *rootFlags) *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "消费任务事件并在每次注册后刷新链上状态",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, flags.options(false))
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			watcher := task.NewWatcher(a.queue, a.registry,
				task.WithWorkerCount(workers),
				task.WithEventCallback(func(event task.Event, snapshot task.StatusSnapshot) {
					_ = printJSON(out, map[string]any{"event": event, "status": snapshot})
				}),
			)
			if err := watcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 1, "并发消费的 worker 数")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
