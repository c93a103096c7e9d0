package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"ConsensusMCP-Chain/internal/web3"
)

// gweiToWei scales the configured gas price.
var gweiToWei = big.NewInt(1_000_000_000)

// Config describes how to construct an EVM ledger.
type Config struct {
	Name             string
	RPCURL           string
	ChainID          int64
	RegistryContract string
	PrivateKeyHex    string
	Notes            string
}

// Backend is the subset of ethclient.Client the ledger relies on.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	ChainID(ctx context.Context) (*big.Int, error)
}

// Ledger implements web3.Ledger against an automation registry contract on an
// EVM compatible chain.
type Ledger struct {
	name     string
	notes    string
	rpc      *gethrpc.Client
	backend  Backend
	registry common.Address
	key      *ecdsa.PrivateKey
	from     common.Address

	mu      sync.Mutex
	chainID *big.Int
}

var _ web3.Ledger = (*Ledger)(nil)

// Dial connects to the configured RPC endpoint and returns a ready ledger.
func Dial(ctx context.Context, cfg Config) (*Ledger, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	ledger, err := NewLedger(ethclient.NewClient(rpcClient), cfg)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	ledger.rpc = rpcClient
	return ledger, nil
}

// NewLedger wraps an existing backend. The private key is optional; without it
// the ledger is read-only.
func NewLedger(backend Backend, cfg Config) (*Ledger, error) {
	if backend == nil {
		return nil, errors.New("缺少链访问后端")
	}
	if !common.IsHexAddress(cfg.RegistryContract) {
		return nil, fmt.Errorf("自动化合约地址无效: %q", cfg.RegistryContract)
	}

	l := &Ledger{
		name:     cfg.Name,
		notes:    cfg.Notes,
		backend:  backend,
		registry: common.HexToAddress(cfg.RegistryContract),
	}
	if cfg.ChainID > 0 {
		l.chainID = big.NewInt(cfg.ChainID)
	}
	if hexKey := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKeyHex), "0x"); hexKey != "" {
		key, err := crypto.HexToECDSA(hexKey)
		if err != nil {
			return nil, fmt.Errorf("解析签名私钥失败: %w", err)
		}
		l.key = key
		l.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return l, nil
}

// Name returns the chain name this ledger was registered under.
func (l *Ledger) Name() string { return l.name }

// SignerAddress returns the address derived from the configured key.
func (l *Ledger) SignerAddress() (string, bool) {
	if l.key == nil {
		return "", false
	}
	return l.from.Hex(), true
}

// Close releases the RPC connection when the ledger owns one.
func (l *Ledger) Close() {
	if l.rpc != nil {
		l.rpc.Close()
		l.rpc = nil
	}
}

// ReadBalance returns the account balance in micro-units.
func (l *Ledger) ReadBalance(ctx context.Context, address string) (uint64, error) {
	account, err := parseAddress(address)
	if err != nil {
		return 0, err
	}
	balance, err := l.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return 0, fmt.Errorf("查询余额失败: %w", err)
	}
	return web3.MicroFromWei(balance), nil
}

// ReadEpochState reads the registry's reconfiguration clock.
func (l *Ledger) ReadEpochState(ctx context.Context) (web3.EpochState, error) {
	values, err := l.call(ctx, methodEpochState)
	if err != nil {
		return web3.EpochState{}, err
	}
	if len(values) != 2 {
		return web3.EpochState{}, fmt.Errorf("%s 返回值数量异常: %d", methodEpochState, len(values))
	}
	last, ok1 := values[0].(uint64)
	interval, ok2 := values[1].(uint64)
	if !ok1 || !ok2 {
		return web3.EpochState{}, fmt.Errorf("%s 返回值类型异常", methodEpochState)
	}
	return web3.EpochState{LastReconfig: last, EpochInterval: interval}, nil
}

// EstimateFee asks the registry for the fee cap of a task using the given gas.
func (l *Ledger) EstimateFee(ctx context.Context, referenceGasBudget uint64) (uint64, error) {
	values, err := l.call(ctx, methodEstimateFee, referenceGasBudget)
	if err != nil {
		return 0, err
	}
	fee, ok := firstBig(values)
	if !ok {
		return 0, fmt.Errorf("%s 返回值类型异常", methodEstimateFee)
	}
	return web3.MicroFromWei(fee), nil
}

// ReadAccountSequence returns the pending nonce of the account.
func (l *Ledger) ReadAccountSequence(ctx context.Context, address string) (uint64, error) {
	account, err := parseAddress(address)
	if err != nil {
		return 0, err
	}
	nonce, err := l.backend.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("查询交易计数失败: %w", err)
	}
	return nonce, nil
}

// SubmitScheduledTransfer signs a registerTask call with the transfer's
// sequence number and broadcasts it. Node errors are returned unchanged so
// callers can classify them.
func (l *Ledger) SubmitScheduledTransfer(ctx context.Context, transfer web3.ScheduledTransfer) (string, error) {
	if l.key == nil {
		return "", errors.New("未配置签名私钥")
	}
	signer, err := parseAddress(transfer.Signer)
	if err != nil {
		return "", err
	}
	if signer != l.from {
		return "", fmt.Errorf("签名账户 %s 与私钥地址 %s 不一致", signer.Hex(), l.from.Hex())
	}
	target, err := parseAddress(transfer.Target)
	if err != nil {
		return "", err
	}

	data, err := parsedRegistryABI.Pack(methodRegisterTask,
		target,
		transfer.Params,
		transfer.Expiry,
		transfer.GasBudget,
		transfer.GasPrice,
		web3.WeiFromMicro(transfer.FeeCap),
	)
	if err != nil {
		return "", fmt.Errorf("编码 %s 调用失败: %w", methodRegisterTask, err)
	}

	chainID, err := l.resolveChainID(ctx)
	if err != nil {
		return "", err
	}

	tip := new(big.Int).Mul(new(big.Int).SetUint64(transfer.GasPrice), gweiToWei)
	registry := l.registry
	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     transfer.Sequence,
		GasTipCap: tip,
		GasFeeCap: new(big.Int).Mul(tip, big.NewInt(2)),
		Gas:       transfer.GasBudget,
		To:        &registry,
		Value:     big.NewInt(0),
		Data:      data,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), l.key)
	if err != nil {
		return "", fmt.Errorf("签名交易失败: %w", err)
	}
	if err := l.backend.SendTransaction(ctx, signed); err != nil {
		return "", err
	}
	return signed.Hash().Hex(), nil
}

// ReadAutomationStatus queries the three status views for the account.
func (l *Ledger) ReadAutomationStatus(ctx context.Context, address string) (web3.AutomationStatus, error) {
	account, err := parseAddress(address)
	if err != nil {
		return web3.AutomationStatus{}, err
	}

	var status web3.AutomationStatus

	values, err := l.call(ctx, methodInitialized, account)
	if err != nil {
		return web3.AutomationStatus{}, err
	}
	if status.Initialized, err = firstBool(values, methodInitialized); err != nil {
		return web3.AutomationStatus{}, err
	}

	values, err = l.call(ctx, methodUsageStats, account)
	if err != nil {
		return web3.AutomationStatus{}, err
	}
	if len(values) != 5 {
		return web3.AutomationStatus{}, fmt.Errorf("%s 返回值数量异常: %d", methodUsageStats, len(values))
	}
	used, ok1 := values[0].(uint64)
	total, ok2 := values[1].(uint64)
	received, ok3 := values[2].(*big.Int)
	swaps, ok4 := values[3].(uint64)
	active, ok5 := values[4].(bool)
	if !(ok1 && ok2 && ok3 && ok4 && ok5) {
		return web3.AutomationStatus{}, fmt.Errorf("%s 返回值类型异常", methodUsageStats)
	}
	status.Used, status.Total, status.Swaps, status.Active = used, total, swaps, active
	status.Received = web3.MicroFromWei(received)

	values, err = l.call(ctx, methodWillTrigger, account)
	if err != nil {
		return web3.AutomationStatus{}, err
	}
	if status.WillTriggerNext, err = firstBool(values, methodWillTrigger); err != nil {
		return web3.AutomationStatus{}, err
	}
	return status, nil
}

func (l *Ledger) call(ctx context.Context, method string, args ...any) ([]any, error) {
	input, err := parsedRegistryABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("编码 %s 调用失败: %w", method, err)
	}
	registry := l.registry
	out, err := l.backend.CallContract(ctx, gethcore.CallMsg{To: &registry, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("调用 %s 失败: %w", method, err)
	}
	values, err := parsedRegistryABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("解析 %s 返回值失败: %w", method, err)
	}
	return values, nil
}

func (l *Ledger) resolveChainID(ctx context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.chainID != nil {
		return l.chainID, nil
	}
	id, err := l.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	l.chainID = id
	return id, nil
}

func parseAddress(address string) (common.Address, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("地址格式无效: %q", address)
	}
	return common.HexToAddress(address), nil
}

func firstBig(values []any) (*big.Int, bool) {
	if len(values) == 0 {
		return nil, false
	}
	n, ok := values[0].(*big.Int)
	return n, ok
}

func firstBool(values []any, method string) (bool, error) {
	if len(values) == 0 {
		return false, fmt.Errorf("%s 没有返回值", method)
	}
	b, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s 返回值类型异常", method)
	}
	return b, nil
}
