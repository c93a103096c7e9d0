package provider

import (
	"context"
	"math/big"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

type nopBackend struct{}

func (nopBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (nopBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 0, nil }

func (nopBackend) CallContract(context.Context, gethcore.CallMsg, *big.Int) ([]byte, error) {
	return nil, nil
}

func (nopBackend) SendTransaction(context.Context, *coretypes.Transaction) error { return nil }

func (nopBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1), nil }
