package wallet

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// erc20ABIJSON is the subset of the ERC-20 interface walletd uses.
const erc20ABIJSON = `[
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid ERC-20 ABI: %v", err))
	}
	return parsed
}

// ContractCaller executes read-only contract calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// tokenContract is a thin ERC-20 binding over a ContractCaller.
type tokenContract struct {
	address common.Address
	caller  ContractCaller
}

// newTokenContract binds the token named by asset. It fails for native
// references and malformed addresses.
func newTokenContract(asset AssetRef, caller ContractCaller) (*tokenContract, error) {
	addr, ok := asset.contractAddress()
	if !ok {
		return nil, fmt.Errorf("%w: malformed token address %q", ErrAssetQueryFailed, asset.Contract)
	}
	return &tokenContract{address: addr, caller: caller}, nil
}

// Decimals calls decimals().
func (t *tokenContract) Decimals(ctx context.Context) (uint8, error) {
	out, err := t.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%w: decimals() returned %T", ErrAssetQueryFailed, out[0])
	}
	return decimals, nil
}

// BalanceOf calls balanceOf(account).
func (t *tokenContract) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	out, err := t.call(ctx, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: balanceOf() returned %T", ErrAssetQueryFailed, out[0])
	}
	return balance, nil
}

func (t *tokenContract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: pack %s: %v", ErrAssetQueryFailed, method, err)
	}

	to := t.address
	raw, err := t.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("%w: %s on %s: %w", ErrAssetQueryFailed, method, t.address.Hex(), err)
	}

	// An address without code answers eth_call with empty output.
	out, err := erc20ABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s from %s: %v", ErrAssetQueryFailed, method, t.address.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s returned nothing", ErrAssetQueryFailed, method)
	}
	return out, nil
}

// PackTransfer encodes transfer(to, amount) calldata.
func PackTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("transfer", to, amount)
}
