package wallet

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/klingon-exchange/walletd/internal/chain"
)

// AssetKind discriminates AssetRef.
type AssetKind string

const (
	AssetNative AssetKind = "native"
	AssetToken  AssetKind = "token"
)

// AssetRef identifies the asset a session works with: the chain's native
// currency or an ERC-20 token contract.
type AssetRef struct {
	Kind     AssetKind `json:"kind"`
	Contract string    `json:"contract,omitempty"`
}

// NativeAsset returns the native asset reference.
func NativeAsset() AssetRef {
	return AssetRef{Kind: AssetNative}
}

// Resolve picks the asset from the token address input. Blank input selects
// the native asset; anything else is taken as a token contract address as-is.
// Malformed addresses are not rejected here, the first contract query fails
// instead.
func Resolve(tokenAddressInput string) AssetRef {
	addr := strings.TrimSpace(tokenAddressInput)
	if addr == "" {
		return NativeAsset()
	}
	return AssetRef{Kind: AssetToken, Contract: addr}
}

// IsNative reports whether the reference is the native asset.
func (a AssetRef) IsNative() bool {
	return a.Kind != AssetToken
}

// Equal reports whether two references name the same asset. Contract
// addresses compare case-insensitively.
func (a AssetRef) Equal(b AssetRef) bool {
	if a.IsNative() || b.IsNative() {
		return a.IsNative() == b.IsNative()
	}
	return strings.EqualFold(a.Contract, b.Contract)
}

// String returns "native" or "token:<address>".
func (a AssetRef) String() string {
	if a.IsNative() {
		return string(AssetNative)
	}
	return string(AssetToken) + ":" + a.Contract
}

// Symbol returns a display symbol for the asset on chainID: the native
// currency symbol, a well-known token symbol, or "" for unknown tokens.
func Symbol(chainID uint64, a AssetRef) string {
	if a.IsNative() {
		return chain.NativeSymbol(chainID)
	}
	if tok := chain.LookupToken(chainID, a.Contract); tok != nil {
		return tok.Symbol
	}
	return ""
}

// contractAddress parses the token contract address.
func (a AssetRef) contractAddress() (common.Address, bool) {
	if a.IsNative() || !common.IsHexAddress(a.Contract) {
		return common.Address{}, false
	}
	return common.HexToAddress(a.Contract), true
}
