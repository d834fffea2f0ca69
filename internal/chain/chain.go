// Package chain defines parameters for the EVM networks walletd can talk to.
// A running daemon is bound to exactly one of them; the registry only serves
// to name the network a provider reports and to derive account paths.
package chain

import "fmt"

// NativeDecimals is the precision of the native asset on every EVM chain.
const NativeDecimals uint8 = 18

// EVMCoinType is the BIP44 coin type used for EVM account derivation.
const EVMCoinType uint32 = 60

// Params describes one EVM network.
type Params struct {
	Name        string // Ethereum, Ethereum Sepolia, ...
	ChainID     uint64 // EIP-155 chain ID
	NativeToken string // ETH, BNB, POL, ...
	Testnet     bool
}

// registry maps chain ID to params.
var registry = make(map[uint64]*Params)

// Register adds network params to the registry.
func Register(params *Params) {
	registry[params.ChainID] = params
}

// ByChainID returns the params for a chain ID.
func ByChainID(chainID uint64) (*Params, bool) {
	p, ok := registry[chainID]
	return p, ok
}

// Describe returns a human readable name for a chain ID, falling back to the
// bare number for networks that are not registered (local devnets).
func Describe(chainID uint64) string {
	if p, ok := ByChainID(chainID); ok {
		return fmt.Sprintf("%s (%d)", p.Name, chainID)
	}
	return fmt.Sprintf("chain %d", chainID)
}

// NativeSymbol returns the native asset symbol for a chain ID, "ETH" if the
// chain is unknown.
func NativeSymbol(chainID uint64) string {
	if p, ok := ByChainID(chainID); ok && p.NativeToken != "" {
		return p.NativeToken
	}
	return "ETH"
}

// DerivationPath returns the BIP44 path m/44'/60'/account'/0/index as hardened
// child indexes.
func DerivationPath(account, index uint32) []uint32 {
	return []uint32{
		44 + 0x80000000,
		EVMCoinType + 0x80000000,
		account + 0x80000000,
		0,
		index,
	}
}

// DerivationPathString returns the derivation path as a string.
func DerivationPathString(account, index uint32) string {
	return fmt.Sprintf("m/44'/%d'/%d'/0/%d", EVMCoinType, account, index)
}

func init() {
	// ==========================================================================
	// Mainnets
	// ==========================================================================
	Register(&Params{Name: "Ethereum", ChainID: 1, NativeToken: "ETH"})
	Register(&Params{Name: "BNB Smart Chain", ChainID: 56, NativeToken: "BNB"})
	Register(&Params{Name: "Polygon", ChainID: 137, NativeToken: "POL"})
	Register(&Params{Name: "Arbitrum One", ChainID: 42161, NativeToken: "ETH"})
	Register(&Params{Name: "Optimism", ChainID: 10, NativeToken: "ETH"})
	Register(&Params{Name: "Base", ChainID: 8453, NativeToken: "ETH"})
	Register(&Params{Name: "Avalanche C-Chain", ChainID: 43114, NativeToken: "AVAX"})

	// ==========================================================================
	// Testnets and local devnets
	// ==========================================================================
	Register(&Params{Name: "Ethereum Sepolia", ChainID: 11155111, NativeToken: "ETH", Testnet: true})
	Register(&Params{Name: "BNB Smart Chain Testnet", ChainID: 97, NativeToken: "BNB", Testnet: true})
	Register(&Params{Name: "Polygon Amoy", ChainID: 80002, NativeToken: "POL", Testnet: true})
	Register(&Params{Name: "Arbitrum Sepolia", ChainID: 421614, NativeToken: "ETH", Testnet: true})
	Register(&Params{Name: "Optimism Sepolia", ChainID: 11155420, NativeToken: "ETH", Testnet: true})
	Register(&Params{Name: "Base Sepolia", ChainID: 84532, NativeToken: "ETH", Testnet: true})
	Register(&Params{Name: "Avalanche Fuji", ChainID: 43113, NativeToken: "AVAX", Testnet: true})
	Register(&Params{Name: "Hardhat / Anvil", ChainID: 31337, NativeToken: "ETH", Testnet: true})
}
