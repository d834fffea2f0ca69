package chain

import "strings"

// TokenInfo contains information about a well-known ERC-20 token.
// Decimals here are informational only; live reads always ask the contract.
type TokenInfo struct {
	Symbol   string
	Name     string
	Decimals uint8
	Address  string
	ChainID  uint64
}

// tokenRegistry maps chainID -> lowercase address -> TokenInfo
var tokenRegistry = make(map[uint64]map[string]*TokenInfo)

func registerToken(token *TokenInfo) {
	if tokenRegistry[token.ChainID] == nil {
		tokenRegistry[token.ChainID] = make(map[string]*TokenInfo)
	}
	tokenRegistry[token.ChainID][strings.ToLower(token.Address)] = token
}

// LookupToken returns token info for a contract address on a chain.
// Returns nil if the token is not known.
func LookupToken(chainID uint64, address string) *TokenInfo {
	tokens, ok := tokenRegistry[chainID]
	if !ok {
		return nil
	}
	return tokens[strings.ToLower(strings.TrimSpace(address))]
}

func init() {
	// Ethereum Mainnet
	registerToken(&TokenInfo{Symbol: "USDT", Name: "Tether USD", Decimals: 6, Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", ChainID: 1})
	registerToken(&TokenInfo{Symbol: "USDC", Name: "USD Coin", Decimals: 6, Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", ChainID: 1})
	registerToken(&TokenInfo{Symbol: "WETH", Name: "Wrapped Ether", Decimals: 18, Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", ChainID: 1})
	registerToken(&TokenInfo{Symbol: "WBTC", Name: "Wrapped Bitcoin", Decimals: 8, Address: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", ChainID: 1})

	// Arbitrum One
	registerToken(&TokenInfo{Symbol: "USDC", Name: "USD Coin", Decimals: 6, Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", ChainID: 42161})

	// Base
	registerToken(&TokenInfo{Symbol: "USDC", Name: "USD Coin", Decimals: 6, Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", ChainID: 8453})

	// BNB Smart Chain, USDT has 18 decimals here
	registerToken(&TokenInfo{Symbol: "USDT", Name: "Tether USD", Decimals: 18, Address: "0x55d398326f99059fF775485246999027B3197955", ChainID: 56})

	// Polygon
	registerToken(&TokenInfo{Symbol: "USDC", Name: "USD Coin", Decimals: 6, Address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", ChainID: 137})

	// Sepolia
	registerToken(&TokenInfo{Symbol: "USDC", Name: "USD Coin", Decimals: 6, Address: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238", ChainID: 11155111})
}
