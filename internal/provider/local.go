package provider

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/klingon-exchange/walletd/internal/chain"
	"github.com/tyler-smith/go-bip39"
)

// LocalProvider uses an RPCProvider for chain access and signs with keys it
// holds in memory. Accounts are reported in derivation order.
type LocalProvider struct {
	*RPCProvider

	accounts []common.Address
	keys     map[common.Address]*ecdsa.PrivateKey

	// sendMu serializes nonce lookup and submission per provider.
	sendMu sync.Mutex
}

// NewKeyProvider creates a LocalProvider holding a single hex private key.
func NewKeyProvider(remote *RPCProvider, hexKey string) (*LocalProvider, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, ErrNoSigningKey
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return newLocalProvider(remote, []*ecdsa.PrivateKey{key}), nil
}

// NewMnemonicProvider creates a LocalProvider exposing the first n accounts
// derived from a BIP39 mnemonic at m/44'/60'/0'/0/i.
func NewMnemonicProvider(remote *RPCProvider, mnemonic, passphrase string, n uint32) (*LocalProvider, error) {
	keys, err := DeriveKeys(mnemonic, passphrase, n)
	if err != nil {
		return nil, err
	}
	return newLocalProvider(remote, keys), nil
}

func newLocalProvider(remote *RPCProvider, keys []*ecdsa.PrivateKey) *LocalProvider {
	p := &LocalProvider{
		RPCProvider: remote,
		accounts:    make([]common.Address, 0, len(keys)),
		keys:        make(map[common.Address]*ecdsa.PrivateKey, len(keys)),
	}
	for _, key := range keys {
		addr := crypto.PubkeyToAddress(key.PublicKey)
		p.accounts = append(p.accounts, addr)
		p.keys[addr] = key
	}
	return p
}

// DeriveKeys derives n EVM private keys from a BIP39 mnemonic.
func DeriveKeys(mnemonic, passphrase string, n uint32) ([]*ecdsa.PrivateKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	if n == 0 {
		n = 1
	}

	seed := bip39.NewSeed(mnemonic, passphrase)
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}

	keys := make([]*ecdsa.PrivateKey, 0, n)
	for i := uint32(0); i < n; i++ {
		key := master
		for _, child := range chain.DerivationPath(0, i) {
			key, err = key.Derive(child)
			if err != nil {
				return nil, fmt.Errorf("failed to derive %s: %w", chain.DerivationPathString(0, i), err)
			}
		}
		priv, err := key.ECPrivKey()
		if err != nil {
			return nil, fmt.Errorf("failed to get private key: %w", err)
		}
		keys = append(keys, priv.ToECDSA())
	}
	return keys, nil
}

// GenerateMnemonic generates a new 24-word BIP39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// RequestAccounts returns the locally held accounts. There is nobody to
// prompt, so it never fails.
func (p *LocalProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	out := make([]common.Address, len(p.accounts))
	copy(out, p.accounts)
	return out, nil
}

// Signer returns a handle that signs locally with the account's key.
func (p *LocalProvider) Signer(ctx context.Context, account common.Address) (Signer, error) {
	key, ok := p.keys[account]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, account.Hex())
	}
	return &keySigner{provider: p, key: key, account: account}, nil
}

// keySigner builds, signs and broadcasts legacy transactions.
type keySigner struct {
	provider *LocalProvider
	key      *ecdsa.PrivateKey
	account  common.Address
}

func (s *keySigner) Address() common.Address {
	return s.account
}

func (s *keySigner) SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error) {
	s.provider.sendMu.Lock()
	defer s.provider.sendMu.Unlock()

	eth := s.provider.Eth()

	chainID, err := s.provider.ChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	nonce, err := eth.PendingNonceAt(ctx, s.account)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get gas price: %w", err)
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	gas := req.Gas
	if gas == 0 {
		to := req.To
		gas, err = eth.EstimateGas(ctx, ethereum.CallMsg{
			From:  s.account,
			To:    &to,
			Value: value,
			Data:  req.Data,
		})
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &req.To,
		Value:    value,
		Data:     req.Data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	s.provider.log.Info("Transaction submitted",
		"from", s.account.Hex(),
		"to", req.To.Hex(),
		"nonce", nonce,
		"gas", gas,
		"tx", signed.Hash().Hex(),
	)
	return signed.Hash(), nil
}

var _ Provider = (*LocalProvider)(nil)
