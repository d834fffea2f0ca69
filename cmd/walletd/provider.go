package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/klingon-exchange/walletd/internal/config"
	"github.com/klingon-exchange/walletd/internal/provider"
	"github.com/klingon-exchange/walletd/pkg/logging"
)

// openProvider builds the provider selected by the signer mode. It returns a
// nil interface when no RPC URL is configured.
func openProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	url := strings.TrimSpace(cfg.Network.RPCURL)
	if url == "" {
		return nil, nil
	}

	dialCtx := ctx
	if cfg.Network.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.Network.DialTimeout)
		defer cancel()
	}

	remote, err := provider.Dial(dialCtx, url, provider.WithAccountsMethod(cfg.Network.AccountsMethod))
	if err != nil {
		return nil, err
	}

	switch cfg.Signer.Mode {
	case config.SignerKey:
		p, err := provider.NewKeyProvider(remote, os.Getenv(cfg.Signer.KeyEnv))
		if err != nil {
			remote.Close()
			return nil, fmt.Errorf("%s: %w", cfg.Signer.KeyEnv, err)
		}
		return p, nil

	case config.SignerMnemonic:
		sealed, err := provider.ReadSealedMnemonic(cfg.MnemonicPath())
		if err != nil {
			remote.Close()
			return nil, err
		}
		mnemonic, err := sealed.Open(os.Getenv(cfg.Signer.PasswordEnv))
		if err != nil {
			remote.Close()
			return nil, err
		}
		p, err := provider.NewMnemonicProvider(remote, mnemonic, "", cfg.Signer.Accounts)
		if err != nil {
			remote.Close()
			return nil, err
		}
		return p, nil

	default:
		return remote, nil
	}
}

// writeMnemonic generates a mnemonic, seals it with the password from the
// environment and writes it to the configured path. An existing file is never
// overwritten.
func writeMnemonic(cfg *config.Config) error {
	log := logging.GetDefault()
	path := cfg.MnemonicPath()

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	password := os.Getenv(cfg.Signer.PasswordEnv)
	if password == "" {
		return fmt.Errorf("set %s to the password protecting the mnemonic", cfg.Signer.PasswordEnv)
	}

	mnemonic, err := provider.GenerateMnemonic()
	if err != nil {
		return err
	}
	sealed, err := provider.SealMnemonic(mnemonic, password)
	if err != nil {
		return err
	}
	if err := provider.WriteSealedMnemonic(path, sealed); err != nil {
		return err
	}

	keys, err := provider.DeriveKeys(mnemonic, "", cfg.Signer.Accounts)
	if err != nil {
		return err
	}
	log.Info("Mnemonic written", "path", path)
	for i, key := range keys {
		log.Info("Derived account", "index", i, "address", crypto.PubkeyToAddress(key.PublicKey).Hex())
	}
	log.Warn("Back up the mnemonic file and its password, they cannot be recovered")
	return nil
}
