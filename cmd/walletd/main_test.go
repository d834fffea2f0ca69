package main

import (
	"context"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/klingon-exchange/walletd/internal/config"
	"github.com/klingon-exchange/walletd/internal/provider"
)

const (
	devMnemonic = "test test test test test test test test test test test junk"
	devKey0     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
)

var devAccount0 = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Network.RPCURL = "http://127.0.0.1:1"
	cfg.Session.Recipient = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	cfg.Signer.KeyEnv = "WALLETD_TEST_KEY"
	cfg.Signer.PasswordEnv = "WALLETD_TEST_PASSWORD"
	return cfg
}

func TestOpenProviderNoURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.Network.RPCURL = ""

	p, err := openProvider(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openProvider() error = %v", err)
	}
	if p != nil {
		t.Errorf("openProvider() = %v, want nil", p)
	}
}

func TestOpenProviderRemote(t *testing.T) {
	cfg := testConfig(t)

	p, err := openProvider(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openProvider() error = %v", err)
	}
	defer p.Close()
	if _, ok := p.(*provider.RPCProvider); !ok {
		t.Errorf("openProvider() = %T, want *provider.RPCProvider", p)
	}
}

func TestOpenProviderKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Signer.Mode = config.SignerKey

	t.Setenv(cfg.Signer.KeyEnv, "")
	if _, err := openProvider(context.Background(), cfg); err == nil {
		t.Error("expected error without a key")
	}

	t.Setenv(cfg.Signer.KeyEnv, "0x"+devKey0)
	p, err := openProvider(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openProvider() error = %v", err)
	}
	defer p.Close()

	accounts, err := p.RequestAccounts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 1 || accounts[0] != devAccount0 {
		t.Errorf("accounts = %v, want [%s]", accounts, devAccount0.Hex())
	}
}

func TestOpenProviderMnemonic(t *testing.T) {
	cfg := testConfig(t)
	cfg.Signer.Mode = config.SignerMnemonic
	cfg.Signer.Accounts = 2
	t.Setenv(cfg.Signer.PasswordEnv, "correct horse battery")

	if _, err := openProvider(context.Background(), cfg); err == nil {
		t.Error("expected error without a mnemonic file")
	}

	sealed, err := provider.SealMnemonic(devMnemonic, "correct horse battery")
	if err != nil {
		t.Fatal(err)
	}
	if err := provider.WriteSealedMnemonic(cfg.MnemonicPath(), sealed); err != nil {
		t.Fatal(err)
	}

	p, err := openProvider(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openProvider() error = %v", err)
	}
	defer p.Close()

	accounts, _ := p.RequestAccounts(context.Background())
	if len(accounts) != 2 || accounts[0] != devAccount0 {
		t.Errorf("accounts = %v", accounts)
	}

	t.Setenv(cfg.Signer.PasswordEnv, "wrong password")
	if _, err := openProvider(context.Background(), cfg); err == nil {
		t.Error("expected error with the wrong password")
	}
}

func TestWriteMnemonic(t *testing.T) {
	cfg := testConfig(t)

	t.Setenv(cfg.Signer.PasswordEnv, "")
	if err := writeMnemonic(cfg); err == nil {
		t.Error("expected error without a password")
	}

	t.Setenv(cfg.Signer.PasswordEnv, "correct horse battery")
	if err := writeMnemonic(cfg); err != nil {
		t.Fatalf("writeMnemonic() error = %v", err)
	}
	if _, err := os.Stat(cfg.MnemonicPath()); err != nil {
		t.Fatalf("mnemonic file missing: %v", err)
	}

	sealed, err := provider.ReadSealedMnemonic(cfg.MnemonicPath())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sealed.Open("correct horse battery"); err != nil {
		t.Errorf("Open() error = %v", err)
	}

	if err := writeMnemonic(cfg); err == nil {
		t.Error("second writeMnemonic() should refuse to overwrite")
	}
}
