// Package config handles walletd configuration: a YAML file in the data
// directory, created with defaults on first run.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// SignerMode selects who signs outgoing transactions.
type SignerMode string

const (
	// SignerProvider lets the wallet behind the RPC endpoint sign
	// (eth_sendTransaction). This is the browser-extension model.
	SignerProvider SignerMode = "provider"

	// SignerKey signs locally with a hex private key read from the environment.
	SignerKey SignerMode = "key"

	// SignerMnemonic signs locally with accounts derived from an encrypted
	// BIP39 mnemonic file.
	SignerMnemonic SignerMode = "mnemonic"
)

// Accounts methods understood by the provider.
const (
	MethodRequestAccounts = "eth_requestAccounts"
	MethodAccounts        = "eth_accounts"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// Config errors.
var (
	ErrMissingRecipient = errors.New("session.recipient is not set")
	ErrInvalidRecipient = errors.New("session.recipient is not a valid address")
	ErrInvalidMode      = errors.New("unknown signer mode")
	ErrInvalidNotifyURL = errors.New("notify.url is not a valid http(s) URL")
)

// Config holds all configuration for the daemon.
type Config struct {
	Network NetworkConfig `yaml:"network"`
	Signer  SignerConfig  `yaml:"signer"`
	Session SessionConfig `yaml:"session"`
	Notify  NotifyConfig  `yaml:"notify"`
	RPC     RPCConfig     `yaml:"rpc"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

// NetworkConfig describes the wallet provider endpoint.
type NetworkConfig struct {
	// RPCURL is the provider's JSON-RPC endpoint (http, https, ws or wss).
	// Empty means no provider is available.
	RPCURL string `yaml:"rpc_url"`

	// ChainID pins the expected chain. Zero accepts whatever the provider reports.
	ChainID uint64 `yaml:"chain_id"`

	// AccountsMethod is eth_requestAccounts (prompting wallets) or
	// eth_accounts (unlocked dev nodes).
	AccountsMethod string `yaml:"accounts_method"`

	// DialTimeout bounds the initial connection to the provider.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// SignerConfig holds local signing settings. Only used when Mode is key or mnemonic.
type SignerConfig struct {
	Mode SignerMode `yaml:"mode"`

	// KeyEnv names the environment variable holding the hex private key.
	KeyEnv string `yaml:"key_env"`

	// MnemonicFile is the encrypted mnemonic, relative to the data dir.
	MnemonicFile string `yaml:"mnemonic_file"`

	// PasswordEnv names the environment variable holding the mnemonic password.
	PasswordEnv string `yaml:"password_env"`

	// Accounts is how many derived accounts the mnemonic signer exposes.
	Accounts uint32 `yaml:"accounts"`
}

// SessionConfig holds the transfer parameters.
type SessionConfig struct {
	// Recipient receives every transfer. Not user editable at runtime.
	Recipient string `yaml:"recipient"`

	// TokenAddress is the initial asset. Empty means the native asset.
	TokenAddress string `yaml:"token_address"`
}

// NotifyConfig holds the notification endpoint settings.
type NotifyConfig struct {
	// URL receives POST {"user", "amount"} after a confirmed transfer.
	// Empty disables notifications.
	URL string `yaml:"url"`

	Timeout time.Duration `yaml:"timeout"`
}

// RPCConfig holds the daemon's own JSON-RPC API settings.
type RPCConfig struct {
	Listen string `yaml:"listen"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for the config and key material.
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			RPCURL:         "http://127.0.0.1:8545",
			AccountsMethod: MethodRequestAccounts,
			DialTimeout:    10 * time.Second,
		},
		Signer: SignerConfig{
			Mode:         SignerProvider,
			KeyEnv:       "WALLETD_PRIVATE_KEY",
			MnemonicFile: "mnemonic.enc",
			PasswordEnv:  "WALLETD_PASSWORD",
			Accounts:     1,
		},
		Notify: NotifyConfig{
			URL:     "http://localhost:5000/api/endpoint",
			Timeout: 15 * time.Second,
		},
		RPC: RPCConfig{
			Listen: "127.0.0.1:8645",
		},
		Storage: StorageConfig{
			DataDir: "~/.walletd",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate checks the fields that cannot be defaulted.
func (c *Config) Validate() error {
	recipient := strings.TrimSpace(c.Session.Recipient)
	if recipient == "" {
		return ErrMissingRecipient
	}
	if !common.IsHexAddress(recipient) {
		return fmt.Errorf("%w: %s", ErrInvalidRecipient, recipient)
	}

	switch c.Signer.Mode {
	case SignerProvider, SignerKey, SignerMnemonic:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Signer.Mode)
	}

	if c.Notify.URL != "" {
		u, err := url.Parse(c.Notify.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %s", ErrInvalidNotifyURL, c.Notify.URL)
		}
	}

	return nil
}

// RecipientAddress returns the configured recipient. Call Validate first.
func (c *Config) RecipientAddress() common.Address {
	return common.HexToAddress(strings.TrimSpace(c.Session.Recipient))
}

// MnemonicPath returns the absolute path of the encrypted mnemonic file.
func (c *Config) MnemonicPath() string {
	if filepath.IsAbs(c.Signer.MnemonicFile) {
		return c.Signer.MnemonicFile
	}
	return filepath.Join(ExpandPath(c.Storage.DataDir), c.Signer.MnemonicFile)
}

// LoadConfig loads configuration from config.yaml in dataDir.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	return LoadFile(ConfigPath(dataDir), dataDir)
}

// LoadFile loads configuration from an explicit path, creating it with
// defaults if missing.
func LoadFile(path, dataDir string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Storage.DataDir = dataDir
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# walletd configuration\n# Generated automatically on first run. Set session.recipient before sending.\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), ConfigFileName)
}

// ExpandPath expands a leading ~ to the home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
