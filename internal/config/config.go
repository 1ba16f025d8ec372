package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/roasbeef/zamail/internal/build"
	"github.com/roasbeef/zamail/internal/chain"
	"github.com/roasbeef/zamail/internal/fhevm"
	"github.com/roasbeef/zamail/internal/mailbox"
)

const (
	// HardhatChainID is the chain id of a local hardhat node.
	HardhatChainID = 31337

	// SepoliaChainID is the chain id of the Sepolia testnet.
	SepoliaChainID = 11155111

	// StoreMemory keeps decryption signatures for the process lifetime.
	StoreMemory = "memory"

	// StoreSQLite persists decryption signatures on disk.
	StoreSQLite = "sqlite"
)

// Config is the complete zamail configuration.
type Config struct {
	RPC         RPCConfig         `mapstructure:"rpc"`
	Wallet      WalletConfig      `mapstructure:"wallet"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	FHEVM       FHEVMConfig       `mapstructure:"fhevm"`
	Store       StoreConfig       `mapstructure:"store"`
	Log         LogConfig         `mapstructure:"log"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`

	// Deployments maps a decimal chain id to the ZaMail contract address
	// on that chain.
	Deployments map[string]string `mapstructure:"deployments"`
}

// RPCConfig selects the chain node.
type RPCConfig struct {
	URL            string        `mapstructure:"url"`
	ReceiptTimeout time.Duration `mapstructure:"receipt_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`

	// WatchInterval is how often `watch` polls for chain switches.
	WatchInterval time.Duration `mapstructure:"watch_interval"`
}

// WalletConfig selects the signing key.
type WalletConfig struct {
	// PrivateKey is a hex secp256k1 key. Prefer KeyFile or the
	// ZAMAIL_WALLET_PRIVATE_KEY environment variable.
	PrivateKey string `mapstructure:"private_key"`

	// KeyFile is a file holding the hex key.
	KeyFile string `mapstructure:"key_file"`

	// Confirm asks on the terminal before every signature.
	Confirm bool `mapstructure:"confirm"`
}

// CoordinatorConfig tunes the mailbox coordinator.
type CoordinatorConfig struct {
	OpTimeout             time.Duration `mapstructure:"op_timeout"`
	MaxConcurrentDecrypts int           `mapstructure:"max_concurrent_decrypts"`
	RefreshOnConnect      bool          `mapstructure:"refresh_on_connect"`
}

// FHEVMChain configures the relayer of one chain.
type FHEVMChain struct {
	RelayerURL string `mapstructure:"relayer_url"`

	// Verifier is the decryption verifier contract of the EIP-712
	// domain.
	Verifier string `mapstructure:"verifier"`
}

// FHEVMConfig configures encryption.
type FHEVMConfig struct {
	// MockChains use the clear engine instead of a relayer.
	MockChains []uint64 `mapstructure:"mock_chains"`

	// Chains maps a decimal chain id to its relayer.
	Chains map[string]FHEVMChain `mapstructure:"chains"`

	SignatureDurationDays int64         `mapstructure:"signature_duration_days"`
	RelayerTimeout        time.Duration `mapstructure:"relayer_timeout"`

	// PromptTimeout bounds a wallet signature prompt shared by several
	// decrypts.
	PromptTimeout time.Duration `mapstructure:"prompt_timeout"`
}

// StoreConfig selects where decryption signatures are kept.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level         string `mapstructure:"level"`
	Dir           string `mapstructure:"dir"`
	MaxFiles      int    `mapstructure:"max_files"`
	MaxFileSizeMB int    `mapstructure:"max_file_size_mb"`
}

// MetricsConfig exposes Prometheus metrics while watching.
type MetricsConfig struct {
	// Listen is the address of the /metrics endpoint. Empty disables it.
	Listen string `mapstructure:"listen"`
}

// Dir returns ~/.zamail, or .zamail when the home directory is unknown.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".zamail"
	}

	return filepath.Join(home, ".zamail")
}

// DefaultConfigFile is the config file read when none is given.
func DefaultConfigFile() string {
	return filepath.Join(Dir(), "zamail.yaml")
}

// Default returns the configuration for a local hardhat node.
func Default() *Config {
	dir := Dir()

	return &Config{
		RPC: RPCConfig{
			URL:            "http://127.0.0.1:8545",
			ReceiptTimeout: chain.DefaultReceiptTimeout,
			PollInterval:   chain.DefaultPollInterval,
			WatchInterval:  chain.DefaultWatchInterval,
		},
		Coordinator: CoordinatorConfig{
			OpTimeout:        mailbox.DefaultOpTimeout,
			RefreshOnConnect: true,
		},
		FHEVM: FHEVMConfig{
			MockChains:            []uint64{HardhatChainID},
			Chains:                map[string]FHEVMChain{},
			SignatureDurationDays: fhevm.DefaultDurationDays,
			RelayerTimeout:        fhevm.DefaultRelayerTimeout,
			PromptTimeout:         fhevm.DefaultPromptTimeout,
		},
		Store: StoreConfig{
			Backend: StoreSQLite,
			Path:    filepath.Join(dir, "zamail.db"),
		},
		Log: LogConfig{
			Level:         "info",
			Dir:           filepath.Join(dir, "logs"),
			MaxFiles:      build.DefaultMaxLogFiles,
			MaxFileSizeMB: build.DefaultMaxLogFileSize,
		},
		Deployments: map[string]string{},
	}
}

func parseChainID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid chain id %q", s)
	}

	return id, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}

	return common.HexToAddress(s), nil
}

// DeploymentMap parses Deployments.
func (c *Config) DeploymentMap() (map[uint64]common.Address, error) {
	out := make(map[uint64]common.Address, len(c.Deployments))
	for rawID, rawAddr := range c.Deployments {
		id, err := parseChainID(rawID)
		if err != nil {
			return nil, fmt.Errorf("deployments: %w", err)
		}

		addr, err := parseAddress(rawAddr)
		if err != nil {
			return nil, fmt.Errorf("deployments[%s]: %w", rawID, err)
		}
		out[id] = addr
	}

	return out, nil
}

// ChainEngines lists the engines to configure.
func (c *Config) ChainEngines() ([]fhevm.ChainConfig, error) {
	var chains []fhevm.ChainConfig
	for _, id := range c.FHEVM.MockChains {
		chains = append(chains, fhevm.ChainConfig{
			ChainID: id,
			Engine:  fhevm.NewMockEngine(id),
		})
	}

	for rawID, cfg := range c.FHEVM.Chains {
		id, err := parseChainID(rawID)
		if err != nil {
			return nil, fmt.Errorf("fhevm.chains: %w", err)
		}

		verifier, err := parseAddress(cfg.Verifier)
		if err != nil {
			return nil, fmt.Errorf("fhevm.chains[%s].verifier: %w",
				rawID, err)
		}

		if cfg.RelayerURL == "" {
			return nil, fmt.Errorf("fhevm.chains[%s]: relayer_url "+
				"is required", rawID)
		}

		chains = append(chains, fhevm.ChainConfig{
			ChainID: id,
			Engine: fhevm.NewRelayerEngine(fhevm.RelayerConfig{
				URL:          cfg.RelayerURL,
				ChainID:      id,
				RetryTimeout: c.FHEVM.RelayerTimeout,
			}),
			Verifier: verifier,
		})
	}

	return chains, nil
}

// Validate reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.RPC.URL == "" {
		errs = append(errs, errors.New("rpc.url is required"))
	}

	if _, err := c.DeploymentMap(); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.ChainEngines(); err != nil {
		errs = append(errs, err)
	}

	if c.Coordinator.OpTimeout < 0 {
		errs = append(errs, errors.New("coordinator.op_timeout must "+
			"not be negative"))
	}
	if c.Coordinator.MaxConcurrentDecrypts < 0 {
		errs = append(errs, errors.New("coordinator."+
			"max_concurrent_decrypts must not be negative"))
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required "+
				"for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend must be %q or "+
			"%q, got %q", StoreMemory, StoreSQLite, c.Store.Backend))
	}

	if c.Wallet.PrivateKey != "" && c.Wallet.KeyFile != "" {
		errs = append(errs, errors.New("set only one of "+
			"wallet.private_key and wallet.key_file"))
	}

	return errors.Join(errs...)
}

// WalletKey returns the configured hex key.
func (c *Config) WalletKey() (string, error) {
	switch {
	case c.Wallet.PrivateKey != "":
		return c.Wallet.PrivateKey, nil

	case c.Wallet.KeyFile != "":
		raw, err := os.ReadFile(c.Wallet.KeyFile)
		if err != nil {
			return "", fmt.Errorf("read wallet key file: %w", err)
		}

		return string(raw), nil

	default:
		return "", errors.New("no wallet configured: set " +
			"wallet.private_key, wallet.key_file or " +
			"ZAMAIL_WALLET_PRIVATE_KEY")
	}
}
