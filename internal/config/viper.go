package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. ZAMAIL_RPC_URL.
const EnvPrefix = "ZAMAIL"

// ConfigFileKey is the flag naming the config file.
const ConfigFileKey = "config"

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"rpc-url":   "rpc.url",
	"log-level": "log.level",
	"db":        "store.path",
	"store":     "store.backend",
	"confirm":   "wallet.confirm",
	"key-file":  "wallet.key_file",
	"timeout":   "coordinator.op_timeout",
	"metrics":   "metrics.listen",
}

// RegisterFlags adds the flags understood by NewViper to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(ConfigFileKey, "", "config file (default "+
		DefaultConfigFile()+")")
	fs.String("rpc-url", "", "JSON-RPC endpoint of the chain node")
	fs.String("log-level", "", "log level (trace, debug, info, warn, "+
		"error, critical, off)")
	fs.String("db", "", "path of the signature database")
	fs.String("store", "", "signature store backend (memory, sqlite)")
	fs.Bool("confirm", false, "ask before every signature")
	fs.String("key-file", "", "file holding the hex wallet key")
	fs.Duration("timeout", 0, "timeout of each mailbox operation")
	fs.String("metrics", "", "serve Prometheus metrics on this address")
}

// SetDefaults registers Default() with v. The chain keyed maps have no
// defaults and stay empty unless configured.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("rpc.url", d.RPC.URL)
	v.SetDefault("rpc.receipt_timeout", d.RPC.ReceiptTimeout)
	v.SetDefault("rpc.poll_interval", d.RPC.PollInterval)
	v.SetDefault("rpc.watch_interval", d.RPC.WatchInterval)

	v.SetDefault("wallet.private_key", d.Wallet.PrivateKey)
	v.SetDefault("wallet.key_file", d.Wallet.KeyFile)
	v.SetDefault("wallet.confirm", d.Wallet.Confirm)

	v.SetDefault("coordinator.op_timeout", d.Coordinator.OpTimeout)
	v.SetDefault("coordinator.max_concurrent_decrypts",
		d.Coordinator.MaxConcurrentDecrypts)
	v.SetDefault("coordinator.refresh_on_connect",
		d.Coordinator.RefreshOnConnect)

	v.SetDefault("fhevm.mock_chains", d.FHEVM.MockChains)
	v.SetDefault("fhevm.signature_duration_days",
		d.FHEVM.SignatureDurationDays)
	v.SetDefault("fhevm.relayer_timeout", d.FHEVM.RelayerTimeout)
	v.SetDefault("fhevm.prompt_timeout", d.FHEVM.PromptTimeout)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.dir", d.Log.Dir)
	v.SetDefault("log.max_files", d.Log.MaxFiles)
	v.SetDefault("log.max_file_size_mb", d.Log.MaxFileSizeMB)

	v.SetDefault("metrics.listen", d.Metrics.Listen)
}

// NewViper builds the viper instance. Precedence, highest first: flags that
// were set, ZAMAIL_* environment variables, the config file, defaults. A
// missing default config file is not an error; a missing explicit one is.
func NewViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for flag, key := range flagKeys {
		f := flags.Lookup(flag)
		if f == nil {
			continue
		}

		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	explicit := ""
	if f := flags.Lookup(ConfigFileKey); f != nil {
		explicit = f.Value.String()
	}

	path := explicit
	if path == "" {
		path = DefaultConfigFile()
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	err := v.ReadInConfig()
	switch {
	case err == nil:

	case explicit == "" && errors.Is(err, fs.ErrNotExist):

	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	return v, nil
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
