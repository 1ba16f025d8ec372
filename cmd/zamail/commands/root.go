package commands

import (
	"fmt"
	"os"

	"github.com/roasbeef/zamail/internal/baselib/actor"
	"github.com/roasbeef/zamail/internal/build"
	"github.com/roasbeef/zamail/internal/chain"
	"github.com/roasbeef/zamail/internal/config"
	"github.com/roasbeef/zamail/internal/fhevm"
	"github.com/roasbeef/zamail/internal/mailbox"
	"github.com/spf13/cobra"
)

var (
	// outputFormat controls output format (text, json).
	outputFormat string

	// verbose mirrors log output on stderr.
	verbose bool

	// cfg is the loaded configuration.
	cfg *config.Config

	// logging owns the log handlers until the command exits.
	logging *build.Logging
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "zamail",
	Short: "Encrypted mail on an FHEVM chain",
	Long: `zamail sends and reads short encrypted messages through the ZaMail
contract. Message bodies are encrypted before they leave this machine and
can only be decrypted by their sender and recipient.

Configuration is read from ~/.zamail/zamail.yaml, ZAMAIL_* environment
variables and flags, in increasing order of precedence.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

// Execute runs the CLI.
func Execute() error {
	defer func() {
		if logging != nil {
			logging.Close()
		}
	}()

	return rootCmd.Execute()
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.PersistentFlags().StringVar(
		&outputFormat, "format", "text",
		"Output format: text, json",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false,
		"Mirror log output on stderr",
	)

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(inboxCmd)
	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads the configuration and wires every subsystem logger.
func setup(cmd *cobra.Command, _ []string) error {
	v, err := config.NewViper(cmd.Flags())
	if err != nil {
		return err
	}

	cfg, err = config.Load(v)
	if err != nil {
		return err
	}

	logCfg := build.LogConfig{
		Level: cfg.Log.Level,
		File: build.FileLogConfig{
			Dir:           cfg.Log.Dir,
			MaxFiles:      cfg.Log.MaxFiles,
			MaxFileSizeMB: cfg.Log.MaxFileSizeMB,
		},
	}
	if verbose {
		logCfg.Console = os.Stderr
	}

	logging, err = build.NewLogging(logCfg)
	if err != nil {
		return fmt.Errorf("unable to set up logging: %w", err)
	}

	actor.UseLogger(logging.Logger(actor.Subsystem))
	mailbox.UseLogger(logging.Logger(mailbox.Subsystem))
	chain.UseLogger(logging.Logger(chain.Subsystem))
	fhevm.UseLogger(logging.Logger(fhevm.Subsystem))
	log = logging.Logger(Subsystem)

	log.Debugf("zamail %s starting, rpc=%s", build.VersionString(),
		cfg.RPC.URL)

	return nil
}

func teardown(*cobra.Command, []string) error {
	if logging == nil {
		return nil
	}

	err := logging.Close()
	logging = nil

	return err
}
