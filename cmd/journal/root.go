package main

import (
	"crypto/ed25519"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/fortiblox/x1-journal/internal/config"
	"github.com/fortiblox/x1-journal/internal/types"
	"github.com/fortiblox/x1-journal/pkg/node"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath  string
	dataDir     string
	logLevel    string
	keypairPath string
	programID   string
}

func defaultKeypairPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "id.json"
	}
	return filepath.Join(home, ".config", "solana", "id.json")
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "journal",
		Short:         "Journal entries stored on a local Solana-style runtime",
		Version:       fmt.Sprintf("%s (%s)", Version, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&opts.dataDir, "data-dir", "", "data directory (overrides config)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	flags.StringVar(&opts.keypairPath, "keypair", defaultKeypairPath(), "Solana keygen keypair file")
	flags.StringVar(&opts.programID, "program-id", "", "journal program id (overrides config)")

	cmd.AddCommand(
		newKeygenCommand(opts),
		newAirdropCommand(opts),
		newCreateCommand(opts),
		newUpdateCommand(opts),
		newDeleteCommand(opts),
		newShowCommand(opts),
		newHistoryCommand(opts),
		newDeriveCommand(opts),
		newStateHashCommand(opts),
		newStatusCommand(opts),
		newSnapshotCommand(opts),
	)
	return cmd
}

// loadConfig reads the config file and applies flag overrides.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.programID != "" {
		cfg.ProgramID = o.programID
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openNode opens the node described by the flags. Logs go to stderr.
func (o *rootOptions) openNode(cmd *cobra.Command) (*node.Node, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return node.Open(node.Options{
		Config: cfg,
		Logger: newLogger(cmd.ErrOrStderr(), level),
	})
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}

// loadKeypair reads the keypair file given by --keypair.
func (o *rootOptions) loadKeypair() (ed25519.PrivateKey, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(o.keypairPath)
	if err != nil {
		return nil, fmt.Errorf("load keypair %s: %w", o.keypairPath, err)
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("load keypair %s: expected %d bytes, got %d", o.keypairPath, ed25519.PrivateKeySize, len(key))
	}
	return ed25519.PrivateKey(key), nil
}

// ownerOrSelf parses addr, or returns the keypair's public key when addr
// is empty.
func (o *rootOptions) ownerOrSelf(addr string) (types.Pubkey, error) {
	if addr != "" {
		return types.PubkeyFromBase58(addr)
	}
	key, err := o.loadKeypair()
	if err != nil {
		return types.Pubkey{}, err
	}
	return types.PubkeyFromPrivateKey(key), nil
}
