// Package config loads the journal node configuration.
//
// Configuration comes from an optional YAML file layered over Default().
// Command-line flags override individual fields after loading; Validate
// must be called once all layers are applied.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fortiblox/x1-journal/internal/types"
	"github.com/fortiblox/x1-journal/pkg/svm"
	"github.com/fortiblox/x1-journal/pkg/svm/programs/journal"
	"github.com/fortiblox/x1-journal/pkg/svm/programs/system"
)

// Config is the journal node configuration.
type Config struct {
	// ProgramID is the base58 address the journal program is deployed at.
	ProgramID string `yaml:"program_id"`

	// DataDir holds the accounts database and the receipt ledger.
	DataDir string `yaml:"data_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// ComputeUnitLimit is the per-transaction compute budget.
	ComputeUnitLimit uint64 `yaml:"compute_unit_limit"`

	// SyncWrites fsyncs every accounts commit.
	SyncWrites bool `yaml:"sync_writes"`

	Rent RentConfig `yaml:"rent"`

	// AddressCacheTTL bounds how long derived entry addresses are memoised.
	// Zero disables the cache.
	AddressCacheTTL time.Duration `yaml:"address_cache_ttl"`
}

// RentConfig holds rent parameters.
type RentConfig struct {
	LamportsPerByteYear uint64  `yaml:"lamports_per_byte_year"`
	ExemptionThreshold  float64 `yaml:"exemption_threshold"`
}

// Default returns the default configuration.
func Default() *Config {
	dataDir := ".x1-journal"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".x1-journal")
	}
	return &Config{
		ProgramID:        journal.DefaultProgramID.String(),
		DataDir:          dataDir,
		LogLevel:         "info",
		ComputeUnitLimit: svm.CUDefault,
		SyncWrites:       true,
		Rent: RentConfig{
			LamportsPerByteYear: system.DefaultLamportsPerByteYear,
			ExemptionThreshold:  system.DefaultExemptionThreshold,
		},
		AddressCacheTTL: journal.DefaultAddressCacheTTL,
	}
}

// Load reads the YAML file at path over the defaults. Unknown keys are
// rejected. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field.
func (c *Config) Validate() error {
	if _, err := types.PubkeyFromBase58(c.ProgramID); err != nil {
		return fmt.Errorf("program_id: %w", err)
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.ComputeUnitLimit == 0 || c.ComputeUnitLimit > svm.CUMax {
		return fmt.Errorf("compute_unit_limit must be in [1, %d]", svm.CUMax)
	}
	if c.Rent.LamportsPerByteYear == 0 {
		return errors.New("rent.lamports_per_byte_year must be > 0")
	}
	if c.Rent.ExemptionThreshold <= 0 {
		return errors.New("rent.exemption_threshold must be > 0")
	}
	if c.AddressCacheTTL < 0 {
		return errors.New("address_cache_ttl must be >= 0")
	}
	return nil
}

// Program returns the parsed journal program id. Call after Validate.
func (c *Config) Program() types.Pubkey {
	id, _ := types.PubkeyFromBase58(c.ProgramID)
	return id
}

// RentParams returns the configured rent parameters.
func (c *Config) RentParams() system.Rent {
	return system.Rent{
		LamportsPerByteYear: c.Rent.LamportsPerByteYear,
		ExemptionThreshold:  c.Rent.ExemptionThreshold,
	}
}

// AccountsDir is where the accounts database lives.
func (c *Config) AccountsDir() string {
	return filepath.Join(c.DataDir, "accounts")
}

// LedgerPath is the receipt ledger file.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "ledger.db")
}

// ParseLogLevel maps a level name to its slog level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log_level: unknown level %q", level)
	}
}
