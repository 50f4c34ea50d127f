package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".vaultsync", "config.yaml")

	ErrNoVaultDir = errors.New("config: vault dir missing")
	ErrNoRemote   = errors.New("config: remote repository missing (set owner/repo or a local repo dir)")
	ErrBadPolicy  = errors.New("config: unknown conflict policy")
)

var knownPolicies = map[string]struct{}{
	"manual":       {},
	"keepBoth":     {},
	"preferLocal":  {},
	"preferRemote": {},
}

// Config is the immutable per-run configuration. It is built once in cmd and
// threaded explicitly into constructors; nothing reads ambient globals.
type Config struct {
	VaultDir string `mapstructure:"vault_dir"`

	// Hosted remote (git-data API).
	Owner      string `mapstructure:"owner"`
	Repo       string `mapstructure:"repo"`
	Token      string `mapstructure:"token"`
	APIBaseURL string `mapstructure:"api_base_url"`

	// Local bare-repository remote; takes precedence over owner/repo.
	RemoteDir string `mapstructure:"remote_dir"`

	Branch   string        `mapstructure:"branch"`
	Policy   string        `mapstructure:"policy"`
	Interval time.Duration `mapstructure:"interval"`

	IgnoreGlobs []string `mapstructure:"ignore_globs"`
}

func (c *Config) Validate() error {
	if c.VaultDir == "" {
		return ErrNoVaultDir
	}
	if c.RemoteDir == "" && (c.Owner == "" || c.Repo == "") {
		return ErrNoRemote
	}
	if _, ok := knownPolicies[c.Policy]; !ok {
		return fmt.Errorf("%w: %q", ErrBadPolicy, c.Policy)
	}
	if c.Branch == "" {
		c.Branch = "main"
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	return nil
}

// StateDBPath is where the persisted baseline/conflict/log database lives,
// inside the vault's hidden state dir so it travels with the vault.
func (c *Config) StateDBPath() string {
	return filepath.Join(c.VaultDir, ".vaultsync", "state.db")
}

// LockPath is the cross-process single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.VaultDir, ".vaultsync", "sync.lock")
}
