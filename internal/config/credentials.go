package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/hooop/vex/internal/errs"
)

// CredentialStore persists the LLM API key separately from Config, at
// $HOME/.config/vex/credentials, mode 0600 — `vex configure` prompts for
// it with echo disabled rather than accepting it as a CLI argument (which
// would leak into shell history and /proc/*/cmdline).
type CredentialStore struct {
	path string
}

func NewCredentialStore() (*CredentialStore, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errs.ConfigError("CONFIG_NO_HOME", "could not determine home directory", nil)
	}
	return &CredentialStore{path: filepath.Join(home, ".config", "vex", "credentials")}, nil
}

// PromptAndSave reads an API key from fd (stdin) with echo disabled via
// golang.org/x/term, and writes it to the store.
func (c *CredentialStore) PromptAndSave(fd int) error {
	fmt.Print("vex API key: ")
	raw, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return errs.ConfigError("CONFIG_READ_PASSWORD", err.Error(), nil)
	}
	return c.Save(strings.TrimSpace(string(raw)))
}

// Save writes key to the credential file at 0600, creating its directory
// if needed.
func (c *CredentialStore) Save(key string) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return errs.ConfigError("CONFIG_MKDIR", err.Error(), map[string]interface{}{"path": filepath.Dir(c.path)})
	}
	if err := os.WriteFile(c.path, []byte(key), 0o600); err != nil {
		return errs.ConfigError("CONFIG_WRITE", err.Error(), map[string]interface{}{"path": c.path})
	}
	return nil
}

// Load reads the stored API key, returning "" if none has been saved yet.
func (c *CredentialStore) Load() (string, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errs.ConfigError("CONFIG_UNREADABLE", err.Error(), map[string]interface{}{"path": c.path})
	}
	return strings.TrimSpace(string(data)), nil
}
