// Package config loads and persists vex's run configuration: step cap,
// free-wrapper list, target platform, debugger path, and LLM
// endpoint/model. Grounded on the teacher's environment-override
// pattern in internal/packagemanager/httpregistry.go (ORIZON_REGISTRY_TOKEN
// read at construction time) and its plain encoding/json config shape
// elsewhere in the compiler driver — no viper/koanf layering, a flat
// struct round-tripped through json.Marshal.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hooop/vex/internal/errs"
)

// Config is vex's persisted and environment-tunable run configuration.
type Config struct {
	MaxTraceSteps int      `json:"max_trace_steps"`
	FreeWrappers  []string `json:"free_wrappers"`
	Platform      string   `json:"platform"` // emulation prefix, e.g. "qemu-arm -L /sysroot"
	DebuggerPath  string   `json:"debugger_path"`
	LLMEndpoint   string   `json:"llm_endpoint"`
	LLMModel      string   `json:"llm_model"`

	// APIKey is never persisted to disk (see CredentialStore); it is
	// populated only from VEX_API_KEY or the credential store at load
	// time, and deliberately excluded from the json tags above.
	APIKey string `json:"-"`
}

// Default mirrors internal/trace.DefaultConfig's defaults at the config
// layer: a high step cap, the minimal free-wrapper list, gdb on PATH, and
// no LLM endpoint configured (Explain calls are skipped entirely until
// llm_endpoint is set in the config file; `vex configure` stores only the
// API key).
func Default() Config {
	return Config{
		MaxTraceSteps: 5_000_000,
		FreeWrappers:  []string{"free"},
		DebuggerPath:  "gdb",
		LLMModel:      "gpt-4o-mini",
	}
}

// Path returns the default config file location, $HOME/.config/vex/config.json.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errs.ConfigError("CONFIG_NO_HOME", "could not determine home directory", nil)
	}
	return filepath.Join(home, ".config", "vex", "config.json"), nil
}

// Load reads the config file if present, applies environment overrides,
// and returns Default() untouched if no file exists yet.
func Load() (Config, error) {
	cfg := Default()

	path, err := Path()
	if err != nil {
		return cfg, err
	}
	data, err := os.ReadFile(path)
	if err == nil {
		if jsonErr := json.Unmarshal(data, &cfg); jsonErr != nil {
			return cfg, errs.ConfigError("CONFIG_MALFORMED", "config file is not valid JSON", map[string]interface{}{
				"path": path,
			})
		}
	} else if !os.IsNotExist(err) {
		return cfg, errs.ConfigError("CONFIG_UNREADABLE", err.Error(), map[string]interface{}{"path": path})
	}

	applyEnv(&cfg)
	if cfg.APIKey == "" {
		if store, storeErr := NewCredentialStore(); storeErr == nil {
			if key, loadErr := store.Load(); loadErr == nil {
				cfg.APIKey = key
			}
		}
	}
	return cfg, nil
}

// applyEnv overlays VEX_API_KEY, VEX_MAX_TRACE_STEPS, and VEX_PLATFORM,
// per spec §6, taking precedence over the persisted file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("VEX_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("VEX_MAX_TRACE_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxTraceSteps = n
		}
	}
	if v := os.Getenv("VEX_PLATFORM"); v != "" {
		cfg.Platform = v
	}
}

// Save writes cfg to Path(), creating the containing directory if
// needed. The API key is never written (see the json:"-" tag).
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errs.ConfigError("CONFIG_MKDIR", err.Error(), map[string]interface{}{"path": filepath.Dir(path)})
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errs.ConfigError("CONFIG_ENCODE", err.Error(), nil)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errs.ConfigError("CONFIG_WRITE", err.Error(), map[string]interface{}{"path": path})
	}
	return nil
}
