package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NEXUS"

// HomeDir is the per-user nexus directory.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nexus"
	}
	return filepath.Join(home, ".nexus")
}

// Default returns the built-in configuration.
func Default() *Config {
	base := HomeDir()
	return &Config{
		StateDir: filepath.Join(base, "state"),
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join(base, "logs", "nexus.log"),
		},
		Gate: GateConfig{
			DiffLimit:     200,
			CheckTimeout:  "300s",
			TestTimeout:   "900s",
			Disable:       []string{},
			Ignore:        []string{"node_modules/**", ".venv/**", "**/__pycache__/**"},
			KeepSnapshots: 20,
		},
		Fix: FixConfig{
			VerifyTimeout: "300s",
			OutputTail:    4000,
		},
		Task: TaskConfig{
			AutoClose: AutoCloseConfig{MinPasses: 3, Cooldown: "600s"},
		},
		History: HistoryConfig{Enabled: true},
	}
}

// Load reads configuration from path, or from the first of ./nexus.yaml
// and ~/.nexus/config.yaml that exists when path is empty. Without a file
// the defaults apply. NEXUS_* environment variables override everything.
func Load(path string) (*Config, error) {
	v := viper.New()
	if err := setDefaults(v); err != nil {
		return nil, err
	}
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = findDefault()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.StateDir = expandHome(cfg.StateDir)
	cfg.Log.File = expandHome(cfg.Log.File)
	return &cfg, nil
}

// setDefaults registers every default key so AutomaticEnv can see it.
func setDefaults(v *viper.Viper) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return err
	}
	setTree(v, "", tree)
	return nil
}

func setTree(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			setTree(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

func findDefault() string {
	candidates := []string{"nexus.yaml", filepath.Join(HomeDir(), "config.yaml")}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteDefault writes the default configuration to path unless a file is
// already there.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	data, err := Marshal(Default())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
