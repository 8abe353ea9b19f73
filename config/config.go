// Package config loads clockode settings from defaults, a YAML file, the
// CLOCKODE_* environment and command-line flags, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	clog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fahmaliyi/clockode/vault"
)

const (
	appName   = "clockode"
	envPrefix = "clockode"
)

type KDF struct {
	Algorithm   string `mapstructure:"algorithm" yaml:"algorithm"`
	Cost        uint32 `mapstructure:"cost" yaml:"cost"`
	BlockSize   uint32 `mapstructure:"block_size" yaml:"block_size"`
	Parallelism uint32 `mapstructure:"parallelism" yaml:"parallelism"`
}

type Config struct {
	Vault          string        `mapstructure:"vault" yaml:"vault"`
	LogLevel       string        `mapstructure:"log_level" yaml:"log_level"`
	KDF            KDF           `mapstructure:"kdf" yaml:"kdf"`
	Cipher         string        `mapstructure:"cipher" yaml:"cipher"`
	ClipboardClear time.Duration `mapstructure:"clipboard_clear" yaml:"clipboard_clear"`
}

// flagKeys maps config keys to the cobra flags that may override them.
var flagKeys = map[string]string{
	"vault":     "vault",
	"log_level": "log-level",
}

// Dir returns the per-user clockode directory.
func Dir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not get user config directory: %w", err)
	}
	return filepath.Join(dir, appName), nil
}

// DefaultFile is where WriteFile puts the user configuration.
func DefaultFile() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName+".yaml"), nil
}

// DefaultVaultPath falls back to the working directory when the user config
// directory is unknown.
func DefaultVaultPath() string {
	dir, err := Dir()
	if err != nil {
		return "vault.clk"
	}
	return filepath.Join(dir, "vault.clk")
}

func defaults() map[string]any {
	kdf := vault.DefaultKDFParams()
	return map[string]any{
		"vault":           DefaultVaultPath(),
		"log_level":       "info",
		"kdf.algorithm":   kdf.Algorithm.String(),
		"kdf.cost":        kdf.Cost,
		"kdf.block_size":  kdf.BlockSize,
		"kdf.parallelism": kdf.Parallelism,
		"cipher":          vault.CipherAES256GCM.String(),
		"clipboard_clear": "30s",
	}
}

// Load resolves the configuration. file names an explicit config file and
// must exist when set; otherwise clockode.yaml is looked up in the user
// config directory and the working directory, and a missing file is fine.
// cmd may be nil.
func Load(cmd *cobra.Command, file string) (Config, error) {
	var c Config
	v := viper.New()

	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	v.SetConfigName(appName)
	v.SetConfigType("yaml")
	if file != "" {
		v.SetConfigFile(file)
	} else {
		if dir, err := Dir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return c, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		for key, name := range flagKeys {
			if f := cmd.Flags().Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return c, err
				}
			}
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate checks every value that is converted later so that a bad
// setting fails at startup.
func (c Config) Validate() error {
	if c.Vault == "" {
		return errors.New("config: vault path is empty")
	}
	if _, err := clog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: log_level: %w", err)
	}
	if _, err := c.KDFParams(); err != nil {
		return fmt.Errorf("config: kdf: %w", err)
	}
	if _, err := c.CipherSuite(); err != nil {
		return fmt.Errorf("config: cipher: %w", err)
	}
	if c.ClipboardClear < 0 {
		return fmt.Errorf("config: clipboard_clear must not be negative, got %s", c.ClipboardClear)
	}
	return nil
}

func (c Config) KDFParams() (vault.KDFParams, error) {
	alg, err := vault.ParseKDFAlgorithm(c.KDF.Algorithm)
	if err != nil {
		return vault.KDFParams{}, err
	}
	p := vault.KDFParams{
		Algorithm:   alg,
		Cost:        c.KDF.Cost,
		BlockSize:   c.KDF.BlockSize,
		Parallelism: c.KDF.Parallelism,
	}
	if err := p.Validate(); err != nil {
		return vault.KDFParams{}, err
	}
	return p, nil
}

func (c Config) CipherSuite() (vault.CipherSuite, error) {
	return vault.ParseCipherSuite(c.Cipher)
}

// fileConfig is the on-disk shape; durations are written the way users
// type them.
type fileConfig struct {
	Vault          string `yaml:"vault"`
	LogLevel       string `yaml:"log_level"`
	KDF            KDF    `yaml:"kdf"`
	Cipher         string `yaml:"cipher"`
	ClipboardClear string `yaml:"clipboard_clear"`
}

// WriteFile stores c as YAML at path, or at DefaultFile when path is empty.
func WriteFile(c Config, path string) error {
	if path == "" {
		var err error
		if path, err = DefaultFile(); err != nil {
			return err
		}
	}

	data, err := yaml.Marshal(fileConfig{
		Vault:          c.Vault,
		LogLevel:       c.LogLevel,
		KDF:            c.KDF,
		Cipher:         c.Cipher,
		ClipboardClear: c.ClipboardClear.String(),
	})
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", dir, err)
	}
	return os.WriteFile(path, data, 0o600)
}
