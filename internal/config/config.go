// Package config loads encrypto settings from <home>/config.yaml and the
// environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/remiblancher/encrypto/internal/validate"
	"github.com/remiblancher/encrypto/pkg/qpgp"
)

// Environment variables.
const (
	EnvHome       = "ENCRYPTO_HOME"
	EnvBackend    = "ENCRYPTO_BACKEND"
	EnvAuditLog   = "ENCRYPTO_AUDIT_LOG"
	EnvLogLevel   = "ENCRYPTO_LOG_LEVEL"
	EnvPassphrase = "ENCRYPTO_PASSPHRASE"
)

// FileName is the configuration file inside the home directory.
const FileName = "config.yaml"

// Config holds all settings.
type Config struct {
	// Home is the resolved storage root; not read from the file.
	Home string `yaml:"-"`

	Backend  string      `yaml:"backend"`
	PQC      PQCConfig   `yaml:"pqc"`
	AuditLog string      `yaml:"audit_log"`
	Log      LogConfig   `yaml:"log"`
	Serve    ServeConfig `yaml:"serve"`
	KDF      KDFConfig   `yaml:"kdf"`
}

// KDFConfig tunes Argon2id protection of new secret keys.
type KDFConfig struct {
	Time      uint32 `yaml:"time"`
	MemoryKiB uint32 `yaml:"memory_kib"`
	Threads   uint8  `yaml:"threads"`
}

// PQCConfig holds per-operation policy defaults.
type PQCConfig struct {
	Policy PolicyConfig `yaml:"policy"`
	Level  string       `yaml:"level"`
}

// PolicyConfig names a policy per operation.
type PolicyConfig struct {
	Keygen  string `yaml:"keygen"`
	Encrypt string `yaml:"encrypt"`
	Decrypt string `yaml:"decrypt"`
	Sign    string `yaml:"sign"`
	Verify  string `yaml:"verify"`
}

// LogConfig configures diagnostics logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// ServeConfig configures the HTTP API.
type ServeConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the built-in settings: every policy required, high
// key generation level.
func Default() *Config {
	return &Config{
		Backend: "native",
		PQC: PQCConfig{
			Policy: PolicyConfig{
				Keygen:  "required",
				Encrypt: "required",
				Decrypt: "required",
				Sign:    "required",
				Verify:  "required",
			},
			Level: "high",
		},
		Log: LogConfig{Level: "warn", Format: "console"},
		Serve: ServeConfig{
			Host:            "127.0.0.1",
			Port:            8787,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		KDF: KDFConfig{Time: 3, MemoryKiB: 64 * 1024, Threads: 4},
	}
}

// ResolveHome returns the storage root: $ENCRYPTO_HOME when set (it must be
// absolute), else $HOME/.encrypto.
func ResolveHome(getenv func(string) string) (string, error) {
	if v, ok := lookup(getenv, EnvHome); ok {
		return validate.HomeDir(EnvHome, v)
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory (set %s): %w", EnvHome, err)
	}
	return validate.HomeDir("", filepath.Join(dir, ".encrypto"))
}

func lookup(getenv func(string) string, key string) (string, bool) {
	v := getenv(key)
	return v, v != ""
}

// Load reads <home>/config.yaml over the defaults. A missing file is not
// an error.
func Load(home string) (*Config, error) {
	cfg := Default()
	cfg.Home = home

	path := filepath.Join(home, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides file settings with environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v, ok := lookup(getenv, EnvBackend); ok {
		c.Backend = v
	}
	if v, ok := lookup(getenv, EnvAuditLog); ok {
		c.AuditLog = v
	}
	if v, ok := lookup(getenv, EnvLogLevel); ok {
		c.Log.Level = v
	}
	return c.Validate()
}

// Validate checks every enumerated setting.
func (c *Config) Validate() error {
	for op, s := range c.policies() {
		if _, err := validate.Policy(s); err != nil {
			return fmt.Errorf("pqc.policy.%s: %w", op, err)
		}
	}
	if _, err := validate.Level(c.PQC.Level); err != nil {
		return fmt.Errorf("pqc.level: %w", err)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q (want console or json)", c.Log.Format)
	}
	if c.Serve.Port < 0 || c.Serve.Port > 65535 {
		return fmt.Errorf("serve.port: %d out of range", c.Serve.Port)
	}
	if c.KDF.Time == 0 || c.KDF.MemoryKiB < 8*uint32(c.KDF.Threads) || c.KDF.Threads == 0 {
		return fmt.Errorf("kdf: time and threads must be positive and memory_kib at least 8 per thread")
	}
	if c.KDF.Time > 16 || c.KDF.MemoryKiB > 4*1024*1024 {
		return fmt.Errorf("kdf: time must not exceed 16 and memory_kib must not exceed 4194304")
	}
	return nil
}

func (c *Config) policies() map[qpgp.Operation]string {
	p := c.PQC.Policy
	return map[qpgp.Operation]string{
		qpgp.OpGenerate: p.Keygen,
		qpgp.OpEncrypt:  p.Encrypt,
		qpgp.OpDecrypt:  p.Decrypt,
		qpgp.OpSign:     p.Sign,
		qpgp.OpVerify:   p.Verify,
		qpgp.OpRotate:   p.Keygen,
	}
}

// Policy returns the configured policy for an operation. Rotation uses the
// key generation policy.
func (c *Config) Policy(op qpgp.Operation) qpgp.PqcPolicy {
	p, err := qpgp.ParsePqcPolicy(c.policies()[op])
	if err != nil {
		return qpgp.DefaultPolicy
	}
	return p
}

// Level returns the configured key generation level.
func (c *Config) Level() qpgp.PqcLevel {
	l, err := qpgp.ParsePqcLevel(c.PQC.Level)
	if err != nil {
		return qpgp.LevelHigh
	}
	return l
}

// Address returns the HTTP listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Serve.Host, c.Serve.Port)
}
