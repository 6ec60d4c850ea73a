// Command encrypto manages OpenPGP-style keys and messages with
// policy-controlled post-quantum algorithms.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/remiblancher/encrypto/internal/config"
	"github.com/remiblancher/encrypto/internal/dispatch"
	"github.com/remiblancher/encrypto/internal/instrument"
	"github.com/remiblancher/encrypto/internal/logging"
	"github.com/remiblancher/encrypto/internal/native"
	"github.com/remiblancher/encrypto/pkg/audit"
)

// Build-time variables (injected by GoReleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var (
	backendName  string
	auditLogPath string
	logLevel     string
)

func main() {
	err := rootCmd.Execute()
	closeSession()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(dispatch.ExitCode(err))
	}
}

// session holds what one invocation talks to. It is opened before the
// command runs and released after it, on every exit path.
type session struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *instrument.Metrics
	backend *instrument.Backend
}

var sess *session

var rootCmd = &cobra.Command{
	Use:   "encrypto",
	Short: "Policy-driven OpenPGP key management with post-quantum algorithms",
	Long: `encrypto generates, imports, exports, revokes and rotates keys, and
encrypts, decrypts, signs and verifies messages. Every operation carries a
post-quantum policy:

  required   only post-quantum algorithms; fail if the backend lacks them
  preferred  post-quantum when available, classical otherwise
  disabled   classical algorithms only

Keys live under $ENCRYPTO_HOME (default ~/.encrypto), which must be an
absolute path. Defaults can be set in $ENCRYPTO_HOME/config.yaml.

Examples:
  # Generate a post-quantum key
  encrypto keygen "Alice <alice@example.com>" --no-passphrase

  # Encrypt to a recipient, then decrypt
  encrypto encrypt -r <FINGERPRINT> --armor < msg.txt > msg.asc
  encrypto decrypt < msg.asc

  # Sign and verify
  encrypto sign -u alice@example.com --in msg.txt --out msg.sig
  encrypto verify --signer <FINGERPRINT> msg.sig msg.txt`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return openSession(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeSession()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "",
		"Cryptography backend: native or classic (or set ENCRYPTO_BACKEND)")
	rootCmd.PersistentFlags().StringVar(&auditLogPath, "audit-log", "",
		"Path to audit log file (or set ENCRYPTO_AUDIT_LOG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Diagnostics level: debug, info, warn or error (or set ENCRYPTO_LOG_LEVEL)")

	// Keys
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(listKeysCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(revokeCmd)
	rootCmd.AddCommand(rotateCmd)

	// Messages
	rootCmd.AddCommand(encryptCmd)
	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(verifyCmd)

	// Utilities
	rootCmd.AddCommand(capabilitiesCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(auditCmd)
}

// openSession resolves the storage root first, then layers configuration
// (file, environment, flags) and opens the backend.
func openSession(cmd *cobra.Command) error {
	home, err := config.ResolveHome(os.Getenv)
	if err != nil {
		return err
	}
	cfg, err := config.Load(home)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = backendName
	}
	if flags.Changed("audit-log") {
		cfg.AuditLog = auditLogPath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.New(logging.Config{
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
		Version: version,
		Output:  cmd.ErrOrStderr(),
	})

	if err := audit.InitFile(cfg.AuditLog); err != nil {
		return fmt.Errorf("failed to initialize audit log: %w", err)
	}

	b, err := native.Open(cfg.Backend, home, native.Options{
		KDF: native.KDFParams{
			Time:    cfg.KDF.Time,
			Memory:  cfg.KDF.MemoryKiB,
			Threads: cfg.KDF.Threads,
		},
	})
	if err != nil {
		_ = audit.Close()
		return err
	}

	metrics := instrument.NewMetrics()
	sess = &session{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		backend: instrument.Wrap(b, log, metrics),
	}
	log.Debug("session opened",
		zap.String("home", home),
		zap.String("backend", b.Name()),
		zap.Bool("pqc", b.SupportsPQC()),
		zap.String("command", cmd.CommandPath()))
	return nil
}

// closeSession releases the audit log and flushes diagnostics. It is safe
// to call more than once.
func closeSession() error {
	err := audit.Close()
	if sess != nil {
		_ = sess.log.Sync()
		sess = nil
	}
	return err
}
