package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/remiblancher/encrypto/internal/config"
	"github.com/remiblancher/encrypto/internal/dispatch"
	"github.com/remiblancher/encrypto/internal/validate"
	"github.com/remiblancher/encrypto/pkg/qpgp"
)

// =============================================================================
// Policy and level flags
// =============================================================================

// policyFlag is a --pqc-policy value. Unset means the configured default
// for the operation.
type policyFlag struct {
	policy qpgp.PqcPolicy
	set    bool
}

var _ pflag.Value = (*policyFlag)(nil)

func (f *policyFlag) String() string {
	if !f.set {
		return ""
	}
	return f.policy.String()
}

func (f *policyFlag) Set(s string) error {
	if s == "" {
		*f = policyFlag{}
		return nil
	}
	p, err := validate.Policy(s)
	if err != nil {
		return err
	}
	f.policy, f.set = p, true
	return nil
}

func (f *policyFlag) Type() string { return "policy" }

// For returns the flag value, or the configured policy for op.
func (f *policyFlag) For(op qpgp.Operation) qpgp.PqcPolicy {
	if f.set {
		return f.policy
	}
	return sess.cfg.Policy(op)
}

func addPolicyFlag(cmd *cobra.Command, f *policyFlag) {
	cmd.Flags().Var(f, "pqc-policy", "Post-quantum policy: required, preferred or disabled (default from config)")
}

// levelFlag is a --pqc-level value.
type levelFlag struct {
	level qpgp.PqcLevel
	set   bool
}

var _ pflag.Value = (*levelFlag)(nil)

func (f *levelFlag) String() string {
	if !f.set {
		return ""
	}
	return f.level.String()
}

func (f *levelFlag) Set(s string) error {
	if s == "" {
		*f = levelFlag{}
		return nil
	}
	l, err := validate.Level(s)
	if err != nil {
		return err
	}
	f.level, f.set = l, true
	return nil
}

func (f *levelFlag) Type() string { return "level" }

// Value returns the flag value, or the configured level.
func (f *levelFlag) Value() qpgp.PqcLevel {
	if f.set {
		return f.level
	}
	return sess.cfg.Level()
}

func addLevelFlag(cmd *cobra.Command, f *levelFlag) {
	cmd.Flags().Var(f, "pqc-level", "Post-quantum level for new keys: baseline or high (default from config)")
}

// =============================================================================
// Passphrases
// =============================================================================

// passphraseArg returns --passphrase when given, else $ENCRYPTO_PASSPHRASE.
func passphraseArg(cmd *cobra.Command, name, value string) (string, bool) {
	if cmd.Flags().Changed(name) {
		return value, true
	}
	return os.LookupEnv(config.EnvPassphrase)
}

// unlockPassphrase returns the passphrase for an existing secret key, or
// nil when none was given.
func unlockPassphrase(cmd *cobra.Command, name, value string) []byte {
	if p, ok := passphraseArg(cmd, name, value); ok {
		return []byte(p)
	}
	return nil
}

// =============================================================================
// Invocation plumbing
// =============================================================================

// run builds and runs the single invocation of a command.
func run(cmd *cobra.Command, checks []dispatch.Check, execute func(ctx context.Context) error) error {
	inv := &dispatch.Invocation{
		Command: cmd.Name(),
		Checks:  checks,
		Execute: execute,
	}
	err := inv.Run(cmd.Context())
	if err != nil && sess != nil {
		sess.log.Debug("invocation failed",
			zap.String("command", inv.Command),
			zap.Stringer("state", dispatch.FailedDuring(err)),
			zap.Error(err))
	}
	return err
}

// readInput reads path, or stdin when path is empty or "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, qpgp.IO("read stdin", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, qpgp.IO("read "+path, err)
	}
	return data, nil
}

// writeOutput writes data to path, or stdout when path is empty or "-".
func writeOutput(cmd *cobra.Command, path string, data []byte, perm os.FileMode) error {
	if path == "" || path == "-" {
		if _, err := cmd.OutOrStdout().Write(data); err != nil {
			return qpgp.IO("write stdout", err)
		}
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return qpgp.IO("create "+dir, err)
		}
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return qpgp.IO("write "+path, err)
	}
	return nil
}

// keyLine renders a key in the pipe-separated list-keys format.
func keyLine(m qpgp.KeyMeta) string {
	tag := "pub"
	if m.HasSecret {
		tag = "sec"
	}
	created := "-"
	if m.Created != nil {
		created = m.Created.Format("2006-01-02")
	}
	uid := "-"
	if m.UserID != nil {
		uid = string(*m.UserID)
	}
	status := "active"
	if m.Revoked {
		status = "revoked"
		if m.RevocationReason != nil {
			status = fmt.Sprintf("revoked (%s)", *m.RevocationReason)
		}
	}
	return fmt.Sprintf("%s | %s | %s | %s | %s | %s", tag, m.KeyID, m.Algo, created, uid, status)
}
