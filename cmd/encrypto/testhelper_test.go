package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/remiblancher/encrypto/internal/config"
	"github.com/remiblancher/encrypto/pkg/qpgp"
)

// cheapConfig keeps Argon2id fast in tests.
const cheapConfig = `kdf:
  time: 1
  memory_kib: 64
  threads: 1
`

// executeCommand executes a Cobra command with the given args and returns
// stdout and stderr combined.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	err = execute(context.Background(), root, nil, buf, buf, args...)
	return buf.String(), err
}

// executeWithInput feeds stdin and keeps stdout and stderr apart.
func executeWithInput(root *cobra.Command, stdin []byte, args ...string) (stdout, stderr []byte, err error) {
	var out, errOut bytes.Buffer
	err = execute(context.Background(), root, stdin, &out, &errOut, args...)
	return out.Bytes(), errOut.Bytes(), err
}

// executeContext executes with ctx as the command context.
func executeContext(ctx context.Context, root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	err := execute(ctx, root, nil, buf, buf, args...)
	return buf.String(), err
}

func execute(ctx context.Context, root *cobra.Command, stdin []byte, out, errOut *bytes.Buffer, args ...string) error {
	resetCommands(ctx, root)
	root.SetIn(bytes.NewReader(stdin))
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	_ = closeSession()
	return err
}

// resetCommands restores every flag to its default and rebinds the context,
// since cobra keeps both across Execute calls.
func resetCommands(ctx context.Context, cmd *cobra.Command) {
	cmd.SetContext(ctx)
	cmd.Flags().VisitAll(resetFlag)
	cmd.PersistentFlags().VisitAll(resetFlag)
	for _, c := range cmd.Commands() {
		resetCommands(ctx, c)
	}
}

func resetFlag(f *pflag.Flag) {
	if sv, ok := f.Value.(pflag.SliceValue); ok {
		_ = sv.Replace(nil)
	} else {
		_ = f.Value.Set(f.DefValue)
	}
	f.Changed = false
}

// testContext holds test resources.
type testContext struct {
	t       *testing.T
	tempDir string
	home    string
}

// newTestContext creates a temp directory with an encrypto home inside it
// and points ENCRYPTO_HOME at it.
func newTestContext(t *testing.T) *testContext {
	t.Helper()
	dir, err := os.MkdirTemp("", "encrypto-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	for _, k := range []string{config.EnvPassphrase, config.EnvBackend, config.EnvAuditLog, config.EnvLogLevel} {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}

	tc := &testContext{t: t, tempDir: dir}
	tc.useHome("home")
	return tc
}

// useHome switches ENCRYPTO_HOME to a fresh home under the temp directory.
func (tc *testContext) useHome(name string) string {
	tc.t.Helper()
	home := tc.path(name)
	if err := os.MkdirAll(home, 0700); err != nil {
		tc.t.Fatalf("Failed to create home %s: %v", name, err)
	}
	if err := os.WriteFile(filepath.Join(home, config.FileName), []byte(cheapConfig), 0600); err != nil {
		tc.t.Fatalf("Failed to write config: %v", err)
	}
	tc.t.Setenv(config.EnvHome, home)
	tc.home = home
	return home
}

// path returns a path within the temp directory.
func (tc *testContext) path(name string) string {
	return filepath.Join(tc.tempDir, name)
}

// writeFile writes content to a file in the temp directory.
func (tc *testContext) writeFile(name, content string) string {
	tc.t.Helper()
	path := tc.path(name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		tc.t.Fatalf("Failed to write file %s: %v", name, err)
	}
	return path
}

// readFile reads a file from the temp directory.
func (tc *testContext) readFile(name string) []byte {
	tc.t.Helper()
	data, err := os.ReadFile(tc.path(name))
	if err != nil {
		tc.t.Fatalf("Failed to read file %s: %v", name, err)
	}
	return data
}

var fingerprintLine = regexp.MustCompile(`Fingerprint: ([0-9A-F]+)`)

// keygen generates an unprotected key and returns its fingerprint.
func (tc *testContext) keygen(uid string, extra ...string) qpgp.KeyID {
	tc.t.Helper()
	args := append([]string{"keygen", uid, "--no-passphrase"}, extra...)
	out, err := executeCommand(rootCmd, args...)
	if err != nil {
		tc.t.Fatalf("keygen %s failed: %v\n%s", uid, err, out)
	}
	return fingerprintOf(tc.t, out)
}

func fingerprintOf(t *testing.T, out string) qpgp.KeyID {
	t.Helper()
	m := fingerprintLine.FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("no fingerprint in output:\n%s", out)
	}
	return qpgp.KeyID(m[1])
}

// listKeys returns list-keys output split into trimmed fields per line.
func (tc *testContext) listKeys(args ...string) [][]string {
	tc.t.Helper()
	out, err := executeCommand(rootCmd, append([]string{"list-keys"}, args...)...)
	assertNoError(tc.t, err)

	var rows [][]string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		rows = append(rows, fields)
	}
	return rows
}

// row finds the list-keys row of fp.
func row(t *testing.T, rows [][]string, fp qpgp.KeyID) []string {
	t.Helper()
	for _, r := range rows {
		if len(r) > 1 && r[1] == string(fp) {
			return r
		}
	}
	t.Fatalf("key %s not listed in %v", fp, rows)
	return nil
}

// assertNoError fails the test if err is not nil.
func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

// assertError fails the test if err is nil.
func assertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("Expected error but got nil")
	}
}

// assertErrorContains fails unless err's text contains want.
func assertErrorContains(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected error containing %q but got nil", want)
	}
	if !strings.Contains(err.Error(), want) {
		t.Fatalf("Error %q does not contain %q", err.Error(), want)
	}
}

// assertContains fails unless s contains want.
func assertContains(t *testing.T, s, want string) {
	t.Helper()
	if !strings.Contains(s, want) {
		t.Errorf("Output does not contain %q:\n%s", want, s)
	}
}

// assertFileExists fails the test if the file does not exist.
func assertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("Expected file to exist: %s", path)
	}
}
