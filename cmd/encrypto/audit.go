package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remiblancher/encrypto/pkg/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log management",
	Long: `Commands for verifying audit logs.

When --audit-log (or ENCRYPTO_AUDIT_LOG, or audit_log in config.yaml) is
set, key lifecycle events, secret key use and policy denials are appended
to a JSONL file. Each event is chained to the previous one with SHA-256.

Examples:
  # Verify audit log integrity
  encrypto audit verify --log /var/log/encrypto/audit.jsonl`,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit log integrity",
	Long: `Verify the hash chain of an audit log file.

Each event carries hash_prev (the previous event's hash) and hash. The
chain starts with hash_prev="sha256:genesis". A modified, deleted or
inserted event breaks the chain at its line.`,
	Args: cobra.NoArgs,
	RunE: runAuditVerify,
}

var auditLogFile string

func init() {
	auditVerifyCmd.Flags().StringVar(&auditLogFile, "log", "", "Path to audit log file (required)")
	_ = auditVerifyCmd.MarkFlagRequired("log")

	auditCmd.AddCommand(auditVerifyCmd)
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Verifying audit log: %s\n\n", auditLogFile)

	count, err := audit.VerifyChain(auditLogFile)
	if err != nil {
		fmt.Fprintf(out, "VERIFICATION FAILED\n")
		fmt.Fprintf(out, "  Valid events: %d\n", count)
		fmt.Fprintf(out, "  Error: %s\n", err)
		return fmt.Errorf("audit log verification failed: %w", err)
	}

	fmt.Fprintf(out, "VERIFICATION PASSED\n")
	fmt.Fprintf(out, "  Total events: %d\n", count)
	fmt.Fprintf(out, "  Hash chain: VALID\n")
	return nil
}
