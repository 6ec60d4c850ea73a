package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/remiblancher/encrypto/internal/api/dto"
	"github.com/remiblancher/encrypto/internal/native"
	"github.com/remiblancher/encrypto/pkg/qpgp"
)

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "Show backend capabilities and effective policies",
	Args:  cobra.NoArgs,
	RunE:  runCapabilities,
}

var capabilitiesJSON bool

func init() {
	capabilitiesCmd.Flags().BoolVar(&capabilitiesJSON, "json", false, "Output as JSON")
}

var policyOps = []qpgp.Operation{qpgp.OpGenerate, qpgp.OpEncrypt, qpgp.OpDecrypt, qpgp.OpSign, qpgp.OpVerify, qpgp.OpRotate}

func runCapabilities(cmd *cobra.Command, args []string) error {
	return run(cmd, nil, func(ctx context.Context) error {
		b := sess.backend
		caps := dto.CapabilitiesResponse{
			Backend:     b.Name(),
			SupportsPQC: b.SupportsPQC(),
			Suites:      native.SuiteNames(b.SupportsPQC()),
			Policies:    make(map[string]string, len(policyOps)),
		}
		if caps.SupportsPQC {
			caps.Profile = qpgp.OpenPGPPQCDraft
		}
		for _, op := range policyOps {
			caps.Policies[string(op)] = sess.cfg.Policy(op).String()
		}

		out := cmd.OutOrStdout()
		if capabilitiesJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(caps)
		}

		fmt.Fprintf(out, "Backend:      %s\n", caps.Backend)
		fmt.Fprintf(out, "Post-quantum: %t\n", caps.SupportsPQC)
		if caps.Profile != "" {
			fmt.Fprintf(out, "Profile:      %s\n", caps.Profile)
		}
		fmt.Fprintf(out, "Algorithms:   %s\n", strings.Join(caps.Suites, ", "))
		fmt.Fprintf(out, "Key level:    %s\n", sess.cfg.Level())
		fmt.Fprintln(out, "Policies:")
		for _, op := range policyOps {
			fmt.Fprintf(out, "  %-8s %s\n", op, caps.Policies[string(op)])
		}
		return nil
	})
}
