package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/remiblancher/encrypto/internal/dispatch"
	"github.com/remiblancher/encrypto/internal/validate"
	"github.com/remiblancher/encrypto/pkg/qpgp"
)

// =============================================================================
// Key management
// =============================================================================

var keygenCmd = &cobra.Command{
	Use:   "keygen <user-id>",
	Short: "Generate a new key",
	Long: `Generate a signing key with an encryption subkey.

With the default "required" policy the key is post-quantum composite:
  baseline  MLDSA65_Ed25519 + MLKEM768_X25519
  high      MLDSA87_Ed448 + MLKEM1024_X448 (default)

With "disabled" (or "preferred" on a backend without post-quantum support)
the key is Ed25519 + X25519.

The secret key is protected with --passphrase or $ENCRYPTO_PASSPHRASE.
An unprotected key requires --no-passphrase.

Examples:
  encrypto keygen "Alice <alice@example.com>" --passphrase "$PASS"
  encrypto keygen "Bob <bob@example.com>" --no-passphrase --pqc-level baseline
  encrypto keygen "Legacy <legacy@example.com>" --no-passphrase --pqc-policy disabled`,
	Args: cobra.ExactArgs(1),
	RunE: runKeygen,
}

var (
	keygenPassphrase   string
	keygenNoPassphrase bool
	keygenAlgo         string
	keygenPolicy       policyFlag
	keygenLevel        levelFlag
)

var listKeysCmd = &cobra.Command{
	Use:   "list-keys",
	Short: "List keys in the keyring",
	Long: `List keys, one per line:

  sec | FINGERPRINT | ALGORITHM | CREATED | USER-ID | STATUS

The tag is "sec" when secret material is present and "pub" otherwise.`,
	Args: cobra.NoArgs,
	RunE: runListKeys,
}

var listKeysSecret bool

var importCmd = &cobra.Command{
	Use:   "import [path|-]",
	Short: "Import a public or secret key block",
	Long: `Import an armored or binary key block from a file or stdin.

A key that is already known is merged: an existing revocation or secret key
is kept.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runImport,
}

var exportCmd = &cobra.Command{
	Use:   "export <selector>",
	Short: "Export a key",
	Long: `Export a public certificate, or with --secret the protected secret key.

Examples:
  encrypto export <FINGERPRINT> --armor > alice.asc
  encrypto export alice@example.com --secret --out alice-secret.key`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var (
	exportSecret bool
	exportArmor  bool
	exportOut    string
)

var revokeCmd = &cobra.Command{
	Use:   "revoke <selector>",
	Short: "Revoke a key",
	Long: `Sign a revocation with the key and store it in the certificate. The
updated certificate is written to --out (or stdout) for distribution.

Reasons: unspecified, key-compromised, key-superseded, key-retired,
userid-invalid.

Examples:
  encrypto revoke <FINGERPRINT> --reason key-compromised --armor --out revoked.asc`,
	Args: cobra.ExactArgs(1),
	RunE: runRevoke,
}

var (
	revokeReason     string
	revokeMessage    string
	revokeArmor      bool
	revokeOut        string
	revokePassphrase string
)

var rotateCmd = &cobra.Command{
	Use:   "rotate <selector>",
	Short: "Replace a key with a new one",
	Long: `Generate a replacement key, then revoke the old one as superseded.

The two steps are not atomic. If the revocation fails the new key is kept
and reported; retry the revocation with "encrypto revoke".

Examples:
  encrypto rotate alice@example.com --passphrase "$NEW" --old-passphrase "$OLD"
  encrypto rotate <FINGERPRINT> --no-passphrase --no-revoke`,
	Args: cobra.ExactArgs(1),
	RunE: runRotate,
}

var (
	rotateUserID        string
	rotatePassphrase    string
	rotateNoPassphrase  bool
	rotateOldPassphrase string
	rotateNoRevoke      bool
	rotatePolicy        policyFlag
	rotateLevel         levelFlag
)

func init() {
	keygenCmd.Flags().StringVar(&keygenPassphrase, "passphrase", "", "Passphrase for the secret key (or set ENCRYPTO_PASSPHRASE)")
	keygenCmd.Flags().BoolVar(&keygenNoPassphrase, "no-passphrase", false, "Store the secret key unprotected")
	keygenCmd.Flags().StringVar(&keygenAlgo, "algorithm", "", "Pin an algorithm suite (see capabilities)")
	addPolicyFlag(keygenCmd, &keygenPolicy)
	addLevelFlag(keygenCmd, &keygenLevel)

	listKeysCmd.Flags().BoolVar(&listKeysSecret, "secret", false, "Only list keys with secret material")

	exportCmd.Flags().BoolVar(&exportSecret, "secret", false, "Export the protected secret key")
	exportCmd.Flags().BoolVarP(&exportArmor, "armor", "a", false, "ASCII-armor the output")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default: stdout)")

	revokeCmd.Flags().StringVar(&revokeReason, "reason", "unspecified", "Revocation reason")
	revokeCmd.Flags().StringVar(&revokeMessage, "message", "", "Free-text explanation")
	revokeCmd.Flags().BoolVarP(&revokeArmor, "armor", "a", false, "ASCII-armor the updated certificate")
	revokeCmd.Flags().StringVarP(&revokeOut, "out", "o", "", "Output file (default: stdout)")
	revokeCmd.Flags().StringVar(&revokePassphrase, "passphrase", "", "Passphrase of the key (or set ENCRYPTO_PASSPHRASE)")

	rotateCmd.Flags().StringVar(&rotateUserID, "user-id", "", "User ID of the new key (default: the old key's)")
	rotateCmd.Flags().StringVar(&rotatePassphrase, "passphrase", "", "Passphrase for the new secret key (or set ENCRYPTO_PASSPHRASE)")
	rotateCmd.Flags().BoolVar(&rotateNoPassphrase, "no-passphrase", false, "Store the new secret key unprotected")
	rotateCmd.Flags().StringVar(&rotateOldPassphrase, "old-passphrase", "", "Passphrase of the old key, to sign its revocation")
	rotateCmd.Flags().BoolVar(&rotateNoRevoke, "no-revoke", false, "Keep the old key valid")
	addPolicyFlag(rotateCmd, &rotatePolicy)
	addLevelFlag(rotateCmd, &rotateLevel)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	var (
		uid              qpgp.UserID
		passphrase       []byte
		allowUnprotected bool
	)
	checks := []dispatch.Check{
		func() (err error) {
			uid, err = validate.UserID(args[0])
			return err
		},
		func() (err error) {
			pass, have := passphraseArg(cmd, "passphrase", keygenPassphrase)
			passphrase, allowUnprotected, err = validate.Passphrase(pass, have, keygenNoPassphrase)
			return err
		},
	}

	return run(cmd, checks, func(ctx context.Context) error {
		defer qpgp.Wipe(passphrase)
		meta, err := sess.backend.GenerateKey(ctx, qpgp.KeyGenParams{
			UserID:           uid,
			Algo:             keygenAlgo,
			PqcPolicy:        keygenPolicy.For(qpgp.OpGenerate),
			PqcLevel:         keygenLevel.Value(),
			Passphrase:       passphrase,
			AllowUnprotected: allowUnprotected,
		})
		if err != nil {
			return err
		}
		printKey(cmd, "Key generated", meta)
		return nil
	})
}

func printKey(cmd *cobra.Command, title string, m qpgp.KeyMeta) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s:\n", title)
	fmt.Fprintf(out, "  Fingerprint: %s\n", m.KeyID)
	fmt.Fprintf(out, "  Algorithm:   %s\n", m.Algo)
	if m.UserID != nil {
		fmt.Fprintf(out, "  User ID:     %s\n", *m.UserID)
	}
	if m.Created != nil {
		fmt.Fprintf(out, "  Created:     %s\n", m.Created.Format("2006-01-02 15:04:05 MST"))
	}
}

func runListKeys(cmd *cobra.Command, args []string) error {
	return run(cmd, nil, func(ctx context.Context) error {
		keys, err := sess.backend.ListKeys(ctx)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if listKeysSecret && !k.HasSecret {
				continue
			}
			fmt.Fprintln(cmd.OutOrStdout(), keyLine(k))
		}
		return nil
	})
}

func runImport(cmd *cobra.Command, args []string) error {
	path := "-"
	if len(args) == 1 {
		path = args[0]
	}
	return run(cmd, nil, func(ctx context.Context) error {
		data, err := readInput(cmd, path)
		if err != nil {
			return err
		}
		meta, err := sess.backend.ImportKey(ctx, data)
		if err != nil {
			return err
		}
		printKey(cmd, "Key imported", meta)
		return nil
	})
}

func runExport(cmd *cobra.Command, args []string) error {
	var id qpgp.KeyID
	checks := []dispatch.Check{
		func() (err error) {
			id, err = validate.KeySelector(args[0])
			return err
		},
	}
	return run(cmd, checks, func(ctx context.Context) error {
		data, err := sess.backend.ExportKey(ctx, id, exportSecret, exportArmor)
		if err != nil {
			return err
		}
		var perm os.FileMode = 0644
		if exportSecret {
			perm = 0600
		}
		return writeOutput(cmd, exportOut, data, perm)
	})
}

func runRevoke(cmd *cobra.Command, args []string) error {
	var (
		id      qpgp.KeyID
		reason  qpgp.RevocationReason
		message string
	)
	checks := []dispatch.Check{
		func() (err error) {
			id, err = validate.KeySelector(args[0])
			return err
		},
		func() (err error) {
			reason, err = validate.RevocationReason(revokeReason)
			return err
		},
		func() (err error) {
			message, err = validate.RevocationMessage(revokeMessage)
			return err
		},
	}
	return run(cmd, checks, func(ctx context.Context) error {
		passphrase := unlockPassphrase(cmd, "passphrase", revokePassphrase)
		defer qpgp.Wipe(passphrase)

		res, err := sess.backend.RevokeKey(ctx, qpgp.RevokeRequest{
			KeyID:      id,
			Reason:     reason,
			Message:    message,
			Armor:      revokeArmor,
			Passphrase: passphrase,
		})
		if err != nil {
			return err
		}
		return writeOutput(cmd, revokeOut, res.UpdatedCert, 0644)
	})
}

func runRotate(cmd *cobra.Command, args []string) error {
	var (
		id               qpgp.KeyID
		newUID           *qpgp.UserID
		passphrase       []byte
		allowUnprotected bool
	)
	checks := []dispatch.Check{
		func() (err error) {
			id, err = validate.KeySelector(args[0])
			return err
		},
		func() error {
			if rotateUserID == "" {
				return nil
			}
			uid, err := validate.UserID(rotateUserID)
			if err != nil {
				return err
			}
			newUID = &uid
			return nil
		},
		func() (err error) {
			pass, have := passphraseArg(cmd, "passphrase", rotatePassphrase)
			passphrase, allowUnprotected, err = validate.Passphrase(pass, have, rotateNoPassphrase)
			return err
		},
	}

	return run(cmd, checks, func(ctx context.Context) error {
		var oldPassphrase []byte
		if cmd.Flags().Changed("old-passphrase") {
			oldPassphrase = []byte(rotateOldPassphrase)
		}
		defer qpgp.Wipe(passphrase)
		defer qpgp.Wipe(oldPassphrase)

		res, err := sess.backend.RotateKey(ctx, qpgp.RotateRequest{
			KeyID:            id,
			NewUserID:        newUID,
			PqcPolicy:        rotatePolicy.For(qpgp.OpRotate),
			PqcLevel:         rotateLevel.Value(),
			Passphrase:       passphrase,
			AllowUnprotected: allowUnprotected,
			OldPassphrase:    oldPassphrase,
			RevokeOld:        !rotateNoRevoke,
		})

		var rerr *qpgp.RotationError
		if errors.As(err, &rerr) && rerr.Step == qpgp.StepRevoke && rerr.NewKey != nil {
			printKey(cmd, "New key", *rerr.NewKey)
			fmt.Fprintf(cmd.ErrOrStderr(), "Revoke the old key with: encrypto revoke %s --reason key-superseded\n", rerr.OldKey)
			return err
		}
		if err != nil {
			return err
		}

		printKey(cmd, "New key", res.NewKey)
		if res.OldKeyRevoked {
			fmt.Fprintf(cmd.OutOrStdout(), "Old key %s revoked (key-superseded)\n", id)
		}
		return nil
	})
}
