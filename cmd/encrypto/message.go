package main

import (
	"bytes"
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remiblancher/encrypto/internal/dispatch"
	"github.com/remiblancher/encrypto/internal/validate"
	"github.com/remiblancher/encrypto/pkg/qpgp"
)

const cleartextHeader = "-----BEGIN PGP SIGNED MESSAGE-----"

// =============================================================================
// encrypt / decrypt
// =============================================================================

var encryptCmd = &cobra.Command{
	Use:   "encrypt -r <fingerprint>...",
	Short: "Encrypt stdin to one or more recipients",
	Long: `Encrypt standard input to every recipient and write the message to
standard output.

Recipients must be full fingerprints (40 or 64 hex characters). Under the
"required" policy every recipient needs a post-quantum key. Under
"preferred", --compat allows classical-only recipients.

Examples:
  encrypto encrypt -r <FPR1> -r <FPR2> --armor < report.pdf > report.asc`,
	Args: cobra.NoArgs,
	RunE: runEncrypt,
}

var (
	encryptRecipients []string
	encryptArmor      bool
	encryptCompat     bool
	encryptPolicy     policyFlag
)

var decryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Decrypt stdin",
	Long: `Decrypt an armored or binary message from standard input with any
secret key in the keyring and write the plaintext to standard output.`,
	Args: cobra.NoArgs,
	RunE: runDecrypt,
}

var (
	decryptPassphrase string
	decryptPolicy     policyFlag
)

// =============================================================================
// sign / verify
// =============================================================================

var signCmd = &cobra.Command{
	Use:   "sign -u <selector> --in <path> --out <path>",
	Short: "Sign a file",
	Long: `Create a detached signature, or with --cleartext a cleartext signed
message that carries the text itself.

Examples:
  encrypto sign -u alice@example.com --in release.tar.gz --out release.sig --armor
  encrypto sign -u <FINGERPRINT> --in notes.txt --out notes.asc --cleartext`,
	Args: cobra.NoArgs,
	RunE: runSign,
}

var (
	signSigner     string
	signIn         string
	signOut        string
	signArmor      bool
	signCleartext  bool
	signPassphrase string
	signPolicy     policyFlag
)

var verifyCmd = &cobra.Command{
	Use:   "verify --signer <fingerprint> <sig-path> [<msg-path>]",
	Short: "Verify a signature",
	Long: `Verify a signature against an explicitly named signer. --signer is
mandatory and must be a full fingerprint.

A detached signature needs the signed file as <msg-path>. A cleartext
signed message carries its text; the verified text is written to --out,
or stdout.

Exit status is 0 only for a valid signature.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runVerify,
}

var (
	verifySigner    string
	verifyCleartext bool
	verifyOut       string
	verifyPolicy    policyFlag
)

func init() {
	encryptCmd.Flags().StringArrayVarP(&encryptRecipients, "recipient", "r", nil, "Recipient fingerprint (repeatable)")
	encryptCmd.Flags().BoolVarP(&encryptArmor, "armor", "a", false, "ASCII-armor the output")
	encryptCmd.Flags().BoolVar(&encryptCompat, "compat", false, "Allow classical-only recipients under the preferred policy")
	addPolicyFlag(encryptCmd, &encryptPolicy)

	decryptCmd.Flags().StringVar(&decryptPassphrase, "passphrase", "", "Passphrase of the secret key (or set ENCRYPTO_PASSPHRASE)")
	addPolicyFlag(decryptCmd, &decryptPolicy)

	signCmd.Flags().StringVarP(&signSigner, "local-user", "u", "", "Signing key: fingerprint, key ID or user ID (required)")
	signCmd.Flags().StringVar(&signIn, "in", "", "File to sign (required, - for stdin)")
	signCmd.Flags().StringVar(&signOut, "out", "", "Signature output file (required, - for stdout)")
	signCmd.Flags().BoolVarP(&signArmor, "armor", "a", false, "ASCII-armor the signature")
	signCmd.Flags().BoolVar(&signCleartext, "cleartext", false, "Produce a cleartext signed message")
	signCmd.Flags().StringVar(&signPassphrase, "passphrase", "", "Passphrase of the signing key (or set ENCRYPTO_PASSPHRASE)")
	addPolicyFlag(signCmd, &signPolicy)
	_ = signCmd.MarkFlagRequired("local-user")
	_ = signCmd.MarkFlagRequired("in")
	_ = signCmd.MarkFlagRequired("out")

	// --signer is checked by the invocation so its diagnostic stays stable.
	verifyCmd.Flags().StringVar(&verifySigner, "signer", "", "Expected signer fingerprint (required)")
	verifyCmd.Flags().BoolVar(&verifyCleartext, "cleartext", false, "The signature is a cleartext signed message")
	verifyCmd.Flags().StringVarP(&verifyOut, "out", "o", "", "Write the verified cleartext here (default: stdout)")
	addPolicyFlag(verifyCmd, &verifyPolicy)
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	var recipients []qpgp.KeyID
	checks := []dispatch.Check{
		func() (err error) {
			recipients, err = validate.Recipients(encryptRecipients)
			return err
		},
	}
	return run(cmd, checks, func(ctx context.Context) error {
		plaintext, err := readInput(cmd, "-")
		if err != nil {
			return err
		}
		out, err := sess.backend.Encrypt(ctx, qpgp.EncryptRequest{
			Recipients: recipients,
			Plaintext:  plaintext,
			Armor:      encryptArmor,
			PqcPolicy:  encryptPolicy.For(qpgp.OpEncrypt),
			Compat:     encryptCompat,
		})
		if err != nil {
			return err
		}
		return writeOutput(cmd, "-", out, 0644)
	})
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	return run(cmd, nil, func(ctx context.Context) error {
		ciphertext, err := readInput(cmd, "-")
		if err != nil {
			return err
		}
		passphrase := unlockPassphrase(cmd, "passphrase", decryptPassphrase)
		defer qpgp.Wipe(passphrase)

		plaintext, err := sess.backend.Decrypt(ctx, qpgp.DecryptRequest{
			Ciphertext: ciphertext,
			PqcPolicy:  decryptPolicy.For(qpgp.OpDecrypt),
			Passphrase: passphrase,
		})
		if err != nil {
			return err
		}
		defer qpgp.Wipe(plaintext)
		return writeOutput(cmd, "-", plaintext, 0600)
	})
}

func runSign(cmd *cobra.Command, args []string) error {
	var signer qpgp.KeyID
	checks := []dispatch.Check{
		func() (err error) {
			signer, err = validate.KeySelector(signSigner)
			return err
		},
		func() error {
			if signArmor && signCleartext {
				return qpgp.InvalidInput("--armor and --cleartext are mutually exclusive")
			}
			return nil
		},
	}
	return run(cmd, checks, func(ctx context.Context) error {
		message, err := readInput(cmd, signIn)
		if err != nil {
			return err
		}
		passphrase := unlockPassphrase(cmd, "passphrase", signPassphrase)
		defer qpgp.Wipe(passphrase)

		sig, err := sess.backend.Sign(ctx, qpgp.SignRequest{
			Signer:     signer,
			Message:    message,
			Armor:      signArmor,
			Cleartext:  signCleartext,
			PqcPolicy:  signPolicy.For(qpgp.OpSign),
			Passphrase: passphrase,
		})
		if err != nil {
			return err
		}
		return writeOutput(cmd, signOut, sig, 0644)
	})
}

func runVerify(cmd *cobra.Command, args []string) error {
	var signer qpgp.KeyID
	checks := []dispatch.Check{
		func() (err error) {
			signer, err = validate.VerifySigner(verifySigner)
			return err
		},
	}
	return run(cmd, checks, func(ctx context.Context) error {
		sig, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		cleartext := verifyCleartext || bytes.HasPrefix(bytes.TrimSpace(sig), []byte(cleartextHeader))

		var message []byte
		switch {
		case len(args) == 2 && cleartext:
			return qpgp.InvalidInput("verify: a cleartext signed message carries its text; omit <msg-path>")
		case len(args) == 2:
			if message, err = readInput(cmd, args[1]); err != nil {
				return err
			}
		case !cleartext:
			return qpgp.InvalidInput("verify: a detached signature requires <msg-path>")
		}

		res, err := sess.backend.Verify(ctx, qpgp.VerifyRequest{
			Signer:    signer,
			Message:   message,
			Signature: sig,
			Cleartext: cleartext,
			PqcPolicy: verifyPolicy.For(qpgp.OpVerify),
		})
		if err != nil {
			return err
		}
		if !res.Valid {
			return fmt.Errorf("BAD signature: not a valid signature by %s", signer)
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "Good signature from %s\n", *res.Signer)
		if cleartext {
			return writeOutput(cmd, verifyOut, res.Message, 0644)
		}
		return nil
	})
}
