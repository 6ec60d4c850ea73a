// Package validate turns raw user-supplied strings into validated domain
// values, rejecting malformed input with stable diagnostics before it can
// reach a backend. Each check validates one argument in isolation.
package validate

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/remiblancher/encrypto/pkg/qpgp"
)

// Diagnostic texts matched by downstream tooling. Do not reword.
const (
	MsgVerifyRequiresSigner = "verify requires --signer"
	MsgFingerprintShape     = "fingerprint must be 40 or 64 hex characters"
	MsgFullFingerprint      = "full fingerprint required"
	MsgHomeAbsolute         = "must be an absolute path"
)

// MaxRevocationMessage bounds the free-text revocation message.
const MaxRevocationMessage = 512

// Error is a validation failure. Its text is the diagnostic, unwrapped.
type Error struct {
	Field string
	Msg   string
}

func (e *Error) Error() string { return e.Msg }

// Is lets errors.Is(err, qpgp.ErrInvalidInput) classify validation failures.
func (e *Error) Is(target error) bool {
	return target == qpgp.ErrInvalidInput
}

func fail(field, format string, args ...any) *Error {
	return &Error{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var v *Error
	return errors.As(err, &v)
}

// Fingerprint accepts exactly 40 or 64 hex characters and returns the
// canonical upper-case form.
func Fingerprint(s string) (qpgp.KeyID, error) {
	id := qpgp.KeyID(strings.ToUpper(s))
	if !id.IsFull() {
		return "", fail("fingerprint", MsgFingerprintShape)
	}
	return id, nil
}

// VerifySigner validates the mandatory --signer selector of verify.
func VerifySigner(s string) (qpgp.KeyID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fail("signer", MsgVerifyRequiresSigner)
	}
	return Fingerprint(s)
}

// Recipient validates an encryption recipient. Only a full fingerprint is
// accepted: a short selector could resolve to a stale or planted key.
func Recipient(s string) (qpgp.KeyID, error) {
	id := qpgp.KeyID(strings.ToUpper(s))
	if !id.IsFull() {
		return "", fail("recipient", "recipient %q: %s", s, MsgFullFingerprint)
	}
	return id, nil
}

// Recipients validates every recipient and rejects duplicates.
func Recipients(in []string) ([]qpgp.KeyID, error) {
	if len(in) == 0 {
		return nil, fail("recipient", "at least one recipient (-r) is required")
	}
	out := make([]qpgp.KeyID, 0, len(in))
	seen := make(map[qpgp.KeyID]bool, len(in))
	for _, s := range in {
		id, err := Recipient(s)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			return nil, fail("recipient", "recipient %s given twice", id)
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

// KeySelector accepts a full fingerprint, a 16-hex long key ID, or user-id
// text. Hex-looking selectors of any other length are rejected rather than
// treated as user-id text.
func KeySelector(s string) (qpgp.KeyID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fail("selector", "key selector must not be empty")
	}
	upper := qpgp.KeyID(strings.ToUpper(s))
	if upper.IsFull() || upper.IsShort() {
		return upper, nil
	}
	if isHexString(s) && len(s) >= 8 {
		return "", fail("selector", "key selector %q: %s (or a 16 hex character key id)", s, MsgFingerprintShape)
	}
	if err := noControl("selector", s, false); err != nil {
		return "", err
	}
	return qpgp.KeyID(s), nil
}

// HomeDir requires an absolute storage root. envName names the variable in
// the diagnostic, e.g. "ENCRYPTO_HOME must be an absolute path".
func HomeDir(envName, path string) (string, error) {
	subject := envName
	if subject == "" {
		subject = "home directory"
	}
	if path == "" || !filepath.IsAbs(path) {
		return "", fail("home", "%s %s", subject, MsgHomeAbsolute)
	}
	return filepath.Clean(path), nil
}

// UserID checks a key owner identity.
func UserID(s string) (qpgp.UserID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fail("user-id", "user id must not be empty")
	}
	if err := noControl("user-id", s, false); err != nil {
		return "", err
	}
	if strings.ContainsAny(s, "<>") {
		open, close := strings.LastIndexByte(s, '<'), strings.LastIndexByte(s, '>')
		if open < 0 || close < open || close != len(s)-1 {
			return "", fail("user-id", "user id %q: expected \"Name <email>\"", s)
		}
		email := s[open+1 : close]
		if at := strings.IndexByte(email, '@'); at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " <>") {
			return "", fail("user-id", "user id %q: invalid email address", s)
		}
	}
	return qpgp.UserID(s), nil
}

// RevocationMessage checks the free-text revocation explanation.
func RevocationMessage(s string) (string, error) {
	if len(s) > MaxRevocationMessage {
		return "", fail("message", "revocation message exceeds %d bytes", MaxRevocationMessage)
	}
	if err := noControl("message", s, true); err != nil {
		return "", err
	}
	return s, nil
}

// RevocationReason parses a revocation reason name.
func RevocationReason(s string) (qpgp.RevocationReason, error) {
	r, err := qpgp.ParseRevocationReason(s)
	if err != nil {
		return r, fail("reason", "unknown revocation reason %q (want unspecified, key-compromised, key-superseded, key-retired or userid-invalid)", s)
	}
	return r, nil
}

// Policy parses a --pqc-policy value.
func Policy(s string) (qpgp.PqcPolicy, error) {
	p, err := qpgp.ParsePqcPolicy(s)
	if err != nil {
		return p, fail("pqc-policy", "unknown pqc policy %q (want required, preferred or disabled)", s)
	}
	return p, nil
}

// Level parses a --pqc-level value.
func Level(s string) (qpgp.PqcLevel, error) {
	l, err := qpgp.ParsePqcLevel(s)
	if err != nil {
		return l, fail("pqc-level", "unknown pqc level %q (want baseline or high)", s)
	}
	return l, nil
}

// Passphrase resolves the passphrase choice for a new secret key. A nil
// result with allowUnprotected set means "no protection".
func Passphrase(pass string, havePass, noPassphrase bool) ([]byte, bool, error) {
	switch {
	case havePass && noPassphrase:
		return nil, false, fail("passphrase", "--passphrase and --no-passphrase are mutually exclusive")
	case noPassphrase:
		return nil, true, nil
	case havePass && pass == "":
		return nil, false, fail("passphrase", "passphrase must not be empty (use --no-passphrase for an unprotected key)")
	case havePass:
		return []byte(pass), false, nil
	default:
		return nil, false, fail("passphrase", "passphrase required: set --passphrase or ENCRYPTO_PASSPHRASE, or pass --no-passphrase")
	}
}

func noControl(field, s string, allowNewline bool) error {
	if !utf8.ValidString(s) {
		return fail(field, "%s must be valid UTF-8", field)
	}
	for _, r := range s {
		if allowNewline && (r == '\n' || r == '\t') {
			continue
		}
		if unicode.IsControl(r) {
			return fail(field, "%s must not contain control characters", field)
		}
	}
	return nil
}

func isHexString(s string) bool {
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return s != ""
}
