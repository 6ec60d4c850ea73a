// Package qpgp defines the policy-and-validation core shared by every
// encrypto component: the domain model, the post-quantum policy engine, the
// backend contract any cryptography provider implements, and the error
// taxonomy surfaced across that contract.
package qpgp

import (
	"fmt"
	"strings"
	"time"
)

// OpenPGPPQCDraft names the post-quantum OpenPGP profile backends declare
// conformance to. The wire format itself is owned by the provider.
const OpenPGPPQCDraft = "draft-ietf-openpgp-pqc-17"

// Fingerprint lengths in hex characters.
const (
	FingerprintV4Len = 40 // 160-bit, classical keys
	FingerprintV6Len = 64 // 256-bit, post-quantum era keys
	LongKeyIDLen     = 16
)

// KeyID is an opaque key selector.
type KeyID string

// String returns the selector as given.
func (k KeyID) String() string { return string(k) }

// IsFull reports whether the selector has the shape of a complete fingerprint.
func (k KeyID) IsFull() bool {
	return (len(k) == FingerprintV4Len || len(k) == FingerprintV6Len) && isHex(string(k))
}

// IsShort reports whether the selector is a 16-hex long key ID.
func (k KeyID) IsShort() bool {
	return len(k) == LongKeyIDLen && isHex(string(k))
}

// Matches reports whether the selector designates the given fingerprint.
// Full selectors compare byte-exact; short ones match the fingerprint tail.
func (k KeyID) Matches(fingerprint KeyID) bool {
	switch {
	case k.IsFull():
		return k == fingerprint
	case k.IsShort():
		return strings.HasSuffix(string(fingerprint), string(k))
	default:
		return false
	}
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// UserID is a human identity string, conventionally "Name <email>".
type UserID string

// String returns the raw identity.
func (u UserID) String() string { return string(u) }

// Email returns the bracketed address, or the whole value when it looks like
// a bare address.
func (u UserID) Email() string {
	s := string(u)
	if i := strings.LastIndexByte(s, '<'); i >= 0 {
		if j := strings.IndexByte(s[i:], '>'); j > 0 {
			return s[i+1 : i+j]
		}
	}
	if strings.Contains(s, "@") && !strings.ContainsAny(s, " <>") {
		return s
	}
	return ""
}

// KeyMeta is an immutable snapshot of a key as reported by a backend.
type KeyMeta struct {
	KeyID            KeyID
	UserID           *UserID
	Algo             string
	Created          *time.Time
	HasSecret        bool
	Revoked          bool
	RevocationReason *RevocationReason
}

// String renders the key for diagnostics.
func (m KeyMeta) String() string {
	uid := ""
	if m.UserID != nil {
		uid = " " + string(*m.UserID)
	}
	return fmt.Sprintf("%s [%s]%s", m.KeyID, m.Algo, uid)
}

// KeyGenParams describes a key generation request.
type KeyGenParams struct {
	UserID UserID
	// Algo optionally pins an algorithm label; empty lets the policy decide.
	Algo             string
	PqcPolicy        PqcPolicy
	PqcLevel         PqcLevel
	Passphrase       []byte
	AllowUnprotected bool
}

// Validate checks that the request is fully constructed.
func (p KeyGenParams) Validate() error {
	if strings.TrimSpace(string(p.UserID)) == "" {
		return InvalidInput("user id must not be empty")
	}
	if p.Passphrase == nil && !p.AllowUnprotected {
		return InvalidInput("passphrase required: refusing to create an unprotected secret key")
	}
	return nil
}

// EncryptRequest describes an encryption to one or more recipients.
type EncryptRequest struct {
	Recipients []KeyID
	Plaintext  []byte
	Armor      bool
	PqcPolicy  PqcPolicy
	// Compat allows classical-only recipients when the policy is Preferred.
	Compat bool
}

// Validate checks that the request is fully constructed.
func (r EncryptRequest) Validate() error {
	if len(r.Recipients) == 0 {
		return InvalidInput("at least one recipient is required")
	}
	for _, rcpt := range r.Recipients {
		if !rcpt.IsFull() {
			return InvalidInput(fmt.Sprintf("recipient %q: full fingerprint required", rcpt))
		}
	}
	return nil
}

// DecryptRequest describes a decryption.
type DecryptRequest struct {
	Ciphertext []byte
	PqcPolicy  PqcPolicy
	Passphrase []byte
}

// Validate checks that the request is fully constructed.
func (r DecryptRequest) Validate() error {
	if len(r.Ciphertext) == 0 {
		return InvalidInput("ciphertext is empty")
	}
	return nil
}

// SignRequest describes a signature by one key.
type SignRequest struct {
	Signer     KeyID
	Message    []byte
	Armor      bool
	Cleartext  bool
	PqcPolicy  PqcPolicy
	Passphrase []byte
}

// Validate checks that the request is fully constructed.
func (r SignRequest) Validate() error {
	if r.Signer == "" {
		return InvalidInput("signer selector is required")
	}
	return nil
}

// VerifyRequest describes a signature check against an explicit signer.
type VerifyRequest struct {
	Signer    KeyID
	Message   []byte
	Signature []byte
	Cleartext bool
	PqcPolicy PqcPolicy
}

// Validate checks that the request is fully constructed.
func (r VerifyRequest) Validate() error {
	if r.Signer == "" {
		return InvalidInput("verify requires --signer")
	}
	if !r.Signer.IsFull() {
		return InvalidInput("fingerprint must be 40 or 64 hex characters")
	}
	if len(r.Signature) == 0 {
		return InvalidInput("signature is empty")
	}
	return nil
}

// VerifyResult is the outcome of a verification. An invalid signature is a
// result, not an error.
type VerifyResult struct {
	Valid   bool
	Signer  *KeyID
	Message []byte
}

// RevokeRequest describes a key revocation.
type RevokeRequest struct {
	KeyID      KeyID
	Reason     RevocationReason
	Message    string
	Armor      bool
	Passphrase []byte
}

// Validate checks that the request is fully constructed.
func (r RevokeRequest) Validate() error {
	if r.KeyID == "" {
		return InvalidInput("key selector is required")
	}
	if !r.Reason.IsValid() {
		return InvalidInput(fmt.Sprintf("unknown revocation reason %d", r.Reason))
	}
	return nil
}

// RevokeResult carries the updated certificate.
type RevokeResult struct {
	UpdatedCert []byte
}

// RotateRequest describes the replacement of a key by a fresh one.
type RotateRequest struct {
	KeyID KeyID
	// NewUserID defaults to the old key's user id when nil.
	NewUserID        *UserID
	PqcPolicy        PqcPolicy
	PqcLevel         PqcLevel
	Passphrase       []byte
	AllowUnprotected bool
	// OldPassphrase unlocks the superseded key for its revocation.
	OldPassphrase []byte
	RevokeOld     bool
}

// Validate checks that the request is fully constructed.
func (r RotateRequest) Validate() error {
	if r.KeyID == "" {
		return InvalidInput("key selector is required")
	}
	if r.Passphrase == nil && !r.AllowUnprotected {
		return InvalidInput("passphrase required: refusing to create an unprotected secret key")
	}
	return nil
}

// RotateResult reports the replacement key and whether the old one was
// actually revoked.
type RotateResult struct {
	NewKey        KeyMeta
	OldKeyRevoked bool
}

// Wipe zeroes secret bytes in place.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
