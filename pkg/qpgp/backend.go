package qpgp

import "context"

// Backend is the capability interface every cryptography provider
// implements. Callers interact with providers only through it.
//
// Every method other than Name and SupportsPQC may block on storage or
// provider I/O. Errors are *Error values (or *RotationError for RotateKey)
// and are never swallowed.
type Backend interface {
	// Name is a static descriptor of the provider.
	Name() string

	// SupportsPQC is the static capability flag consulted by Decide.
	SupportsPQC() bool

	// ListKeys returns every known key in an order stable within a process.
	ListKeys(ctx context.Context) ([]KeyMeta, error)

	// GenerateKey creates a key honoring the policy and level in params.
	GenerateKey(ctx context.Context, params KeyGenParams) (KeyMeta, error)

	// ImportKey adds an exported key block to the keyring.
	ImportKey(ctx context.Context, data []byte) (KeyMeta, error)

	// ExportKey serializes a key; secret export fails without secret material.
	ExportKey(ctx context.Context, id KeyID, secret, armor bool) ([]byte, error)

	Encrypt(ctx context.Context, req EncryptRequest) ([]byte, error)
	Decrypt(ctx context.Context, req DecryptRequest) ([]byte, error)

	Sign(ctx context.Context, req SignRequest) ([]byte, error)

	// Verify reports Valid=false for a cryptographically bad signature and
	// an error only for input that cannot be parsed.
	Verify(ctx context.Context, req VerifyRequest) (VerifyResult, error)

	RevokeKey(ctx context.Context, req RevokeRequest) (RevokeResult, error)

	// RotateKey generates a replacement and optionally revokes the original.
	// The two steps are not atomic; see RotationError.
	RotateKey(ctx context.Context, req RotateRequest) (RotateResult, error)
}
