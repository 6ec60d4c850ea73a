package native

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/remiblancher/encrypto/internal/keyring"
	"github.com/remiblancher/encrypto/pkg/qpgp"
)

// Cheap Argon2id parameters; the defaults would make the suite slow.
var testKDF = KDFParams{Time: 1, Memory: 64, Threads: 1}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	return New(NameNative, keyring.NewFileStore(t.TempDir()), Options{KDF: testKDF})
}

func newClassicBackend(t *testing.T, store keyring.Store) *Backend {
	t.Helper()
	return New(NameClassic, store, Options{DisablePQC: true, KDF: testKDF})
}

func genKey(t *testing.T, b *Backend, uid string, policy qpgp.PqcPolicy, level qpgp.PqcLevel, pass []byte) qpgp.KeyMeta {
	t.Helper()
	meta, err := b.GenerateKey(context.Background(), qpgp.KeyGenParams{
		UserID:           qpgp.UserID(uid),
		PqcPolicy:        policy,
		PqcLevel:         level,
		Passphrase:       pass,
		AllowUnprotected: pass == nil,
	})
	if err != nil {
		t.Fatalf("GenerateKey(%s) failed: %v", uid, err)
	}
	return meta
}

// =============================================================================
// Key Generation Tests
// =============================================================================

func TestF_GenerateKey_Suites(t *testing.T) {
	tests := []struct {
		name     string
		policy   qpgp.PqcPolicy
		level    qpgp.PqcLevel
		wantAlgo string
		wantLen  int
	}{
		{"required high", qpgp.PolicyRequired, qpgp.LevelHigh, SuiteMLDSA87Ed448, 64},
		{"required baseline", qpgp.PolicyRequired, qpgp.LevelBaseline, SuiteMLDSA65Ed25519, 64},
		{"preferred high", qpgp.PolicyPreferred, qpgp.LevelHigh, SuiteMLDSA87Ed448, 64},
		{"disabled", qpgp.PolicyDisabled, qpgp.LevelHigh, SuiteEd25519, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBackend(t)
			meta := genKey(t, b, "Alice <alice@example.com>", tt.policy, tt.level, nil)

			if meta.Algo != tt.wantAlgo {
				t.Errorf("Algo = %s, want %s", meta.Algo, tt.wantAlgo)
			}
			if len(meta.KeyID) != tt.wantLen || !meta.KeyID.IsFull() {
				t.Errorf("KeyID = %s, want %d hex characters", meta.KeyID, tt.wantLen)
			}
			if !meta.HasSecret || meta.Revoked {
				t.Errorf("meta = %+v", meta)
			}
			if meta.UserID == nil || *meta.UserID != "Alice <alice@example.com>" {
				t.Errorf("UserID = %v", meta.UserID)
			}
			if meta.Created == nil {
				t.Error("Created not set")
			}
		})
	}
}

func TestF_GenerateKey_ClassicBackend(t *testing.T) {
	b := newClassicBackend(t, keyring.NewFileStore(t.TempDir()))
	ctx := context.Background()

	_, err := b.GenerateKey(ctx, qpgp.KeyGenParams{UserID: "Bob", PqcPolicy: qpgp.PolicyRequired, AllowUnprotected: true})
	if !errors.Is(err, qpgp.ErrNotImplemented) {
		t.Fatalf("GenerateKey(required) error = %v, want a capability error", err)
	}
	if keys, _ := b.ListKeys(ctx); len(keys) != 0 {
		t.Errorf("failed generate left %d keys behind", len(keys))
	}

	meta := genKey(t, b, "Bob", qpgp.PolicyPreferred, qpgp.LevelHigh, nil)
	if meta.Algo != SuiteEd25519 {
		t.Errorf("preferred on classic backend gave %s, want %s", meta.Algo, SuiteEd25519)
	}
}

func TestF_ClassicBackend_RequiredPolicyRefusesOperations(t *testing.T) {
	ctx := context.Background()
	b := newClassicBackend(t, keyring.NewFileStore(t.TempDir()))
	fp := qpgp.KeyID(strings.Repeat("AB", 32))

	tests := []struct {
		name string
		run  func() error
	}{
		{"encrypt", func() error {
			_, err := b.Encrypt(ctx, qpgp.EncryptRequest{Recipients: []qpgp.KeyID{fp}, Plaintext: []byte("x"), PqcPolicy: qpgp.PolicyRequired})
			return err
		}},
		{"decrypt", func() error {
			_, err := b.Decrypt(ctx, qpgp.DecryptRequest{Ciphertext: []byte("x"), PqcPolicy: qpgp.PolicyRequired})
			return err
		}},
		{"sign", func() error {
			_, err := b.Sign(ctx, qpgp.SignRequest{Signer: fp, Message: []byte("x"), PqcPolicy: qpgp.PolicyRequired})
			return err
		}},
		{"verify", func() error {
			_, err := b.Verify(ctx, qpgp.VerifyRequest{Signer: fp, Message: []byte("x"), Signature: []byte("x"), PqcPolicy: qpgp.PolicyRequired})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, qpgp.ErrNotImplemented) {
				t.Errorf("error = %v, want a capability error", err)
			}
		})
	}
}

func TestF_GenerateKey_RefusesUnprotected(t *testing.T) {
	b := newTestBackend(t)
	_, err := b.GenerateKey(context.Background(), qpgp.KeyGenParams{UserID: "Carol"})
	if !errors.Is(err, qpgp.ErrInvalidInput) {
		t.Errorf("GenerateKey() error = %v, want invalid input", err)
	}
}

func TestF_GenerateKey_PinnedAlgorithm(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	meta, err := b.GenerateKey(ctx, qpgp.KeyGenParams{UserID: "D", Algo: SuiteMLDSA65Ed25519, PqcLevel: qpgp.LevelHigh, AllowUnprotected: true})
	if err != nil || meta.Algo != SuiteMLDSA65Ed25519 {
		t.Fatalf("GenerateKey(pinned) = %v, %v", meta.Algo, err)
	}

	_, err = b.GenerateKey(ctx, qpgp.KeyGenParams{UserID: "D", Algo: SuiteEd25519, PqcPolicy: qpgp.PolicyRequired, AllowUnprotected: true})
	if !errors.Is(err, qpgp.ErrInvalidInput) {
		t.Errorf("classical algorithm under required policy: error = %v", err)
	}

	_, err = b.GenerateKey(ctx, qpgp.KeyGenParams{UserID: "D", Algo: "RSA4096", AllowUnprotected: true})
	if !errors.Is(err, qpgp.ErrInvalidInput) {
		t.Errorf("unknown algorithm: error = %v", err)
	}
}

func TestF_ListKeys_Ordered(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New(NameNative, keyring.NewFileStore(t.TempDir()), Options{KDF: testKDF, Now: clock.now})

	first := genKey(t, b, "first", qpgp.PolicyDisabled, 0, nil)
	clock.t = clock.t.Add(time.Hour)
	second := genKey(t, b, "second", qpgp.PolicyRequired, 0, nil)

	keys, err := b.ListKeys(context.Background())
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	if len(keys) != 2 || keys[0].KeyID != first.KeyID || keys[1].KeyID != second.KeyID {
		t.Errorf("ListKeys() order = %v", keys)
	}
}

// =============================================================================
// Sign / Verify Tests
// =============================================================================

func TestF_SignVerify_Detached(t *testing.T) {
	for _, armored := range []bool{false, true} {
		b := newTestBackend(t)
		ctx := context.Background()
		key := genKey(t, b, "Signer <s@example.com>", qpgp.PolicyRequired, qpgp.LevelHigh, []byte("pw"))
		msg := []byte("release v1.2.3\n")

		sig, err := b.Sign(ctx, qpgp.SignRequest{Signer: key.KeyID, Message: msg, Armor: armored, Passphrase: []byte("pw")})
		if err != nil {
			t.Fatalf("Sign failed: %v", err)
		}
		if armored && !bytes.HasPrefix(sig, []byte("-----BEGIN PGP SIGNATURE-----")) {
			t.Errorf("armored signature = %q", sig[:40])
		}

		res, err := b.Verify(ctx, qpgp.VerifyRequest{Signer: key.KeyID, Message: msg, Signature: sig})
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if !res.Valid || res.Signer == nil || *res.Signer != key.KeyID {
			t.Errorf("Verify() = %+v", res)
		}
		if res.Message != nil {
			t.Error("detached verification must not return a message")
		}

		res, err = b.Verify(ctx, qpgp.VerifyRequest{Signer: key.KeyID, Message: []byte("release v1.2.4\n"), Signature: sig})
		if err != nil {
			t.Fatalf("Verify(tampered) error = %v", err)
		}
		if res.Valid {
			t.Error("tampered message verified")
		}
	}
}

func TestF_SignVerify_Cleartext(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	key := genKey(t, b, "Clear", qpgp.PolicyRequired, qpgp.LevelBaseline, nil)
	msg := []byte("Hello,\n-- not a signature\n---\r\ntrailing\n\n")

	signed, err := b.Sign(ctx, qpgp.SignRequest{Signer: key.KeyID, Message: msg, Cleartext: true})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if !bytes.HasPrefix(signed, []byte("-----BEGIN PGP SIGNED MESSAGE-----\nHash: SHA3-512\n")) {
		t.Errorf("cleartext header = %q", signed[:60])
	}

	res, err := b.Verify(ctx, qpgp.VerifyRequest{Signer: key.KeyID, Signature: signed, Cleartext: true})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !res.Valid {
		t.Fatal("cleartext signature did not verify")
	}
	if !bytes.Equal(res.Message, msg) {
		t.Errorf("recovered message = %q, want %q", res.Message, msg)
	}
}

func TestF_Verify_WrongSigner(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	alice := genKey(t, b, "alice", qpgp.PolicyRequired, 0, nil)
	bob := genKey(t, b, "bob", qpgp.PolicyRequired, 0, nil)
	msg := []byte("msg")

	sig, err := b.Sign(ctx, qpgp.SignRequest{Signer: alice.KeyID, Message: msg})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	res, err := b.Verify(ctx, qpgp.VerifyRequest{Signer: bob.KeyID, Message: msg, Signature: sig})
	if err != nil {
		t.Fatalf("Verify error = %v", err)
	}
	if res.Valid || res.Signer != nil {
		t.Errorf("Verify(wrong signer) = %+v", res)
	}
}

func TestF_Verify_Malformed(t *testing.T) {
	b := newTestBackend(t)
	key := genKey(t, b, "alice", qpgp.PolicyRequired, 0, nil)

	_, err := b.Verify(context.Background(), qpgp.VerifyRequest{Signer: key.KeyID, Message: []byte("m"), Signature: []byte("garbage")})
	if !errors.Is(err, qpgp.ErrInvalidInput) {
		t.Errorf("Verify(garbage) error = %v, want invalid input", err)
	}
}

func TestF_Verify_PolicyOnClassicalSignature(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	key := genKey(t, b, "legacy", qpgp.PolicyDisabled, 0, nil)
	msg := []byte("old")

	sig, err := b.Sign(ctx, qpgp.SignRequest{Signer: key.KeyID, Message: msg, PqcPolicy: qpgp.PolicyDisabled})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	_, err = b.Verify(ctx, qpgp.VerifyRequest{Signer: key.KeyID, Message: msg, Signature: sig, PqcPolicy: qpgp.PolicyRequired})
	if !errors.Is(err, qpgp.ErrInvalidInput) {
		t.Errorf("Verify(required) error = %v, want policy rejection", err)
	}

	res, err := b.Verify(ctx, qpgp.VerifyRequest{Signer: key.KeyID, Message: msg, Signature: sig, PqcPolicy: qpgp.PolicyPreferred})
	if err != nil || !res.Valid {
		t.Errorf("Verify(preferred) = %+v, %v", res, err)
	}
}

func TestF_Sign_PolicyRejectsClassicalKey(t *testing.T) {
	b := newTestBackend(t)
	key := genKey(t, b, "legacy", qpgp.PolicyDisabled, 0, nil)

	_, err := b.Sign(context.Background(), qpgp.SignRequest{Signer: key.KeyID, Message: []byte("m"), PqcPolicy: qpgp.PolicyRequired})
	if !errors.Is(err, qpgp.ErrInvalidInput) {
		t.Errorf("Sign() error = %v, want policy rejection", err)
	}
}

func TestF_ClassicBackend_RefusesPostQuantumSignature(t *testing.T) {
	store := keyring.NewFileStore(t.TempDir())
	native := New(NameNative, store, Options{KDF: testKDF})
	classic := newClassicBackend(t, store)
	ctx := context.Background()

	key := genKey(t, native, "pq", qpgp.PolicyRequired, 0, nil)
	sig, err := native.Sign(ctx, qpgp.SignRequest{Signer: key.KeyID, Message: []byte("m")})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	_, err = classic.Verify(ctx, qpgp.VerifyRequest{Signer: key.KeyID, Message: []byte("m"), Signature: sig, PqcPolicy: qpgp.PolicyPreferred})
	if !errors.Is(err, qpgp.ErrNotImplemented) {
		t.Errorf("classic Verify() error = %v, want capability error", err)
	}
	_, err = classic.Verify(ctx, qpgp.VerifyRequest{Signer: key.KeyID, Message: []byte("m"), Signature: sig})
	if !errors.Is(err, qpgp.ErrNotImplemented) {
		t.Errorf("classic Verify(required) error = %v, want capability error", err)
	}
}

func TestF_Sign_AmbiguousSelector(t *testing.T) {
	b := newTestBackend(t)
	genKey(t, b, "Alice Work <alice@work.example>", qpgp.PolicyRequired, 0, nil)
	genKey(t, b, "Alice Home <alice@home.example>", qpgp.PolicyRequired, 0, nil)

	_, err := b.Sign(context.Background(), qpgp.SignRequest{Signer: "alice", Message: []byte("m")})
	if !errors.Is(err, qpgp.ErrInvalidInput) || !strings.Contains(err.Error(), "ambiguous") {
		t.Errorf("Sign(ambiguous) error = %v", err)
	}

	if _, err := b.Sign(context.Background(), qpgp.SignRequest{Signer: "alice@home.example", Message: []byte("m")}); err != nil {
		t.Errorf("Sign(email) error = %v", err)
	}
}

// =============================================================================
// Encrypt / Decrypt Tests
// =============================================================================

func TestF_EncryptDecrypt_RoundTrip(t *testing.T) {
	for _, level := range []qpgp.PqcLevel{qpgp.LevelBaseline, qpgp.LevelHigh} {
		b := newTestBackend(t)
		ctx := context.Background()
		key := genKey(t, b, "R", qpgp.PolicyRequired, level, []byte("secret"))
		plaintext := []byte("attack at dawn")

		ct, err := b.Encrypt(ctx, qpgp.EncryptRequest{Recipients: []qpgp.KeyID{key.KeyID}, Plaintext: plaintext, Armor: true})
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		if !bytes.HasPrefix(ct, []byte("-----BEGIN PGP MESSAGE-----")) {
			t.Errorf("armored message = %q", ct[:30])
		}

		pt, err := b.Decrypt(ctx, qpgp.DecryptRequest{Ciphertext: ct, Passphrase: []byte("secret")})
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if !bytes.Equal(pt, plaintext) {
			t.Errorf("Decrypt() = %q", pt)
		}

		if _, err := b.Decrypt(ctx, qpgp.DecryptRequest{Ciphertext: ct, Passphrase: []byte("wrong")}); err == nil || !strings.Contains(err.Error(), "wrong passphrase") {
			t.Errorf("Decrypt(wrong passphrase) error = %v", err)
		}
		if _, err := b.Decrypt(ctx, qpgp.DecryptRequest{Ciphertext: ct}); err == nil || !strings.Contains(err.Error(), "passphrase required") {
			t.Errorf("Decrypt(no passphrase) error = %v", err)
		}
	}
}

func TestF_Encrypt_MultipleRecipients(t *testing.T) {
	store := keyring.NewFileStore(t.TempDir())
	b := New(NameNative, store, Options{KDF: testKDF})
	ctx := context.Background()
	a := genKey(t, b, "a", qpgp.PolicyRequired, qpgp.LevelHigh, nil)
	c := genKey(t, b, "c", qpgp.PolicyRequired, qpgp.LevelBaseline, nil)

	ct, err := b.Encrypt(ctx, qpgp.EncryptRequest{Recipients: []qpgp.KeyID{a.KeyID, c.KeyID}, Plaintext: []byte("both")})
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// Only c's secret remains.
	if err := store.Delete(ctx, string(a.KeyID)); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	pt, err := b.Decrypt(ctx, qpgp.DecryptRequest{Ciphertext: ct})
	if err != nil || string(pt) != "both" {
		t.Errorf("Decrypt() = %q, %v", pt, err)
	}
}

func TestF_Encrypt_PolicyMatrix(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	classical := genKey(t, b, "old", qpgp.PolicyDisabled, 0, nil)
	pq := genKey(t, b, "new", qpgp.PolicyRequired, 0, nil)

	tests := []struct {
		name    string
		rcpt    qpgp.KeyID
		policy  qpgp.PqcPolicy
		compat  bool
		wantErr bool
	}{
		{"required pq", pq.KeyID, qpgp.PolicyRequired, false, false},
		{"required classical", classical.KeyID, qpgp.PolicyRequired, true, true},
		{"preferred classical without compat", classical.KeyID, qpgp.PolicyPreferred, false, true},
		{"preferred classical with compat", classical.KeyID, qpgp.PolicyPreferred, true, false},
		{"disabled classical", classical.KeyID, qpgp.PolicyDisabled, false, false},
		{"disabled pq", pq.KeyID, qpgp.PolicyDisabled, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Encrypt(ctx, qpgp.EncryptRequest{Recipients: []qpgp.KeyID{tt.rcpt}, Plaintext: []byte("x"), PqcPolicy: tt.policy, Compat: tt.compat})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Encrypt() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, qpgp.ErrInvalidInput) {
				t.Errorf("Encrypt() error kind = %s, want invalid input", qpgp.KindOf(err))
			}
		})
	}
}

func TestF_Decrypt_PolicyOnClassicalMessage(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	key := genKey(t, b, "old", qpgp.PolicyDisabled, 0, nil)

	ct, err := b.Encrypt(ctx, qpgp.EncryptRequest{Recipients: []qpgp.KeyID{key.KeyID}, Plaintext: []byte("x"), PqcPolicy: qpgp.PolicyDisabled})
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if _, err := b.Decrypt(ctx, qpgp.DecryptRequest{Ciphertext: ct}); !errors.Is(err, qpgp.ErrInvalidInput) {
		t.Errorf("Decrypt(required) error = %v, want policy rejection", err)
	}
	if pt, err := b.Decrypt(ctx, qpgp.DecryptRequest{Ciphertext: ct, PqcPolicy: qpgp.PolicyPreferred}); err != nil || string(pt) != "x" {
		t.Errorf("Decrypt(preferred) = %q, %v", pt, err)
	}
}

func TestF_Encrypt_UnknownRecipient(t *testing.T) {
	b := newTestBackend(t)
	_, err := b.Encrypt(context.Background(), qpgp.EncryptRequest{Recipients: []qpgp.KeyID{qpgp.KeyID(strings.Repeat("A", 64))}, Plaintext: []byte("x")})
	if !errors.Is(err, qpgp.ErrInvalidInput) {
		t.Errorf("Encrypt() error = %v", err)
	}
}

func TestF_Decrypt_NoMatchingKey(t *testing.T) {
	sender := newTestBackend(t)
	receiver := newTestBackend(t)
	ctx := context.Background()
	key := genKey(t, sender, "r", qpgp.PolicyRequired, 0, nil)

	ct, err := sender.Encrypt(ctx, qpgp.EncryptRequest{Recipients: []qpgp.KeyID{key.KeyID}, Plaintext: []byte("x")})
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	_, err = receiver.Decrypt(ctx, qpgp.DecryptRequest{Ciphertext: ct})
	if err == nil || err.Error() != "invalid input: no matching secret key available" {
		t.Errorf("Decrypt() error = %v", err)
	}
}

func TestF_Decrypt_SkipsLockedRecipient(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	locked := genKey(t, b, "Locked", qpgp.PolicyRequired, qpgp.LevelBaseline, []byte("pw"))
	open := genKey(t, b, "Open", qpgp.PolicyRequired, qpgp.LevelBaseline, nil)

	ct, err := b.Encrypt(ctx, qpgp.EncryptRequest{Recipients: []qpgp.KeyID{locked.KeyID, open.KeyID}, Plaintext: []byte("both")})
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	pt, err := b.Decrypt(ctx, qpgp.DecryptRequest{Ciphertext: ct})
	if err != nil || string(pt) != "both" {
		t.Errorf("Decrypt() = %q, %v; want the unprotected recipient to open it", pt, err)
	}

	ct, err = b.Encrypt(ctx, qpgp.EncryptRequest{Recipients: []qpgp.KeyID{locked.KeyID}, Plaintext: []byte("one")})
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	_, err = b.Decrypt(ctx, qpgp.DecryptRequest{Ciphertext: ct})
	if err == nil || !strings.Contains(err.Error(), "passphrase required") {
		t.Errorf("Decrypt(locked only) error = %v, want passphrase required", err)
	}
}

func TestF_Decrypt_Tampered(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	key := genKey(t, b, "r", qpgp.PolicyRequired, 0, nil)

	ct, err := b.Encrypt(ctx, qpgp.EncryptRequest{Recipients: []qpgp.KeyID{key.KeyID}, Plaintext: []byte("payload")})
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	ct[len(ct)-1] ^= 0x01
	if _, err := b.Decrypt(ctx, qpgp.DecryptRequest{Ciphertext: ct}); err == nil {
		t.Error("tampered message decrypted")
	}
}

// =============================================================================
// Import / Export Tests
// =============================================================================

func TestF_ExportImport_Public(t *testing.T) {
	src := newTestBackend(t)
	dst := newTestBackend(t)
	ctx := context.Background()
	key := genKey(t, src, "Export <e@example.com>", qpgp.PolicyRequired, qpgp.LevelHigh, nil)

	data, err := src.ExportKey(ctx, key.KeyID, false, true)
	if err != nil {
		t.Fatalf("ExportKey failed: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("-----BEGIN PGP PUBLIC KEY BLOCK-----")) {
		t.Errorf("export = %q", data[:40])
	}
	if HasSecretKey(data) {
		t.Error("HasSecretKey(public export) = true")
	}

	meta, err := dst.ImportKey(ctx, data)
	if err != nil {
		t.Fatalf("ImportKey failed: %v", err)
	}
	if meta.KeyID != key.KeyID || meta.HasSecret || meta.Algo != SuiteMLDSA87Ed448 {
		t.Errorf("imported meta = %+v", meta)
	}

	keys, err := dst.ListKeys(ctx)
	if err != nil || len(keys) != 1 || keys[0].KeyID != key.KeyID {
		t.Errorf("ListKeys() = %v, %v", keys, err)
	}

	if _, err := dst.ExportKey(ctx, key.KeyID, true, false); !errors.Is(err, qpgp.ErrInvalidInput) {
		t.Errorf("secret export without secret: error = %v", err)
	}

	// The imported key is usable as a recipient and a verifier.
	sig, err := src.Sign(ctx, qpgp.SignRequest{Signer: key.KeyID, Message: []byte("m")})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	res, err := dst.Verify(ctx, qpgp.VerifyRequest{Signer: key.KeyID, Message: []byte("m"), Signature: sig})
	if err != nil || !res.Valid {
		t.Errorf("Verify on importer = %+v, %v", res, err)
	}
}

func TestF_ExportImport_Secret(t *testing.T) {
	src := newTestBackend(t)
	dst := newTestBackend(t)
	ctx := context.Background()
	key := genKey(t, src, "s", qpgp.PolicyRequired, 0, []byte("pw"))

	data, err := src.ExportKey(ctx, key.KeyID, true, false)
	if err != nil {
		t.Fatalf("ExportKey failed: %v", err)
	}
	if !HasSecretKey(data) {
		t.Error("HasSecretKey(secret export) = false")
	}
	meta, err := dst.ImportKey(ctx, data)
	if err != nil || !meta.HasSecret {
		t.Fatalf("ImportKey() = %+v, %v", meta, err)
	}

	ct, err := src.Encrypt(ctx, qpgp.EncryptRequest{Recipients: []qpgp.KeyID{key.KeyID}, Plaintext: []byte("moved")})
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	pt, err := dst.Decrypt(ctx, qpgp.DecryptRequest{Ciphertext: ct, Passphrase: []byte("pw")})
	if err != nil || string(pt) != "moved" {
		t.Errorf("Decrypt on importer = %q, %v", pt, err)
	}
}

func TestF_Import_Rejects(t *testing.T) {
	src := newTestBackend(t)
	dst := newTestBackend(t)
	ctx := context.Background()
	key := genKey(t, src, "Mallory <m@example.com>", qpgp.PolicyRequired, 0, nil)

	data, err := src.ExportKey(ctx, key.KeyID, false, false)
	if err != nil {
		t.Fatalf("ExportKey failed: %v", err)
	}
	tampered := bytes.Replace(data, []byte("Mallory"), []byte("Mallorz"), 1)

	tests := map[string][]byte{
		"empty":    nil,
		"garbage":  []byte("not a key"),
		"tampered": tampered,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := dst.ImportKey(ctx, in); !errors.Is(err, qpgp.ErrInvalidInput) {
				t.Errorf("ImportKey() error = %v, want invalid input", err)
			}
		})
	}

	classic := newClassicBackend(t, keyring.NewFileStore(t.TempDir()))
	if _, err := classic.ImportKey(ctx, data); !errors.Is(err, qpgp.ErrNotImplemented) {
		t.Errorf("classic ImportKey(pq) error = %v, want capability error", err)
	}
}

func decodeSecretExport(t *testing.T, data []byte) transferableSecretKey {
	t.Helper()
	p, err := decodePacket(data)
	if err != nil {
		t.Fatalf("decodePacket failed: %v", err)
	}
	var ts transferableSecretKey
	if err := unmarshalBody(p, &ts); err != nil {
		t.Fatalf("unmarshalBody failed: %v", err)
	}
	return ts
}

func encodeSecretExport(t *testing.T, ts transferableSecretKey) []byte {
	t.Helper()
	out, err := encodePacket(packetSecretKey, ts)
	if err != nil {
		t.Fatalf("encodePacket failed: %v", err)
	}
	return out
}

func TestF_Import_RejectsUnsafeKDFParams(t *testing.T) {
	src := newTestBackend(t)
	ctx := context.Background()
	key := genKey(t, src, "s", qpgp.PolicyRequired, qpgp.LevelBaseline, []byte("pw"))

	data, err := src.ExportKey(ctx, key.KeyID, true, false)
	if err != nil {
		t.Fatalf("ExportKey failed: %v", err)
	}

	tests := []struct {
		name string
		edit func(*s2k)
	}{
		{"zero threads", func(k *s2k) { k.Threads = 0 }},
		{"zero time", func(k *s2k) { k.Time = 0 }},
		{"huge time", func(k *s2k) { k.Time = 1 << 30 }},
		{"huge memory", func(k *s2k) { k.Memory = 1 << 31 }},
		{"memory below threads", func(k *s2k) { k.Threads = 255; k.Memory = 64 }},
		{"short salt", func(k *s2k) { k.Salt = k.Salt[:4] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := decodeSecretExport(t, data)
			tt.edit(ts.Secret.S2K)
			dst := newTestBackend(t)

			if _, err := dst.ImportKey(ctx, encodeSecretExport(t, ts)); !errors.Is(err, qpgp.ErrInvalidInput) {
				t.Fatalf("ImportKey() error = %v, want invalid input", err)
			}
			if keys, _ := dst.ListKeys(ctx); len(keys) != 0 {
				t.Errorf("rejected import stored %d keys", len(keys))
			}
		})
	}
}

func TestF_Import_RejectsMismatchedSecret(t *testing.T) {
	src := newTestBackend(t)
	dst := newTestBackend(t)
	ctx := context.Background()
	alice := genKey(t, src, "Alice", qpgp.PolicyRequired, qpgp.LevelBaseline, nil)
	mallory := genKey(t, src, "Mallory", qpgp.PolicyRequired, qpgp.LevelBaseline, nil)

	aliceData, err := src.ExportKey(ctx, alice.KeyID, true, false)
	if err != nil {
		t.Fatalf("ExportKey failed: %v", err)
	}
	malloryData, err := src.ExportKey(ctx, mallory.KeyID, true, false)
	if err != nil {
		t.Fatalf("ExportKey failed: %v", err)
	}

	ts := decodeSecretExport(t, aliceData)
	ts.Secret.Data = decodeSecretExport(t, malloryData).Secret.Data
	if _, err := dst.ImportKey(ctx, encodeSecretExport(t, ts)); !errors.Is(err, qpgp.ErrInvalidInput) {
		t.Fatalf("ImportKey(unprotected mismatch) error = %v, want invalid input", err)
	}

	// Protected material cannot be checked without the passphrase, so the
	// mismatch surfaces on first use.
	k, err := src.load(ctx, mallory.KeyID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	m, err := k.secret.unlock(nil)
	if err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	ps, err := protect(src.rand, alice.KeyID, m, []byte("pw"), testKDF)
	m.wipe()
	if err != nil {
		t.Fatalf("protect failed: %v", err)
	}
	ts = decodeSecretExport(t, aliceData)
	ts.Secret = *ps
	if _, err := dst.ImportKey(ctx, encodeSecretExport(t, ts)); err != nil {
		t.Fatalf("ImportKey(protected) failed: %v", err)
	}

	_, err = dst.Sign(ctx, qpgp.SignRequest{Signer: alice.KeyID, Message: []byte("m"), Passphrase: []byte("pw")})
	if !errors.Is(err, qpgp.ErrBackend) {
		t.Errorf("Sign with mismatched material: error = %v, want backend error", err)
	}
	_, err = dst.RevokeKey(ctx, qpgp.RevokeRequest{KeyID: alice.KeyID, Reason: qpgp.ReasonKeyRetired, Passphrase: []byte("pw")})
	if !errors.Is(err, qpgp.ErrBackend) {
		t.Errorf("RevokeKey with mismatched material: error = %v, want backend error", err)
	}
}

// =============================================================================
// Revoke / Rotate Tests
// =============================================================================

func TestF_RevokeKey(t *testing.T) {
	b := newTestBackend(t)
	other := newTestBackend(t)
	ctx := context.Background()
	key := genKey(t, b, "rev", qpgp.PolicyRequired, 0, []byte("pw"))

	pub, err := b.ExportKey(ctx, key.KeyID, false, false)
	if err != nil {
		t.Fatalf("ExportKey failed: %v", err)
	}
	if _, err := other.ImportKey(ctx, pub); err != nil {
		t.Fatalf("ImportKey failed: %v", err)
	}

	if _, err := b.RevokeKey(ctx, qpgp.RevokeRequest{KeyID: key.KeyID, Reason: qpgp.ReasonKeyRetired, Passphrase: []byte("bad")}); !errors.Is(err, qpgp.ErrInvalidInput) {
		t.Fatalf("RevokeKey(wrong passphrase) error = %v", err)
	}

	res, err := b.RevokeKey(ctx, qpgp.RevokeRequest{
		KeyID:      key.KeyID,
		Reason:     qpgp.ReasonKeyRetired,
		Message:    "decommissioned host",
		Armor:      true,
		Passphrase: []byte("pw"),
	})
	if err != nil {
		t.Fatalf("RevokeKey failed: %v", err)
	}

	keys, _ := b.ListKeys(ctx)
	if len(keys) != 1 || !keys[0].Revoked || keys[0].RevocationReason == nil || *keys[0].RevocationReason != qpgp.ReasonKeyRetired {
		t.Errorf("ListKeys() after revoke = %+v", keys)
	}
	if !keys[0].HasSecret {
		t.Error("revocation dropped the secret key")
	}

	// The updated certificate carries the revocation to other keyrings.
	meta, err := other.ImportKey(ctx, res.UpdatedCert)
	if err != nil || !meta.Revoked {
		t.Errorf("ImportKey(updated cert) = %+v, %v", meta, err)
	}

	// Importing the stale certificate again does not undo the revocation.
	if meta, err := other.ImportKey(ctx, pub); err != nil || !meta.Revoked {
		t.Errorf("re-import of stale cert = %+v, %v", meta, err)
	}

	if _, err := b.Encrypt(ctx, qpgp.EncryptRequest{Recipients: []qpgp.KeyID{key.KeyID}, Plaintext: []byte("x")}); !errors.Is(err, qpgp.ErrInvalidInput) {
		t.Errorf("Encrypt to revoked key: error = %v", err)
	}
	if _, err := b.Sign(ctx, qpgp.SignRequest{Signer: key.KeyID, Message: []byte("x"), Passphrase: []byte("pw")}); !errors.Is(err, qpgp.ErrInvalidInput) {
		t.Errorf("Sign with revoked key: error = %v", err)
	}
	if _, err := b.RevokeKey(ctx, qpgp.RevokeRequest{KeyID: key.KeyID, Passphrase: []byte("pw")}); !errors.Is(err, qpgp.ErrInvalidInput) {
		t.Errorf("second RevokeKey error = %v", err)
	}
}

func TestF_Verify_AfterRevocation(t *testing.T) {
	tests := []struct {
		reason qpgp.RevocationReason
		want   bool
	}{
		{qpgp.ReasonKeySuperseded, true},
		{qpgp.ReasonKeyRetired, true},
		{qpgp.ReasonKeyCompromised, false},
		{qpgp.ReasonUnspecified, false},
	}

	for _, tt := range tests {
		t.Run(tt.reason.String(), func(t *testing.T) {
			clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
			b := New(NameNative, keyring.NewFileStore(t.TempDir()), Options{KDF: testKDF, Now: clock.now})
			ctx := context.Background()
			key := genKey(t, b, "k", qpgp.PolicyRequired, 0, nil)

			sig, err := b.Sign(ctx, qpgp.SignRequest{Signer: key.KeyID, Message: []byte("m")})
			if err != nil {
				t.Fatalf("Sign failed: %v", err)
			}
			clock.t = clock.t.Add(24 * time.Hour)
			if _, err := b.RevokeKey(ctx, qpgp.RevokeRequest{KeyID: key.KeyID, Reason: tt.reason}); err != nil {
				t.Fatalf("RevokeKey failed: %v", err)
			}

			res, err := b.Verify(ctx, qpgp.VerifyRequest{Signer: key.KeyID, Message: []byte("m"), Signature: sig})
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if res.Valid != tt.want {
				t.Errorf("Verify().Valid = %v, want %v", res.Valid, tt.want)
			}
		})
	}
}

func TestF_RotateKey(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	old := genKey(t, b, "Ops <ops@example.com>", qpgp.PolicyRequired, qpgp.LevelBaseline, []byte("old"))

	res, err := b.RotateKey(ctx, qpgp.RotateRequest{
		KeyID:         old.KeyID,
		PqcLevel:      qpgp.LevelHigh,
		Passphrase:    []byte("new"),
		OldPassphrase: []byte("old"),
		RevokeOld:     true,
	})
	if err != nil {
		t.Fatalf("RotateKey failed: %v", err)
	}
	if !res.OldKeyRevoked || res.NewKey.Algo != SuiteMLDSA87Ed448 {
		t.Errorf("RotateKey() = %+v", res)
	}
	if res.NewKey.UserID == nil || *res.NewKey.UserID != "Ops <ops@example.com>" {
		t.Errorf("new key user id = %v", res.NewKey.UserID)
	}

	keys, _ := b.ListKeys(ctx)
	if len(keys) != 2 {
		t.Fatalf("ListKeys() = %d keys, want 2", len(keys))
	}
	for _, k := range keys {
		if k.KeyID == old.KeyID && (!k.Revoked || *k.RevocationReason != qpgp.ReasonKeySuperseded) {
			t.Errorf("old key = %+v", k)
		}
	}
}

func TestF_RotateKey_PartialFailure(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	old := genKey(t, b, "p", qpgp.PolicyRequired, 0, []byte("old"))

	res, err := b.RotateKey(ctx, qpgp.RotateRequest{
		KeyID:            old.KeyID,
		AllowUnprotected: true,
		OldPassphrase:    []byte("not it"),
		RevokeOld:        true,
	})
	var rerr *qpgp.RotationError
	if !errors.As(err, &rerr) {
		t.Fatalf("RotateKey() error = %v, want *RotationError", err)
	}
	if rerr.Step != qpgp.StepRevoke || rerr.NewKey == nil {
		t.Fatalf("RotationError = %+v", rerr)
	}
	if res.NewKey.KeyID != rerr.NewKey.KeyID || res.OldKeyRevoked {
		t.Errorf("RotateResult = %+v", res)
	}

	// The new key exists and the old one can still be revoked on retry.
	if keys, _ := b.ListKeys(ctx); len(keys) != 2 {
		t.Errorf("ListKeys() = %d keys, want 2", len(keys))
	}
	if _, err := b.RevokeKey(ctx, qpgp.RevokeRequest{KeyID: old.KeyID, Reason: qpgp.ReasonKeySuperseded, Passphrase: []byte("old")}); err != nil {
		t.Errorf("retry RevokeKey failed: %v", err)
	}
}

func TestF_RotateKey_GenerateFailure(t *testing.T) {
	store := keyring.NewFileStore(t.TempDir())
	native := New(NameNative, store, Options{KDF: testKDF})
	classic := newClassicBackend(t, store)
	old := genKey(t, native, "c", qpgp.PolicyDisabled, 0, nil)

	_, err := classic.RotateKey(context.Background(), qpgp.RotateRequest{KeyID: old.KeyID, AllowUnprotected: true, RevokeOld: true})
	var rerr *qpgp.RotationError
	if !errors.As(err, &rerr) || rerr.Step != qpgp.StepGenerate || rerr.NewKey != nil {
		t.Fatalf("RotateKey() error = %v", err)
	}
	if !errors.Is(err, qpgp.ErrNotImplemented) {
		t.Errorf("RotateKey() error kind = %s, want not implemented", qpgp.KindOf(err))
	}
}

// =============================================================================
// Registry Tests
// =============================================================================

func TestU_Open(t *testing.T) {
	home := t.TempDir()

	b, err := Open("native", home, Options{})
	if err != nil || !b.SupportsPQC() || b.Name() != NameNative {
		t.Errorf("Open(native) = %v, %v", b, err)
	}
	b, err = Open("Classic", home, Options{})
	if err != nil || b.SupportsPQC() || b.Name() != NameClassic {
		t.Errorf("Open(classic) = %v, %v", b, err)
	}
	if _, err := Open("gnupg", home, Options{}); !errors.Is(err, qpgp.ErrInvalidInput) {
		t.Errorf("Open(gnupg) error = %v", err)
	}
}

func TestU_SuiteNames(t *testing.T) {
	if got := SuiteNames(false); len(got) != 1 || got[0] != SuiteEd25519 {
		t.Errorf("SuiteNames(false) = %v", got)
	}
	if got := SuiteNames(true); len(got) != 3 {
		t.Errorf("SuiteNames(true) = %v", got)
	}
}
