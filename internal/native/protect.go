package native

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/remiblancher/encrypto/pkg/qpgp"
)

// KDFParams tunes Argon2id passphrase stretching.
type KDFParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultKDFParams follow the RFC 9106 second recommended option.
var DefaultKDFParams = KDFParams{Time: 3, Memory: 64 * 1024, Threads: 4}

const saltSize = 16

// Ceilings for Argon2id parameters read from key files.
const (
	maxKDFTime   = 16
	maxKDFMemory = 4 * 1024 * 1024 // KiB
)

var errWrongPassphrase = errors.New("wrong passphrase")

type secretMaterial struct {
	Signing    [][]byte `cbor:"1,keyasint"`
	Encryption [][]byte `cbor:"2,keyasint"`
}

func (m *secretMaterial) wipe() {
	for _, b := range m.Signing {
		qpgp.Wipe(b)
	}
	for _, b := range m.Encryption {
		qpgp.Wipe(b)
	}
}

type s2k struct {
	Salt    []byte `cbor:"1,keyasint"`
	Time    uint32 `cbor:"2,keyasint"`
	Memory  uint32 `cbor:"3,keyasint"`
	Threads uint8  `cbor:"4,keyasint"`
}

// protectedSecret is the on-disk secret key. S2K is nil for an
// unprotected key, in which case Data is the plain encoded material.
type protectedSecret struct {
	Fingerprint string `cbor:"1,keyasint"`
	S2K         *s2k   `cbor:"2,keyasint,omitempty"`
	Nonce       []byte `cbor:"3,keyasint,omitempty"`
	Data        []byte `cbor:"4,keyasint"`
}

func (p *protectedSecret) protected() bool { return p.S2K != nil }

func (k *s2k) check() error {
	switch {
	case len(k.Salt) != saltSize:
		return fmt.Errorf("s2k salt must be %d bytes", saltSize)
	case k.Time == 0 || k.Time > maxKDFTime:
		return fmt.Errorf("s2k time %d out of range 1..%d", k.Time, maxKDFTime)
	case k.Threads == 0:
		return errors.New("s2k threads must be positive")
	case k.Memory < 8*uint32(k.Threads) || k.Memory > maxKDFMemory:
		return fmt.Errorf("s2k memory %d KiB out of range %d..%d", k.Memory, 8*uint32(k.Threads), maxKDFMemory)
	}
	return nil
}

func (k *s2k) derive(passphrase []byte) []byte {
	return argon2.IDKey(passphrase, k.Salt, k.Time, k.Memory, k.Threads, chacha20poly1305.KeySize)
}

// protect seals secret material under a passphrase. A nil passphrase
// stores it unprotected.
func protect(rand io.Reader, fp qpgp.KeyID, m *secretMaterial, passphrase []byte, params KDFParams) (*protectedSecret, error) {
	plain, err := marshal(m)
	if err != nil {
		return nil, err
	}
	ps := &protectedSecret{Fingerprint: string(fp)}
	if passphrase == nil {
		ps.Data = plain
		return ps, nil
	}
	defer qpgp.Wipe(plain)

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand, salt); err != nil {
		return nil, err
	}
	ps.S2K = &s2k{Salt: salt, Time: params.Time, Memory: params.Memory, Threads: params.Threads}
	if err := ps.S2K.check(); err != nil {
		return nil, err
	}

	key := ps.S2K.derive(passphrase)
	defer qpgp.Wipe(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	ps.Nonce = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand, ps.Nonce); err != nil {
		return nil, err
	}
	ps.Data = aead.Seal(nil, ps.Nonce, plain, []byte(ps.Fingerprint))
	return ps, nil
}

// unlock recovers the secret material. Callers wipe the result.
func (p *protectedSecret) unlock(passphrase []byte) (*secretMaterial, error) {
	plain := p.Data
	if p.protected() {
		if passphrase == nil {
			return nil, errPassphraseRequired
		}
		if err := p.S2K.check(); err != nil {
			return nil, fmt.Errorf("malformed secret key: %w", err)
		}
		key := p.S2K.derive(passphrase)
		defer qpgp.Wipe(key)
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, err
		}
		if len(p.Nonce) != aead.NonceSize() {
			return nil, errors.New("malformed secret key nonce")
		}
		plain, err = aead.Open(nil, p.Nonce, p.Data, []byte(p.Fingerprint))
		if err != nil {
			return nil, errWrongPassphrase
		}
		defer qpgp.Wipe(plain)
	}

	var m secretMaterial
	if err := cbor.Unmarshal(plain, &m); err != nil {
		return nil, fmt.Errorf("malformed secret key: %w", err)
	}
	return &m, nil
}

var errPassphraseRequired = errors.New("passphrase required")

func encodeSecret(p *protectedSecret) ([]byte, error) {
	return marshal(p)
}

func decodeSecret(data []byte) (*protectedSecret, error) {
	var p protectedSecret
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("malformed secret key: %w", err)
	}
	if err := p.check(); err != nil {
		return nil, err
	}
	return &p, nil
}

// check rejects secret key blocks whose parameters cannot be unlocked
// safely.
func (p *protectedSecret) check() error {
	if p.S2K == nil {
		return nil
	}
	if err := p.S2K.check(); err != nil {
		return fmt.Errorf("malformed secret key: %w", err)
	}
	if len(p.Nonce) != chacha20poly1305.NonceSizeX {
		return errors.New("malformed secret key nonce")
	}
	return nil
}

// transferableSecretKey is the export form of a key with its secret.
type transferableSecretKey struct {
	Certificate certificate     `cbor:"1,keyasint"`
	Secret      protectedSecret `cbor:"2,keyasint"`
}
