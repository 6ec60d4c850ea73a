package native

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/hkdf"

	"github.com/remiblancher/encrypto/pkg/qpgp"
)

const (
	sessionKeySize = 32
	kekInfoPrefix  = "encrypto hybrid kek v1 "
	payloadAAD     = "encrypto message v1"
)

// recipientBlock carries the session key wrapped for one recipient.
type recipientBlock struct {
	Fingerprint string   `cbor:"1,keyasint"`
	Algo        string   `cbor:"2,keyasint"`
	Algos       []string `cbor:"3,keyasint"`
	Ciphertexts [][]byte `cbor:"4,keyasint"`
	Nonce       []byte   `cbor:"5,keyasint"`
	WrappedKey  []byte   `cbor:"6,keyasint"`
}

type encryptedMessage struct {
	Recipients []recipientBlock `cbor:"1,keyasint"`
	Nonce      []byte           `cbor:"2,keyasint"`
	Ciphertext []byte           `cbor:"3,keyasint"`
}

// family is the weakest family across recipients: a single classical
// block exposes the session key to a classical-only attack.
func (m *encryptedMessage) family() qpgp.Family {
	if len(m.Recipients) == 0 {
		return qpgp.FamilyClassical
	}
	for _, r := range m.Recipients {
		if familyOf(r.Algos) == qpgp.FamilyClassical {
			return qpgp.FamilyClassical
		}
	}
	return qpgp.FamilyPostQuantum
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// deriveKEK combines the component shared secrets, classical first.
func deriveKEK(family qpgp.Family, secrets [][]byte, fp string, algo string) ([]byte, error) {
	var ikm []byte
	for _, s := range secrets {
		ikm = append(ikm, s...)
	}
	defer qpgp.Wipe(ikm)

	kek := make([]byte, 32)
	r := hkdf.New(kdfHash(family), ikm, nil, []byte(kekInfoPrefix+algo+" "+fp))
	if _, err := io.ReadFull(r, kek); err != nil {
		return nil, err
	}
	return kek, nil
}

// sealTo wraps the session key for one recipient's encryption subkey.
func sealTo(rand io.Reader, fp qpgp.KeyID, sub publicKey, sessionKey []byte) (recipientBlock, error) {
	rb := recipientBlock{Fingerprint: string(fp), Algo: sub.Algo, Algos: sub.algos()}
	var secrets [][]byte
	defer func() {
		for _, s := range secrets {
			qpgp.Wipe(s)
		}
	}()
	for _, comp := range sub.Components {
		scheme, err := kemSchemeFor(comp.Algo)
		if err != nil {
			return rb, err
		}
		ct, ss, err := scheme.encapsulate(rand, comp.Public)
		if err != nil {
			return rb, fmt.Errorf("%s encapsulation: %w", comp.Algo, err)
		}
		rb.Ciphertexts = append(rb.Ciphertexts, ct)
		secrets = append(secrets, ss)
	}

	kek, err := deriveKEK(familyOf(rb.Algos), secrets, rb.Fingerprint, rb.Algo)
	if err != nil {
		return rb, err
	}
	defer qpgp.Wipe(kek)
	aead, err := newGCM(kek)
	if err != nil {
		return rb, err
	}
	rb.Nonce = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand, rb.Nonce); err != nil {
		return rb, err
	}
	rb.WrappedKey = aead.Seal(nil, rb.Nonce, sessionKey, []byte(rb.Fingerprint))
	return rb, nil
}

var errUnwrap = errors.New("session key does not unwrap")

// openFrom recovers the session key using the recipient's secret subkey.
func openFrom(rb *recipientBlock, sub publicKey, secrets [][]byte) ([]byte, error) {
	if !sameAlgos(rb.Algos, sub.algos()) || len(rb.Ciphertexts) != len(sub.Components) || len(secrets) != len(sub.Components) {
		return nil, errors.New("recipient block does not match the key")
	}
	shared := make([][]byte, 0, len(sub.Components))
	defer func() {
		for _, s := range shared {
			qpgp.Wipe(s)
		}
	}()
	for i, comp := range sub.Components {
		scheme, err := kemSchemeFor(comp.Algo)
		if err != nil {
			return nil, err
		}
		ss, err := scheme.decapsulate(secrets[i], rb.Ciphertexts[i])
		if err != nil {
			return nil, fmt.Errorf("%s decapsulation: %w", comp.Algo, err)
		}
		shared = append(shared, ss)
	}

	kek, err := deriveKEK(familyOf(rb.Algos), shared, rb.Fingerprint, rb.Algo)
	if err != nil {
		return nil, err
	}
	defer qpgp.Wipe(kek)
	aead, err := newGCM(kek)
	if err != nil {
		return nil, err
	}
	if len(rb.Nonce) != aead.NonceSize() {
		return nil, errUnwrap
	}
	sk, err := aead.Open(nil, rb.Nonce, rb.WrappedKey, []byte(rb.Fingerprint))
	if err != nil || len(sk) != sessionKeySize {
		return nil, errUnwrap
	}
	return sk, nil
}

// sealPayload encrypts the plaintext under a fresh session key.
func sealPayload(rand io.Reader, msg *encryptedMessage, sessionKey, plaintext []byte) error {
	aead, err := newGCM(sessionKey)
	if err != nil {
		return err
	}
	msg.Nonce = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand, msg.Nonce); err != nil {
		return err
	}
	msg.Ciphertext = aead.Seal(nil, msg.Nonce, plaintext, []byte(payloadAAD))
	return nil
}

func openPayload(msg *encryptedMessage, sessionKey []byte) ([]byte, error) {
	aead, err := newGCM(sessionKey)
	if err != nil {
		return nil, err
	}
	if len(msg.Nonce) != aead.NonceSize() {
		return nil, errors.New("malformed message nonce")
	}
	pt, err := aead.Open(nil, msg.Nonce, msg.Ciphertext, []byte(payloadAAD))
	if err != nil {
		return nil, errors.New("message integrity check failed")
	}
	return pt, nil
}

func encodeMessage(m *encryptedMessage) ([]byte, error) {
	return encodePacket(packetMessage, m)
}

func decodeMessage(data []byte) (*encryptedMessage, error) {
	p, err := decodePacket(data)
	if err != nil {
		return nil, err
	}
	if p.Type != packetMessage {
		return nil, fmt.Errorf("expected an encrypted message, got packet type %d", p.Type)
	}
	var m encryptedMessage
	if err := cbor.Unmarshal(p.Body, &m); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	if len(m.Recipients) == 0 {
		return nil, errors.New("message has no recipients")
	}
	return &m, nil
}
