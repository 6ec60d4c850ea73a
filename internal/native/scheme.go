package native

import (
	"crypto"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/dh/x25519"
	"github.com/cloudflare/circl/dh/x448"
	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/cloudflare/circl/sign/ed448"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
)

var errKeySize = errors.New("malformed key material")

// signScheme is one component of a (possibly composite) signature.
type signScheme interface {
	generate(rand io.Reader) (pub, priv []byte, err error)
	sign(rand io.Reader, priv, msg []byte) ([]byte, error)
	verify(pub, msg, sig []byte) bool
}

// kemScheme is one component of a (possibly hybrid) key encapsulation.
// Diffie-Hellman components encapsulate with an ephemeral key pair.
type kemScheme interface {
	generate(rand io.Reader) (pub, priv []byte, err error)
	encapsulate(rand io.Reader, pub []byte) (ct, ss []byte, err error)
	decapsulate(priv, ct []byte) ([]byte, error)
}

var signSchemes = map[string]signScheme{
	algEd25519: ed25519Scheme{},
	algEd448:   ed448Scheme{},
	algMLDSA65: mldsa65Scheme{},
	algMLDSA87: mldsa87Scheme{},
}

var kemSchemes = map[string]kemScheme{
	algX25519:    x25519Scheme{},
	algX448:      x448Scheme{},
	algMLKEM768:  mlkemScheme{scheme: mlkem768.Scheme()},
	algMLKEM1024: mlkemScheme{scheme: mlkem1024.Scheme()},
}

func signSchemeFor(alg string) (signScheme, error) {
	s, ok := signSchemes[alg]
	if !ok {
		return nil, fmt.Errorf("unsupported signature algorithm %q", alg)
	}
	return s, nil
}

func kemSchemeFor(alg string) (kemScheme, error) {
	s, ok := kemSchemes[alg]
	if !ok {
		return nil, fmt.Errorf("unsupported encryption algorithm %q", alg)
	}
	return s, nil
}

// =============================================================================
// Signatures
// =============================================================================

type ed25519Scheme struct{}

func (ed25519Scheme) generate(rand io.Reader) ([]byte, []byte, error) {
	pub, priv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

func (ed25519Scheme) sign(_ io.Reader, priv, msg []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errKeySize
	}
	return ed25519.Sign(ed25519.PrivateKey(priv), msg), nil
}

func (ed25519Scheme) verify(pub, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}

type ed448Scheme struct{}

func (ed448Scheme) generate(rand io.Reader) ([]byte, []byte, error) {
	pub, priv, err := ed448.GenerateKey(rand)
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

func (ed448Scheme) sign(_ io.Reader, priv, msg []byte) ([]byte, error) {
	if len(priv) != ed448.PrivateKeySize {
		return nil, errKeySize
	}
	return ed448.Sign(ed448.PrivateKey(priv), msg, ""), nil
}

func (ed448Scheme) verify(pub, msg, sig []byte) bool {
	if len(pub) != ed448.PublicKeySize || len(sig) != ed448.SignatureSize {
		return false
	}
	return ed448.Verify(ed448.PublicKey(pub), msg, sig, "")
}

type mldsa65Scheme struct{}

func (mldsa65Scheme) generate(rand io.Reader) ([]byte, []byte, error) {
	pk, sk, err := mldsa65.GenerateKey(rand)
	if err != nil {
		return nil, nil, err
	}
	return pk.Bytes(), sk.Bytes(), nil
}

func (mldsa65Scheme) sign(rand io.Reader, priv, msg []byte) ([]byte, error) {
	var sk mldsa65.PrivateKey
	if err := sk.UnmarshalBinary(priv); err != nil {
		return nil, errKeySize
	}
	return sk.Sign(rand, msg, crypto.Hash(0))
}

func (mldsa65Scheme) verify(pub, msg, sig []byte) bool {
	var pk mldsa65.PublicKey
	if err := pk.UnmarshalBinary(pub); err != nil {
		return false
	}
	return mldsa65.Verify(&pk, msg, nil, sig)
}

type mldsa87Scheme struct{}

func (mldsa87Scheme) generate(rand io.Reader) ([]byte, []byte, error) {
	pk, sk, err := mldsa87.GenerateKey(rand)
	if err != nil {
		return nil, nil, err
	}
	return pk.Bytes(), sk.Bytes(), nil
}

func (mldsa87Scheme) sign(rand io.Reader, priv, msg []byte) ([]byte, error) {
	var sk mldsa87.PrivateKey
	if err := sk.UnmarshalBinary(priv); err != nil {
		return nil, errKeySize
	}
	return sk.Sign(rand, msg, crypto.Hash(0))
}

func (mldsa87Scheme) verify(pub, msg, sig []byte) bool {
	var pk mldsa87.PublicKey
	if err := pk.UnmarshalBinary(pub); err != nil {
		return false
	}
	return mldsa87.Verify(&pk, msg, nil, sig)
}

// =============================================================================
// Key encapsulation
// =============================================================================

type x25519Scheme struct{}

func (x25519Scheme) generate(rand io.Reader) ([]byte, []byte, error) {
	var pub, sec x25519.Key
	if _, err := io.ReadFull(rand, sec[:]); err != nil {
		return nil, nil, err
	}
	x25519.KeyGen(&pub, &sec)
	return pub[:], sec[:], nil
}

func (s x25519Scheme) encapsulate(rand io.Reader, pub []byte) ([]byte, []byte, error) {
	ephPub, ephSec, err := s.generate(rand)
	if err != nil {
		return nil, nil, err
	}
	ss, err := s.decapsulate(ephSec, pub)
	if err != nil {
		return nil, nil, err
	}
	return ephPub, ss, nil
}

func (x25519Scheme) decapsulate(priv, ct []byte) ([]byte, error) {
	if len(priv) != x25519.Size || len(ct) != x25519.Size {
		return nil, errKeySize
	}
	var sec, peer, shared x25519.Key
	copy(sec[:], priv)
	copy(peer[:], ct)
	if !x25519.Shared(&shared, &sec, &peer) {
		return nil, errors.New("x25519: low-order point")
	}
	return shared[:], nil
}

type x448Scheme struct{}

func (x448Scheme) generate(rand io.Reader) ([]byte, []byte, error) {
	var pub, sec x448.Key
	if _, err := io.ReadFull(rand, sec[:]); err != nil {
		return nil, nil, err
	}
	x448.KeyGen(&pub, &sec)
	return pub[:], sec[:], nil
}

func (s x448Scheme) encapsulate(rand io.Reader, pub []byte) ([]byte, []byte, error) {
	ephPub, ephSec, err := s.generate(rand)
	if err != nil {
		return nil, nil, err
	}
	ss, err := s.decapsulate(ephSec, pub)
	if err != nil {
		return nil, nil, err
	}
	return ephPub, ss, nil
}

func (x448Scheme) decapsulate(priv, ct []byte) ([]byte, error) {
	if len(priv) != x448.Size || len(ct) != x448.Size {
		return nil, errKeySize
	}
	var sec, peer, shared x448.Key
	copy(sec[:], priv)
	copy(peer[:], ct)
	if !x448.Shared(&shared, &sec, &peer) {
		return nil, errors.New("x448: low-order point")
	}
	return shared[:], nil
}

type mlkemScheme struct {
	scheme kem.Scheme
}

func (s mlkemScheme) generate(rand io.Reader) ([]byte, []byte, error) {
	seed := make([]byte, s.scheme.SeedSize())
	if _, err := io.ReadFull(rand, seed); err != nil {
		return nil, nil, err
	}
	pk, sk := s.scheme.DeriveKeyPair(seed)
	pub, err := pk.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	priv, err := sk.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

func (s mlkemScheme) encapsulate(rand io.Reader, pub []byte) ([]byte, []byte, error) {
	pk, err := s.scheme.UnmarshalBinaryPublicKey(pub)
	if err != nil {
		return nil, nil, errKeySize
	}
	seed := make([]byte, s.scheme.EncapsulationSeedSize())
	if _, err := io.ReadFull(rand, seed); err != nil {
		return nil, nil, err
	}
	return s.scheme.EncapsulateDeterministically(pk, seed)
}

func (s mlkemScheme) decapsulate(priv, ct []byte) ([]byte, error) {
	sk, err := s.scheme.UnmarshalBinaryPrivateKey(priv)
	if err != nil {
		return nil, errKeySize
	}
	if len(ct) != s.scheme.CiphertextSize() {
		return nil, errors.New("ml-kem: malformed ciphertext")
	}
	return s.scheme.Decapsulate(sk, ct)
}
