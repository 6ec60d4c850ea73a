package native

import (
	"crypto/sha1" //nolint:gosec // v4 fingerprints are SHA-1 by definition
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/remiblancher/encrypto/pkg/qpgp"
)

// Packet types.
const (
	packetPublicKey uint8 = iota + 1
	packetSecretKey
	packetMessage
	packetSignature
)

const packetVersion = 1

// Signature kinds, bound into every signed digest.
const (
	sigBinding uint8 = iota + 1
	sigRevocation
	sigData
)

var encMode = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

func marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// packet is the outer envelope of every serialized object.
type packet struct {
	Type    uint8           `cbor:"1,keyasint"`
	Version uint8           `cbor:"2,keyasint"`
	Body    cbor.RawMessage `cbor:"3,keyasint"`
}

func encodePacket(typ uint8, body any) ([]byte, error) {
	raw, err := marshal(body)
	if err != nil {
		return nil, err
	}
	return marshal(packet{Type: typ, Version: packetVersion, Body: raw})
}

func decodePacket(data []byte) (*packet, error) {
	var p packet
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("malformed packet: %w", err)
	}
	if p.Version != packetVersion {
		return nil, fmt.Errorf("unsupported packet version %d", p.Version)
	}
	if p.Type < packetPublicKey || p.Type > packetSignature {
		return nil, fmt.Errorf("unknown packet type %d", p.Type)
	}
	return &p, nil
}

func unmarshalBody(p *packet, v any) error {
	return cbor.Unmarshal(p.Body, v)
}

type keyComponent struct {
	Algo   string `cbor:"1,keyasint"`
	Public []byte `cbor:"2,keyasint"`
}

type publicKey struct {
	Algo       string         `cbor:"1,keyasint"`
	Created    int64          `cbor:"2,keyasint"`
	Components []keyComponent `cbor:"3,keyasint"`
}

func (k publicKey) algos() []string {
	out := make([]string, len(k.Components))
	for i, c := range k.Components {
		out[i] = c.Algo
	}
	return out
}

// signature is a composite signature: one value per component algorithm,
// all over the same digest.
type signature struct {
	Kind    uint8    `cbor:"1,keyasint"`
	Issuer  string   `cbor:"2,keyasint"`
	Created int64    `cbor:"3,keyasint"`
	Algos   []string `cbor:"4,keyasint"`
	Values  [][]byte `cbor:"5,keyasint"`
}

type revocation struct {
	Reason    uint8     `cbor:"1,keyasint"`
	Message   string    `cbor:"2,keyasint"`
	Signature signature `cbor:"3,keyasint"`
}

type certificate struct {
	Version    int         `cbor:"1,keyasint"`
	Primary    publicKey   `cbor:"2,keyasint"`
	Subkey     publicKey   `cbor:"3,keyasint"`
	UserID     string      `cbor:"4,keyasint"`
	Binding    signature   `cbor:"5,keyasint"`
	Revocation *revocation `cbor:"6,keyasint,omitempty"`
}

type fingerprintInput struct {
	Version int       `cbor:"1,keyasint"`
	Primary publicKey `cbor:"2,keyasint"`
}

type bindingInput struct {
	Primary publicKey `cbor:"1,keyasint"`
	Subkey  publicKey `cbor:"2,keyasint"`
	UserID  string    `cbor:"3,keyasint"`
}

type revocationInput struct {
	Primary publicKey `cbor:"1,keyasint"`
	Reason  uint8     `cbor:"2,keyasint"`
	Message string    `cbor:"3,keyasint"`
}

type signatureHeader struct {
	Kind    uint8    `cbor:"1,keyasint"`
	Issuer  string   `cbor:"2,keyasint"`
	Created int64    `cbor:"3,keyasint"`
	Algos   []string `cbor:"4,keyasint"`
}

// fingerprint derives the key fingerprint from the primary key: SHA-256
// (64 hex) for v6 keys, SHA-1 (40 hex) for v4 keys.
func (c *certificate) fingerprint() (qpgp.KeyID, error) {
	data, err := marshal(fingerprintInput{Version: c.Version, Primary: c.Primary})
	if err != nil {
		return "", err
	}
	var sum []byte
	switch c.Version {
	case 6:
		s := sha256.Sum256(data)
		sum = s[:]
	case 4:
		s := sha1.Sum(data) //nolint:gosec
		sum = s[:]
	default:
		return "", fmt.Errorf("unsupported key version %d", c.Version)
	}
	return qpgp.KeyID(strings.ToUpper(hex.EncodeToString(sum))), nil
}

func (c *certificate) family() qpgp.Family {
	return familyOf(c.Primary.algos())
}

func (c *certificate) bindingPayload() ([]byte, error) {
	return marshal(bindingInput{Primary: c.Primary, Subkey: c.Subkey, UserID: c.UserID})
}

func (c *certificate) revocationPayload(reason uint8, message string) ([]byte, error) {
	return marshal(revocationInput{Primary: c.Primary, Reason: reason, Message: message})
}

// meta builds the public snapshot of a key.
func (c *certificate) meta(fp qpgp.KeyID, hasSecret bool) qpgp.KeyMeta {
	m := qpgp.KeyMeta{
		KeyID:     fp,
		Algo:      c.Primary.Algo,
		HasSecret: hasSecret,
	}
	if c.UserID != "" {
		uid := qpgp.UserID(c.UserID)
		m.UserID = &uid
	}
	if c.Primary.Created != 0 {
		created := time.Unix(c.Primary.Created, 0).UTC()
		m.Created = &created
	}
	if c.Revocation != nil {
		m.Revoked = true
		if r, err := qpgp.ReasonFromCode(c.Revocation.Reason); err == nil {
			m.RevocationReason = &r
		}
	}
	return m
}

// check validates structure, the fingerprint and the self-binding and
// revocation signatures of a parsed certificate.
func (c *certificate) check() (qpgp.KeyID, suite, error) {
	s, ok := lookupSuite(c.Primary.Algo)
	if !ok {
		return "", suite{}, fmt.Errorf("unsupported key algorithm %q", c.Primary.Algo)
	}
	if c.Version != s.Version || c.Subkey.Algo != s.EncName {
		return "", suite{}, fmt.Errorf("inconsistent %s certificate", s.Name)
	}
	if !sameAlgos(c.Primary.algos(), s.Signers) || !sameAlgos(c.Subkey.algos(), s.KEMs) {
		return "", suite{}, fmt.Errorf("inconsistent %s key components", s.Name)
	}
	fp, err := c.fingerprint()
	if err != nil {
		return "", suite{}, err
	}

	payload, err := c.bindingPayload()
	if err != nil {
		return "", suite{}, err
	}
	if !verifySignature(&c.Binding, sigBinding, fp, c.Primary, payload) {
		return "", suite{}, errors.New("self-binding signature does not verify")
	}

	if c.Revocation != nil {
		payload, err := c.revocationPayload(c.Revocation.Reason, c.Revocation.Message)
		if err != nil {
			return "", suite{}, err
		}
		if !verifySignature(&c.Revocation.Signature, sigRevocation, fp, c.Primary, payload) {
			return "", suite{}, errors.New("revocation signature does not verify")
		}
	}
	return fp, s, nil
}

func sameAlgos(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func encodeCertificate(c *certificate) ([]byte, error) {
	return encodePacket(packetPublicKey, c)
}

func decodeCertificate(data []byte) (*certificate, error) {
	p, err := decodePacket(data)
	if err != nil {
		return nil, err
	}
	if p.Type != packetPublicKey {
		return nil, fmt.Errorf("expected a public key, got packet type %d", p.Type)
	}
	var c certificate
	if err := cbor.Unmarshal(p.Body, &c); err != nil {
		return nil, fmt.Errorf("malformed certificate: %w", err)
	}
	return &c, nil
}

// =============================================================================
// Composite signatures
// =============================================================================

func signedDigest(sig *signature, family qpgp.Family, payload []byte) ([]byte, error) {
	hdr, err := marshal(signatureHeader{Kind: sig.Kind, Issuer: sig.Issuer, Created: sig.Created, Algos: sig.Algos})
	if err != nil {
		return nil, err
	}
	return digest(family, append(hdr, payload...)), nil
}

// makeSignature signs payload with every component of the primary key.
func makeSignature(rand io.Reader, kind uint8, issuer qpgp.KeyID, primary publicKey, secrets [][]byte, created time.Time, payload []byte) (signature, error) {
	if len(secrets) != len(primary.Components) {
		return signature{}, errors.New("secret key does not match certificate")
	}
	sig := signature{
		Kind:    kind,
		Issuer:  string(issuer),
		Created: created.Unix(),
		Algos:   primary.algos(),
	}
	d, err := signedDigest(&sig, familyOf(sig.Algos), payload)
	if err != nil {
		return signature{}, err
	}
	for i, comp := range primary.Components {
		scheme, err := signSchemeFor(comp.Algo)
		if err != nil {
			return signature{}, err
		}
		v, err := scheme.sign(rand, secrets[i], d)
		if err != nil {
			return signature{}, fmt.Errorf("%s signature: %w", comp.Algo, err)
		}
		sig.Values = append(sig.Values, v)
	}
	return sig, nil
}

// verifySignature reports whether every component of sig verifies against
// the primary key. A signature with missing or extra components is invalid.
func verifySignature(sig *signature, kind uint8, issuer qpgp.KeyID, primary publicKey, payload []byte) bool {
	if sig.Kind != kind || sig.Issuer != string(issuer) {
		return false
	}
	if !sameAlgos(sig.Algos, primary.algos()) || len(sig.Values) != len(primary.Components) {
		return false
	}
	d, err := signedDigest(sig, familyOf(sig.Algos), payload)
	if err != nil {
		return false
	}
	for i, comp := range primary.Components {
		scheme, err := signSchemeFor(comp.Algo)
		if err != nil {
			return false
		}
		if !scheme.verify(comp.Public, d, sig.Values[i]) {
			return false
		}
	}
	return true
}

func encodeSignature(sig *signature) ([]byte, error) {
	return encodePacket(packetSignature, sig)
}

func decodeSignature(data []byte) (*signature, error) {
	p, err := decodePacket(data)
	if err != nil {
		return nil, err
	}
	if p.Type != packetSignature {
		return nil, fmt.Errorf("expected a signature, got packet type %d", p.Type)
	}
	var sig signature
	if err := cbor.Unmarshal(p.Body, &sig); err != nil {
		return nil, fmt.Errorf("malformed signature: %w", err)
	}
	if len(sig.Algos) == 0 || len(sig.Algos) != len(sig.Values) {
		return nil, errors.New("malformed signature: component count mismatch")
	}
	return &sig, nil
}
