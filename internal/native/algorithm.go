// Package native is the built-in cryptography provider. It implements
// qpgp.Backend on top of cloudflare/circl (ML-DSA, ML-KEM, Ed448, X25519,
// X448) and the standard library, keeping keys in a file keyring.
package native

import (
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"sort"

	"golang.org/x/crypto/sha3"

	"github.com/remiblancher/encrypto/pkg/qpgp"
)

// Algorithm suite names as shown by list-keys.
const (
	SuiteEd25519        = "Ed25519"
	SuiteMLDSA65Ed25519 = "MLDSA65_Ed25519"
	SuiteMLDSA87Ed448   = "MLDSA87_Ed448"
)

// Component algorithm names.
const (
	algEd25519   = "Ed25519"
	algEd448     = "Ed448"
	algMLDSA65   = "ML-DSA-65"
	algMLDSA87   = "ML-DSA-87"
	algX25519    = "X25519"
	algX448      = "X448"
	algMLKEM768  = "ML-KEM-768"
	algMLKEM1024 = "ML-KEM-1024"
)

// suite pairs a primary signing key with its encryption subkey.
type suite struct {
	Name    string
	Version int
	Family  qpgp.Family
	Signers []string
	EncName string
	// KEMs are combined in order; classical components come first.
	KEMs []string
}

var suites = map[string]suite{
	SuiteEd25519: {
		Name:    SuiteEd25519,
		Version: 4,
		Family:  qpgp.FamilyClassical,
		Signers: []string{algEd25519},
		EncName: "X25519",
		KEMs:    []string{algX25519},
	},
	SuiteMLDSA65Ed25519: {
		Name:    SuiteMLDSA65Ed25519,
		Version: 6,
		Family:  qpgp.FamilyPostQuantum,
		Signers: []string{algMLDSA65, algEd25519},
		EncName: "MLKEM768_X25519",
		KEMs:    []string{algX25519, algMLKEM768},
	},
	SuiteMLDSA87Ed448: {
		Name:    SuiteMLDSA87Ed448,
		Version: 6,
		Family:  qpgp.FamilyPostQuantum,
		Signers: []string{algMLDSA87, algEd448},
		EncName: "MLKEM1024_X448",
		KEMs:    []string{algX448, algMLKEM1024},
	},
}

// lookupSuite returns the suite for a primary algorithm name.
func lookupSuite(name string) (suite, bool) {
	s, ok := suites[name]
	return s, ok
}

// suiteFor picks the suite for a policy decision and level.
func suiteFor(tier qpgp.Tier, level qpgp.PqcLevel) suite {
	if tier == qpgp.TierClassical {
		return suites[SuiteEd25519]
	}
	if level == qpgp.LevelHigh {
		return suites[SuiteMLDSA87Ed448]
	}
	return suites[SuiteMLDSA65Ed25519]
}

// SuiteNames lists the supported primary algorithms in sorted order.
func SuiteNames(pqc bool) []string {
	var names []string
	for name, s := range suites {
		if s.Family == qpgp.FamilyPostQuantum && !pqc {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// familyOf classifies a list of component algorithms. Any post-quantum
// component makes the whole construction post-quantum.
func familyOf(algs []string) qpgp.Family {
	for _, a := range algs {
		switch a {
		case algMLDSA65, algMLDSA87, algMLKEM768, algMLKEM1024:
			return qpgp.FamilyPostQuantum
		}
	}
	return qpgp.FamilyClassical
}

// digest is the to-be-signed hash for a family.
func digest(f qpgp.Family, data []byte) []byte {
	if f == qpgp.FamilyPostQuantum {
		d := sha3.Sum512(data)
		return d[:]
	}
	d := sha512.Sum512(data)
	return d[:]
}

// kdfHash is the HKDF hash for a family.
func kdfHash(f qpgp.Family) func() hash.Hash {
	if f == qpgp.FamilyPostQuantum {
		return sha3.New256
	}
	return sha256.New
}
