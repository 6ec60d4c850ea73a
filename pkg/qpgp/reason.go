package qpgp

import (
	"fmt"
	"strings"
)

// RevocationReason is the stated reason for revoking a key. Values map 1:1
// onto the OpenPGP reason-for-revocation codes (see Code).
type RevocationReason int

const (
	ReasonUnspecified RevocationReason = iota
	ReasonKeyCompromised
	ReasonKeySuperseded
	ReasonKeyRetired
	ReasonUserIDInvalid
)

// Code returns the OpenPGP reason-for-revocation octet.
func (r RevocationReason) Code() uint8 {
	switch r {
	case ReasonKeySuperseded:
		return 1
	case ReasonKeyCompromised:
		return 2
	case ReasonKeyRetired:
		return 3
	case ReasonUserIDInvalid:
		return 32
	default:
		return 0
	}
}

// ReasonFromCode maps an OpenPGP reason-for-revocation octet back.
func ReasonFromCode(code uint8) (RevocationReason, error) {
	switch code {
	case 0:
		return ReasonUnspecified, nil
	case 1:
		return ReasonKeySuperseded, nil
	case 2:
		return ReasonKeyCompromised, nil
	case 3:
		return ReasonKeyRetired, nil
	case 32:
		return ReasonUserIDInvalid, nil
	default:
		return ReasonUnspecified, InvalidInput(fmt.Sprintf("unknown revocation reason code %d", code))
	}
}

// IsValid reports whether r is one of the defined reasons.
func (r RevocationReason) IsValid() bool {
	return r >= ReasonUnspecified && r <= ReasonUserIDInvalid
}

// String returns a human-readable name for the reason.
func (r RevocationReason) String() string {
	switch r {
	case ReasonUnspecified:
		return "unspecified"
	case ReasonKeyCompromised:
		return "key-compromised"
	case ReasonKeySuperseded:
		return "key-superseded"
	case ReasonKeyRetired:
		return "key-retired"
	case ReasonUserIDInvalid:
		return "userid-invalid"
	default:
		return fmt.Sprintf("RevocationReason(%d)", int(r))
	}
}

// ParseRevocationReason parses a reason string.
func ParseRevocationReason(s string) (RevocationReason, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unspecified", "":
		return ReasonUnspecified, nil
	case "key-compromised", "keycompromised", "compromised", "key-compromise", "keycompromise":
		return ReasonKeyCompromised, nil
	case "key-superseded", "keysuperseded", "superseded":
		return ReasonKeySuperseded, nil
	case "key-retired", "keyretired", "retired":
		return ReasonKeyRetired, nil
	case "userid-invalid", "useridinvalid", "uid-invalid":
		return ReasonUserIDInvalid, nil
	default:
		return ReasonUnspecified, InvalidInput(fmt.Sprintf("unknown revocation reason %q", s))
	}
}
