package qpgp

import (
	"fmt"
	"strings"
)

// PqcPolicy states whether an operation must, may or must not use
// post-quantum algorithms. The zero value is Required.
type PqcPolicy int

const (
	PolicyRequired PqcPolicy = iota
	PolicyPreferred
	PolicyDisabled
)

// DefaultPolicy is the policy applied when a caller does not choose one.
const DefaultPolicy = PolicyRequired

// String returns the canonical name of the policy.
func (p PqcPolicy) String() string {
	switch p {
	case PolicyRequired:
		return "required"
	case PolicyPreferred:
		return "preferred"
	case PolicyDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("PqcPolicy(%d)", int(p))
	}
}

// ParsePqcPolicy parses a policy name.
func ParsePqcPolicy(s string) (PqcPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "required", "require":
		return PolicyRequired, nil
	case "preferred", "prefer":
		return PolicyPreferred, nil
	case "disabled", "disable", "off", "none":
		return PolicyDisabled, nil
	default:
		return PolicyRequired, InvalidInput(fmt.Sprintf("unknown pqc policy %q (want required, preferred or disabled)", s))
	}
}

// PqcLevel selects the post-quantum strength used by key generation.
type PqcLevel int

const (
	LevelBaseline PqcLevel = iota
	LevelHigh
)

// String returns the canonical name of the level.
func (l PqcLevel) String() string {
	switch l {
	case LevelBaseline:
		return "baseline"
	case LevelHigh:
		return "high"
	default:
		return fmt.Sprintf("PqcLevel(%d)", int(l))
	}
}

// ParsePqcLevel parses a level name.
func ParsePqcLevel(s string) (PqcLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "baseline", "base", "default":
		return LevelBaseline, nil
	case "high":
		return LevelHigh, nil
	default:
		return LevelBaseline, InvalidInput(fmt.Sprintf("unknown pqc level %q (want baseline or high)", s))
	}
}

// Operation names a policy-scoped backend operation.
type Operation string

const (
	OpGenerate Operation = "generate"
	OpEncrypt  Operation = "encrypt"
	OpDecrypt  Operation = "decrypt"
	OpSign     Operation = "sign"
	OpVerify   Operation = "verify"
	OpRotate   Operation = "rotate"
)

// Tier is the algorithm family an operation runs with.
type Tier int

const (
	TierClassical Tier = iota
	TierPostQuantum
)

// String returns the tier name.
func (t Tier) String() string {
	if t == TierPostQuantum {
		return "post-quantum"
	}
	return "classical"
}

// Family classifies existing key or message material.
type Family int

const (
	FamilyClassical Family = iota
	FamilyPostQuantum
)

// String returns the family name.
func (f Family) String() string {
	if f == FamilyPostQuantum {
		return "post-quantum"
	}
	return "classical"
}

// Decision is the policy engine's verdict for one operation.
type Decision struct {
	Operation Operation
	Policy    PqcPolicy
	Tier      Tier
	// Strict is set when the tier came from Required or Disabled and no
	// other family may be substituted.
	Strict bool
}

// Decide evaluates the policy table for an operation against the backend
// capability. Required without capability fails; Preferred silently falls
// back to classical.
func Decide(op Operation, policy PqcPolicy, supportsPQC bool) (Decision, error) {
	d := Decision{Operation: op, Policy: policy}
	switch policy {
	case PolicyDisabled:
		d.Tier, d.Strict = TierClassical, true
	case PolicyPreferred:
		if supportsPQC {
			d.Tier = TierPostQuantum
		} else {
			d.Tier = TierClassical
		}
	case PolicyRequired:
		if !supportsPQC {
			return d, Denied(KindNotImplemented, fmt.Sprintf("%s: post-quantum algorithms required by policy but unsupported by backend", op))
		}
		d.Tier, d.Strict = TierPostQuantum, true
	default:
		return d, InvalidInput(fmt.Sprintf("unknown pqc policy %d", int(policy)))
	}
	return d, nil
}

// Accepts reports whether material of the given family may be used under
// this decision. Preferred accepts both families.
func (d Decision) Accepts(f Family) bool {
	if !d.Strict {
		return true
	}
	if d.Tier == TierPostQuantum {
		return f == FamilyPostQuantum
	}
	return f == FamilyClassical
}

// Check returns a policy error when material of family f is not acceptable.
func (d Decision) Check(f Family, what string) error {
	if d.Accepts(f) {
		return nil
	}
	return Denied(KindInvalidInput, fmt.Sprintf("%s: %s uses %s algorithms, rejected by pqc policy %s", d.Operation, what, f, d.Policy))
}
