package dto

// EncryptRequest is the body of POST /api/v1/encrypt.
type EncryptRequest struct {
	// Recipients are full fingerprints.
	Recipients []string   `json:"recipients"`
	Plaintext  BinaryData `json:"plaintext"`
	Armor      bool       `json:"armor,omitempty"`

	// PqcPolicy overrides the server default: required, preferred or
	// disabled.
	PqcPolicy string `json:"pqc_policy,omitempty"`
	Compat    bool   `json:"compat,omitempty"`
}

// EncryptResponse carries the encrypted message.
type EncryptResponse struct {
	Ciphertext BinaryData `json:"ciphertext"`
}

// VerifyRequest is the body of POST /api/v1/verify.
type VerifyRequest struct {
	// Signer is the full fingerprint the signature must come from.
	Signer    string      `json:"signer"`
	Signature BinaryData  `json:"signature"`
	Message   *BinaryData `json:"message,omitempty"` // absent for cleartext
	Cleartext bool        `json:"cleartext,omitempty"`
	PqcPolicy string      `json:"pqc_policy,omitempty"`
}

// VerifyResponse reports the verification outcome.
type VerifyResponse struct {
	Valid   bool        `json:"valid"`
	Signer  string      `json:"signer,omitempty"`
	Message *BinaryData `json:"message,omitempty"`
}

// CapabilitiesResponse is returned by GET /api/v1/capabilities.
type CapabilitiesResponse struct {
	Backend     string            `json:"backend"`
	SupportsPQC bool              `json:"supports_pqc"`
	Profile     string            `json:"profile"`
	Suites      []string          `json:"suites"`
	Policies    map[string]string `json:"policies"`
}
