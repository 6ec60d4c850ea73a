package dto

import (
	"time"

	"github.com/remiblancher/encrypto/pkg/qpgp"
)

// KeyInfo describes one key.
type KeyInfo struct {
	Fingerprint      string `json:"fingerprint"`
	UserID           string `json:"user_id,omitempty"`
	Algorithm        string `json:"algorithm"`
	Created          string `json:"created,omitempty"` // RFC3339
	HasSecret        bool   `json:"has_secret"`
	Revoked          bool   `json:"revoked"`
	RevocationReason string `json:"revocation_reason,omitempty"`
}

// KeyInfoFromMeta converts backend metadata.
func KeyInfoFromMeta(m qpgp.KeyMeta) KeyInfo {
	info := KeyInfo{
		Fingerprint: m.KeyID.String(),
		Algorithm:   m.Algo,
		HasSecret:   m.HasSecret,
		Revoked:     m.Revoked,
	}
	if m.UserID != nil {
		info.UserID = m.UserID.String()
	}
	if m.Created != nil {
		info.Created = m.Created.UTC().Format(time.RFC3339)
	}
	if m.RevocationReason != nil {
		info.RevocationReason = m.RevocationReason.String()
	}
	return info
}

// KeyListResponse is returned by GET /api/v1/keys.
type KeyListResponse struct {
	Keys  []KeyInfo `json:"keys"`
	Total int       `json:"total"`
}

// KeyExportResponse is returned by GET /api/v1/keys/{fingerprint}.
type KeyExportResponse struct {
	Key         KeyInfo    `json:"key"`
	Certificate BinaryData `json:"certificate"`
}

// KeyImportRequest is the body of POST /api/v1/keys/import.
type KeyImportRequest struct {
	// Key is a public key block, armored or binary.
	Key BinaryData `json:"key"`
}
