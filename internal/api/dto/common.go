// Package dto provides Data Transfer Objects for the REST API.
package dto

import (
	"encoding/base64"
	"fmt"
)

// Encodings accepted in BinaryData.
const (
	EncodingBase64 = "base64"
	EncodingArmor  = "armor"
)

// BinaryData carries bytes in JSON.
type BinaryData struct {
	// Data is the encoded content.
	Data string `json:"data"`

	// Encoding is "base64" (default) or "armor" for ASCII-armored or
	// other text content passed as-is.
	Encoding string `json:"encoding,omitempty"`
}

// Decode returns the raw bytes.
func (b *BinaryData) Decode() ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("binary data is missing")
	}
	switch b.Encoding {
	case EncodingBase64, "":
		return base64.StdEncoding.DecodeString(b.Data)
	case EncodingArmor:
		return []byte(b.Data), nil
	default:
		return nil, fmt.Errorf("unsupported encoding: %s", b.Encoding)
	}
}

// NewBinaryData encodes data, keeping armored text readable.
func NewBinaryData(data []byte, armored bool) BinaryData {
	if armored {
		return BinaryData{Data: string(data), Encoding: EncodingArmor}
	}
	return BinaryData{Data: base64.StdEncoding.EncodeToString(data), Encoding: EncodingBase64}
}

// APIError is the error response body.
type APIError struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is the diagnostic.
	Message string `json:"message"`

	Details map[string]string `json:"details,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Backend string `json:"backend"`
}

// ReadyResponse is returned by GET /ready.
type ReadyResponse struct {
	Ready  bool            `json:"ready"`
	Checks map[string]bool `json:"checks,omitempty"`
}
