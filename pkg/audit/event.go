// Package audit records security-relevant key operations as a
// tamper-evident JSONL log.
//
// Audit events are separate from diagnostics logging:
//   - Audit failure means operation failure
//   - Secrets (key material, passphrases, plaintext) are never recorded
//   - Timestamps are UTC
//   - Each event carries the hash of its predecessor
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// EventType is the category of an audit event.
type EventType string

const (
	// Key lifecycle
	EventKeyGenerated EventType = "KEY_GENERATED"
	EventKeyImported  EventType = "KEY_IMPORTED"
	EventKeyExported  EventType = "KEY_EXPORTED"
	EventKeyRevoked   EventType = "KEY_REVOKED"
	EventKeyRotated   EventType = "KEY_ROTATED"

	// Secret key use
	EventMessageSigned    EventType = "MESSAGE_SIGNED"
	EventMessageDecrypted EventType = "MESSAGE_DECRYPTED"

	// Refusals by the pqc policy engine
	EventPolicyDenied EventType = "POLICY_DENIED"
)

// Result is the outcome of an audited operation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// Actor is who ran the operation.
type Actor struct {
	Type string `json:"type"` // "user" or "service"
	ID   string `json:"id"`
	Host string `json:"host,omitempty"`
}

// Key identifies the key an event is about.
type Key struct {
	Fingerprint string `json:"fingerprint,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	Algo        string `json:"algo,omitempty"`
}

// Details carries operation parameters. Never put secret values here.
type Details struct {
	Operation  string   `json:"operation,omitempty"`
	Backend    string   `json:"backend,omitempty"`
	Policy     string   `json:"policy,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
	Secret     bool     `json:"secret,omitempty"` // secret key export
	Reason     string   `json:"reason,omitempty"`
	Successor  string   `json:"successor,omitempty"` // rotation
	Error      string   `json:"error,omitempty"`
}

// Event is one audit log line.
type Event struct {
	Type      EventType `json:"event_type"`
	Timestamp string    `json:"timestamp"`
	Actor     Actor     `json:"actor"`
	Key       Key       `json:"key"`
	Details   Details   `json:"details"`
	Result    Result    `json:"result"`
	HashPrev  string    `json:"hash_prev"`
	Hash      string    `json:"hash"`
}

// now is replaced in tests.
var now = time.Now

// NewEvent creates an event stamped with the current time and the local
// user as actor.
func NewEvent(t EventType, result Result) *Event {
	host, _ := os.Hostname()
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	if user == "" {
		user = "unknown"
	}

	return &Event{
		Type:      t,
		Timestamp: now().UTC().Format(time.RFC3339),
		Actor:     Actor{Type: "user", ID: user, Host: host},
		Result:    result,
	}
}

// WithKey sets the key the event is about.
func (e *Event) WithKey(k Key) *Event {
	e.Key = k
	return e
}

// WithDetails sets the operation details.
func (e *Event) WithDetails(d Details) *Event {
	e.Details = d
	return e
}

// WithActor overrides the default actor.
func (e *Event) WithActor(a Actor) *Event {
	e.Actor = a
	return e
}

// Validate checks that required fields are present.
func (e *Event) Validate() error {
	switch {
	case e.Type == "":
		return fmt.Errorf("event_type is required")
	case e.Timestamp == "":
		return fmt.Errorf("timestamp is required")
	case e.Actor.Type == "" || e.Actor.ID == "":
		return fmt.Errorf("actor type and id are required")
	case e.Result == "":
		return fmt.Errorf("result is required")
	}
	return nil
}

// hashInput is the serialization covered by Hash: the full event with Hash
// left empty.
func (e *Event) hashInput() ([]byte, error) {
	c := *e
	c.Hash = ""
	return json.Marshal(&c)
}
