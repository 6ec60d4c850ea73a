package audit

import (
	"fmt"
	"sync"
)

var (
	globalMu     sync.RWMutex
	globalWriter Writer = NopWriter{}
	enabled      bool
)

// Init installs w as the process-wide audit writer. A nil w disables
// auditing.
func Init(w Writer) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if w == nil {
		globalWriter, enabled = NopWriter{}, false
		return
	}
	globalWriter, enabled = w, true
}

// InitFile enables auditing to the JSONL file at path. An empty path
// disables auditing.
func InitFile(path string) error {
	if path == "" {
		Init(nil)
		return nil
	}
	w, err := NewFileWriter(path)
	if err != nil {
		return err
	}
	Init(w)
	return nil
}

// Close closes the current writer and disables auditing.
func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	err := globalWriter.Close()
	globalWriter, enabled = NopWriter{}, false
	return err
}

// Enabled reports whether events are being recorded.
func Enabled() bool {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return enabled
}

// Log writes event to the process-wide writer. When auditing is enabled a
// returned error must fail the audited operation.
func Log(event *Event) error {
	globalMu.RLock()
	w := globalWriter
	globalMu.RUnlock()

	if err := w.Write(event); err != nil {
		return fmt.Errorf("audit log failed: %w", err)
	}
	return nil
}

func resultOf(err error) Result {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// LogKey records a key lifecycle event (generation, import, export,
// revocation).
func LogKey(t EventType, key Key, details Details, opErr error) error {
	details.Error = errText(opErr)
	return Log(NewEvent(t, resultOf(opErr)).WithKey(key).WithDetails(details))
}

// LogKeyRotated records a rotation from old to successor.
func LogKeyRotated(old, successor, backend string, oldRevoked bool, opErr error) error {
	d := Details{Operation: "rotate", Backend: backend, Successor: successor, Error: errText(opErr)}
	if oldRevoked {
		d.Reason = "superseded"
	}
	return Log(NewEvent(EventKeyRotated, resultOf(opErr)).WithKey(Key{Fingerprint: old}).WithDetails(d))
}

// LogSecretUse records a signature or decryption made with a secret key.
func LogSecretUse(t EventType, signer, backend, policy string, opErr error) error {
	d := Details{Backend: backend, Policy: policy, Error: errText(opErr)}
	return Log(NewEvent(t, resultOf(opErr)).WithKey(Key{Fingerprint: signer}).WithDetails(d))
}

// LogPolicyDenied records an operation refused by the pqc policy.
func LogPolicyDenied(operation, backend, policy string, cause error) error {
	d := Details{Operation: operation, Backend: backend, Policy: policy, Error: errText(cause)}
	return Log(NewEvent(EventPolicyDenied, ResultFailure).WithDetails(d))
}
