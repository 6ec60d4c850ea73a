package audit

// Writer persists audit events.
//
// Write must validate the event, link it to the previous event's hash, set
// its own hash, and flush to stable storage before returning. Any failure
// is returned so the audited operation fails with it.
type Writer interface {
	Write(event *Event) error
	Close() error
	// LastHash is GenesisHash until the first event is written.
	LastHash() string
}

// NopWriter discards events. It is installed while auditing is disabled.
type NopWriter struct{}

var _ Writer = NopWriter{}

func (NopWriter) Write(*Event) error { return nil }
func (NopWriter) Close() error       { return nil }
func (NopWriter) LastHash() string   { return GenesisHash }
