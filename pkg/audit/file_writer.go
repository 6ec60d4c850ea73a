package audit

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	// GenesisHash is the predecessor of the first event in a log.
	GenesisHash = "sha256:genesis"

	// HashPrefix prefixes every hash value.
	HashPrefix = "sha256:"
)

// FileWriter appends hash-chained events to a JSONL file.
type FileWriter struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	lastHash string
}

var _ Writer = (*FileWriter)(nil)

// NewFileWriter opens path for appending, continuing the chain of any
// events already in it.
func NewFileWriter(path string) (*FileWriter, error) {
	lastHash := GenesisHash
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if lastHash, err = tailHash(data); err != nil {
			return nil, fmt.Errorf("audit log %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &FileWriter{file: f, path: path, lastHash: lastHash}, nil
}

// tailHash returns the hash of the last event in data.
func tailHash(data []byte) (string, error) {
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	last := bytes.TrimSpace(lines[len(lines)-1])
	if len(last) == 0 {
		return GenesisHash, nil
	}

	var tail struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(last, &tail); err != nil {
		return "", fmt.Errorf("failed to parse last event: %w", err)
	}
	if tail.Hash == "" {
		return "", errors.New("last event has no hash")
	}
	return tail.Hash, nil
}

// Write appends event and fsyncs the file.
func (w *FileWriter) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return errors.New("audit log is closed")
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	event.HashPrev = w.lastHash
	hash, err := chainHash(event)
	if err != nil {
		return err
	}
	event.Hash = hash

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}

	w.lastHash = hash
	return nil
}

// Close syncs and closes the file.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Sync()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file = nil
	return err
}

// LastHash returns the hash of the last written event.
func (w *FileWriter) LastHash() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastHash
}

// Path returns the log file path.
func (w *FileWriter) Path() string { return w.path }

// chainHash computes SHA-256(event without hash || hash_prev).
func chainHash(e *Event) (string, error) {
	data, err := e.hashInput()
	if err != nil {
		return "", fmt.Errorf("failed to serialize event: %w", err)
	}
	h := sha256.New()
	h.Write(data)
	h.Write([]byte(e.HashPrev))
	return HashPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChain checks every link of the log at path and returns the number
// of events verified before the first broken one.
func VerifyChain(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read audit log: %w", err)
	}
	defer f.Close()

	prev := GenesisHash
	count, lineNum := 0, 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lineNum++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			return count, fmt.Errorf("line %d: invalid JSON: %w", lineNum, err)
		}
		if e.HashPrev != prev {
			return count, fmt.Errorf("line %d: hash chain broken: expected prev=%s, got prev=%s", lineNum, prev, e.HashPrev)
		}
		want, err := chainHash(&e)
		if err != nil {
			return count, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if e.Hash != want {
			return count, fmt.Errorf("line %d: hash mismatch: expected=%s, got=%s", lineNum, want, e.Hash)
		}

		prev = e.Hash
		count++
	}
	if err := sc.Err(); err != nil {
		return count, fmt.Errorf("failed to scan audit log: %w", err)
	}
	return count, nil
}
