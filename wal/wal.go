// Package wal journals every operation dispatch transition to an
// append-only log, for audit and for rebuilding the idempotency
// window after a restart.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// EntryType defines the type of WAL entry.
type EntryType string

const (
	EntryReceived   EntryType = "received"
	EntryValidated  EntryType = "validated"
	EntryRejected   EntryType = "rejected"
	EntryDispatched EntryType = "dispatched"
	EntryCompleted  EntryType = "completed"
	EntryDegraded   EntryType = "degraded"
	EntryFailed     EntryType = "failed"
)

// Entry is a single journal record.
type Entry struct {
	Timestamp      time.Time       `json:"timestamp"`
	Sequence       int64           `json:"sequence"`
	Type           EntryType       `json:"type"`
	InstanceID     string          `json:"instance_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// WAL provides write-ahead logging for operation dispatch.
type WAL struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	dir      string
}

// Open creates or opens a WAL in the specified directory.
func Open(dir string) (*WAL, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	filename := fmt.Sprintf("dbfleet-%s.wal", time.Now().Format("20060102-150405"))
	path := filepath.Join(dir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600) // #nosec G304 -- path built from configured dir
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	w := &WAL{
		file:   file,
		writer: bufio.NewWriter(file),
		dir:    dir,
	}
	if err := w.loadSequence(); err != nil {
		_ = file.Close()
		return nil, err
	}

	return w, nil
}

// Close flushes and closes the WAL.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// Append adds an entry to the journal.
func (w *WAL) Append(entryType EntryType, instanceID, idempotencyKey string, data interface{}) error {
	return w.append(entryType, instanceID, idempotencyKey, data, nil)
}

// AppendError adds an entry recording a failure.
func (w *WAL) AppendError(entryType EntryType, instanceID, idempotencyKey string, data interface{}, cause error) error {
	return w.append(entryType, instanceID, idempotencyKey, data, cause)
}

func (w *WAL) append(entryType EntryType, instanceID, idempotencyKey string, data interface{}, cause error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal data: %w", err)
		}
		raw = encoded
	}

	w.sequence++
	entry := Entry{
		Timestamp:      time.Now().UTC(),
		Sequence:       w.sequence,
		Type:           entryType,
		InstanceID:     instanceID,
		IdempotencyKey: idempotencyKey,
		Data:           raw,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	if _, err := w.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	return w.writer.Flush()
}

// loadSequence resumes the sequence counter from existing WAL files.
func (w *WAL) loadSequence() error {
	entries, err := w.readAll()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Sequence > w.sequence {
			w.sequence = entry.Sequence
		}
	}
	return nil
}

// ReplaySince returns entries newer than the cutoff across all WAL
// files in the directory, in sequence order.
func (w *WAL) ReplaySince(cutoff time.Time) ([]Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return nil, err
	}

	entries, err := w.readAll()
	if err != nil {
		return nil, err
	}

	var recent []Entry
	for _, entry := range entries {
		if entry.Timestamp.After(cutoff) {
			recent = append(recent, entry)
		}
	}
	sort.Slice(recent, func(i, j int) bool {
		return recent[i].Sequence < recent[j].Sequence
	})
	return recent, nil
}

// readAll parses every WAL file in the directory.
func (w *WAL) readAll() ([]Entry, error) {
	files, err := filepath.Glob(filepath.Join(w.dir, "dbfleet-*.wal"))
	if err != nil {
		return nil, fmt.Errorf("failed to list WAL files: %w", err)
	}
	sort.Strings(files)

	var entries []Entry
	for _, path := range files {
		fileEntries, err := readFile(path)
		if err != nil {
			return nil, err
		}
		entries = append(entries, fileEntries...)
	}
	return entries, nil
}

func readFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from our own glob
	if err != nil {
		return nil, fmt.Errorf("failed to read WAL file %s: %w", path, err)
	}

	var entries []Entry
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			// A torn final line from a crash is expected; skip it.
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
