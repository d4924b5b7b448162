// Package audit provides the tamper-evident, append-only audit chain.
//
// Entries form a hash chain: each entry embeds the content hash of its
// predecessor, so any mutation of a persisted record invalidates everything
// appended after it. Entries and compliance attestations are persisted as
// newline-delimited JSON streams, flushed and fsynced before a write is
// reported successful.
package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Mindburn-Labs/conductor/core/pkg/canonicalize"
)

const (
	logFileName         = "audit_log.jsonl"
	attestationFileName = "attestations.jsonl"

	// recoveryLookback bounds the reverse scan used to recover the chain
	// cursor from pre-existing storage. Malformed trailing records inside
	// the window (a crash mid-write) are skipped.
	recoveryLookback = 10

	// maxLineBytes caps one JSONL record when scanning.
	maxLineBytes = 1 << 20
)

// EventTypeAttestation is the event type of the chain entry emitted whenever
// an attestation is created.
const EventTypeAttestation = "COMPLIANCE_ATTESTATION"

// Entry is one immutable audit record.
type Entry struct {
	Timestamp    time.Time      `json:"timestamp"`
	EventType    string         `json:"event_type"`
	Phase        string         `json:"phase,omitempty"`
	Actor        string         `json:"actor"`
	Action       string         `json:"action"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	PreviousHash *string        `json:"previous_hash"`
	EntryHash    string         `json:"entry_hash"`
}

// computeHash returns the canonical content hash of the entry, excluding the
// entry hash itself. The encoding is order-independent, so the digest does
// not depend on how the entry was produced.
func (e *Entry) computeHash() (string, error) {
	return canonicalize.CanonicalHash(map[string]any{
		"timestamp":     e.Timestamp,
		"event_type":    e.EventType,
		"phase":         e.Phase,
		"actor":         e.Actor,
		"action":        e.Action,
		"metadata":      e.Metadata,
		"previous_hash": e.PreviousHash,
	})
}

// Attestation is an independently hashed, one-shot compliance judgment.
// Attestations are not chained to each other; each carries its own content
// hash, and creating one also appends a chain entry.
type Attestation struct {
	ID        string    `json:"attestation_id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"attestation_type"`
	Attester  string    `json:"attester"`
	Scope     string    `json:"scope"`
	Status    string    `json:"status"`
	Findings  []string  `json:"findings"`
	Hash      string    `json:"hash"`
}

func (a *Attestation) computeHash() (string, error) {
	return canonicalize.CanonicalHash(map[string]any{
		"attestation_id":   a.ID,
		"timestamp":        a.Timestamp,
		"attestation_type": a.Type,
		"attester":         a.Attester,
		"scope":            a.Scope,
		"status":           a.Status,
		"findings":         a.Findings,
	})
}

// EntryFilter selects entries in queries; zero values match anything.
type EntryFilter struct {
	EventType string
	Phase     string
	Actor     string
	Limit     int
}

// AttestationFilter selects attestations in queries.
type AttestationFilter struct {
	Type   string
	Status string
}

// Chain is an append-only hash-chained audit log backed by JSONL files in a
// directory. Appends are serialized by a per-instance lock: the critical
// section covers hash computation, persistence, fsync and cursor update, so
// entries land in the exact order their previous-hash values were computed.
type Chain struct {
	mu       sync.Mutex
	logPath  string
	attPath  string
	lastHash *string
	clock    func() time.Time
	logger   *slog.Logger
	index    *Index
}

// NewChain opens (or creates) the audit chain in dir. When the directory
// already holds a log, the chain cursor is recovered by scanning the last
// few records backward; a log that exists but cannot be read is a fatal
// initialization error.
func NewChain(dir string) (*Chain, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create log dir: %w", err)
	}

	c := &Chain{
		logPath: filepath.Join(dir, logFileName),
		attPath: filepath.Join(dir, attestationFileName),
		clock:   time.Now,
		logger:  slog.Default().With("component", "audit"),
	}

	if err := c.recoverCursor(); err != nil {
		return nil, err
	}
	return c, nil
}

// WithClock overrides the clock for deterministic testing.
func (c *Chain) WithClock(clock func() time.Time) *Chain {
	c.clock = clock
	return c
}

// WithLogger overrides the chain's logger.
func (c *Chain) WithLogger(logger *slog.Logger) *Chain {
	c.logger = logger.With("component", "audit")
	return c
}

// AttachIndex mirrors subsequent entries into a read-side index. The JSONL
// stream remains the source of truth; index failures are logged, not fatal.
func (c *Chain) AttachIndex(index *Index) *Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = index
	return c
}

// recoverCursor scans the trailing records of an existing log for the most
// recent entry with a usable hash, tolerating a torn final write.
func (c *Chain) recoverCursor() error {
	if _, err := os.Stat(c.logPath); errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("audit: stat log: %w", err)
	}

	lines, err := tailLines(c.logPath, recoveryLookback)
	if err != nil {
		return fmt.Errorf("audit: cannot initialize from existing log: %w", err)
	}

	for i := len(lines) - 1; i >= 0; i-- {
		var entry Entry
		if err := json.Unmarshal(lines[i], &entry); err != nil {
			continue // torn or corrupt trailing record
		}
		if entry.EntryHash == "" {
			continue
		}
		hash := entry.EntryHash
		c.lastHash = &hash
		return nil
	}
	return nil
}

// LogEvent appends an entry to the chain. The entry is durably persisted
// (written, flushed, fsynced) before the call returns; a write failure is
// fatal for the call and must not be ignored, since a dropped entry breaks
// the chain for everything appended afterward.
func (c *Chain) LogEvent(eventType, actor, action string, phase string, metadata map[string]any) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logEventLocked(eventType, actor, action, phase, metadata)
}

func (c *Chain) logEventLocked(eventType, actor, action string, phase string, metadata map[string]any) (Entry, error) {
	entry := Entry{
		Timestamp:    c.clock().UTC(),
		EventType:    eventType,
		Phase:        phase,
		Actor:        actor,
		Action:       action,
		Metadata:     metadata,
		PreviousHash: c.lastHash,
	}

	hash, err := entry.computeHash()
	if err != nil {
		return Entry{}, fmt.Errorf("audit: hash entry: %w", err)
	}
	entry.EntryHash = hash

	if err := appendRecord(c.logPath, entry); err != nil {
		return Entry{}, fmt.Errorf("audit: write entry: %w", err)
	}
	c.lastHash = &entry.EntryHash

	if c.index != nil {
		if err := c.index.insert(entry); err != nil {
			c.logger.Warn("audit index insert failed", "error", err, "event_type", eventType)
		}
	}
	return entry, nil
}

// CreateAttestation records an independently hashed compliance judgment and
// appends a COMPLIANCE_ATTESTATION chain entry for it.
func (c *Chain) CreateAttestation(attestationType, attester, scope, status string, findings []string) (Attestation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock().UTC()
	idSource := fmt.Sprintf("%s_%s_%s", attestationType, attester, now.Format(time.RFC3339Nano))
	att := Attestation{
		ID:        canonicalize.HashBytes([]byte(idSource))[:16],
		Timestamp: now,
		Type:      attestationType,
		Attester:  attester,
		Scope:     scope,
		Status:    status,
		Findings:  findings,
	}
	if att.Findings == nil {
		att.Findings = []string{}
	}

	hash, err := att.computeHash()
	if err != nil {
		return Attestation{}, fmt.Errorf("audit: hash attestation: %w", err)
	}
	att.Hash = hash

	if err := appendRecord(c.attPath, att); err != nil {
		return Attestation{}, fmt.Errorf("audit: write attestation: %w", err)
	}

	findingsMeta := make([]any, len(att.Findings))
	for i, f := range att.Findings {
		findingsMeta[i] = f
	}
	_, err = c.logEventLocked(EventTypeAttestation, attester,
		fmt.Sprintf("Created %s attestation", attestationType), "",
		map[string]any{
			"attestation_id": att.ID,
			"status":         status,
			"findings":       findingsMeta,
		})
	if err != nil {
		return Attestation{}, err
	}
	return att, nil
}

// VerifyChain replays the stored log in write order, checking every link and
// recomputing every content hash. An empty or nonexistent log is vacuously
// valid. The returned error describes the first mismatch.
func (c *Chain) VerifyChain() (bool, error) {
	f, err := os.Open(c.logPath)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("audit: open log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var previous *string
	index := 0
	scanner := newRecordScanner(f)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return false, fmt.Errorf("audit: entry %d unparsable: %w", index, err)
		}

		if !hashPtrEqual(entry.PreviousHash, previous) {
			return false, fmt.Errorf("audit: chain broken at entry %d: previous hash mismatch", index)
		}

		computed, err := entry.computeHash()
		if err != nil {
			return false, fmt.Errorf("audit: rehash entry %d: %w", index, err)
		}
		if computed != entry.EntryHash {
			return false, fmt.Errorf("audit: integrity failure at entry %d", index)
		}

		hash := entry.EntryHash
		previous = &hash
		index++
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("audit: read log: %w", err)
	}
	return true, nil
}

// EntriesWhere scans the log for entries matching the filter, capped at
// filter.Limit when positive. A missing log yields an empty result.
func (c *Chain) EntriesWhere(filter EntryFilter) ([]Entry, error) {
	f, err := os.Open(c.logPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var entries []Entry
	scanner := newRecordScanner(f)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("audit: unparsable entry: %w", err)
		}
		if filter.EventType != "" && entry.EventType != filter.EventType {
			continue
		}
		if filter.Phase != "" && entry.Phase != filter.Phase {
			continue
		}
		if filter.Actor != "" && entry.Actor != filter.Actor {
			continue
		}
		entries = append(entries, entry)
		if filter.Limit > 0 && len(entries) >= filter.Limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: read log: %w", err)
	}
	return entries, nil
}

// AttestationsWhere scans the attestation stream for matching records.
func (c *Chain) AttestationsWhere(filter AttestationFilter) ([]Attestation, error) {
	f, err := os.Open(c.attPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: open attestations: %w", err)
	}
	defer func() { _ = f.Close() }()

	var attestations []Attestation
	scanner := newRecordScanner(f)
	for scanner.Scan() {
		var att Attestation
		if err := json.Unmarshal(scanner.Bytes(), &att); err != nil {
			return nil, fmt.Errorf("audit: unparsable attestation: %w", err)
		}
		if filter.Type != "" && att.Type != filter.Type {
			continue
		}
		if filter.Status != "" && att.Status != filter.Status {
			continue
		}
		attestations = append(attestations, att)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: read attestations: %w", err)
	}
	return attestations, nil
}

// LastHash returns the current chain cursor, or nil for an empty chain.
func (c *Chain) LastHash() *string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastHash == nil {
		return nil
	}
	hash := *c.lastHash
	return &hash
}

// appendRecord marshals v as one JSONL record, appends it and commits it to
// stable storage before returning.
func appendRecord(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func newRecordScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return scanner
}

func hashPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// tailLines returns up to n trailing newline-terminated records of the file
// at path, reading backward in fixed-size chunks rather than loading the
// whole file.
func tailLines(path string, n int) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	const chunkSize = 64 * 1024
	var buf []byte
	offset := size
	for offset > 0 && bytes.Count(buf, []byte{'\n'}) <= n {
		step := int64(chunkSize)
		if step > offset {
			step = offset
		}
		offset -= step
		chunk := make([]byte, step)
		if _, err := f.ReadAt(chunk, offset); err != nil {
			return nil, err
		}
		buf = append(chunk, buf...)
	}

	lines := bytes.Split(buf, []byte{'\n'})
	var records [][]byte
	for _, line := range lines {
		if len(bytes.TrimSpace(line)) > 0 {
			records = append(records, line)
		}
	}
	// The first record may be truncated if we stopped mid-file; keeping it
	// is harmless because recovery skips unparsable records anyway.
	if len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}
