// Package jobstore persists per-job status records on durable storage.
//
// Each job owns one directory under the configured root:
//
//	<root>/<action>/<ticket>/process_info.json
//	<root>/<action>/<ticket>/<artifacts...>
//
// The record file is always written with a temp-file-then-rename
// replace, so a concurrent reader (the status-poll path) observes
// either the previous or the next fully-written record, never a torn
// one. The job directory itself is the admission-control primitive:
// creation uses an exclusive mkdir, so two near-simultaneous
// submissions for the same identity cannot both pass.
package jobstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opencurate/ferry/pkg/ticket"
)

// RecordFileName is the status record inside each job directory.
const RecordFileName = "process_info.json"

// Config configures a Store. Paths are explicit; the store never
// assumes a working-directory-relative layout.
type Config struct {
	// RootDir holds one subdirectory per action class.
	RootDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.RootDir) == "" {
		return fmt.Errorf("job root dir is required")
	}
	return nil
}

// Store persists and mutates JobRecords under an on-disk root.
type Store struct {
	root string
	now  func() time.Time

	// createMu serializes admission. The exclusive mkdir alone cannot
	// make the stale-slot reclaim (check, remove, re-create) atomic:
	// without the lock two submissions could both observe a reclaimable
	// slot and the loser's remove would destroy the winner's claim.
	createMu sync.Mutex
}

// Option configures optional Store behavior.
type Option func(*Store)

// WithClock overrides the time source. Tests use this to simulate
// elapsed retention windows.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{root: filepath.Clean(cfg.RootDir), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) RootDir() string {
	return s.root
}

// Ping verifies the root directory can be created and written to. Used
// by readiness checks.
func (s *Store) Ping() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("job root unavailable: %w", err)
	}
	f, err := os.CreateTemp(s.root, ".ping-*")
	if err != nil {
		return fmt.Errorf("job root not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// JobDir returns the directory owned by one (identity, action) job.
func (s *Store) JobDir(identity string, action Action) string {
	return filepath.Join(s.root, string(action), identity)
}

// RecordPath returns the path of the job's status record.
func (s *Store) RecordPath(identity string, action Action) string {
	return filepath.Join(s.JobDir(identity, action), RecordFileName)
}

func validateIdentity(identity string) error {
	if !ticket.Valid(identity) {
		return fmt.Errorf("invalid job identity %q", ticket.Redact(identity))
	}
	return nil
}

// Create admits a new job and durably writes its initial record before
// returning. The (identity, action) slot is claimed with an exclusive
// mkdir: if the directory already exists and holds an active unexpired
// record, Create fails with ErrAlreadyExists without mutating state. A
// directory left behind by a terminal or expired job is removed and the
// slot re-claimed. Admission is serialized within the process so the
// reclaim (check, remove, re-create, write) is atomic with respect to
// concurrent submissions.
func (s *Store) Create(identity string, action Action, ttl time.Duration) (*JobRecord, error) {
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}
	if _, err := ParseAction(string(action)); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be > 0")
	}
	if err := os.MkdirAll(filepath.Join(s.root, string(action)), 0o755); err != nil {
		return nil, fmt.Errorf("create action root: %w", err)
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	jobDir := s.JobDir(identity, action)
	if err := os.Mkdir(jobDir, 0o755); err != nil {
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create job dir: %w", err)
		}
		// Slot held. Reusable only if the previous job is terminal or
		// past its retention window.
		if active := s.slotActive(identity, action); active {
			return nil, fmt.Errorf("job %s/%s: %w", action, ticket.Redact(identity), ErrAlreadyExists)
		}
		if err := os.RemoveAll(jobDir); err != nil {
			return nil, fmt.Errorf("clear stale job dir: %w", err)
		}
		if err := os.Mkdir(jobDir, 0o755); err != nil {
			// Another process claimed the slot between the remove and
			// the re-create.
			if errors.Is(err, fs.ErrExist) {
				return nil, fmt.Errorf("job %s/%s: %w", action, ticket.Redact(identity), ErrAlreadyExists)
			}
			return nil, fmt.Errorf("create job dir: %w", err)
		}
	}

	now := s.now().UTC()
	rec := &JobRecord{
		Action:                action,
		Status:                StatusInProgress,
		Message:               "The server is processing the request",
		Expiration:            now.Add(ttl),
		CredentialFingerprint: identity,
		CreatedAt:             now,
		RunID:                 uuid.New().String(),
	}
	if err := s.write(identity, action, rec); err != nil {
		// Roll back the claim so a failed create does not wedge the slot.
		_ = os.RemoveAll(jobDir)
		return nil, err
	}
	return rec, nil
}

// slotActive reports whether the existing directory holds a record that
// still blocks admission. A missing or corrupt record does not block:
// the directory is reclaimable debris.
func (s *Store) slotActive(identity string, action Action) bool {
	rec, err := s.Read(identity, action)
	if err != nil {
		return false
	}
	return rec.Status == StatusInProgress && !rec.Expired(s.now().UTC())
}

// Read returns the persisted record for a ticket. Absent job
// directories yield ErrNotFound; unparseable records yield
// ErrCorruptRecord. Expired records are still returned: expiry is
// caller-visible via JobRecord.Expired, so the status-poll path can
// answer Gone instead of NotFound.
func (s *Store) Read(identity string, action Action) (*JobRecord, error) {
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.RecordPath(identity, action))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("job %s/%s: %w", action, ticket.Redact(identity), ErrNotFound)
		}
		return nil, fmt.Errorf("read job record: %w", err)
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("job %s/%s: empty record: %w", action, ticket.Redact(identity), ErrCorruptRecord)
	}

	var rec JobRecord
	if err := json.Unmarshal([]byte(trimmed), &rec); err != nil {
		return nil, fmt.Errorf("job %s/%s: parse record: %v: %w", action, ticket.Redact(identity), err, ErrCorruptRecord)
	}
	return &rec, nil
}

// ListedJob pairs a job's identity and action with its record.
type ListedJob struct {
	Identity string
	Action   Action
	Record   JobRecord
}

// List enumerates every readable job record under the root, newest
// first. Unreadable or corrupt entries are skipped.
func (s *Store) List() ([]ListedJob, error) {
	var out []ListedJob
	for _, action := range Actions() {
		entries, err := os.ReadDir(filepath.Join(s.root, string(action)))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read action dir %s: %w", action, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			rec, err := s.Read(entry.Name(), action)
			if err != nil {
				continue
			}
			out = append(out, ListedJob{Identity: entry.Name(), Action: action, Record: *rec})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Record.CreatedAt.After(out[j].Record.CreatedAt)
	})
	return out, nil
}

// Update applies a partial mutation as a read-modify-atomic-replace
// cycle. The mutation never runs against a terminal record and may not
// violate the progress or expiration invariants.
func (s *Store) Update(identity string, action Action, mutate func(*JobRecord) error) error {
	rec, err := s.Read(identity, action)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return fmt.Errorf("job %s/%s: %w", action, ticket.Redact(identity), ErrTerminal)
	}

	prevExpiration := rec.Expiration
	if err := mutate(rec); err != nil {
		return err
	}
	if rec.Expiration.Before(prevExpiration) {
		return fmt.Errorf("expiration may not decrease")
	}
	if rec.CompletedUnits > rec.TotalUnits {
		return fmt.Errorf("completed_units %d exceeds total_units %d", rec.CompletedUnits, rec.TotalUnits)
	}
	if rec.CompletedUnits < 0 || rec.TotalUnits < 0 {
		return fmt.Errorf("progress counters may not be negative")
	}
	return s.write(identity, action, rec)
}

// Finalize transitions the record from in_progress to the given
// terminal status, recording the result code, message, kill time, and
// (for successful downloads) the produced artifact name. Finalizing an
// already-terminal record fails with ErrTerminal; a completed result is
// never silently overwritten.
func (s *Store) Finalize(identity string, action Action, status Status, statusCode int, message, artifactName string) error {
	if !status.Terminal() {
		return fmt.Errorf("finalize requires a terminal status, got %q", status)
	}
	return s.Update(identity, action, func(rec *JobRecord) error {
		rec.Status = status
		rec.StatusCode = statusCode
		rec.Message = message
		if artifactName != "" {
			rec.ArtifactName = artifactName
		}
		kill := s.now().UTC()
		rec.KillTime = &kill
		return nil
	})
}

// write atomically replaces the record file.
func (s *Store) write(identity string, action Action, rec *JobRecord) error {
	jobDir := s.JobDir(identity, action)

	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(jobDir, RecordFileName+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp record: %w", err)
	}

	if err := os.Rename(tmpName, s.RecordPath(identity, action)); err != nil {
		return fmt.Errorf("rename record: %w", err)
	}
	return nil
}
