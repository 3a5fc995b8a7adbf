package jobstore

import (
	"fmt"
	"time"
)

// Action is the class of work a job performs.
//
// NOTE: These values are persisted in process_info.json and are part of
// the stable on-disk contract. They also name the per-action directory
// under the job root.
type Action string

const (
	ActionDownload Action = "download"
	ActionUpload   Action = "upload"
	ActionTransfer Action = "transfer"
)

// ParseAction validates an action name from an untrusted source (URL
// path segment, CLI argument).
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionDownload, ActionUpload, ActionTransfer:
		return Action(s), nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Actions returns all known action classes, in stable order. The reaper
// uses this to enumerate per-action directories under the job root.
func Actions() []Action {
	return []Action{ActionDownload, ActionUpload, ActionTransfer}
}

// Status is the lifecycle state of a job.
type Status string

const (
	StatusInProgress     Status = "in_progress"
	StatusFinished       Status = "finished"
	StatusFailed         Status = "failed"
	StatusPartialFailure Status = "partial_failure"
)

// Terminal reports whether s is a terminal state. Terminal records are
// immutable until the reaper deletes them.
func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusPartialFailure:
		return true
	}
	return false
}

// JobRecord is the persistent record written to process_info.json.
//
// The schema is designed for backward-compatible extension (additive
// fields).
type JobRecord struct {
	Action                Action    `json:"action"`
	Status                Status    `json:"status"`
	StatusCode            int       `json:"status_code,omitempty"`
	Message               string    `json:"message,omitempty"`
	Expiration            time.Time `json:"expiration"`
	KillTime              *time.Time `json:"kill_time,omitempty"`
	CredentialFingerprint string    `json:"credential_fingerprint"`
	TotalUnits            int64     `json:"total_units"`
	CompletedUnits        int64     `json:"completed_units"`
	ArtifactName          string    `json:"artifact_name,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	RunID     string    `json:"run_id,omitempty"`
}

// Expired reports whether the record's retention window has passed.
// Expiry is caller-visible: Read still returns expired records so the
// status-poll path can translate them into a Gone response.
func (r *JobRecord) Expired(now time.Time) bool {
	return now.After(r.Expiration)
}
