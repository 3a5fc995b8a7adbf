// Package reaper deletes job directories whose retention window has
// passed.
//
// The sweep is the maintenance entry point invoked by an external
// scheduler (cron or equivalent); there is no internal timer. Per-job
// failures are local: a malformed record under one ticket never blocks
// cleanup of the others.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/opencurate/ferry/pkg/jobstore"
	"github.com/opencurate/ferry/pkg/ticket"
)

// Config configures a Reaper. The root layout matches the job store:
// <root>/<action>/<ticket>/.
type Config struct {
	RootDir string
}

// JobRef names one job directory in a sweep result.
type JobRef struct {
	Action jobstore.Action `json:"action"`
	Ticket string          `json:"ticket"`
}

func (r JobRef) String() string {
	return string(r.Action) + "/" + r.Ticket
}

// Result summarizes one sweep.
type Result struct {
	Deleted  []JobRef `json:"deleted"`
	Retained []JobRef `json:"retained"`
	Skipped  []JobRef `json:"skipped"`
}

// Reaper scans persisted job state and removes expired directories.
type Reaper struct {
	store  *jobstore.Store
	root   string
	log    *zap.Logger
	now    func() time.Time
	dryRun bool
}

// Option configures optional Reaper behavior.
type Option func(*Reaper)

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) { r.now = now }
}

// WithDryRun makes Sweep report what it would delete without deleting.
func WithDryRun(dryRun bool) Option {
	return func(r *Reaper) { r.dryRun = dryRun }
}

func New(cfg Config, log *zap.Logger, opts ...Option) (*Reaper, error) {
	store, err := jobstore.NewStore(jobstore.Config{RootDir: cfg.RootDir})
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Reaper{store: store, root: store.RootDir(), log: log, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Sweep walks every job directory under the root and deletes those
// whose expiration has passed, regardless of status. Directories whose
// record is missing or malformed are skipped with a logged warning.
// Idempotent: a second immediate sweep deletes nothing new.
func (r *Reaper) Sweep(ctx context.Context) (*Result, error) {
	res := &Result{}

	actions, err := os.ReadDir(r.root)
	if err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return nil, fmt.Errorf("read job root: %w", err)
	}

	now := r.now().UTC()
	for _, actionEntry := range actions {
		if !actionEntry.IsDir() {
			continue
		}
		action, err := jobstore.ParseAction(actionEntry.Name())
		if err != nil {
			r.log.Warn("skipping unknown directory under job root",
				zap.String("name", actionEntry.Name()))
			continue
		}

		tickets, err := os.ReadDir(filepath.Join(r.root, actionEntry.Name()))
		if err != nil {
			r.log.Warn("failed to list action directory",
				zap.String("action", actionEntry.Name()), zap.Error(err))
			continue
		}

		for _, ticketEntry := range tickets {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if !ticketEntry.IsDir() {
				continue
			}
			ref := JobRef{Action: action, Ticket: ticketEntry.Name()}
			r.sweepOne(ref, now, res)
		}
	}
	return res, nil
}

func (r *Reaper) sweepOne(ref JobRef, now time.Time, res *Result) {
	rec, err := r.store.Read(ref.Ticket, ref.Action)
	if err != nil {
		// Missing or malformed state must not block the rest of the
		// sweep. Corrupt records are the operator's call to remove.
		switch {
		case errors.Is(err, jobstore.ErrNotFound), errors.Is(err, jobstore.ErrCorruptRecord):
			r.log.Warn("skipping job with unreadable record",
				zap.String("job", ref.String()), zap.Error(err))
		default:
			r.log.Warn("skipping job", zap.String("job", ref.String()), zap.Error(err))
		}
		res.Skipped = append(res.Skipped, ref)
		return
	}

	if !rec.Expired(now) {
		res.Retained = append(res.Retained, ref)
		return
	}

	if r.dryRun {
		res.Deleted = append(res.Deleted, ref)
		return
	}

	dir := r.store.JobDir(ref.Ticket, ref.Action)
	if err := os.RemoveAll(dir); err != nil {
		r.log.Error("failed to delete expired job directory",
			zap.String("job", ref.String()), zap.Error(err))
		res.Skipped = append(res.Skipped, ref)
		return
	}
	r.log.Info("deleted expired job directory",
		zap.String("job", ticket.Redact(ref.Ticket)),
		zap.String("action", string(ref.Action)),
		zap.String("status", string(rec.Status)),
		zap.Time("expired_at", rec.Expiration),
	)
	res.Deleted = append(res.Deleted, ref)
}
