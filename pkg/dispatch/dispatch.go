// Package dispatch admits job submissions and runs job bodies in
// isolated background workers.
//
// The submission path is synchronous and brief: derive the ticket,
// claim the job slot (exclusive create against the store), spawn the
// worker, return. The worker's only channel back to the rest of the
// system is the persisted job record; nothing is shared in memory with
// the request path.
//
// Fault containment: every body runs behind a supervising wrapper that
// recovers panics and always finalizes the record on exit. An orphaned
// in_progress record that can never be updated again is a bug, not an
// acceptable outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opencurate/ferry/pkg/jobstore"
	"github.com/opencurate/ferry/pkg/ticket"
)

// Job is the handle a body receives for its own slot: progress
// reporting, the owned directory for artifacts, and (for bodies that
// want richer terminal states than the supervisor's defaults) the
// store itself.
type Job struct {
	Identity string
	Action   jobstore.Action
	Dir      string
	Store    *jobstore.Store
	Tracker  *jobstore.Tracker
	Log      *zap.Logger
}

// Finalize lets a body record its own terminal result. The supervisor
// will not overwrite it.
func (j *Job) Finalize(status jobstore.Status, statusCode int, message, artifactName string) error {
	return j.Store.Finalize(j.Identity, j.Action, status, statusCode, message, artifactName)
}

// Body is the unit of work executed in isolation. A nil return that
// has not self-finalized yields a default finished record; an error
// return yields a failed record with the error's message.
type Body func(ctx context.Context, job *Job) error

// Dispatcher issues tickets and spawns workers.
type Dispatcher struct {
	store *jobstore.Store
	log   *zap.Logger
	wg    sync.WaitGroup
}

func New(store *jobstore.Store, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{store: store, log: log}
}

// Submit derives the job identity from the caller credential, admits
// the job, spawns the body, and returns the ticket immediately. An
// active unexpired job in the same (identity, action) slot surfaces as
// jobstore.ErrAlreadyExists with no state mutated.
func (d *Dispatcher) Submit(credential []byte, action jobstore.Action, ttl time.Duration, body Body) (string, error) {
	if len(credential) == 0 {
		return "", fmt.Errorf("credential is required")
	}
	identity := ticket.Fingerprint(credential)
	if _, err := d.store.Create(identity, action, ttl); err != nil {
		return "", err
	}
	d.spawn(identity, action, body)
	return identity, nil
}

func (d *Dispatcher) spawn(identity string, action jobstore.Action, body Body) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.supervise(identity, action, body)
	}()
}

// supervise runs the body and guarantees a terminal record on exit.
func (d *Dispatcher) supervise(identity string, action jobstore.Action, body Body) {
	log := d.log.With(
		zap.String("ticket", ticket.Redact(identity)),
		zap.String("action", string(action)),
	)
	job := &Job{
		Identity: identity,
		Action:   action,
		Dir:      d.store.JobDir(identity, action),
		Store:    d.store,
		Tracker:  d.store.NewTracker(identity, action),
		Log:      log,
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("worker panicked",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			// The panic value stays in the operator log; the record gets
			// a generic message.
			d.finalizeIfActive(identity, action, jobstore.StatusFailed, 500,
				"The server encountered an unexpected fault while processing the request", log)
		}
	}()

	// Workers have no cancellation channel; expiration governs artifact
	// retention, not execution.
	err := body(context.Background(), job)
	if err != nil {
		log.Warn("worker finished with error", zap.Error(err))
		d.finalizeIfActive(identity, action, jobstore.StatusFailed, 500, err.Error(), log)
		return
	}
	d.finalizeIfActive(identity, action, jobstore.StatusFinished, 200, "Job completed successfully", log)
}

// finalizeIfActive applies the supervisor's default terminal state. A
// body that already finalized wins; ErrTerminal here is the expected
// outcome, not a failure.
func (d *Dispatcher) finalizeIfActive(identity string, action jobstore.Action, status jobstore.Status, code int, message string, log *zap.Logger) {
	err := d.store.Finalize(identity, action, status, code, message, "")
	switch {
	case err == nil:
	case jobstore.IsNotFound(err):
		// The reaper removed the slot mid-run; nothing left to update.
		log.Warn("job record gone before finalization")
	case errors.Is(err, jobstore.ErrTerminal):
		// The body finalized itself with a richer result; keep it.
	default:
		log.Error("failed to finalize job record", zap.Error(err))
	}
}

// Wait blocks until all spawned workers have exited. Used by tests and
// by drain-on-shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
