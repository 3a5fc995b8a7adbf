package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opencurate/ferry/pkg/jobstore"
	"github.com/opencurate/ferry/pkg/ticket"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *jobstore.Store) {
	t.Helper()
	store, err := jobstore.NewStore(jobstore.Config{RootDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return New(store, nil), store
}

func TestDispatcher_SubmitReturnsTicketImmediately(t *testing.T) {
	d, store := newTestDispatcher(t)

	started := make(chan struct{})
	release := make(chan struct{})
	tk, err := d.Submit([]byte("token-1"), jobstore.ActionDownload, time.Hour,
		func(ctx context.Context, job *Job) error {
			close(started)
			<-release
			return nil
		})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if tk != ticket.FingerprintString("token-1") {
		t.Fatalf("ticket is not the credential fingerprint")
	}

	// The record must already be durable while the body still runs.
	<-started
	rec, err := store.Read(tk, jobstore.ActionDownload)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if rec.Status != jobstore.StatusInProgress {
		t.Fatalf("status while running: %q", rec.Status)
	}

	close(release)
	d.Wait()
}

func TestDispatcher_SuccessGetsDefaultFinalization(t *testing.T) {
	d, store := newTestDispatcher(t)

	tk, err := d.Submit([]byte("token-1"), jobstore.ActionDownload, time.Hour,
		func(ctx context.Context, job *Job) error { return nil })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	d.Wait()

	rec, err := store.Read(tk, jobstore.ActionDownload)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if rec.Status != jobstore.StatusFinished || rec.StatusCode != 200 {
		t.Fatalf("default finalization: %+v", rec)
	}
	if rec.KillTime == nil {
		t.Fatalf("kill_time not set")
	}
}

func TestDispatcher_BodyErrorFinalizesFailed(t *testing.T) {
	d, store := newTestDispatcher(t)

	tk, err := d.Submit([]byte("token-1"), jobstore.ActionUpload, time.Hour,
		func(ctx context.Context, job *Job) error {
			return errors.New("destination rejected the bag")
		})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	d.Wait()

	rec, err := store.Read(tk, jobstore.ActionUpload)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if rec.Status != jobstore.StatusFailed || rec.StatusCode != 500 {
		t.Fatalf("failure finalization: %+v", rec)
	}
	if rec.Message != "destination rejected the bag" {
		t.Fatalf("message: %q", rec.Message)
	}
}

func TestDispatcher_PanicIsContainedAndFinalized(t *testing.T) {
	d, store := newTestDispatcher(t)

	tk, err := d.Submit([]byte("token-1"), jobstore.ActionDownload, time.Hour,
		func(ctx context.Context, job *Job) error {
			panic("connector blew up")
		})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Wait must return: the panic may not escape the worker goroutine.
	d.Wait()

	rec, err := store.Read(tk, jobstore.ActionDownload)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if rec.Status != jobstore.StatusFailed {
		t.Fatalf("status after panic: %q", rec.Status)
	}
	// The panic value is for operator logs, not for clients.
	if rec.Message == "" || rec.Message == "connector blew up" {
		t.Fatalf("panic surfaced verbatim: %q", rec.Message)
	}
}

func TestDispatcher_BodySelfFinalizationWins(t *testing.T) {
	d, store := newTestDispatcher(t)

	tk, err := d.Submit([]byte("token-1"), jobstore.ActionUpload, time.Hour,
		func(ctx context.Context, job *Job) error {
			return job.Finalize(jobstore.StatusPartialFailure, 207, "2 of 3 resources uploaded", "")
		})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	d.Wait()

	rec, err := store.Read(tk, jobstore.ActionUpload)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if rec.Status != jobstore.StatusPartialFailure || rec.StatusCode != 207 {
		t.Fatalf("self-finalized result overwritten: %+v", rec)
	}
}

func TestDispatcher_DuplicateSubmissionConflicts(t *testing.T) {
	d, _ := newTestDispatcher(t)

	release := make(chan struct{})
	if _, err := d.Submit([]byte("token-X"), jobstore.ActionDownload, time.Hour,
		func(ctx context.Context, job *Job) error {
			<-release
			return nil
		}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	_, err := d.Submit([]byte("token-X"), jobstore.ActionDownload, time.Hour,
		func(ctx context.Context, job *Job) error { return nil })
	if !jobstore.IsConflict(err) {
		t.Fatalf("second Submit: got %v, want conflict", err)
	}

	close(release)
	d.Wait()

	// Once the first job is terminal, the slot opens again.
	if _, err := d.Submit([]byte("token-X"), jobstore.ActionDownload, time.Hour,
		func(ctx context.Context, job *Job) error { return nil }); err != nil {
		t.Fatalf("Submit after terminal: %v", err)
	}
	d.Wait()
}

func TestDispatcher_ProgressVisibleToConcurrentReader(t *testing.T) {
	d, store := newTestDispatcher(t)

	step := make(chan struct{})
	done := make(chan struct{})
	tk, err := d.Submit([]byte("token-1"), jobstore.ActionDownload, time.Hour,
		func(ctx context.Context, job *Job) error {
			defer close(done)
			if err := job.Tracker.SetTotal(3); err != nil {
				return err
			}
			for i := 0; i < 3; i++ {
				<-step
				if err := job.Tracker.Increment(); err != nil {
					return err
				}
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	prev := int64(-1)
	for i := 0; i < 3; i++ {
		step <- struct{}{}
		// Poll until this increment lands; each observed value must be
		// fully written and monotonic.
		deadline := time.After(5 * time.Second)
		for {
			rec, err := store.Read(tk, jobstore.ActionDownload)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if rec.CompletedUnits < prev {
				t.Fatalf("observed progress regression: %d -> %d", prev, rec.CompletedUnits)
			}
			if rec.CompletedUnits > rec.TotalUnits {
				t.Fatalf("observed completed > total")
			}
			if rec.CompletedUnits == int64(i+1) {
				prev = rec.CompletedUnits
				break
			}
			select {
			case <-deadline:
				t.Fatalf("increment %d never became visible", i+1)
			case <-time.After(time.Millisecond):
			}
		}
	}
	<-done
	d.Wait()
}
