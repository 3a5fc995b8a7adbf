package reaper

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opencurate/ferry/pkg/jobstore"
	"github.com/opencurate/ferry/pkg/ticket"
)

type fixture struct {
	root   string
	store  *jobstore.Store
	reaper *Reaper
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		root: t.TempDir(),
		now:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	store, err := jobstore.NewStore(jobstore.Config{RootDir: f.root}, jobstore.WithClock(clock))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	f.store = store

	r, err := New(Config{RootDir: f.root}, nil, WithClock(clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.reaper = r
	return f
}

func (f *fixture) create(t *testing.T, credential string, action jobstore.Action, ttl time.Duration) string {
	t.Helper()
	id := ticket.FingerprintString(credential)
	if _, err := f.store.Create(id, action, ttl); err != nil {
		t.Fatalf("Create %s/%s: %v", action, credential, err)
	}
	return id
}

func TestSweep_DeletesExactlyExpired(t *testing.T) {
	f := newFixture(t)

	expired := f.create(t, "old", jobstore.ActionDownload, time.Hour)
	fresh := f.create(t, "new", jobstore.ActionDownload, 10*time.Hour)

	f.now = f.now.Add(2 * time.Hour)

	res, err := f.reaper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(res.Deleted) != 1 || res.Deleted[0].Ticket != expired {
		t.Fatalf("deleted: %v", res.Deleted)
	}
	if len(res.Retained) != 1 || res.Retained[0].Ticket != fresh {
		t.Fatalf("retained: %v", res.Retained)
	}

	if _, err := os.Stat(f.store.JobDir(expired, jobstore.ActionDownload)); !os.IsNotExist(err) {
		t.Fatalf("expired job dir still present")
	}
	if _, err := f.store.Read(expired, jobstore.ActionDownload); !jobstore.IsNotFound(err) {
		t.Fatalf("read after reap: got %v, want ErrNotFound", err)
	}
	if _, err := f.store.Read(fresh, jobstore.ActionDownload); err != nil {
		t.Fatalf("fresh job lost: %v", err)
	}
}

func TestSweep_DeletesExpiredRegardlessOfStatus(t *testing.T) {
	// A worker that never finalizes leaves in_progress behind; once the
	// retention window passes the directory goes anyway.
	f := newFixture(t)
	id := f.create(t, "stuck", jobstore.ActionTransfer, time.Hour)

	f.now = f.now.Add(2 * time.Hour)

	res, err := f.reaper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(res.Deleted) != 1 || res.Deleted[0].Ticket != id {
		t.Fatalf("deleted: %v", res.Deleted)
	}
}

func TestSweep_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.create(t, "old", jobstore.ActionDownload, time.Hour)
	f.create(t, "new", jobstore.ActionUpload, 10*time.Hour)

	f.now = f.now.Add(2 * time.Hour)

	first, err := f.reaper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("first Sweep: %v", err)
	}
	if len(first.Deleted) != 1 {
		t.Fatalf("first sweep deleted %d", len(first.Deleted))
	}

	second, err := f.reaper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if len(second.Deleted) != 0 {
		t.Fatalf("second sweep deleted %d, want 0", len(second.Deleted))
	}
	if len(second.Retained) != 1 {
		t.Fatalf("second sweep retained %d, want 1", len(second.Retained))
	}
}

func TestSweep_SkipsCorruptRecordAndContinues(t *testing.T) {
	f := newFixture(t)

	bad := f.create(t, "bad", jobstore.ActionDownload, time.Hour)
	if err := os.WriteFile(f.store.RecordPath(bad, jobstore.ActionDownload), []byte("{broken"), 0o644); err != nil {
		t.Fatalf("corrupt record: %v", err)
	}
	expired := f.create(t, "old", jobstore.ActionDownload, time.Hour)

	f.now = f.now.Add(2 * time.Hour)

	res, err := f.reaper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].Ticket != bad {
		t.Fatalf("skipped: %v", res.Skipped)
	}
	if len(res.Deleted) != 1 || res.Deleted[0].Ticket != expired {
		t.Fatalf("corruption blocked cleanup of healthy jobs: %v", res.Deleted)
	}
	// The corrupt directory is left for the operator.
	if _, err := os.Stat(f.store.JobDir(bad, jobstore.ActionDownload)); err != nil {
		t.Fatalf("corrupt job dir removed: %v", err)
	}
}

func TestSweep_SkipsRecordlessDirectory(t *testing.T) {
	f := newFixture(t)
	debris := filepath.Join(f.root, "download", ticket.FingerprintString("debris"))
	if err := os.MkdirAll(debris, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	res, err := f.reaper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(res.Skipped) != 1 {
		t.Fatalf("skipped: %v", res.Skipped)
	}
}

func TestSweep_IgnoresForeignDirectories(t *testing.T) {
	f := newFixture(t)
	if err := os.MkdirAll(filepath.Join(f.root, "not-an-action", "x"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	res, err := f.reaper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(res.Deleted)+len(res.Retained)+len(res.Skipped) != 0 {
		t.Fatalf("foreign directory entered the sweep: %+v", res)
	}
}

func TestSweep_MissingRootIsEmptyResult(t *testing.T) {
	r, err := New(Config{RootDir: filepath.Join(t.TempDir(), "never-created")}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(res.Deleted)+len(res.Retained)+len(res.Skipped) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSweep_DeletesArtifactsWithDirectory(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "old", jobstore.ActionDownload, time.Hour)

	artifact := filepath.Join(f.store.JobDir(id, jobstore.ActionDownload), "bundle.zip")
	if err := os.WriteFile(artifact, []byte("zipzip"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	f.now = f.now.Add(2 * time.Hour)
	if _, err := f.reaper.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := os.Stat(artifact); !os.IsNotExist(err) {
		t.Fatalf("artifact survived the reap")
	}
}

func TestSweep_DryRunReportsWithoutDeleting(t *testing.T) {
	f := newFixture(t)

	expired := f.create(t, "old", jobstore.ActionDownload, time.Hour)
	f.now = f.now.Add(2 * time.Hour)

	clock := func() time.Time { return f.now }
	dry, err := New(Config{RootDir: f.root}, nil, WithClock(clock), WithDryRun(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := dry.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(res.Deleted) != 1 || res.Deleted[0].Ticket != expired {
		t.Fatalf("dry-run deleted list: %v", res.Deleted)
	}
	if _, err := f.store.Read(expired, jobstore.ActionDownload); err != nil {
		t.Fatalf("dry run removed the job: %v", err)
	}

	// A real sweep afterwards actually deletes it.
	if _, err := f.reaper.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.root, string(jobstore.ActionDownload), expired)); !os.IsNotExist(err) {
		t.Fatalf("expired job dir still present after real sweep")
	}
}
