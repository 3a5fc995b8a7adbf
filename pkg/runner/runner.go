// Package runner builds the standard worker bodies: download, upload,
// and transfer. Each body runs inside the dispatch supervisor, reports
// progress through the job's tracker, stages artifacts in the job's
// own directory, and finalizes itself with an action-specific result.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/opencurate/ferry/pkg/dispatch"
	"github.com/opencurate/ferry/pkg/jobstore"
	"github.com/opencurate/ferry/pkg/provider"
)

// Runner resolves connectors and constructs job bodies. Connector
// lookups happen at construction time so unsupported (kind, action)
// pairs are rejected before a job slot is claimed.
type Runner struct {
	registry *provider.Registry
}

func New(registry *provider.Registry) *Runner {
	return &Runner{registry: registry}
}

// Endpoint names one side of a provider operation.
type Endpoint struct {
	Kind       provider.Kind
	Credential string
	// ResourceID is the root resource on the source side, or the
	// parent container on the destination side.
	ResourceID string
}

// DownloadSpec configures a download body.
type DownloadSpec struct {
	Source Endpoint

	// Patterns optionally narrows the resource set with doublestar
	// globs matched against resource ids. Empty means everything.
	Patterns []string

	// RateLimit caps provider calls per second. Zero means unlimited.
	RateLimit float64
}

// UploadSpec configures an upload body. SourceDir is a staging tree on
// the local (or shared) filesystem.
type UploadSpec struct {
	Destination Endpoint
	SourceDir   string
	RateLimit   float64
}

// TransferSpec configures a provider-to-provider transfer body.
type TransferSpec struct {
	Source      Endpoint
	Destination Endpoint
	Patterns    []string
	RateLimit   float64
}

// pacer wraps an optional rate limiter; a nil pacer admits everything.
type pacer struct {
	limiter *rate.Limiter
}

func newPacer(rps float64) *pacer {
	if rps <= 0 {
		return &pacer{}
	}
	return &pacer{limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

func (p *pacer) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

// Download builds a body that lists the source tree, fetches every
// matching resource into the job directory, and packages the result
// into a single zip artifact.
func (r *Runner) Download(spec DownloadSpec) (dispatch.Body, error) {
	conn, err := r.registry.Lookup(spec.Source.Kind, jobstore.ActionDownload)
	if err != nil {
		return nil, err
	}
	if err := validatePatterns(spec.Patterns); err != nil {
		return nil, err
	}

	return func(ctx context.Context, job *dispatch.Job) error {
		pace := newPacer(spec.RateLimit)

		if err := pace.wait(ctx); err != nil {
			return err
		}
		resources, err := conn.ListResources(ctx, spec.Source.Credential, spec.Source.ResourceID)
		if err != nil {
			return fmt.Errorf("list resources: %w", err)
		}
		resources = filterResources(resources, spec.Patterns)
		if len(resources) == 0 {
			return fmt.Errorf("no resources matched under %q: %w", spec.Source.ResourceID, provider.ErrNotFound)
		}

		if err := job.Tracker.SetTotal(int64(len(resources))); err != nil {
			return err
		}

		stagingDir := filepath.Join(job.Dir, "payload")
		var failed int
		var firstErr error
		for _, res := range resources {
			if err := pace.wait(ctx); err != nil {
				return err
			}
			if err := fetchToFile(ctx, conn, spec.Source.Credential, res.ID, filepath.Join(stagingDir, safeRelPath(res.ID))); err != nil {
				job.Log.Warn("resource fetch failed",
					zap.String("resource", res.ID), zap.Error(err))
				failed++
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if err := job.Tracker.Increment(); err != nil {
				return err
			}
		}

		if failed == len(resources) {
			return fmt.Errorf("all %d resources failed: %w", failed, firstErr)
		}

		artifact := downloadArtifactName(spec.Source.Kind, spec.Source.ResourceID)
		if err := zipTree(stagingDir, filepath.Join(job.Dir, artifact)); err != nil {
			return fmt.Errorf("package artifact: %w", err)
		}
		if err := os.RemoveAll(stagingDir); err != nil {
			return fmt.Errorf("clean staging dir: %w", err)
		}

		if failed > 0 {
			return job.Finalize(jobstore.StatusPartialFailure, 207,
				fmt.Sprintf("%d of %d resources downloaded", len(resources)-failed, len(resources)), artifact)
		}
		return job.Finalize(jobstore.StatusFinished, 200, "Download successful", artifact)
	}, nil
}

// Upload builds a body that walks a staging tree and stores every file
// under the destination parent.
func (r *Runner) Upload(spec UploadSpec) (dispatch.Body, error) {
	conn, err := r.registry.Lookup(spec.Destination.Kind, jobstore.ActionUpload)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(spec.SourceDir) == "" {
		return nil, fmt.Errorf("source dir is required")
	}

	return func(ctx context.Context, job *dispatch.Job) error {
		pace := newPacer(spec.RateLimit)

		files, err := listFiles(spec.SourceDir)
		if err != nil {
			return fmt.Errorf("read staging tree: %w", err)
		}
		if len(files) == 0 {
			return fmt.Errorf("staging tree %q holds no files", spec.SourceDir)
		}

		if err := job.Tracker.SetTotal(int64(len(files))); err != nil {
			return err
		}

		var failed int
		var firstErr error
		for _, rel := range files {
			if err := pace.wait(ctx); err != nil {
				return err
			}
			if err := uploadFile(ctx, conn, spec.Destination, spec.SourceDir, rel); err != nil {
				job.Log.Warn("resource upload failed",
					zap.String("resource", rel), zap.Error(err))
				failed++
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if err := job.Tracker.Increment(); err != nil {
				return err
			}
		}

		switch {
		case failed == len(files):
			return fmt.Errorf("all %d resources failed: %w", failed, firstErr)
		case failed > 0:
			return job.Finalize(jobstore.StatusPartialFailure, 207,
				fmt.Sprintf("%d of %d resources uploaded", len(files)-failed, len(files)), "")
		}
		return job.Finalize(jobstore.StatusFinished, 200, "Upload successful", "")
	}, nil
}

// Transfer builds a body that streams matching resources from the
// source connector to the destination connector, staging each resource
// in a per-resource subfolder of the job directory.
func (r *Runner) Transfer(spec TransferSpec) (dispatch.Body, error) {
	src, err := r.registry.Lookup(spec.Source.Kind, jobstore.ActionTransfer)
	if err != nil {
		return nil, err
	}
	dst, err := r.registry.Lookup(spec.Destination.Kind, jobstore.ActionTransfer)
	if err != nil {
		return nil, err
	}
	if err := validatePatterns(spec.Patterns); err != nil {
		return nil, err
	}

	return func(ctx context.Context, job *dispatch.Job) error {
		pace := newPacer(spec.RateLimit)

		if err := pace.wait(ctx); err != nil {
			return err
		}
		resources, err := src.ListResources(ctx, spec.Source.Credential, spec.Source.ResourceID)
		if err != nil {
			return fmt.Errorf("list source resources: %w", err)
		}
		resources = filterResources(resources, spec.Patterns)
		if len(resources) == 0 {
			return fmt.Errorf("no resources matched under %q: %w", spec.Source.ResourceID, provider.ErrNotFound)
		}

		if err := job.Tracker.SetTotal(int64(len(resources))); err != nil {
			return err
		}

		var failed int
		var firstErr error
		for _, res := range resources {
			if err := pace.wait(ctx); err != nil {
				return err
			}
			if err := transferOne(ctx, src, dst, spec, job.Dir, res); err != nil {
				job.Log.Warn("resource transfer failed",
					zap.String("resource", res.ID), zap.Error(err))
				failed++
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if err := job.Tracker.Increment(); err != nil {
				return err
			}
		}

		switch {
		case failed == len(resources):
			return fmt.Errorf("all %d resources failed: %w", failed, firstErr)
		case failed > 0:
			return job.Finalize(jobstore.StatusPartialFailure, 207,
				fmt.Sprintf("%d of %d resources transferred", len(resources)-failed, len(resources)), "")
		}
		return job.Finalize(jobstore.StatusFinished, 200, "Transfer successful", "")
	}, nil
}

// transferOne stages one resource under resources/<id> in the job
// directory, then uploads the staged copy. Staging keeps a durable
// per-resource trail and makes the upload body seekable.
func transferOne(ctx context.Context, src, dst provider.Connector, spec TransferSpec, jobDir string, res provider.Resource) error {
	staged := filepath.Join(jobDir, "resources", safeRelPath(res.ID))
	if err := fetchToFile(ctx, src, spec.Source.Credential, res.ID, staged); err != nil {
		return err
	}

	f, err := os.Open(staged)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}

	parent := spec.Destination.ResourceID
	dir := filepath.ToSlash(filepath.Dir(safeRelPath(res.ID)))
	if dir != "." {
		parent = strings.TrimSuffix(parent+"/"+dir, "/")
	}
	_, err = dst.UploadResource(ctx, spec.Destination.Credential, parent, filepath.Base(staged), f, st.Size())
	return err
}

func fetchToFile(ctx context.Context, conn provider.Connector, credential, id, dest string) error {
	body, _, err := conn.DownloadResource(ctx, credential, id)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = os.Remove(dest)
		return err
	}
	return f.Close()
}

func uploadFile(ctx context.Context, conn provider.Connector, dest Endpoint, sourceDir, rel string) error {
	f, err := os.Open(filepath.Join(sourceDir, filepath.FromSlash(rel)))
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}

	parent := dest.ResourceID
	dir := filepath.ToSlash(filepath.Dir(rel))
	if dir != "." {
		parent = strings.TrimSuffix(parent+"/"+dir, "/")
	}
	_, err = conn.UploadResource(ctx, dest.Credential, parent, filepath.Base(rel), f, st.Size())
	return err
}

// listFiles returns slash-separated paths of regular files under root,
// relative to root, sorted by the walk order.
func listFiles(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// safeRelPath flattens a resource id into a path that cannot escape
// the staging directory.
func safeRelPath(id string) string {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(id, "/")))
	parts := strings.Split(clean, string(filepath.Separator))
	kept := parts[:0]
	for _, p := range parts {
		if p == ".." || p == "." || p == "" {
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return "resource"
	}
	return filepath.Join(kept...)
}

func downloadArtifactName(kind provider.Kind, resourceID string) string {
	id := strings.NewReplacer("/", "_", ":", "_", "\\", "_").Replace(resourceID)
	id = strings.Trim(id, "_")
	if id == "" {
		id = "all"
	}
	return fmt.Sprintf("%s_download_%s.zip", kind, id)
}
