// Package localfs implements provider.Connector for local filesystem
// trees.
//
// Resource ids are slash-separated paths relative to BaseDir. This
// connector backs staging-tree uploads and serves as the reference
// implementation in tests.
package localfs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opencurate/ferry/pkg/provider"
)

// Connector implements provider.Connector over a base directory.
type Connector struct {
	baseDir string
}

var _ provider.Connector = (*Connector)(nil)

type Config struct {
	BaseDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

func New(cfg Config) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Connector{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

func (c *Connector) Close() error { return nil }

func (c *Connector) FetchResource(ctx context.Context, credential, id string) (*provider.Resource, error) {
	_ = ctx
	if err := c.checkCredential(credential); err != nil {
		return nil, c.wrap("FetchResource", id, err)
	}
	full, err := c.fullPath(id)
	if err != nil {
		return nil, c.wrap("FetchResource", id, err)
	}
	st, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, c.wrap("FetchResource", id, provider.ErrNotFound)
		}
		return nil, c.wrap("FetchResource", id, err)
	}
	return resourceFromInfo(id, st), nil
}

func (c *Connector) ListResources(ctx context.Context, credential, rootID string) ([]provider.Resource, error) {
	_ = ctx
	if err := c.checkCredential(credential); err != nil {
		return nil, c.wrap("ListResources", rootID, err)
	}
	root, err := c.fullPath(rootID)
	if err != nil {
		return nil, c.wrap("ListResources", rootID, err)
	}
	st, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, c.wrap("ListResources", rootID, provider.ErrNotFound)
		}
		return nil, c.wrap("ListResources", rootID, err)
	}
	if !st.IsDir() {
		return []provider.Resource{*resourceFromInfo(rootID, st)}, nil
	}

	var out []provider.Resource
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(c.baseDir, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, *resourceFromInfo(filepath.ToSlash(rel), info))
		return nil
	})
	if err != nil {
		return nil, c.wrap("ListResources", rootID, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Connector) DownloadResource(ctx context.Context, credential, id string) (io.ReadCloser, *provider.Resource, error) {
	_ = ctx
	if err := c.checkCredential(credential); err != nil {
		return nil, nil, c.wrap("DownloadResource", id, err)
	}
	full, err := c.fullPath(id)
	if err != nil {
		return nil, nil, c.wrap("DownloadResource", id, err)
	}
	st, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, c.wrap("DownloadResource", id, provider.ErrNotFound)
		}
		return nil, nil, c.wrap("DownloadResource", id, err)
	}
	if st.IsDir() {
		return nil, nil, c.wrap("DownloadResource", id, fmt.Errorf("resource is a container: %w", provider.ErrNotFound))
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, nil, c.wrap("DownloadResource", id, err)
	}
	return f, resourceFromInfo(id, st), nil
}

func (c *Connector) UploadResource(ctx context.Context, credential, parentID, name string, body io.Reader, size int64) (*provider.Resource, error) {
	_ = ctx
	_ = size
	if err := c.checkCredential(credential); err != nil {
		return nil, c.wrap("UploadResource", parentID, err)
	}
	if strings.TrimSpace(name) == "" {
		return nil, c.wrap("UploadResource", parentID, fmt.Errorf("resource name is required"))
	}
	id := path.Join(parentID, name)
	full, err := c.fullPath(id)
	if err != nil {
		return nil, c.wrap("UploadResource", id, err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, c.wrap("UploadResource", id, err)
	}
	f, err := os.Create(full)
	if err != nil {
		return nil, c.wrap("UploadResource", id, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = os.Remove(full)
		return nil, c.wrap("UploadResource", id, err)
	}
	if err := f.Close(); err != nil {
		return nil, c.wrap("UploadResource", id, err)
	}
	st, err := os.Stat(full)
	if err != nil {
		return nil, c.wrap("UploadResource", id, err)
	}
	return resourceFromInfo(id, st), nil
}

func (c *Connector) checkCredential(credential string) error {
	if strings.TrimSpace(credential) == "" {
		return provider.ErrInvalidCredentials
	}
	return nil
}

// fullPath resolves a resource id under baseDir, rejecting ids that
// would escape it.
func (c *Connector) fullPath(id string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(id, "/")))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("resource id escapes base dir: %q", id)
	}
	if clean == "." {
		return c.baseDir, nil
	}
	return filepath.Join(c.baseDir, clean), nil
}

func (c *Connector) wrap(op, id string, err error) error {
	return &provider.ConnectorError{Op: op, Kind: provider.KindLocalFS, Resource: id, Err: err}
}

func resourceFromInfo(id string, info fs.FileInfo) *provider.Resource {
	return &provider.Resource{
		ID:        id,
		Title:     info.Name(),
		Container: info.IsDir(),
		Size:      sizeOf(info),
		Updated:   info.ModTime().UTC(),
	}
}

func sizeOf(info fs.FileInfo) int64 {
	if info.IsDir() {
		return 0
	}
	return info.Size()
}
