// Package provider defines the narrow interface the job core consumes
// from storage-provider connectors.
//
// Connectors perform the actual fetch/list/download/upload calls
// against a storage target. The core treats them as opaque: it only
// cares about success or typed failure plus per-resource unit counts
// for progress reporting. Whether a connector retries its own calls is
// the connector's business.
package provider

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Kind identifies a storage-provider connector implementation.
type Kind string

const (
	// KindLocalFS is a filesystem-backed connector, used for staging
	// trees and as the reference implementation in tests.
	KindLocalFS Kind = "localfs"

	// KindS3 is an AWS S3 or S3-compatible connector.
	KindS3 Kind = "s3"
)

func (k Kind) String() string {
	return string(k)
}

// ParseKind validates a connector kind from an untrusted source (URL
// path segment, request body).
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindLocalFS, KindS3:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown storage provider %q", s)
}

// Resource is the structured metadata a connector returns for one
// stored resource.
type Resource struct {
	// ID is the provider-scoped resource identifier.
	ID string `json:"id"`

	// Title is the human-facing resource name.
	Title string `json:"title"`

	// Container reports whether the resource holds child resources
	// (folder, project) rather than bytes.
	Container bool `json:"container"`

	// Size is the resource size in bytes; zero for containers.
	Size int64 `json:"size"`

	// Updated is when the resource was last modified, if known.
	Updated time.Time `json:"updated,omitempty"`

	// Hashes maps algorithm name to hex digest, as reported by the
	// provider. May be empty.
	Hashes map[string]string `json:"hashes,omitempty"`
}

// Connector abstracts one storage provider.
//
// All methods take the caller credential verbatim; connectors must
// never persist it. Implementations should be safe for concurrent use.
type Connector interface {
	// FetchResource returns metadata for a single resource.
	// Returns ErrNotFound if the resource does not exist.
	FetchResource(ctx context.Context, credential, id string) (*Resource, error)

	// ListResources returns the non-container resources reachable from
	// rootID (the whole tree when rootID is empty).
	ListResources(ctx context.Context, credential, rootID string) ([]Resource, error)

	// DownloadResource streams the bytes of a non-container resource.
	// The caller owns the returned reader.
	DownloadResource(ctx context.Context, credential, id string) (io.ReadCloser, *Resource, error)

	// UploadResource stores body as a new resource named name under
	// parentID, returning the created resource's metadata.
	UploadResource(ctx context.Context, credential, parentID, name string, body io.Reader, size int64) (*Resource, error)

	// Close releases any resources held by the connector.
	Close() error
}
