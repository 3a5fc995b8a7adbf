// Package s3 implements the connector interface for AWS S3 and
// S3-compatible storage.
package s3

import "fmt"

// Config configures an S3 connector.
//
// Authentication priority:
//  1. A per-call credential of the form "ACCESS_KEY_ID:SECRET_ACCESS_KEY"
//     (the caller's token, as received by the job core)
//  2. The AWS SDK v2 default chain: environment variables, shared
//     credentials/config files, instance metadata
//
// For S3-compatible stores (MinIO, Wasabi, DigitalOcean Spaces), set
// Endpoint and typically ForcePathStyle.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// Region is the AWS region. If empty and not resolvable from the
	// environment, defaults to us-east-1 for AWS S3. When Endpoint is
	// set, no default is applied.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	// Leave empty for AWS S3.
	Endpoint string

	// Profile is the AWS profile name to use from shared config.
	Profile string

	// ForcePathStyle forces path-style URLs (bucket in path, not
	// subdomain). Required for most S3-compatible stores.
	ForcePathStyle bool

	// MaxKeys is the page size for List operations. Zero uses the
	// provider default (1000). Values over 1000 are clamped.
	MaxKeys int
}

// DefaultMaxKeys is the default page size for List operations.
const DefaultMaxKeys = 1000

// MaxAllowedKeys is the maximum page size allowed by S3.
const MaxAllowedKeys = 1000

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3: bucket name is required")
	}
	if c.MaxKeys < 0 {
		return fmt.Errorf("s3: max keys must be >= 0")
	}
	return nil
}

func clampMaxKeys(requested, fallback int) int {
	if requested <= 0 {
		requested = fallback
	}
	if requested > MaxAllowedKeys {
		return MaxAllowedKeys
	}
	return requested
}
