package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/opencurate/ferry/pkg/provider"
	"github.com/opencurate/ferry/pkg/ticket"
)

// Connector implements provider.Connector for AWS S3 and S3-compatible
// storage. Resource ids are object keys; a container id is a key
// prefix.
type Connector struct {
	cfg     Config
	maxKeys int

	mu      sync.Mutex
	clients map[string]*s3.Client
}

var _ provider.Connector = (*Connector)(nil)

// New creates an S3 connector. Clients are built lazily per caller
// credential; the default-chain client is built on first use with an
// empty credential.
func New(cfg Config) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Connector{
		cfg:     cfg,
		maxKeys: clampMaxKeys(cfg.MaxKeys, DefaultMaxKeys),
		clients: make(map[string]*s3.Client),
	}, nil
}

func (c *Connector) Close() error { return nil }

// client returns (building and caching if needed) the S3 client for a
// caller credential. Cache keys are credential fingerprints; the raw
// credential is never retained.
func (c *Connector) client(ctx context.Context, credential string) (*s3.Client, error) {
	key := ticket.FingerprintString(credential)

	c.mu.Lock()
	cached, ok := c.clients[key]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if c.cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.cfg.Region))
	}
	if c.cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(c.cfg.Profile))
	}
	if credential != "" {
		accessKey, secretKey, err := splitCredential(credential)
		if err != nil {
			return nil, err
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if awsCfg.Region == "" && c.cfg.Endpoint == "" {
		awsCfg.Region = DefaultAWSRegion
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if c.cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
		if c.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.cfg.Endpoint)
		}
	})

	c.mu.Lock()
	c.clients[key] = client
	c.mu.Unlock()
	return client, nil
}

// splitCredential parses "ACCESS_KEY_ID:SECRET_ACCESS_KEY".
func splitCredential(credential string) (string, string, error) {
	accessKey, secretKey, ok := strings.Cut(credential, ":")
	if !ok || accessKey == "" || secretKey == "" {
		return "", "", provider.ErrInvalidCredentials
	}
	return accessKey, secretKey, nil
}

func (c *Connector) FetchResource(ctx context.Context, credential, id string) (*provider.Resource, error) {
	client, err := c.client(ctx, credential)
	if err != nil {
		return nil, c.wrapError("FetchResource", id, err)
	}

	out, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		return nil, c.wrapError("FetchResource", id, err)
	}

	return &provider.Resource{
		ID:      id,
		Title:   path.Base(id),
		Size:    aws.ToInt64(out.ContentLength),
		Updated: aws.ToTime(out.LastModified).UTC(),
		Hashes:  etagHashes(aws.ToString(out.ETag)),
	}, nil
}

func (c *Connector) ListResources(ctx context.Context, credential, rootID string) ([]provider.Resource, error) {
	client, err := c.client(ctx, credential)
	if err != nil {
		return nil, c.wrapError("ListResources", rootID, err)
	}

	var out []provider.Resource
	var continuation *string
	for {
		input := &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.cfg.Bucket),
			MaxKeys:           aws.Int32(int32(c.maxKeys)),
			ContinuationToken: continuation,
		}
		if rootID != "" {
			input.Prefix = aws.String(rootID)
		}

		page, err := client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, c.wrapError("ListResources", rootID, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				// Zero-byte folder markers are containers, not units.
				continue
			}
			out = append(out, provider.Resource{
				ID:      key,
				Title:   path.Base(key),
				Size:    aws.ToInt64(obj.Size),
				Updated: aws.ToTime(obj.LastModified).UTC(),
				Hashes:  etagHashes(aws.ToString(obj.ETag)),
			})
		}
		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			return out, nil
		}
		continuation = page.NextContinuationToken
	}
}

func (c *Connector) DownloadResource(ctx context.Context, credential, id string) (io.ReadCloser, *provider.Resource, error) {
	client, err := c.client(ctx, credential)
	if err != nil {
		return nil, nil, c.wrapError("DownloadResource", id, err)
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		return nil, nil, c.wrapError("DownloadResource", id, err)
	}

	res := &provider.Resource{
		ID:      id,
		Title:   path.Base(id),
		Size:    aws.ToInt64(out.ContentLength),
		Updated: aws.ToTime(out.LastModified).UTC(),
		Hashes:  etagHashes(aws.ToString(out.ETag)),
	}
	return out.Body, res, nil
}

func (c *Connector) UploadResource(ctx context.Context, credential, parentID, name string, body io.Reader, size int64) (*provider.Resource, error) {
	if strings.TrimSpace(name) == "" {
		return nil, c.wrapError("UploadResource", parentID, fmt.Errorf("resource name is required"))
	}
	key := name
	if parentID != "" {
		key = strings.TrimSuffix(parentID, "/") + "/" + name
	}

	client, err := c.client(ctx, credential)
	if err != nil {
		return nil, c.wrapError("UploadResource", key, err)
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return nil, c.wrapError("UploadResource", key, err)
	}
	return &provider.Resource{ID: key, Title: name, Size: size}, nil
}

// etagHashes exposes a cleaned ETag as an md5 hash when it looks like
// one (multipart uploads produce non-md5 etags with a part suffix).
func etagHashes(etag string) map[string]string {
	etag = strings.Trim(etag, `"`)
	if etag == "" || strings.Contains(etag, "-") {
		return nil
	}
	return map[string]string{"md5": etag}
}

// wrapError converts S3 errors to connector errors with appropriate
// sentinel errors.
func (c *Connector) wrapError(op, id string, err error) error {
	wrapped := &provider.ConnectorError{
		Op:       op,
		Kind:     provider.KindS3,
		Resource: id,
		Err:      err,
	}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		wrapped.Err = provider.ErrNotFound
		return wrapped
	case errors.As(err, &noSuchBucket):
		wrapped.Err = provider.ErrProviderUnavailable
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			wrapped.Err = provider.ErrNotFound
		case "AccessDenied", "Forbidden":
			wrapped.Err = provider.ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			wrapped.Err = provider.ErrInvalidCredentials
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			wrapped.Err = provider.ErrThrottled
		case "ServiceUnavailable", "InternalError":
			wrapped.Err = provider.ErrProviderUnavailable
		}
	}
	return wrapped
}
