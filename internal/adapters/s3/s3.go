// Package s3 implements the Remote Adapter contract against an S3-compatible
// bucket used as a document source — distinct from the engine's own local
// Blob Store, which never talks to S3.
package s3

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/archivist/engine/internal/adapters"
	"github.com/archivist/engine/pkg/errors"
)

// Config configures an S3 source (§3: Source.Config.S3).
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool

	MaxRetries     int
	RequestTimeout time.Duration
	PoolSize       int
}

// Adapter implements adapters.Adapter against an S3 bucket.
type Adapter struct {
	bucket string
	pool   *ConnectionPool
	cfg    Config
}

var _ adapters.Adapter = (*Adapter)(nil)

// New builds an S3 adapter backed by a small connection pool, following the
// pooling pattern used for this engine's other outbound clients.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.KindValidation, "s3 source bucket must not be empty")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(cfg.MaxRetries),
	)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "load aws config")
	}

	newClient := func() (*s3.Client, error) {
		return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		}), nil
	}

	pool, err := NewConnectionPool(cfg.PoolSize, newClient)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "create s3 connection pool")
	}

	return &Adapter{bucket: cfg.Bucket, pool: pool, cfg: cfg}, nil
}

// Close releases the adapter's pooled connections.
func (a *Adapter) Close() error {
	return a.pool.Close()
}

// List returns the immediate "children" of dirPath, simulated over S3's
// flat key namespace via a delimited ListObjectsV2 call (prefix=dirPath+"/",
// delimiter="/"): CommonPrefixes become directories, Contents become files.
func (a *Adapter) List(ctx context.Context, dirPath string) ([]adapters.Entry, error) {
	prefix := normalizePrefix(dirPath)

	client := a.pool.Get()
	defer a.pool.Put(client)
	if client == nil {
		return nil, errors.New(errors.KindRemoteUnavailable, "no s3 client available")
	}

	var entries []adapters.Entry
	var continuationToken *string
	for {
		out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, a.translateError(err, "ListObjectsV2", prefix)
		}

		for _, cp := range out.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name == "" {
				continue
			}
			entries = append(entries, adapters.Entry{
				Kind: adapters.KindDir,
				Name: name,
				Path: strings.TrimSuffix(aws.ToString(cp.Prefix), "/"),
			})
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix {
				continue // the "directory marker" object itself
			}
			name := strings.TrimPrefix(key, prefix)
			entries = append(entries, adapters.Entry{
				Kind:    adapters.KindFile,
				Name:    name,
				Path:    key,
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
				ETag:    aws.ToString(obj.ETag),
			})
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuationToken = out.NextContinuationToken
	}

	return entries, nil
}

func normalizePrefix(dirPath string) string {
	p := strings.Trim(dirPath, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// Download retrieves the full contents of the object at key path.
func (a *Adapter) Download(ctx context.Context, path string) ([]byte, error) {
	client := a.pool.Get()
	defer a.pool.Put(client)
	if client == nil {
		return nil, errors.New(errors.KindRemoteUnavailable, "no s3 client available")
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, a.translateError(err, "GetObject", path)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrap(errors.KindNetwork, err, "read s3 object body")
	}
	return data, nil
}

// TestConnection issues a HeadBucket call to verify reachability and
// credentials without listing or downloading object data.
func (a *Adapter) TestConnection(ctx context.Context) adapters.ConnectionCheck {
	client := a.pool.Get()
	defer a.pool.Put(client)
	if client == nil {
		return adapters.ConnectionCheck{OK: false, Category: "network", Message: "no s3 client available"}
	}

	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err == nil {
		return adapters.ConnectionCheck{OK: true, Category: "ok", Message: "connected"}
	}

	switch {
	case isErrorType[*s3types.NoSuchBucket](err):
		return adapters.ConnectionCheck{OK: false, Category: "not_found", Message: "bucket not found"}
	default:
		msg := err.Error()
		if strings.Contains(strings.ToLower(msg), "forbidden") || strings.Contains(strings.ToLower(msg), "accessdenied") {
			return adapters.ConnectionCheck{OK: false, Category: "auth", Message: "access denied"}
		}
		return adapters.ConnectionCheck{OK: false, Category: "network", Message: msg}
	}
}

func (a *Adapter) translateError(err error, operation, key string) error {
	switch {
	case isErrorType[*s3types.NoSuchKey](err):
		return errors.Wrap(errors.KindNotFound, err, "s3 object not found").WithDetail("key", key)
	case isErrorType[*s3types.NoSuchBucket](err):
		return errors.Wrap(errors.KindNotFound, err, "s3 bucket not found").WithDetail("bucket", a.bucket)
	default:
		return errors.Wrap(errors.KindRemoteUnavailable, err, fmt.Sprintf("s3 %s failed", operation)).WithDetail("key", key)
	}
}

func isErrorType[T error](err error) bool {
	var target T
	return stderrors.As(err, &target)
}
