// Package s3store is an AWS S3 objectstore.Store.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/aalhour/tsdbcompactor/internal/cache"
	"github.com/aalhour/tsdbcompactor/internal/logging"
	"github.com/aalhour/tsdbcompactor/internal/metrics"
	"github.com/aalhour/tsdbcompactor/internal/objectstore"
)

// Config configures the S3 backend.
type Config struct {
	Bucket         string
	Region         string
	Endpoint       string // non-empty for S3-compatible stores (e.g. MinIO)
	ForcePathStyle bool
}

// Store implements objectstore.Store against a single S3 bucket.
type Store struct {
	client *s3.Client
	bucket string
	log    logging.Logger

	// blobCache fronts whole-object Get reads (spec §4.1: "an
	// object-store blob cache... used by... the S3 adapter to avoid
	// re-fetching immutable parquet bytes"). Parquet files are
	// write-once under a fresh object ID per spec's path-naming
	// invariant, so cached bytes never go stale; GetRange bypasses it
	// since a partial read isn't the cache's unit.
	blobCache *cache.Cache[objectstore.Path, []byte]
}

// New builds a Store, loading AWS credentials the default SDK way
// (environment, shared config file, EC2/ECS role) and overriding the
// endpoint/path-style for S3-compatible backends when configured. pool
// may be nil, in which case Get always fetches from S3 directly.
func New(ctx context.Context, cfg Config, log logging.Logger, pool *cache.ResourcePool, m *metrics.Metrics) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3store: bucket is required")
	}
	if log == nil {
		log = logging.Discard
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("s3store: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	store := &Store{client: client, bucket: cfg.Bucket, log: log}
	if pool != nil {
		store.blobCache = cache.New[objectstore.Path, []byte](
			"s3-blob", pool,
			func(ctx context.Context, path objectstore.Path, _ any) ([]byte, error) {
				return store.getRange(ctx, path, nil)
			},
			func(_ objectstore.Path, v []byte) uint64 { return uint64(len(v)) },
			log, m,
		)
	}
	return store, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func (s *Store) Put(ctx context.Context, path objectstore.Path, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(string(path)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("s3store: put %s: %w", path, err)
	}
	if s.blobCache != nil {
		s.blobCache.Remove(path)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path objectstore.Path) ([]byte, error) {
	if s.blobCache != nil {
		return s.blobCache.Get(ctx, path, nil)
	}
	return s.getRange(ctx, path, nil)
}

func (s *Store) GetRange(ctx context.Context, path objectstore.Path, offset, length int64) ([]byte, error) {
	var rng *string
	if length >= 0 {
		rng = aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	} else {
		rng = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}
	return s.getRange(ctx, path, rng)
}

func (s *Store) getRange(ctx context.Context, path objectstore.Path, rng *string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(string(path)),
		Range:  rng,
	})
	if isNotFound(err) {
		return nil, objectstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("s3store: get %s: %w", path, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *Store) Head(ctx context.Context, path objectstore.Path) (objectstore.Meta, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(string(path)),
	})
	if isNotFound(err) {
		return objectstore.Meta{}, objectstore.ErrNotFound
	}
	if err != nil {
		return objectstore.Meta{}, fmt.Errorf("s3store: head %s: %w", path, err)
	}
	m := objectstore.Meta{Path: path}
	if out.ContentLength != nil {
		m.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		m.LastModified = *out.LastModified
	}
	return m, nil
}

func (s *Store) List(ctx context.Context, prefix objectstore.Path) ([]objectstore.Meta, error) {
	var out []objectstore.Meta
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(string(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3store: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			m := objectstore.Meta{Path: objectstore.Path(aws.ToString(obj.Key))}
			if obj.Size != nil {
				m.Size = *obj.Size
			}
			if obj.LastModified != nil {
				m.LastModified = *obj.LastModified
			}
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) ListWithDelimiter(ctx context.Context, prefix objectstore.Path, delimiter string) (objectstore.ListPage, error) {
	var page objectstore.ListPage
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(string(prefix)),
		Delimiter: aws.String(delimiter),
	})
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return objectstore.ListPage{}, fmt.Errorf("s3store: list %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			m := objectstore.Meta{Path: objectstore.Path(aws.ToString(obj.Key))}
			if obj.Size != nil {
				m.Size = *obj.Size
			}
			if obj.LastModified != nil {
				m.LastModified = *obj.LastModified
			}
			page.Objects = append(page.Objects, m)
		}
		for _, cp := range out.CommonPrefixes {
			page.CommonPrefixes = append(page.CommonPrefixes, objectstore.Path(aws.ToString(cp.Prefix)))
		}
	}
	return page, nil
}

func (s *Store) Delete(ctx context.Context, path objectstore.Path) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(string(path)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("s3store: delete %s: %w", path, err)
	}
	if s.blobCache != nil {
		s.blobCache.Remove(path)
	}
	return nil
}
