package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/fieldgrid/safeguard/snapshot"
	"github.com/fieldgrid/safeguard/types"
)

// S3Store archives snapshots to Amazon S3 (or an S3-compatible service).
// Keys are time-ordered so a prefix listing returns capture order.
type S3Store struct {
	s3Client   *s3.Client
	config     *S3Config
	seq        atomic.Uint64
	configured bool
}

// S3Config contains S3 backend configuration.
type S3Config struct {
	Region               string `json:"region"`
	Bucket               string `json:"bucket"`
	KeyPrefix            string `json:"key_prefix"`
	Encrypt              bool   `json:"encrypt"`
	KMSKeyID             string `json:"kms_key_id"`
	StorageClass         string `json:"storage_class"`
	MaxRetries           int    `json:"max_retries"`
	AccessKey            string `json:"access_key"`
	SecretKey            string `json:"secret_key"`
	SessionToken         string `json:"session_token"`
	Endpoint             string `json:"endpoint"` // For S3-compatible services
	ForcePathStyle       bool   `json:"force_path_style"`
	SkipBucketValidation bool   `json:"skip_bucket_validation"`
}

// NewS3Store creates an unconfigured S3 snapshot store.
func NewS3Store() *S3Store {
	return &S3Store{}
}

// Configure loads AWS configuration, builds the client, and validates
// bucket access.
func (s *S3Store) Configure(ctx context.Context, config *S3Config) error {
	if config == nil {
		return fmt.Errorf("s3 configuration is required")
	}
	if config.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	s.config = config

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(config.Region),
	)
	if err != nil {
		return fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	if config.AccessKey != "" && config.SecretKey != "" {
		cfg.Credentials = aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     config.AccessKey,
				SecretAccessKey: config.SecretKey,
				SessionToken:    config.SessionToken,
			}, nil
		})
	}

	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
		})
	}
	if config.ForcePathStyle {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	if config.MaxRetries > 0 {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.RetryMaxAttempts = config.MaxRetries
		})
	}

	s.s3Client = s3.NewFromConfig(cfg, s3Options...)

	if !config.SkipBucketValidation {
		_, err = s.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(config.Bucket),
		})
		if err != nil {
			return fmt.Errorf("bucket validation failed: %w", err)
		}
	}

	s.configured = true
	return nil
}

// snapshotKey builds a lexicographically time-ordered object key. The
// sequence counter breaks ties between snapshots taken in the same
// nanosecond.
func (s *S3Store) snapshotKey(executionID string, tag types.SnapshotTag, takenAt time.Time) string {
	prefix := s.config.KeyPrefix
	if prefix == "" {
		prefix = "safeguard/snapshots"
	}
	return fmt.Sprintf("%s/%s/%020d-%06d-%s.json",
		prefix, executionID, takenAt.UnixNano(), s.seq.Add(1), tag)
}

// Capture writes a snapshot object. Objects are never overwritten or
// deleted.
func (s *S3Store) Capture(ctx context.Context, executionID string, tag types.SnapshotTag, state []byte) (*types.Snapshot, error) {
	if !s.configured {
		return nil, fmt.Errorf("s3 store not configured")
	}
	if executionID == "" {
		return nil, fmt.Errorf("execution id is required")
	}

	snap := snapshot.New(executionID, tag, state)
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(s.snapshotKey(executionID, tag, snap.TakenAt)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"execution-id": snap.ExecutionID,
			"tag":          string(snap.Tag),
			"checksum":     snap.Checksum,
		},
	}

	if s.config.Encrypt {
		if s.config.KMSKeyID != "" {
			input.ServerSideEncryption = s3types.ServerSideEncryptionAwsKms
			input.SSEKMSKeyId = aws.String(s.config.KMSKeyID)
		} else {
			input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
		}
	}
	if s.config.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(s.config.StorageClass)
	}

	if _, err := s.s3Client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("failed to save snapshot to S3: %w", err)
	}
	return snap, nil
}

// List returns the snapshots for executionID in capture order.
func (s *S3Store) List(ctx context.Context, executionID string) ([]*types.Snapshot, error) {
	if !s.configured {
		return nil, fmt.Errorf("s3 store not configured")
	}

	prefix := s.config.KeyPrefix
	if prefix == "" {
		prefix = "safeguard/snapshots"
	}
	listPrefix := fmt.Sprintf("%s/%s/", prefix, executionID)

	var out []*types.Snapshot
	var continuation *string
	for {
		page, err := s.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.config.Bucket),
			Prefix:            aws.String(listPrefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list snapshots: %w", err)
		}

		for _, obj := range page.Contents {
			snap, err := s.getSnapshot(ctx, aws.ToString(obj.Key))
			if err != nil {
				return nil, err
			}
			out = append(out, snap)
		}

		if page.IsTruncated == nil || !*page.IsTruncated {
			break
		}
		continuation = page.NextContinuationToken
	}
	return out, nil
}

func (s *S3Store) getSnapshot(ctx context.Context, key string) (*types.Snapshot, error) {
	result, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", key, err)
	}

	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", key, err)
	}
	return &snap, nil
}
