package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

const objectSuffix = ".msgpack"

// S3API is the subset of the S3 client used by S3Store
type S3API interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config configures an S3-compatible bucket (AWS, Cloudflare R2, MinIO)
type S3Config struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
}

// Enabled reports whether enough settings are present to build a client
func (c S3Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// S3Store keeps each artifact version as one msgpack object.
// Object names sort by creation time so the newest version is the
// lexicographically largest key under the artifact's prefix.
type S3Store struct {
	client   S3API
	uploader *manager.Uploader
	bucket   string
	prefix   string
	log      zerolog.Logger
}

// NewS3Client builds an S3 client with static credentials and an optional custom endpoint
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// NewS3Store creates a store writing to cfg.Bucket through client
func NewS3Store(client S3API, cfg S3Config, log zerolog.Logger) *S3Store {
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   prefix,
		log:      log.With().Str("component", "artifact_store").Str("backend", "s3").Logger(),
	}
}

func (s *S3Store) keyPrefix(key Key) string {
	return fmt.Sprintf("%s%s/%s/", s.prefix, key.Kind, key.Universe)
}

func (s *S3Store) objectName(a *Artifact) string {
	return fmt.Sprintf("%s%020d-%s%s", s.keyPrefix(a.Key), a.CreatedAt.UnixNano(), a.Version, objectSuffix)
}

// Save uploads a new version
func (s *S3Store) Save(ctx context.Context, a *Artifact) error {
	if err := prepare(a); err != nil {
		return err
	}

	body, err := msgpack.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode artifact %s: %w", a.Key, err)
	}

	name := s.objectName(a)
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(name),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/msgpack"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload artifact %s: %w", name, err)
	}

	s.log.Debug().Str("object", name).Int("size_bytes", len(body)).Msg("Artifact uploaded")
	return nil
}

// Load downloads the newest version of key
func (s *S3Store) Load(ctx context.Context, key Key, asOf time.Time) (*Artifact, error) {
	objects, err := s.list(ctx, s.keyPrefix(key))
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	a, err := s.download(ctx, aws.ToString(objects[0].Key))
	if err != nil {
		return nil, err
	}
	return checkFresh(a, asOf)
}

// LoadVersion downloads the object of key whose name carries version
func (s *S3Store) LoadVersion(ctx context.Context, key Key, version string) (*Artifact, error) {
	objects, err := s.list(ctx, s.keyPrefix(key))
	if err != nil {
		return nil, err
	}
	for _, obj := range objects {
		if _, v, ok := parseObjectName(aws.ToString(obj.Key)); ok && v == version {
			return s.download(ctx, aws.ToString(obj.Key))
		}
	}
	return nil, fmt.Errorf("%w: %s version %s", ErrNotFound, key, version)
}

func (s *S3Store) download(ctx context.Context, name string) (*Artifact, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to download artifact %s: %w", name, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", name, err)
	}

	var a Artifact
	if err := msgpack.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("failed to decode artifact %s: %w", name, err)
	}
	a.AsOf = a.AsOf.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

// Versions lists versions of key from object names, newest first
func (s *S3Store) Versions(ctx context.Context, key Key) ([]Info, error) {
	objects, err := s.list(ctx, s.keyPrefix(key))
	if err != nil {
		return nil, err
	}

	out := make([]Info, 0, len(objects))
	for _, obj := range objects {
		created, version, ok := parseObjectName(aws.ToString(obj.Key))
		if !ok {
			continue
		}
		out = append(out, Info{
			Key:       key,
			Version:   version,
			CreatedAt: created,
			SizeBytes: aws.ToInt64(obj.Size),
		})
	}
	return out, nil
}

// Prune deletes all but the newest keep objects of key
func (s *S3Store) Prune(ctx context.Context, key Key, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	objects, err := s.list(ctx, s.keyPrefix(key))
	if err != nil {
		return 0, err
	}

	removed := 0
	for i, obj := range objects {
		if i < keep {
			continue
		}
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    obj.Key,
		}); err != nil {
			s.log.Error().Err(err).Str("object", aws.ToString(obj.Key)).Msg("Failed to delete old artifact")
			continue
		}
		removed++
	}
	return removed, nil
}

// Keys lists every kind/universe prefix holding at least one object
func (s *S3Store) Keys(ctx context.Context) ([]Key, error) {
	objects, err := s.list(ctx, s.prefix)
	if err != nil {
		return nil, err
	}

	seen := make(map[Key]bool)
	var keys []Key
	for _, obj := range objects {
		parts := strings.Split(strings.TrimPrefix(aws.ToString(obj.Key), s.prefix), "/")
		if len(parts) != 3 {
			continue
		}
		k := Key{Kind: Kind(parts[0]), Universe: parts[1]}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

// list returns objects under prefix sorted by name descending
func (s *S3Store) list(ctx context.Context, prefix string) ([]types.Object, error) {
	var objects []types.Object
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list artifacts under %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil && strings.HasSuffix(*obj.Key, objectSuffix) {
				objects = append(objects, obj)
			}
		}
	}

	sort.Slice(objects, func(i, j int) bool {
		return aws.ToString(objects[i].Key) > aws.ToString(objects[j].Key)
	})
	return objects, nil
}

// parseObjectName extracts creation time and version from .../<nanos>-<version>.msgpack
func parseObjectName(name string) (time.Time, string, bool) {
	base := name[strings.LastIndex(name, "/")+1:]
	base = strings.TrimSuffix(base, objectSuffix)
	nanos, version, ok := strings.Cut(base, "-")
	if !ok {
		return time.Time{}, "", false
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return time.Time{}, "", false
	}
	return time.Unix(0, n).UTC(), version, true
}
