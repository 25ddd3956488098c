package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/e2llm/chartrepo/pkg/errcode"
)

type S3Backend struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Backend creates an S3 backend for the provided s3://bucket/prefix root.
// If endpoint is non-empty, it configures the client for S3-compatible storage
// (e.g., MinIO) with path-style addressing.
func NewS3Backend(ctx context.Context, root, endpoint string) (*S3Backend, error) {
	bucket, prefix, err := parseS3URI(root)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true // Required for MinIO and most S3-compatible storage
		})
	}

	client := s3.NewFromConfig(cfg, clientOpts...)
	return &S3Backend{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
	}, nil
}

func (b *S3Backend) Kind() Kind { return ObjectStore }

func (b *S3Backend) Root() string {
	if b.prefix == "" {
		return fmt.Sprintf("s3://%s", b.bucket)
	}
	return fmt.Sprintf("s3://%s/%s", b.bucket, b.prefix)
}

func (b *S3Backend) key(p string) string {
	return keyJoin(b.prefix, p)
}

// rel strips the backend prefix so listed keys are relative to Root.
func (b *S3Backend) rel(key string) string {
	rel := strings.TrimPrefix(key, keyJoin(b.prefix, ""))
	return strings.TrimPrefix(rel, "/")
}

func keyJoin(prefix, p string) string {
	if p == "" {
		return strings.TrimSuffix(prefix, "/")
	}
	p = path.Clean(p)
	if p == "." {
		return strings.TrimSuffix(prefix, "/")
	}
	p = strings.TrimPrefix(p, "/")
	if prefix == "" {
		return p
	}
	return strings.TrimSuffix(prefix, "/") + "/" + p
}

func parseS3URI(uri string) (bucket, prefix string, err error) {
	if !strings.HasPrefix(uri, "s3://") {
		return "", "", fmt.Errorf("invalid s3 uri %q", uri)
	}
	trim := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(trim, "/", 2)
	bucket = parts[0]
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in uri %q", uri)
	}
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	return bucket, prefix, nil
}

// Exists only answers for whole objects. A key prefix with objects below it
// reports false.
func (b *S3Backend) Exists(ctx context.Context, p string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
	})
	if err == nil {
		return true, nil
	}
	var nfe *s3types.NotFound
	if errors.As(err, &nfe) {
		return false, nil
	}
	return false, err
}

func (b *S3Backend) Open(ctx context.Context, p string) ([]byte, error) {
	data, _, err := b.OpenWithETag(ctx, p)
	return data, err
}

func (b *S3Backend) OpenWithETag(ctx context.Context, p string) ([]byte, string, error) {
	key := b.key(p)
	obj, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, "", fmt.Errorf("%s: %w", key, fs.ErrNotExist)
		}
		return nil, "", err
	}
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, "", err
	}
	return data, strings.Trim(aws.ToString(obj.ETag), "\""), nil
}

func (b *S3Backend) Upload(ctx context.Context, p string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	_, err := b.uploader.Upload(ctx, input)
	return err
}

// UploadIfMatch puts the object only if its current ETag equals etag, or, for
// an empty etag, only if no object exists yet.
func (b *S3Backend) UploadIfMatch(ctx context.Context, p string, data []byte, contentType, etag string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if etag == "" {
		input.IfNoneMatch = aws.String("*")
	} else {
		input.IfMatch = aws.String(etag)
	}
	_, err := b.client.PutObject(ctx, input)
	if isPreconditionFailure(err) {
		return errcode.Wrap(errcode.Conflict, err, "%s changed since read", p)
	}
	return err
}

func (b *S3Backend) Delete(ctx context.Context, p string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
	})
	return err
}

// List returns every object below prefix. Names are full keys relative to
// Root; object stores have no directory entries.
func (b *S3Backend) List(ctx context.Context, prefix string) ([]Entry, error) {
	var out []Entry
	listPrefix := keyJoin(b.prefix, prefix)
	if listPrefix != "" {
		listPrefix += "/"
	}
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(listPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			name := b.rel(*obj.Key)
			out = append(out, Entry{
				Name:        name,
				Size:        aws.ToInt64(obj.Size),
				ContentType: contentTypeByName(name),
			})
		}
	}
	return out, nil
}

func isPreconditionFailure(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}
