package adapter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config is the connection setting of an S3 compatible object storage.
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string
}

type s3Client struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3 creates a Storage backed by S3 or MinIO
func NewS3(cfg S3Config) (Storage, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, goerr.New("s3 bucket is required")
	}
	endpoint, secure, err := parseS3Endpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create s3 client", goerr.V("endpoint", endpoint))
	}

	return &s3Client{
		client: client,
		bucket: strings.TrimSpace(cfg.Bucket),
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func parseS3Endpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, goerr.New("s3 endpoint is required")
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", false, goerr.Wrap(err, "failed to parse s3 endpoint", goerr.V("endpoint", raw))
		}
		if parsed.Host == "" {
			return "", false, goerr.New("s3 endpoint host is required", goerr.V("endpoint", raw))
		}
		return parsed.Host, parsed.Scheme == "https" || useSSL, nil
	}
	return raw, useSSL, nil
}

func (s *s3Client) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// s3Writer buffers the blob and uploads it on Close because PutObject needs the size.
type s3Writer struct {
	ctx    context.Context
	client *s3Client
	key    string
	buf    bytes.Buffer
}

func (w *s3Writer) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *s3Writer) Close() error {
	_, err := w.client.client.PutObject(w.ctx, w.client.bucket, w.key, &w.buf, int64(w.buf.Len()),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return goerr.Wrap(err, "failed to put object", goerr.V("key", w.key), goerr.V("bucket", w.client.bucket))
	}
	return nil
}

func (s *s3Client) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	return &s3Writer{ctx: ctx, client: s, key: s.objectKey(key)}, nil
}

func (s *s3Client) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	objKey := s.objectKey(key)
	obj, err := s.client.GetObject(ctx, s.bucket, objKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(err, objKey)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, mapMinioErr(err, objKey)
	}
	return obj, nil
}

func mapMinioErr(err error, key string) error {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return goerr.Wrap(ErrObjectNotFound, "no such object in s3", goerr.V("key", key))
		}
	}
	return goerr.Wrap(err, "failed to get object", goerr.V("key", key))
}
