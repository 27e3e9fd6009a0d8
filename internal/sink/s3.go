// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sink

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	herrors "hueq/cli/internal/errors"
)

// S3Config locates the bucket exported files are uploaded to.
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// Enabled reports whether an upload target is configured.
func (c S3Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != "" && strings.TrimSpace(c.Bucket) != ""
}

// objectPutter is the part of an S3 client the uploader needs.
type objectPutter interface {
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (Object, error)
}

// Object describes an uploaded object.
type Object struct {
	Bucket string
	Key    string
	Size   int64
	ETag   string
}

// S3Uploader copies finished export files to object storage.
type S3Uploader struct {
	client objectPutter
	bucket string
	prefix string
}

// NewS3Uploader builds an uploader backed by a minio client.
func NewS3Uploader(cfg S3Config) (*S3Uploader, error) {
	if !cfg.Enabled() {
		return nil, herrors.New(herrors.InvalidArgument, "s3 endpoint and bucket are required")
	}
	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return newS3Uploader(&minioPutter{client: mc}, cfg.Bucket, cfg.Prefix), nil
}

func newS3Uploader(client objectPutter, bucket, prefix string) *S3Uploader {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix != "" {
		prefix = path.Clean(prefix)
	}
	return &S3Uploader{client: client, bucket: strings.TrimSpace(bucket), prefix: prefix}
}

// UploadFile uploads the file at local under the configured prefix. An empty key uses the
// file's base name.
func (u *S3Uploader) UploadFile(ctx context.Context, local, key string) (Object, error) {
	f, err := os.Open(local)
	if err != nil {
		return Object{}, fmt.Errorf("open %s: %w", local, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return Object{}, fmt.Errorf("stat %s: %w", local, err)
	}

	if key == "" {
		key = filepath.Base(local)
	}
	key, err = u.objectKey(key)
	if err != nil {
		return Object{}, err
	}
	obj, err := u.client.Put(ctx, u.bucket, key, f, info.Size(), contentType(local))
	if err != nil {
		return Object{}, fmt.Errorf("put object %q: %w", key, err)
	}
	return obj, nil
}

func (u *S3Uploader) objectKey(key string) (string, error) {
	key = strings.TrimSpace(strings.TrimPrefix(key, "/"))
	cleaned := path.Clean(key)
	if key == "" || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", herrors.New(herrors.InvalidArgument, fmt.Sprintf("invalid object key %q", key))
	}
	if u.prefix == "" {
		return cleaned, nil
	}
	return path.Join(u.prefix, cleaned), nil
}

func contentType(name string) string {
	switch format, _ := FormatOf(name); format {
	case FormatCSV:
		return "text/csv"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}

func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return raw, useSSL, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse s3 endpoint: %w", err)
	}
	if u.Host == "" {
		return "", false, herrors.New(herrors.InvalidArgument, "s3 endpoint host is required")
	}
	return u.Host, u.Scheme == "https" || useSSL, nil
}

type minioPutter struct {
	client *minio.Client
}

func (m *minioPutter) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (Object, error) {
	info, err := m.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return Object{}, err
	}
	return Object{Bucket: info.Bucket, Key: info.Key, Size: info.Size, ETag: info.ETag}, nil
}
