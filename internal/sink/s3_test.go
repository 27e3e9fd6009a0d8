// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sink

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	bucket, key, contentType string
	body                     string
	size                     int64
	err                      error
}

func (f *fakePutter) Put(_ context.Context, bucket, key string, r io.Reader, size int64, contentType string) (Object, error) {
	if f.err != nil {
		return Object{}, f.err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return Object{}, err
	}
	f.bucket, f.key, f.contentType, f.body, f.size = bucket, key, contentType, string(b), size
	return Object{Bucket: bucket, Key: key, Size: size, ETag: "etag"}, nil
}

func TestS3UploaderUploadsUnderPrefix(t *testing.T) {
	local := filepath.Join(t.TempDir(), "report.csv")
	require.NoError(t, os.WriteFile(local, []byte("c\n1\n"), 0o600))

	fake := &fakePutter{}
	u := newS3Uploader(fake, " exports ", "/daily/")

	obj, err := u.UploadFile(context.Background(), local, "")
	require.NoError(t, err)
	assert.Equal(t, "exports", fake.bucket)
	assert.Equal(t, "daily/report.csv", fake.key)
	assert.Equal(t, "text/csv", fake.contentType)
	assert.Equal(t, "c\n1\n", fake.body)
	assert.EqualValues(t, 4, fake.size)
	assert.Equal(t, "daily/report.csv", obj.Key)

	_, err = u.UploadFile(context.Background(), local, "2025/03/out.parquet")
	require.NoError(t, err)
	assert.Equal(t, "daily/2025/03/out.parquet", fake.key)
	assert.Equal(t, "text/csv", fake.contentType, "content type follows the local file")
}

func TestS3UploaderRejectsEscapingKeys(t *testing.T) {
	local := filepath.Join(t.TempDir(), "x.csv")
	require.NoError(t, os.WriteFile(local, nil, 0o600))
	u := newS3Uploader(&fakePutter{}, "b", "")

	for _, key := range []string{"../x.csv", "/..", "."} {
		_, err := u.UploadFile(context.Background(), local, key)
		assert.Error(t, err, key)
	}
}

func TestS3UploaderWrapsClientErrors(t *testing.T) {
	local := filepath.Join(t.TempDir(), "x.parquet")
	require.NoError(t, os.WriteFile(local, []byte("PAR1"), 0o600))
	u := newS3Uploader(&fakePutter{err: errors.New("access denied")}, "b", "")

	_, err := u.UploadFile(context.Background(), local, "")
	assert.ErrorContains(t, err, `put object "x.parquet"`)
	assert.ErrorContains(t, err, "access denied")
}

func TestParseEndpoint(t *testing.T) {
	host, secure, err := parseEndpoint("https://s3.example.com", false)
	require.NoError(t, err)
	assert.Equal(t, "s3.example.com", host)
	assert.True(t, secure)

	host, secure, err = parseEndpoint("minio:9000", false)
	require.NoError(t, err)
	assert.Equal(t, "minio:9000", host)
	assert.False(t, secure)

	_, err = NewS3Uploader(S3Config{Endpoint: "minio:9000"})
	assert.Error(t, err, "bucket is required")
}
