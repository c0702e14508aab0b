package storage

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePutter struct {
	bucket, key, contentType string
	body                     []byte
	err                      error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket = aws.ToString(in.Bucket)
	f.key = aws.ToString(in.Key)
	f.contentType = aws.ToString(in.ContentType)
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Archive_Archive(t *testing.T) {
	putter := &fakePutter{}
	archive := NewS3Archive(putter, "raw", zap.NewNop())

	key, err := archive.Archive(context.Background(), "4242", []byte("<article/>"))

	require.NoError(t, err)
	assert.Equal(t, "articles/4242.xml", key)
	assert.Equal(t, "raw", putter.bucket)
	assert.Equal(t, "articles/4242.xml", putter.key)
	assert.Equal(t, "application/xml", putter.contentType)
	assert.Equal(t, "<article/>", string(putter.body))
}

func TestS3Archive_ArchiveError(t *testing.T) {
	archive := NewS3Archive(&fakePutter{err: errors.New("denied")}, "raw", zap.NewNop())

	_, err := archive.Archive(context.Background(), "1", []byte("x"))

	assert.ErrorContains(t, err, "articles/1.xml")
}
