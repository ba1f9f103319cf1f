package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyBucket struct {
	objects  map[string]string
	failures int
	calls    int
}

func (b *flakyBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b.calls++
	if b.failures > 0 {
		b.failures--
		return nil, errors.New("connection reset")
	}
	text, ok := b.objects[*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(text))}, nil
}

func TestGetFileText(t *testing.T) {
	bucket := &flakyBucket{objects: map[string]string{"t1/documents/d1.txt": "Alice."}, failures: 1}
	l := NewS3GraphFileLoaderWithClient("docs", bucket)

	b, err := l.GetFileText(context.Background(), "t1/documents/d1.txt")
	require.NoError(t, err)
	assert.Equal(t, "Alice.", string(b))
	assert.Equal(t, 2, bucket.calls, "transient failures are retried")

	_, err = l.GetFileText(context.Background(), "t1/documents/d1.txt")
	require.NoError(t, err)
	assert.Equal(t, 2, bucket.calls, "contents are cached")

	_, err = l.GetFileText(context.Background(), "missing")
	assert.Error(t, err)
	assert.Equal(t, "s3://docs/t1/documents/d1.txt", l.URI("t1/documents/d1.txt"))
}
