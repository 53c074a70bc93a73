package loader

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestFile_Load(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "img.jpg"), []byte{0xFF, 0xD8}, 0o600))

	l := File{Root: dir}

	data, err := l.Load(context.Background(), "img.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8}, data)

	data, err = File{}.Load(context.Background(), "file://"+filepath.Join(dir, "img.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8}, data)

	_, err = l.Load(context.Background(), "missing.jpg")
	require.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsNotFoundErr(err))

	_, err = l.Load(context.Background(), ".")
	require.ErrorIs(t, err, ErrUnreadable)
}

type mockS3 struct {
	mock.Mock
}

func (m *mockS3) GetObject(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, *params.Bucket, *params.Key)
	out, _ := args.Get(0).(*s3.GetObjectOutput)
	return out, args.Error(1)
}

func TestS3_Load(t *testing.T) {
	client := new(mockS3)
	client.On("GetObject", mock.Anything, "datasets", "imagenette/train/n01440764/a.JPEG").
		Return(&s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("jpeg"))}, nil)
	client.On("GetObject", mock.Anything, "datasets", "missing").
		Return(nil, &types.NoSuchKey{})
	client.On("GetObject", mock.Anything, "datasets", "denied").
		Return(nil, errors.New("access denied"))

	l := NewS3WithClient(client)

	data, err := l.Load(context.Background(), "s3://datasets/imagenette/train/n01440764/a.JPEG")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)

	_, err = l.Load(context.Background(), "s3://datasets/missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = l.Load(context.Background(), "s3://datasets/denied")
	require.ErrorIs(t, err, ErrUnreadable)

	client.AssertExpectations(t)
}

func TestSplitS3URL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		bucket  string
		key     string
		wantErr bool
	}{
		{name: "bucket and key", input: "s3://b/k", bucket: "b", key: "k"},
		{name: "nested key", input: "s3://b/a/b/c.png", bucket: "b", key: "a/b/c.png"},
		{name: "no key", input: "s3://b", wantErr: true},
		{name: "empty key", input: "s3://b/", wantErr: true},
		{name: "wrong scheme", input: "gs://b/k", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, err := splitS3URL(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnreadable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestMux_Load(t *testing.T) {
	s3Loader := Func(func(_ context.Context, path string) ([]byte, error) {
		return []byte("s3:" + path), nil
	})
	fallback := Func(func(_ context.Context, path string) ([]byte, error) {
		return []byte("fs:" + path), nil
	})

	m := NewMux(fallback)
	m.Handle("S3", s3Loader)

	data, err := m.Load(context.Background(), "s3://b/k")
	require.NoError(t, err)
	assert.Equal(t, "s3:s3://b/k", string(data))

	data, err = m.Load(context.Background(), "/data/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "fs:/data/a.jpg", string(data))

	_, err = NewMux(nil).Load(context.Background(), "/data/a.jpg")
	require.ErrorIs(t, err, ErrUnreadable)
}

func TestNew_LocalOnly(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("7"), 0o600))

	m, err := New(context.Background(), Config{Root: dir})
	require.NoError(t, err)

	data, err := m.Load(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "7", string(data))

	data, err = m.Load(context.Background(), "file://a.txt")
	require.NoError(t, err)
	assert.Equal(t, "7", string(data))

	// without s3 enabled the URL falls through to the filesystem
	_, err = m.Load(context.Background(), "s3://bucket/a.txt")
	require.ErrorIs(t, err, ErrNotFound)
}
