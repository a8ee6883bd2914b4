package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/bitacora/internal/common"
	"github.com/dmitrijs2005/bitacora/internal/logging"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	require.NoError(t, m.Put(ctx, Object{Key: "a1-foto.jpg", ContentType: "image/jpeg"}, strings.NewReader("jpeg")))
	assert.Equal(t, 1, m.Len())

	rc, obj, err := m.Get(ctx, "a1-foto.jpg")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "jpeg", string(body))
	assert.Equal(t, Object{Key: "a1-foto.jpg", Size: 4, ContentType: "image/jpeg"}, obj)

	require.NoError(t, m.Delete(ctx, "a1-foto.jpg"))
	assert.ErrorIs(t, m.Delete(ctx, "a1-foto.jpg"), common.ErrNotFound)
	_, _, err = m.Get(ctx, "a1-foto.jpg")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.NoError(t, m.Ping(ctx))
}

type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
	puts    []*s3.PutObjectInput
	deletes int
	pingErr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts = append(f.puts, in)
	f.objects[aws.ToString(in.Key)] = b
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(b)),
		ContentLength: aws.Int64(int64(len(b))),
		ContentType:   aws.String(f.types[aws.ToString(in.Key)]),
	}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deletes++
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.pingErr
}

func newTestS3(t *testing.T, fake *fakeS3) *S3Store {
	t.Helper()
	oldLoad, oldNew := loadDefaultAWSConfig, newS3ClientFromConfig
	t.Cleanup(func() { loadDefaultAWSConfig, newS3ClientFromConfig = oldLoad, oldNew })

	var captured s3.Options
	newS3ClientFromConfig = func(_ aws.Config, optFns ...func(*s3.Options)) s3API {
		for _, fn := range optFns {
			fn(&captured)
		}
		return fake
	}

	s, err := NewS3Store(context.Background(), S3Options{
		AccessKey: "admin", SecretKey: "secret", Region: "us-east-1",
		BaseEndpoint: "http://minio:9000", Bucket: "bitacora",
	}, logging.Discard())
	require.NoError(t, err)
	assert.True(t, captured.UsePathStyle)
	assert.Equal(t, "http://minio:9000", aws.ToString(captured.BaseEndpoint))
	return s
}

func TestS3Store_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := newTestS3(t, fake)

	require.NoError(t, s.Put(ctx, Object{Key: "k1-plano.pdf", Size: 3, ContentType: "application/pdf"}, bytes.NewReader([]byte("pdf"))))
	require.Len(t, fake.puts, 1)
	assert.Equal(t, "bitacora", aws.ToString(fake.puts[0].Bucket))
	assert.Equal(t, int64(3), aws.ToInt64(fake.puts[0].ContentLength))

	rc, obj, err := s.Get(ctx, "k1-plano.pdf")
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, Object{Key: "k1-plano.pdf", Size: 3, ContentType: "application/pdf"}, obj)

	require.NoError(t, s.Delete(ctx, "k1-plano.pdf"))
	assert.Equal(t, 1, fake.deletes)

	// второй раз объекта уже нет, DeleteObject не вызывается
	assert.ErrorIs(t, s.Delete(ctx, "k1-plano.pdf"), common.ErrNotFound)
	assert.Equal(t, 1, fake.deletes)

	_, _, err = s.Get(ctx, "k1-plano.pdf")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestS3Store_Ping(t *testing.T) {
	fake := newFakeS3()
	s := newTestS3(t, fake)
	assert.NoError(t, s.Ping(context.Background()))

	fake.pingErr = errors.New("no bucket")
	assert.Error(t, s.Ping(context.Background()))
}

func TestNewS3Store_ConfigError(t *testing.T) {
	old := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = old })
	loadDefaultAWSConfig = func(context.Context, ...func(*config.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("boom")
	}

	_, err := NewS3Store(context.Background(), S3Options{Bucket: "b"}, logging.Discard())
	require.ErrorContains(t, err, "aws config")
}
