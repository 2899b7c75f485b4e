package minio

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-isolation/internal/testutil"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

type mockObjectStore struct {
	mock.Mock
}

func (m *mockObjectStore) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	body, _ := io.ReadAll(reader)
	args := m.Called(ctx, bucketName, objectName, string(body), objectSize, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *mockObjectStore) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error) {
	args := m.Called(ctx, bucketName, objectName, opts)
	obj, _ := args.Get(0).(*minio.Object)
	return obj, args.Error(1)
}

func (m *mockObjectStore) ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	args := m.Called(ctx, bucketName, opts)
	return args.Get(0).(<-chan minio.ObjectInfo)
}

func (m *mockObjectStore) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	args := m.Called(ctx, bucketName)
	return args.Bool(0), args.Error(1)
}

func (m *mockObjectStore) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	return m.Called(ctx, bucketName, opts).Error(0)
}

func objectInfos(infos ...minio.ObjectInfo) <-chan minio.ObjectInfo {
	ch := make(chan minio.ObjectInfo, len(infos))
	for _, info := range infos {
		ch <- info
	}
	close(ch)
	return ch
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AccessKey = "key"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, testConfig().Validate())
	testutil.AssertErrorCode(t, DefaultConfig().Validate(), sserr.CodeValidationRequired)

	cfg := testConfig()
	cfg.Bucket = ""
	testutil.AssertErrorCode(t, cfg.Validate(), sserr.CodeValidationRequired)
}

func TestClient_EnsureBucket(t *testing.T) {
	t.Parallel()
	ms := &mockObjectStore{}
	ms.On("BucketExists", mock.Anything, DefaultBucket).Return(false, nil).Once()
	ms.On("MakeBucket", mock.Anything, DefaultBucket, minio.MakeBucketOptions{Region: DefaultRegion}).Return(nil).Once()
	ms.On("BucketExists", mock.Anything, DefaultBucket).Return(true, nil).Once()

	c := NewFromStore(ms, testConfig())
	require.NoError(t, c.EnsureBucket(context.Background()))
	require.NoError(t, c.EnsureBucket(context.Background()))
	ms.AssertExpectations(t)
	ms.AssertNumberOfCalls(t, "MakeBucket", 1)
}

func TestClient_PutJSON(t *testing.T) {
	t.Parallel()
	ms := &mockObjectStore{}
	body := `{"service":"llm"}`
	ms.On("PutObject", mock.Anything, DefaultBucket, "reports/1.json", body, int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"}).Return(minio.UploadInfo{}, nil).Once()
	ms.On("PutObject", mock.Anything, DefaultBucket, "reports/2.json", body, int64(len(body)),
		mock.Anything).Return(minio.UploadInfo{}, context.DeadlineExceeded).Once()

	c := NewFromStore(ms, testConfig())
	v := map[string]string{"service": "llm"}
	require.NoError(t, c.PutJSON(context.Background(), "reports/1.json", v))
	testutil.AssertErrorCode(t, c.PutJSON(context.Background(), "reports/2.json", v), sserr.CodeTimeoutDatabase)
	ms.AssertExpectations(t)
}

func TestClient_GetJSON_Error(t *testing.T) {
	t.Parallel()
	ms := &mockObjectStore{}
	ms.On("GetObject", mock.Anything, DefaultBucket, "missing.json", minio.GetObjectOptions{}).
		Return(nil, minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."})

	var v map[string]any
	err := NewFromStore(ms, testConfig()).GetJSON(context.Background(), "missing.json", &v)
	testutil.AssertErrorCode(t, err, sserr.CodeNotFound)
}

func TestClient_Keys(t *testing.T) {
	t.Parallel()
	ms := &mockObjectStore{}
	opts := minio.ListObjectsOptions{Prefix: "reports/", Recursive: true}
	ms.On("ListObjects", mock.Anything, DefaultBucket, opts).
		Return(objectInfos(minio.ObjectInfo{Key: "reports/a.json"}, minio.ObjectInfo{Key: "reports/b.json"})).Once()
	ms.On("ListObjects", mock.Anything, DefaultBucket, opts).
		Return(objectInfos(minio.ObjectInfo{Err: errors.New("access denied")})).Once()

	c := NewFromStore(ms, testConfig())
	keys, err := c.Keys(context.Background(), "reports/")
	require.NoError(t, err)
	assert.Equal(t, []string{"reports/a.json", "reports/b.json"}, keys)

	_, err = c.Keys(context.Background(), "reports/")
	testutil.AssertErrorCode(t, err, sserr.CodeInternalDatabase)
}

func TestClient_Health(t *testing.T) {
	t.Parallel()
	ms := &mockObjectStore{}
	ms.On("BucketExists", mock.Anything, DefaultBucket).Return(true, nil).Once()
	ms.On("BucketExists", mock.Anything, DefaultBucket).Return(false, errors.New("refused")).Once()

	c := NewFromStore(ms, testConfig())
	assert.NoError(t, c.Health(context.Background()))
	testutil.AssertErrorCode(t, c.Health(context.Background()), sserr.CodeUnavailableDependency)
}
