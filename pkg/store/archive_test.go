package store

import (
	"context"
	"io"
	"slices"
	"testing"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-isolation/internal/testutil"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/clients/minio"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/degradation"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

type mockObjectStore struct {
	mock.Mock
}

func (m *mockObjectStore) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts miniogo.PutObjectOptions) (miniogo.UploadInfo, error) {
	_, _ = io.Copy(io.Discard, reader)
	args := m.Called(ctx, bucket, key)
	return miniogo.UploadInfo{Key: key, Size: size}, args.Error(0)
}

func (m *mockObjectStore) GetObject(ctx context.Context, bucket, key string, _ miniogo.GetObjectOptions) (*miniogo.Object, error) {
	args := m.Called(ctx, bucket, key)
	return nil, args.Error(0)
}

func (m *mockObjectStore) ListObjects(ctx context.Context, bucket string, opts miniogo.ListObjectsOptions) <-chan miniogo.ObjectInfo {
	return m.Called(ctx, bucket, opts.Prefix).Get(0).(<-chan miniogo.ObjectInfo)
}

func (m *mockObjectStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	args := m.Called(ctx, bucket)
	return args.Bool(0), args.Error(1)
}

func (m *mockObjectStore) MakeBucket(ctx context.Context, bucket string, _ miniogo.MakeBucketOptions) error {
	return m.Called(ctx, bucket).Error(0)
}

func newMockArchive() (*Archive, *mockObjectStore) {
	ms := &mockObjectStore{}
	cfg := minio.DefaultConfig()
	cfg.AccessKey = "key"
	return NewArchive(minio.NewFromStore(ms, cfg)), ms
}

func TestReportKey_SortsByTime(t *testing.T) {
	t.Parallel()
	early := ReportKey(report("llm", degradation.KindDegradation, t0))
	late := ReportKey(report("db", degradation.KindRestoration, t0.Add(time.Millisecond)))

	assert.Equal(t, "reports/2026/01/01/", early[:len("reports/2026/01/01/")])
	assert.Contains(t, early, "-degradation-llm.json")
	keys := []string{late, early}
	slices.Sort(keys)
	assert.Equal(t, []string{early, late}, keys)
}

func TestArchive_SaveReport(t *testing.T) {
	t.Parallel()
	a, ms := newMockArchive()
	r := report("llm", degradation.KindDegradation, t0)
	ms.On("PutObject", mock.Anything, minio.DefaultBucket, ReportKey(r)).Return(nil).Once()

	require.NoError(t, a.SaveReport(context.Background(), r))
	ms.AssertExpectations(t)
}

func TestArchive_SaveSnapshotKey(t *testing.T) {
	t.Parallel()
	a, ms := newMockArchive()
	ms.On("PutObject", mock.Anything, minio.DefaultBucket, "snapshots/db.json").Return(nil).Once()

	require.NoError(t, a.SaveSnapshot(context.Background(), snapshotFor("db")))
	testutil.AssertErrorCode(t, a.SaveSnapshot(context.Background(), snapshotFor("")), sserr.CodeValidationRequired)
	ms.AssertExpectations(t)
}

func TestArchive_RecentReportsErrors(t *testing.T) {
	t.Parallel()
	a, ms := newMockArchive()
	key := ReportKey(report("llm", degradation.KindDegradation, t0))
	ch := make(chan miniogo.ObjectInfo, 1)
	ch <- miniogo.ObjectInfo{Key: key}
	close(ch)
	ms.On("ListObjects", mock.Anything, minio.DefaultBucket, "reports/").Return((<-chan miniogo.ObjectInfo)(ch))
	ms.On("GetObject", mock.Anything, minio.DefaultBucket, key).
		Return(miniogo.ErrorResponse{Code: "NoSuchKey"})

	_, err := a.RecentReports(context.Background(), 0)
	testutil.AssertErrorCode(t, err, sserr.CodeValidationRange)

	_, err = a.RecentReports(context.Background(), 5)
	testutil.AssertErrorCode(t, err, sserr.CodeNotFound)
}
