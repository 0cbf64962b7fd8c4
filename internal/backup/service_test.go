package backup

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemoteStore struct {
	objects map[string][]byte
}

func newFakeRemoteStore() *fakeRemoteStore {
	return &fakeRemoteStore{objects: make(map[string][]byte)}
}

func (f *fakeRemoteStore) Upload(_ context.Context, key string, data io.Reader, _ int64) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[key] = body
	return nil
}

func (f *fakeRemoteStore) List(_ context.Context, prefix string) ([]s3Object, error) {
	var out []s3Object
	for key, body := range f.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, s3Object{Key: key, Size: int64(len(body))})
		}
	}
	return out, nil
}

func (f *fakeRemoteStore) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func newTestService(t *testing.T, store *fakeRemoteStore) *Service {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "tacoreservice.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("fake sqlite contents"), 0o644))

	return &Service{
		client:    store,
		storePath: dbPath,
		stageDir:  t.TempDir(),
		log:       zerolog.Nop(),
	}
}

func TestCreateAndUploadProducesArchiveInRemoteStore(t *testing.T) {
	store := newFakeRemoteStore()
	svc := newTestService(t, store)

	require.NoError(t, svc.CreateAndUpload(context.Background()))
	assert.Len(t, store.objects, 1)

	for key := range store.objects {
		assert.Contains(t, key, archivePrefix)
	}
}

func TestListBackupsParsesTimestampsFromFilenames(t *testing.T) {
	store := newFakeRemoteStore()
	svc := newTestService(t, store)

	store.objects[archivePrefix+"2026-01-01-120000.tar.gz"] = []byte("a")
	store.objects[archivePrefix+"2026-01-02-120000.tar.gz"] = []byte("bb")
	store.objects["unrelated-file.txt"] = []byte("c")

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.True(t, backups[0].Timestamp.After(backups[1].Timestamp), "expected newest-first ordering")
}

func TestRotateOldBackupsKeepsMinimumCount(t *testing.T) {
	store := newFakeRemoteStore()
	svc := newTestService(t, store)

	for i := 0; i < 3; i++ {
		ts := time.Now().AddDate(0, 0, -i*100).Format(archiveTimeLayout)
		store.objects[archivePrefix+ts+".tar.gz"] = []byte("x")
	}

	require.NoError(t, svc.RotateOldBackups(context.Background(), 30))
	assert.Len(t, store.objects, 3, "rotation must not drop below the minimum retained count")
}

func TestRotateOldBackupsDeletesBeyondRetention(t *testing.T) {
	store := newFakeRemoteStore()
	svc := newTestService(t, store)

	now := time.Now()
	names := []string{
		now.Format(archiveTimeLayout),
		now.AddDate(0, 0, -1).Format(archiveTimeLayout),
		now.AddDate(0, 0, -2).Format(archiveTimeLayout),
		now.AddDate(0, 0, -400).Format(archiveTimeLayout),
	}
	for _, n := range names {
		store.objects[archivePrefix+n+".tar.gz"] = []byte("x")
	}

	require.NoError(t, svc.RotateOldBackups(context.Background(), 30))
	assert.Len(t, store.objects, 3, "the 400-day-old backup beyond retention should be deleted")
}

func TestCreateAndUploadArchiveContainsMetadataAndStoreFile(t *testing.T) {
	store := newFakeRemoteStore()
	svc := newTestService(t, store)

	require.NoError(t, svc.CreateAndUpload(context.Background()))

	var body []byte
	for _, b := range store.objects {
		body = b
	}
	assert.NotEmpty(t, body)
	assert.True(t, bytes.HasPrefix(body, []byte{0x1f, 0x8b}), "archive should be gzip-encoded")
}
