package filestore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/OpenPipe/pipeline/internal/filestore/drivers"
)

func newLocalService(t *testing.T) *Service {
	t.Helper()
	driver, err := drivers.NewLocalFSDriver(t.TempDir(), "/files")
	assert.NoError(t, err)
	return NewService(driver)
}

func TestRunKey(t *testing.T) {
	assert.Equal(t, "runs/7/foo.csv", RunKey(7, "foo.csv"))
	// Path components in the file name must not escape the run folder.
	assert.Equal(t, "runs/7/foo.csv", RunKey(7, "../../foo.csv"))
}

func TestService_SaveExistsOpen(t *testing.T) {
	svc := newLocalService(t)
	ctx := context.Background()

	exists, err := svc.Exists(ctx, 7, "foo.csv")
	assert.NoError(t, err)
	assert.False(t, exists)

	err = svc.Save(ctx, 7, "foo.csv", strings.NewReader("ID,Name\n1,A\n"))
	assert.NoError(t, err)

	exists, err = svc.Exists(ctx, 7, "foo.csv")
	assert.NoError(t, err)
	assert.True(t, exists)

	body, contentType, err := svc.Open(ctx, 7, "foo.csv")
	assert.NoError(t, err)
	defer body.Close()
	assert.Contains(t, contentType, "csv")
}

func TestService_StageKeepsExtension(t *testing.T) {
	svc := newLocalService(t)
	ctx := context.Background()

	assert.NoError(t, svc.Save(ctx, 3, "data.csv", strings.NewReader("a,b\n1,2\n")))

	path, cleanup, err := svc.Stage(ctx, 3, "data.csv")
	assert.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".csv"))

	content, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(content))

	cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestService_Download(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ID\n1\n"))
	}))
	defer server.Close()

	svc := newLocalService(t)
	ctx := context.Background()

	err := svc.Download(ctx, 5, "remote.csv", server.URL)
	assert.NoError(t, err)

	exists, err := svc.Exists(ctx, 5, "remote.csv")
	assert.NoError(t, err)
	assert.True(t, exists)
}

func TestService_DownloadRejectsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	svc := newLocalService(t)
	err := svc.Download(context.Background(), 5, "missing.csv", server.URL)
	assert.Error(t, err)
}
