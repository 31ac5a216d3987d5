// Package filestore keeps the source files of pipeline runs. Each run
// owns one folder; the ingestion engine stages files out of the store
// onto local disk before parsing them.
package filestore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"
)

// Service exposes run-folder operations over a storage driver.
type Service struct {
	driver StorageDriver
	client *http.Client
}

// NewService creates a filestore service over the given driver.
func NewService(driver StorageDriver) *Service {
	return &Service{
		driver: driver,
		client: &http.Client{Timeout: 10 * time.Minute},
	}
}

// RunKey is the storage key of one file inside a run's folder.
func RunKey(runID int64, fileName string) string {
	return fmt.Sprintf("runs/%d/%s", runID, path.Base(fileName))
}

// Exists reports whether a run file is present in the store.
func (s *Service) Exists(ctx context.Context, runID int64, fileName string) (bool, error) {
	return s.driver.Exists(ctx, RunKey(runID, fileName))
}

// Save stores a run file, replacing any previous content.
func (s *Service) Save(ctx context.Context, runID int64, fileName string, body io.Reader) error {
	contentType := mime.TypeByExtension(filepath.Ext(fileName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := s.driver.Save(ctx, RunKey(runID, fileName), body, contentType); err != nil {
		return fmt.Errorf("save run file %s: %w", fileName, err)
	}
	return nil
}

// Open streams a run file back from the store.
func (s *Service) Open(ctx context.Context, runID int64, fileName string) (io.ReadCloser, string, error) {
	return s.driver.Get(ctx, RunKey(runID, fileName))
}

// URL returns a link to a run file.
func (s *Service) URL(ctx context.Context, runID int64, fileName string) (string, error) {
	return s.driver.GenerateURL(ctx, RunKey(runID, fileName), time.Hour)
}

// Stage copies a run file onto local disk for the ingestion engine,
// which needs a seekable file path. The cleanup function removes the
// staged copy; callers must invoke it on every exit path.
func (s *Service) Stage(ctx context.Context, runID int64, fileName string) (string, func(), error) {
	body, _, err := s.driver.Get(ctx, RunKey(runID, fileName))
	if err != nil {
		return "", nil, fmt.Errorf("stage run file %s: %w", fileName, err)
	}
	defer body.Close()

	// Keep the extension: the ingestion engine derives the loader
	// type from it.
	tmp, err := os.CreateTemp("", "stage-*"+filepath.Ext(fileName))
	if err != nil {
		return "", nil, fmt.Errorf("create staging file: %w", err)
	}

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("stage run file %s: %w", fileName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("close staging file: %w", err)
	}

	staged := tmp.Name()
	cleanup := func() {
		if err := os.Remove(staged); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove staged file", "path", staged, "error", err)
		}
	}
	return staged, cleanup, nil
}

// Download fetches a source file from its URL into the run folder.
func (s *Service) Download(ctx context.Context, runID int64, fileName, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build download request for %s: %w", fileName, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", fileName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %s", fileName, resp.Status)
	}

	if err := s.Save(ctx, runID, fileName, resp.Body); err != nil {
		return err
	}
	slog.Info("downloaded source file", "run_id", runID, "file", fileName)
	return nil
}
