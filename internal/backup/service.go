package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	archivePrefix     = "tacoreservice-backup-"
	archiveTimeLayout = "2006-01-02-150405"
	minBackupsToKeep  = 3
)

// Metadata describes a single uploaded backup archive.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	StoreFile string    `json:"store_file"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
}

// Info summarizes a backup already stored remotely, as returned by
// ListBackups.
type Info struct {
	Filename  string
	Timestamp time.Time
	SizeBytes int64
	AgeHours  int64
}

// remoteStore is the subset of Client a Service needs; factored out so
// tests can exercise staging/archiving without live S3 credentials.
type remoteStore interface {
	Upload(ctx context.Context, key string, data io.Reader, size int64) error
	List(ctx context.Context, prefix string) ([]s3Object, error)
	Delete(ctx context.Context, key string) error
}

// Service periodically archives the Store's SQLite file and uploads it
// to the configured S3-compatible bucket. The store is a single file on
// disk, so the archive wraps one file plus a metadata sidecar.
type Service struct {
	client    remoteStore
	storePath string
	stageDir  string
	log       zerolog.Logger
}

// NewService builds a Service that stages archives under stageDir before
// upload.
func NewService(client *Client, storePath, stageDir string, log zerolog.Logger) *Service {
	return &Service{
		client:    client,
		storePath: storePath,
		stageDir:  stageDir,
		log:       log.With().Str("component", "backup").Logger(),
	}
}

// CreateAndUpload stages a checksummed copy of the store file, archives
// it with a metadata sidecar into a tar.gz, and uploads the archive.
func (s *Service) CreateAndUpload(ctx context.Context) error {
	start := time.Now()

	staging := filepath.Join(s.stageDir, "backup-staging")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("backup: create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	storeName := filepath.Base(s.storePath)
	stagedStore := filepath.Join(staging, storeName)
	if err := copyFile(s.storePath, stagedStore); err != nil {
		return fmt.Errorf("backup: stage store file: %w", err)
	}

	info, err := os.Stat(stagedStore)
	if err != nil {
		return fmt.Errorf("backup: stat staged store: %w", err)
	}

	checksum, err := checksumFile(stagedStore)
	if err != nil {
		return fmt.Errorf("backup: checksum staged store: %w", err)
	}

	metadata := Metadata{
		Timestamp: time.Now().UTC(),
		StoreFile: storeName,
		SizeBytes: info.Size(),
		Checksum:  checksum,
	}

	metadataPath := filepath.Join(staging, "backup-metadata.json")
	if err := writeMetadata(metadataPath, metadata); err != nil {
		return fmt.Errorf("backup: write metadata: %w", err)
	}

	archiveName := fmt.Sprintf("%s%s.tar.gz", archivePrefix, time.Now().Format(archiveTimeLayout))
	archivePath := filepath.Join(staging, archiveName)
	if err := createArchive(archivePath, staging, []string{storeName, "backup-metadata.json"}); err != nil {
		return fmt.Errorf("backup: create archive: %w", err)
	}

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("backup: stat archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("backup: open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := s.client.Upload(ctx, archiveName, archiveFile, archiveInfo.Size()); err != nil {
		return err
	}

	s.log.Info().
		Dur("duration_ms", time.Since(start)).
		Str("archive", archiveName).
		Int64("size_bytes", archiveInfo.Size()).
		Msg("backup uploaded")

	return nil
}

// ListBackups returns uploaded backups, newest first.
func (s *Service) ListBackups(ctx context.Context) ([]Info, error) {
	objects, err := s.client.List(ctx, archivePrefix)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	backups := make([]Info, 0, len(objects))
	for _, obj := range objects {
		ts, ok := parseArchiveTimestamp(obj.Key)
		if !ok {
			continue
		}
		backups = append(backups, Info{
			Filename:  obj.Key,
			Timestamp: ts,
			SizeBytes: obj.Size,
			AgeHours:  int64(now.Sub(ts).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool { return backups[i].Timestamp.After(backups[j].Timestamp) })
	return backups, nil
}

// RotateOldBackups deletes archives older than retentionDays, always
// keeping at least the minBackupsToKeep most recent ones.
func (s *Service) RotateOldBackups(ctx context.Context, retentionDays int) error {
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return fmt.Errorf("backup: list for rotation: %w", err)
	}

	if len(backups) <= minBackupsToKeep {
		s.log.Info().Int("count", len(backups)).Msg("too few backups to rotate")
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for i, b := range backups {
		if i < minBackupsToKeep || retentionDays <= 0 {
			continue
		}
		if b.Timestamp.Before(cutoff) {
			if err := s.client.Delete(ctx, b.Filename); err != nil {
				s.log.Warn().Err(err).Str("filename", b.Filename).Msg("failed to delete old backup")
				continue
			}
			deleted++
		}
	}

	s.log.Info().Int("deleted", deleted).Int("remaining", len(backups)-deleted).Msg("backup rotation complete")
	return nil
}

func parseArchiveTimestamp(filename string) (time.Time, bool) {
	if !strings.HasPrefix(filename, archivePrefix) || !strings.HasSuffix(filename, ".tar.gz") {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(filename, archivePrefix), ".tar.gz")
	ts, err := time.Parse(archiveTimeLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}

func writeMetadata(path string, metadata Metadata) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(metadata)
}

func createArchive(archivePath, sourceDir string, basenames []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer archiveFile.Close()

	gw := gzip.NewWriter(archiveFile)
	defer gw.Close()

	tw := tar.NewWriter(gw)
	defer tw.Close()

	for _, basename := range basenames {
		if err := addFileToArchive(tw, filepath.Join(sourceDir, basename), basename); err != nil {
			return err
		}
	}
	return nil
}

func addFileToArchive(tw *tar.Writer, path, nameInArchive string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = nameInArchive

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
