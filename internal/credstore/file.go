package credstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore persists the session record to a single file with secure
// permissions. Writes use temp file + rename for crash safety so a
// concurrently starting process never observes a truncated record.
type FileStore struct {
	filePath string
}

// Compile-time check that FileStore implements Store.
var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore for the given path, creating parent
// directories with 0700 permissions if they don't exist.
func NewFileStore(filePath string) (*FileStore, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	return &FileStore{
		filePath: filePath,
	}, nil
}

// Read returns the stored record. Returns ErrNotFound if the file doesn't
// exist, and an error if it is empty or has insecure permissions.
func (f *FileStore) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// Check file permissions before reading
	info, err := os.Stat(f.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	if info.Mode().Perm() != 0600 {
		return "", fmt.Errorf("insecure permissions on %s: %04o (expected 0600)", f.filePath, info.Mode().Perm())
	}

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return "", err
	}

	record := strings.TrimSpace(string(data))
	if record == "" {
		return "", fmt.Errorf("empty session record file %s", f.filePath)
	}
	return record, nil
}

// Write atomically saves the record using temp file + rename.
// Sets file permissions to 0600 (owner read/write only).
func (f *FileStore) Write(ctx context.Context, record string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Create secure temp file in same directory for atomic rename
	dir := filepath.Dir(f.filePath)
	tempFile, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	// Cleanup deferred for all exit paths
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write([]byte(record + "\n")); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	// Atomic rename to final location
	if err := os.Rename(tempName, f.filePath); err != nil {
		return err
	}

	// Set secure file permissions (0600 = rw-------)
	if err := os.Chmod(f.filePath, 0600); err != nil {
		return err
	}

	return nil
}

// Clear removes the record file. A missing file is not an error.
func (f *FileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(f.filePath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
