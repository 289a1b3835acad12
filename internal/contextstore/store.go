// Package contextstore persists the user's working context (account identity
// plus the selected organization and brief) independently of session tokens.
// The context survives token refreshes and is cleared only by explicit logout
// or context-clear.
package contextstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DirName is the project metadata directory holding the context record and
// local task data.
const DirName = ".taskmaster"

// contextFileName is the record file inside the project .taskmaster directory.
const contextFileName = "context.json"

// SelectedContext is the user's chosen organization and brief. A selected
// brief is what gates remote storage: without BriefID, task data stays local.
type SelectedContext struct {
	OrgID     string `json:"orgId"`
	OrgSlug   string `json:"orgSlug,omitempty"`
	BriefID   string `json:"briefId,omitempty"`
	BriefName string `json:"briefName,omitempty"`
}

// UserContext is the persisted context record.
type UserContext struct {
	UserID          string           `json:"userId,omitempty"`
	Email           string           `json:"email,omitempty"`
	SelectedContext *SelectedContext `json:"selectedContext,omitempty"`
}

// HasBrief reports whether a brief is selected.
func (u *UserContext) HasBrief() bool {
	return u != nil && u.SelectedContext != nil && u.SelectedContext.BriefID != ""
}

// Store reads and merge-writes the context record. Writes are synchronous
// whole-file atomic replaces so a crash immediately after a context change
// never loses it and a concurrently starting process never reads a
// truncated record.
type Store struct {
	path string
	mu   sync.Mutex
}

// New creates a Store rooted at the given .taskmaster directory.
func New(dir string) *Store {
	return &Store{path: filepath.Join(dir, contextFileName)}
}

// Path returns the context file location.
func (s *Store) Path() string {
	return s.path
}

// Get returns the stored context, or (nil, nil) when none exists.
func (s *Store) Get(ctx context.Context) (*UserContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Save merge-writes the partial update: non-empty UserID and Email overwrite
// the stored values, a non-nil SelectedContext replaces the selection
// wholesale. Fields absent from the update are preserved, so updating the
// selection never drops the stored email.
func (s *Store) Save(ctx context.Context, update UserContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load()
	if err != nil {
		return err
	}
	if current == nil {
		current = &UserContext{}
	}

	if update.UserID != "" {
		current.UserID = update.UserID
	}
	if update.Email != "" {
		current.Email = update.Email
	}
	if update.SelectedContext != nil {
		selected := *update.SelectedContext
		current.SelectedContext = &selected
	}

	return s.write(current)
}

// ClearSelection drops the selected organization and brief while keeping the
// user identity.
func (s *Store) ClearSelection(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load()
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}

	current.SelectedContext = nil
	return s.write(current)
}

// Clear removes the context record. A missing record is not an error.
func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) load() (*UserContext, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var uc UserContext
	if err := json.Unmarshal(data, &uc); err != nil {
		return nil, fmt.Errorf("corrupt context file %s: %w", s.path, err)
	}
	return &uc, nil
}

// write replaces the record atomically via temp file + rename, creating the
// .taskmaster directory on first use.
func (s *Store) write(uc *UserContext) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(uc, "", "  ")
	if err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write(append(data, '\n')); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tempName, s.path); err != nil {
		return err
	}
	return os.Chmod(s.path, 0600)
}
