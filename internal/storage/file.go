package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/taskmaster-dev/taskmaster/internal/contextstore"
)

const (
	tasksDir      = "tasks"
	tasksFileName = "tasks.json"
)

// DefaultTaskFile is the task file location relative to the project
// directory.
func DefaultTaskFile() string {
	return filepath.Join(contextstore.DirName, tasksDir, tasksFileName)
}

// taskFile is the on-disk shape of the local task file.
type taskFile struct {
	Tasks []Task `json:"tasks"`
}

// FileBackend stores tasks in {dir}/.taskmaster/tasks/tasks.json. Writes are
// whole-file atomic replaces, same as the context store, so partially written
// task data is never observable.
type FileBackend struct {
	path string
	mu   sync.Mutex
}

// NewFileBackend creates a FileBackend rooted at the given project directory.
// An empty dir means the current directory.
func NewFileBackend(dir string) *FileBackend {
	if dir == "" {
		dir = "."
	}
	return &FileBackend{path: filepath.Join(dir, contextstore.DirName, tasksDir, tasksFileName)}
}

// Type reports TypeFile.
func (b *FileBackend) Type() Type {
	return TypeFile
}

// Path returns the task file location.
func (b *FileBackend) Path() string {
	return b.path
}

// ListTasks returns all stored tasks. A missing task file means no tasks, not
// an error.
func (b *FileBackend) ListTasks(ctx context.Context) ([]Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tf, err := b.load()
	if err != nil {
		return nil, err
	}
	return tf.Tasks, nil
}

// SetTaskDependencies replaces the dependency list of the task with the given
// ID and persists the result.
func (b *FileBackend) SetTaskDependencies(ctx context.Context, taskID string, deps []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tf, err := b.load()
	if err != nil {
		return err
	}

	found := false
	for i := range tf.Tasks {
		if tf.Tasks[i].ID != taskID {
			continue
		}
		tf.Tasks[i].Dependencies = append([]string(nil), deps...)
		found = true
		break
	}
	if !found {
		return fmt.Errorf("task %q not found in %s", taskID, b.path)
	}

	return b.write(tf)
}

// SaveTasks replaces the whole task list.
func (b *FileBackend) SaveTasks(ctx context.Context, tasks []Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.write(&taskFile{Tasks: tasks})
}

func (b *FileBackend) load() (*taskFile, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &taskFile{}, nil
		}
		return nil, err
	}

	var tf taskFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("corrupt task file %s: %w", b.path, err)
	}
	return &tf, nil
}

func (b *FileBackend) write(tf *taskFile) error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(tf, "", "  ")
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

	if err := os.Rename(tempName, b.path); err != nil {
		return err
	}
	// Task data is project data, not a secret; world-readable is fine.
	return os.Chmod(b.path, 0644)
}

var _ Backend = (*FileBackend)(nil)
