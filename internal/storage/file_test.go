package storage

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func seedTasks(t *testing.T, b *FileBackend, tasks []Task) {
	t.Helper()
	if err := b.SaveTasks(context.Background(), tasks); err != nil {
		t.Fatalf("SaveTasks() error = %v", err)
	}
}

func TestFileBackendListTasksWithoutFile(t *testing.T) {
	b := NewFileBackend(t.TempDir())

	tasks, err := b.ListTasks(context.Background())
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("ListTasks() = %v, want empty", tasks)
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := []Task{
		{ID: "t-1", Title: "Ship auth", Status: "in-progress", Dependencies: []string{"t-0"}},
		{ID: "t-2", Title: "Write docs", Status: "pending"},
	}
	seedTasks(t, NewFileBackend(dir), want)

	// A fresh backend over the same directory must see the same data.
	got, err := NewFileBackend(dir).ListTasks(context.Background())
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListTasks() = %+v, want %+v", got, want)
	}
}

func TestFileBackendSetTaskDependencies(t *testing.T) {
	dir := t.TempDir()
	seedTasks(t, NewFileBackend(dir), []Task{
		{ID: "t-1", Title: "Ship auth"},
		{ID: "t-2", Title: "Write docs"},
	})

	b := NewFileBackend(dir)
	if err := b.SetTaskDependencies(context.Background(), "t-2", []string{"t-1"}); err != nil {
		t.Fatalf("SetTaskDependencies() error = %v", err)
	}

	got, err := NewFileBackend(dir).ListTasks(context.Background())
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(tasks) = %d, want 2", len(got))
	}
	if !reflect.DeepEqual(got[1].Dependencies, []string{"t-1"}) {
		t.Errorf("t-2 dependencies = %v, want [t-1]", got[1].Dependencies)
	}
	if got[0].Dependencies != nil {
		t.Errorf("t-1 dependencies = %v, want untouched", got[0].Dependencies)
	}
}

func TestFileBackendClearDependencies(t *testing.T) {
	dir := t.TempDir()
	seedTasks(t, NewFileBackend(dir), []Task{
		{ID: "t-1", Title: "Ship auth", Dependencies: []string{"t-0"}},
	})

	b := NewFileBackend(dir)
	if err := b.SetTaskDependencies(context.Background(), "t-1", nil); err != nil {
		t.Fatalf("SetTaskDependencies() error = %v", err)
	}

	got, err := b.ListTasks(context.Background())
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if len(got[0].Dependencies) != 0 {
		t.Errorf("dependencies = %v, want cleared", got[0].Dependencies)
	}
}

func TestFileBackendSetTaskDependenciesUnknownTask(t *testing.T) {
	dir := t.TempDir()
	seedTasks(t, NewFileBackend(dir), []Task{{ID: "t-1", Title: "Ship auth"}})

	err := NewFileBackend(dir).SetTaskDependencies(context.Background(), "ghost", []string{"t-1"})
	if err == nil {
		t.Fatal("SetTaskDependencies() error = nil, want failure")
	}
	if !strings.Contains(err.Error(), `"ghost"`) {
		t.Errorf("error %q does not name the missing task", err)
	}
}

func TestFileBackendCorruptFile(t *testing.T) {
	b := NewFileBackend(t.TempDir())
	if err := os.MkdirAll(filepath.Dir(b.Path()), 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(b.Path(), []byte("{not json"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := b.ListTasks(context.Background()); err == nil {
		t.Error("ListTasks() error = nil, want corrupt file failure")
	}
}

func TestFileBackendPath(t *testing.T) {
	b := NewFileBackend("/project")

	want := filepath.Join("/project", ".taskmaster", "tasks", "tasks.json")
	if b.Path() != want {
		t.Errorf("Path() = %q, want %q", b.Path(), want)
	}
}
