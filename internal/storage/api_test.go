package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/taskmaster-dev/taskmaster/internal/autherr"
)

func TestAPIBackendListTasks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/briefs/brief-1/tasks", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"id":"t-1","title":"Ship auth","status":"in-progress","dependencies":["t-0"]}]`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	b := NewAPIBackend(Resolution{
		Type:        TypeAPI,
		Endpoint:    srv.URL,
		AccessToken: "tok-1",
		BriefID:     "brief-1",
		BriefName:   "Q3 launch",
	})

	tasks, err := b.ListTasks(context.Background())
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t-1" {
		t.Fatalf("ListTasks() = %+v, want task t-1", tasks)
	}
	if len(tasks[0].Dependencies) != 1 || tasks[0].Dependencies[0] != "t-0" {
		t.Errorf("Dependencies = %v, want [t-0]", tasks[0].Dependencies)
	}
}

func TestAPIBackendListTasksWithoutBrief(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request reached server despite missing brief")
	}))
	t.Cleanup(srv.Close)

	b := NewAPIBackend(Resolution{Type: TypeAPI, Endpoint: srv.URL, AccessToken: "tok-1"})

	if _, err := b.ListTasks(context.Background()); err == nil {
		t.Error("ListTasks() error = nil, want missing brief failure")
	}
}

func TestAPIBackendSetTaskDependenciesNotImplemented(t *testing.T) {
	b := NewAPIBackend(Resolution{
		Type:        TypeAPI,
		Endpoint:    "https://api.example.com",
		AccessToken: "tok-1",
		BriefID:     "brief-1",
	})

	err := b.SetTaskDependencies(context.Background(), "t-1", []string{"t-0"})
	if !autherr.HasCode(err, autherr.NotImplemented) {
		t.Errorf("SetTaskDependencies() error = %v, want %s", err, autherr.NotImplemented)
	}
}

func TestAPIBackendBrief(t *testing.T) {
	b := NewAPIBackend(Resolution{
		Type:        TypeAPI,
		Endpoint:    "https://api.example.com",
		AccessToken: "tok-1",
		BriefID:     "brief-1",
		BriefName:   "Q3 launch",
	})

	id, name := b.Brief()
	if id != "brief-1" || name != "Q3 launch" {
		t.Errorf("Brief() = %q, %q, want pinned brief", id, name)
	}
}
