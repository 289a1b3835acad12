package storage

import (
	"context"
	"fmt"

	"github.com/taskmaster-dev/taskmaster/internal/autherr"
	"github.com/taskmaster-dev/taskmaster/internal/taskapi"
)

// APIBackend reads brief tasks from the hosted platform. It is built from a
// Resolution, so endpoint and token are fixed for its lifetime.
type APIBackend struct {
	api       *taskapi.Client
	briefID   string
	briefName string
}

// NewAPIBackend creates an APIBackend from an api Resolution.
func NewAPIBackend(res Resolution) *APIBackend {
	return &APIBackend{
		api:       taskapi.NewClient(res.Endpoint, taskapi.StaticToken(res.AccessToken)),
		briefID:   res.BriefID,
		briefName: res.BriefName,
	}
}

// Type reports TypeAPI.
func (b *APIBackend) Type() Type {
	return TypeAPI
}

// Brief returns the pinned brief's id and name.
func (b *APIBackend) Brief() (id, name string) {
	return b.briefID, b.briefName
}

// ListTasks returns the tasks of the pinned brief.
func (b *APIBackend) ListTasks(ctx context.Context) ([]Task, error) {
	if b.briefID == "" {
		return nil, fmt.Errorf("api storage has no brief selected")
	}

	remote, err := b.api.ListBriefTasks(ctx, b.briefID)
	if err != nil {
		return nil, err
	}

	tasks := make([]Task, len(remote))
	for i, rt := range remote {
		tasks[i] = Task{
			ID:           rt.ID,
			Title:        rt.Title,
			Status:       rt.Status,
			Dependencies: rt.Dependencies,
		}
	}
	return tasks, nil
}

// SetTaskDependencies always fails for api storage: the platform owns
// dependency data for brief tasks.
func (b *APIBackend) SetTaskDependencies(_ context.Context, _ string, _ []string) error {
	return autherr.New(autherr.NotImplemented,
		"task dependencies for brief tasks are managed by the platform")
}

var _ Backend = (*APIBackend)(nil)
