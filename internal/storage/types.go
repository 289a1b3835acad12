// Package storage decides where task data lives and provides the matching
// backend. Resolution weighs the configured storage type, authentication
// state, and the selected brief; the outcome is either local file storage or
// the hosted API.
package storage

import (
	"context"

	"github.com/taskmaster-dev/taskmaster/internal/contextstore"
)

// Type is a storage backend kind.
type Type string

const (
	// TypeAuto defers the choice to resolution; it never appears in a
	// Resolution.
	TypeAuto Type = "auto"
	// TypeFile stores tasks in the project's local task file.
	TypeFile Type = "file"
	// TypeAPI stores tasks in the hosted platform, pinned to a brief.
	TypeAPI Type = "api"
)

// Valid reports whether t is a recognized storage type.
func (t Type) Valid() bool {
	switch t {
	case TypeAuto, TypeFile, TypeAPI:
		return true
	}
	return false
}

// Resolution is the concrete outcome of backend resolution. Type is always
// TypeFile or TypeAPI; the remaining fields are populated for TypeAPI.
type Resolution struct {
	Type        Type
	Endpoint    string
	AccessToken string
	BriefID     string
	BriefName   string
}

// SessionSource exposes the authentication state resolution depends on. The
// auth session manager satisfies it.
type SessionSource interface {
	// HasValidSession reports whether a usable session exists. It must not
	// fail; unreadable state counts as no session.
	HasValidSession(ctx context.Context) bool
	// AccessToken returns a current access token, refreshing if needed.
	AccessToken(ctx context.Context) (string, error)
	// UserContext returns the stored working context, or nil when none.
	UserContext(ctx context.Context) (*contextstore.UserContext, error)
}

// Task is one unit of work, wherever it is stored.
type Task struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Status       string   `json:"status,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Backend reads and mutates task data behind a Resolution.
type Backend interface {
	// Type reports which backend this is.
	Type() Type
	// ListTasks returns all tasks in the resolved location.
	ListTasks(ctx context.Context) ([]Task, error)
	// SetTaskDependencies replaces a task's dependency list. API storage
	// rejects this with NotImplemented; the platform owns dependencies
	// there.
	SetTaskDependencies(ctx context.Context, taskID string, deps []string) error
}
