package app

import (
	"testing"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(&Config{}); err == nil {
		t.Error("New() error = nil, want invalid configuration")
	}
}

func TestNewWiresComponents(t *testing.T) {
	t.Setenv("TASKMASTER_API_ENDPOINT", "")

	cfg := validConfig(t)
	cfg.Storage.Dir = t.TempDir()

	application, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(application.Close)

	if application.Auth == nil || application.Resolver == nil {
		t.Fatal("New() left components unwired")
	}
	if got := application.TaskAPI().Endpoint(); got != "https://taskmaster.dev/api/v1" {
		t.Errorf("TaskAPI().Endpoint() = %q, want default from base domain", got)
	}
}
