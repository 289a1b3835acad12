package auth

import (
	"fmt"
	"slices"

	"github.com/taskmaster-dev/taskmaster/internal/contextstore"
	"github.com/taskmaster-dev/taskmaster/internal/storage"
)

// briefBlockedCommands mutate the task dependency graph, which the platform
// owns when tasks live in a brief.
var briefBlockedCommands = map[string]struct{}{
	"add-dependency":        {},
	"remove-dependency":     {},
	"validate-dependencies": {},
	"fix-dependencies":      {},
}

// DependencyCommands lists the commands GuardCommand may block, sorted.
func DependencyCommands() []string {
	names := make([]string, 0, len(briefBlockedCommands))
	for name := range briefBlockedCommands {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// GuardResult says whether a command may run against the resolved storage.
type GuardResult struct {
	Blocked   bool
	Reason    string
	BriefName string
}

// GuardCommand checks a command against the resolved storage type and
// working context. Dependency commands are blocked while task data lives in
// a brief on the hosted API; everything else passes.
func GuardCommand(command string, resolvedType storage.Type, uc *contextstore.UserContext) GuardResult {
	if _, managed := briefBlockedCommands[command]; !managed {
		return GuardResult{}
	}
	if resolvedType != storage.TypeAPI || !uc.HasBrief() {
		return GuardResult{}
	}

	name := briefLabel(uc)
	return GuardResult{
		Blocked:   true,
		BriefName: name,
		Reason:    fmt.Sprintf("%s is unavailable while tasks are managed in brief %q; dependencies are maintained by the platform", command, name),
	}
}

// DisplayInfo is a human-readable description of where task data lives.
type DisplayInfo struct {
	Type        storage.Type
	Description string

	// OrgSlug, BriefID, and BriefName identify the platform location when
	// Type is api.
	OrgSlug   string
	BriefID   string
	BriefName string

	// Path is the task file location, relative to the project directory,
	// when Type is file.
	Path string
}

// StorageDisplayInfo renders the resolved storage for status output. It is a
// pure projection of its inputs and performs no resolution of its own. An
// api resolution without a selected brief renders as the file display.
func StorageDisplayInfo(resolvedType storage.Type, uc *contextstore.UserContext) DisplayInfo {
	if resolvedType == storage.TypeAPI && uc.HasBrief() {
		return DisplayInfo{
			Type:        storage.TypeAPI,
			Description: fmt.Sprintf("hosted API, brief %q", briefLabel(uc)),
			OrgSlug:     uc.SelectedContext.OrgSlug,
			BriefID:     uc.SelectedContext.BriefID,
			BriefName:   uc.SelectedContext.BriefName,
		}
	}
	return DisplayInfo{
		Type:        storage.TypeFile,
		Description: "local task file",
		Path:        storage.DefaultTaskFile(),
	}
}

// briefLabel names the selected brief, falling back to its id.
func briefLabel(uc *contextstore.UserContext) string {
	if uc == nil || uc.SelectedContext == nil {
		return ""
	}
	if uc.SelectedContext.BriefName != "" {
		return uc.SelectedContext.BriefName
	}
	return uc.SelectedContext.BriefID
}
