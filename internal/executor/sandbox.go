package executor

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed profiles/*.json
var embeddedProfiles embed.FS

// Profile names a tool-permission set for the agent.
type Profile string

const (
	// ProfileReadOnly allows reading and searching the checkout only.
	ProfileReadOnly Profile = "read-only"
	// ProfileReadWrite also allows editing files and running tests.
	ProfileReadWrite Profile = "read-write"
)

// Valid reports whether p is a known profile.
func (p Profile) Valid() bool {
	return p == ProfileReadOnly || p == ProfileReadWrite
}

// settingsPath is where Claude Code picks up project-local settings. The
// local file takes precedence over a settings.json committed to the repo.
const settingsPath = ".claude/settings.local.json"

// installSettings writes the permission settings for action into workDir.
// A {action}.json in promptsDir wins over the embedded profile.
func installSettings(workDir, promptsDir, action string, profile Profile) error {
	data, err := loadSettings(promptsDir, action, profile)
	if err != nil {
		return err
	}

	dst := filepath.Join(workDir, settingsPath)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("failed to write agent settings: %w", err)
	}
	return nil
}

func loadSettings(promptsDir, action string, profile Profile) ([]byte, error) {
	if promptsDir != "" && action != "" {
		data, err := os.ReadFile(filepath.Join(promptsDir, action+".json"))
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read settings for %s: %w", action, err)
		}
	}

	if !profile.Valid() {
		return nil, fmt.Errorf("unknown permission profile %q", profile)
	}
	return embeddedProfiles.ReadFile("profiles/" + string(profile) + ".json")
}
