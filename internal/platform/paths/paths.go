package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const dataRootEnv = "CAMVIEW_DATA_ROOT"

// ResolveDataRoot returns the directory holding the viewer's config, database
// and logs. CAMVIEW_DATA_ROOT wins over the per-user config directory.
func ResolveDataRoot() string {
	if root := os.Getenv(dataRootEnv); root != "" {
		return root
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "camviewer")
	}
	return filepath.Join(os.TempDir(), "camviewer")
}

// ResolveConfigPath returns customPath if set, else the default config file.
func ResolveConfigPath(customPath string) string {
	if customPath != "" {
		return customPath
	}
	return filepath.Join(ResolveDataRoot(), "config.yaml")
}

// DefaultDatabasePath is where the sqlite event log lives unless configured.
func DefaultDatabasePath() string {
	return filepath.Join(ResolveDataRoot(), "db", "events.db")
}

// EnsureDirs creates the data root and its standard subdirectories.
func EnsureDirs(root string) error {
	for _, sub := range []string{"", "db", "logs"} {
		path := filepath.Join(root, sub)
		if err := os.MkdirAll(path, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}
	return nil
}

// SafeJoin joins path elements and ensures the result stays inside base.
// Event media paths are storage-relative and resolved through this.
func SafeJoin(base string, elements ...string) (string, error) {
	for _, el := range elements {
		if filepath.IsAbs(el) || strings.HasPrefix(el, `\\`) {
			return "", fmt.Errorf("absolute path not allowed: %s", el)
		}
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	absJoined, err := filepath.Abs(filepath.Join(append([]string{base}, elements...)...))
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absBase, absJoined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes %s", absJoined, absBase)
	}
	return absJoined, nil
}
