// Package extensions loads and fetches the console's companion script: a
// trusted fragment executed against the session namespace before the
// first prompt, typically installing helper functions and hooks.
package extensions

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/coterm/coterm/pkg/engine"
)

// ScriptName is the companion script file inside the config directory.
const ScriptName = "init.cot"

// ReadmeName documents the installed extensions.
const ReadmeName = "README.md"

// ConfigDir returns the directory holding the companion script, creating
// it if needed.
func ConfigDir() (string, error) {
	if dir := os.Getenv("COTERM_CONFIG_DIR"); dir != "" {
		return dir, os.MkdirAll(dir, 0o755)
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving config dir: %w", err)
	}
	dir := filepath.Join(base, "coterm")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	return dir, nil
}

// ScriptInstalled reports whether the companion script exists in dir.
func ScriptInstalled(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ScriptName))
	return err == nil
}

// Load executes the companion script in dir against eng's namespace and
// returns the script's own output, leading blank lines stripped. A missing
// script is not an error; it returns ("", nil).
func Load(eng *engine.Engine, dir string) (string, error) {
	path := filepath.Join(dir, ScriptName)
	src, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", ScriptName, err)
	}

	slog.Info("Loading extensions", "path", path)
	out, err := eng.RunScript(string(src))
	out = strings.TrimLeft(out, "\n")
	if err != nil {
		// Partial output is still worth showing alongside the failure.
		return out, fmt.Errorf("running %s: %w", ScriptName, err)
	}
	return out, nil
}
