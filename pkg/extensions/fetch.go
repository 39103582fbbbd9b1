package extensions

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Default raw locations of the published companion script and its notes.
const (
	DefaultScriptURL = "https://raw.githubusercontent.com/coterm/extensions/main/init.cot"
	DefaultReadmeURL = "https://raw.githubusercontent.com/coterm/extensions/main/README.md"
)

// Fetcher downloads the companion script into a config directory. It is
// used out of band; callers run Fetch on their own goroutine and consume
// the returned message.
type Fetcher struct {
	ScriptURL string
	ReadmeURL string
	Client    *http.Client
}

func NewFetcher() *Fetcher {
	scriptURL := DefaultScriptURL
	if u := os.Getenv("COTERM_SCRIPT_URL"); u != "" {
		scriptURL = u
	}
	readmeURL := DefaultReadmeURL
	if u := os.Getenv("COTERM_README_URL"); u != "" {
		readmeURL = u
	}
	return &Fetcher{
		ScriptURL: scriptURL,
		ReadmeURL: readmeURL,
		Client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Fetch downloads the script and, best effort, the README into dir. The
// script is mandatory; a README failure only logs.
func (f *Fetcher) Fetch(dir string) error {
	script, err := f.get(f.ScriptURL)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", ScriptName, err)
	}
	if err := writeFile(filepath.Join(dir, ScriptName), script); err != nil {
		return err
	}
	slog.Info("Installed extension script", "dir", dir, "bytes", len(script))

	readme, err := f.get(f.ReadmeURL)
	if err != nil {
		slog.Warn("README fetch failed", "error", err)
		return nil
	}
	if err := writeFile(filepath.Join(dir, ReadmeName), readme); err != nil {
		slog.Warn("README write failed", "error", err)
	}
	return nil
}

func (f *Fetcher) get(url string) (string, error) {
	resp, err := f.Client.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(string(body), "\r\n", "\n"), nil
}

// writeFile replaces path atomically so a half-written script is never
// picked up by the loader.
func writeFile(path, content string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("installing %s: %w", filepath.Base(path), err)
	}
	return nil
}
