package approval

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
)

// statePath returns <projectDir>/.loki/state/approvals.json, per spec.md
// §6's external interfaces.
func statePath(projectDir string) string {
	return filepath.Join(projectDir, ".loki", "state", "approvals.json")
}

// loadState reads the persisted pending/audit lists. A missing file is
// the common startup case and yields an empty state with no warning. A
// corrupt file is treated as empty, with a logged warning — it must not
// prevent startup.
func loadState(projectDir string) *state {
	path := statePath(projectDir)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("approval state unreadable, starting empty", "path", path, "error", err)
		}
		return &state{}
	}

	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		slog.Warn("approval state corrupt, starting empty", "path", path, "error", err)
		return &state{}
	}
	return &s
}

// saveState atomically persists s: write to a sibling temp file, then
// rename over the destination. Persistence failures are logged, not
// propagated — the in-memory state in Manager remains authoritative per
// spec.md §4.5.
func saveState(projectDir string, s *state) {
	path := statePath(projectDir)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("creating approval state directory", "dir", dir, "error", err)
		return
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		slog.Error("marshaling approval state", "error", err)
		return
	}

	tmp, err := os.CreateTemp(dir, ".approvals-*.json.tmp")
	if err != nil {
		slog.Error("creating approval state temp file", "dir", dir, "error", err)
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		slog.Error("writing approval state temp file", "error", err)
		return
	}
	if err := tmp.Close(); err != nil {
		slog.Error("closing approval state temp file", "error", err)
		return
	}
	if err := os.Rename(tmpPath, path); err != nil {
		slog.Error("renaming approval state into place", "path", path, "error", err)
	}
}
