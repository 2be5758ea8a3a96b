package policy

import (
	"path/filepath"
	"time"

	"github.com/loki-mode/policyengine/internal/fswatch"
)

// fileWatcher observes the .loki directory for changes to the policy
// file and invokes a debounced reload callback.
type fileWatcher struct {
	inner *fswatch.Watcher
}

// newFileWatcher watches <projectDir>/.loki and calls reload whenever an
// event names one of the recognized policy file names, debounced by
// window.
func newFileWatcher(projectDir string, window time.Duration, reload func()) (*fileWatcher, error) {
	dir := filepath.Join(projectDir, ".loki")
	inner, err := fswatch.New(dir, window, isPolicyFileEvent, reload)
	if err != nil {
		return nil, err
	}
	return &fileWatcher{inner: inner}, nil
}

func isPolicyFileEvent(name string) bool {
	base := filepath.Base(name)
	return base == "policies.json" || base == "policies.yaml"
}

func (fw *fileWatcher) stop() {
	fw.inner.Stop()
}
