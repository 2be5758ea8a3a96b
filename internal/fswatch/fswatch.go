// Package fswatch provides a small debounced directory watcher shared by
// the policy loader's hot-reload (internal/policy) and the approval
// manager's external-resolution reconciliation (internal/approval) — both
// need the same shape: watch a directory, collapse a burst of events
// naming a file of interest into a single callback, no polling.
package fswatch

import (
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher debounces fsnotify events under one directory into calls to
// onChange, using a cancellable timer rather than a poll loop.
type Watcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New watches dir (best-effort: if dir doesn't exist yet, the watcher is
// simply inert until it does) and calls onChange, debounced by window,
// whenever an event's file name satisfies match.
func New(dir string, window time.Duration, match func(name string) bool, onChange func()) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	_ = w.Add(dir)

	fw := &Watcher{watcher: w, done: make(chan struct{})}
	go fw.loop(window, match, onChange)
	return fw, nil
}

func (fw *Watcher) loop(window time.Duration, match func(name string) bool, onChange func()) {
	var timer *time.Timer
	var timerC <-chan time.Time

	resetDebounce := func() {
		if timer == nil {
			timer = time.NewTimer(window)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(window)
		}
		timerC = timer.C
	}

	for {
		select {
		case <-fw.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !match(event.Name) {
				continue
			}
			resetDebounce()

		case <-timerC:
			timerC = nil
			onChange()

		case _, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Stop tears down the watcher. Safe to call once; a second call panics on
// the closed done channel, same contract as close().
func (fw *Watcher) Stop() {
	close(fw.done)
	fw.watcher.Close()
}
