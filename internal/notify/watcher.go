// Package notify watches AI-tool session log directories and feeds changed
// session files to a callback once writes settle. Session files are appended
// to continuously while a session runs, so events are debounced per file.
package notify

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SessionWatcher watches a log directory tree for session file changes.
type SessionWatcher struct {
	root     string
	debounce time.Duration
	callback func(sessionPath string)

	watcher *fsnotify.Watcher
	done    chan struct{}

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewSessionWatcher creates a watcher over root. callback fires once per
// session file after its writes have been quiet for the debounce interval.
func NewSessionWatcher(root string, debounce time.Duration, callback func(sessionPath string)) *SessionWatcher {
	return &SessionWatcher{
		root:     root,
		debounce: debounce,
		callback: callback,
		done:     make(chan struct{}),
		timers:   make(map[string]*time.Timer),
	}
}

// Start begins watching root and its existing subdirectories. Call Stop() to
// clean up.
func (sw *SessionWatcher) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := w.Add(sw.root); err != nil {
		_ = w.Close()
		return err
	}
	// Session logs live one level down, in per-project directories.
	entries, err := os.ReadDir(sw.root)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				if err := w.Add(filepath.Join(sw.root, entry.Name())); err != nil {
					log.Printf("notify: failed to watch %s: %v", entry.Name(), err)
				}
			}
		}
	}
	sw.watcher = w

	go sw.loop()
	log.Printf("notify: watching %s for session activity", sw.root)
	return nil
}

// Stop shuts down the watcher and cancels pending debounce timers.
func (sw *SessionWatcher) Stop() {
	if sw.watcher != nil {
		_ = sw.watcher.Close()
	}
	<-sw.done

	sw.mu.Lock()
	for _, timer := range sw.timers {
		timer.Stop()
	}
	sw.timers = make(map[string]*time.Timer)
	sw.mu.Unlock()
}

func (sw *SessionWatcher) loop() {
	defer close(sw.done)
	for {
		select {
		case evt, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			sw.handleEvent(evt)
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("notify: watcher error: %v", err)
		}
	}
}

func (sw *SessionWatcher) handleEvent(evt fsnotify.Event) {
	// New project directories appear after the watch started.
	if evt.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			if err := sw.watcher.Add(evt.Name); err != nil {
				log.Printf("notify: failed to watch new directory %s: %v", evt.Name, err)
			}
			return
		}
	}

	if evt.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if !isSessionFile(evt.Name) {
		return
	}
	sw.scheduleFlush(evt.Name)
}

// scheduleFlush (re)arms the per-file debounce timer. Every new write pushes
// the callback further out, so it only fires once the session goes quiet.
func (sw *SessionWatcher) scheduleFlush(path string) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if timer, ok := sw.timers[path]; ok {
		timer.Reset(sw.debounce)
		return
	}
	sw.timers[path] = time.AfterFunc(sw.debounce, func() {
		sw.mu.Lock()
		delete(sw.timers, path)
		sw.mu.Unlock()
		sw.callback(path)
	})
}

// isSessionFile reports whether path looks like a primary session log.
// Sub-agent transcripts are excluded; their content shows up in the parent
// session anyway.
func isSessionFile(path string) bool {
	name := filepath.Base(path)
	return strings.HasSuffix(name, ".jsonl") && !strings.HasPrefix(name, "agent-")
}
