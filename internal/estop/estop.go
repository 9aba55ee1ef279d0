// Package estop implements the process-wide Emergency Stop mechanism:
// a break-glass switch checked at every agent yield point.
package estop

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrEmergencyStop is the sentinel raised by Check when a stop is active.
type ErrEmergencyStop struct {
	Reason string
}

func (e *ErrEmergencyStop) Error() string {
	return fmt.Sprintf("emergency stop: %s", e.Reason)
}

const stopFileName = ".emergency_stop"

type stopFile struct {
	Stopped   bool      `json:"stopped"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Switch is the process-wide emergency stop. All Tasks in a process share one.
type Switch struct {
	mu       sync.Mutex
	set      bool
	reason   string
	path     string
	watcher  *fsnotify.Watcher
	watchErr error
	onStop   func(reason string)
}

// New creates a Switch rooted at the given working directory's sentinel
// file and installs SIGINT/SIGTERM handlers, mirroring the reference
// implementation's signal-handler behavior.
func New() *Switch {
	s := &Switch{path: stopFileName}
	s.syncFromFile()
	s.installSignalHandlers()
	s.startWatcher()
	return s
}

// installSignalHandlers calls Trigger("signal: <name>") on SIGINT/SIGTERM.
func (s *Switch) installSignalHandlers() {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range ch {
			s.Trigger(fmt.Sprintf("signal received: %s", sig))
		}
	}()
}

// startWatcher installs an fsnotify watch on the sentinel file's directory
// as a fast path. Check() still re-stats the file directly, so watcher
// failures never compromise correctness, only latency.
func (s *Switch) startWatcher() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.watchErr = err
		return
	}
	if err := w.Add("."); err != nil {
		s.watchErr = err
		w.Close()
		return
	}
	s.watcher = w
	go func() {
		for event := range w.Events {
			if event.Name == s.path || event.Name == "./"+s.path {
				s.syncFromFile()
			}
		}
	}()
}

// Trigger sets the stop flag and persists the sentinel file so the stop
// survives a process restart.
func (s *Switch) Trigger(reason string) {
	s.mu.Lock()
	s.set = true
	if reason == "" {
		reason = "emergency stop activated"
	}
	s.reason = reason
	onStop := s.onStop
	s.mu.Unlock()

	data, _ := json.Marshal(stopFile{Stopped: true, Reason: reason, Timestamp: time.Now()})
	_ = writeAtomic(s.path, data)

	if onStop != nil {
		onStop(reason)
	}
}

// Reset clears the stop flag and removes the sentinel file.
func (s *Switch) Reset() {
	s.mu.Lock()
	s.set = false
	s.reason = ""
	s.mu.Unlock()
	_ = os.Remove(s.path)
}

// IsSet reports whether a stop is currently active, re-syncing from the
// sentinel file first (the file is the source of truth across processes).
func (s *Switch) IsSet() bool {
	s.syncFromFile()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

// Reason returns the current stop reason, if any.
func (s *Switch) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Check returns ErrEmergencyStop if a stop is active. Call at every agent
// yield point and once at Orchestrator entry.
func (s *Switch) Check() error {
	if s.IsSet() {
		return &ErrEmergencyStop{Reason: s.Reason()}
	}
	return nil
}

// OnStop registers a callback invoked synchronously whenever Trigger fires.
// Used by the Orchestrator to interrupt in-flight Tasks without polling.
func (s *Switch) OnStop(fn func(reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStop = fn
}

// syncFromFile re-reads the sentinel file and adopts it as the active stop.
// The file's contents are the stop reason: an external process (an operator
// running `touch .emergency_stop`, or writing a plain-text reason to it) is
// just as valid a trigger as our own Trigger, so a present file that isn't
// this package's own JSON schema is still treated as stopped — using its
// raw contents, trimmed, as the reason — rather than silently ignored.
func (s *Switch) syncFromFile() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var sf stopFile
	if err := json.Unmarshal(data, &sf); err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.set = true
		if reason := strings.TrimSpace(string(data)); reason != "" {
			s.reason = reason
		} else if s.reason == "" {
			s.reason = "emergency stop file present"
		}
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sf.Stopped {
		s.set = true
		if sf.Reason != "" {
			s.reason = sf.Reason
		}
	}
}

// Close stops the fsnotify watcher, if any.
func (s *Switch) Close() {
	if s.watcher != nil {
		s.watcher.Close()
	}
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
