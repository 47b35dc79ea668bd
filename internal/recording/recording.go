// Package recording implements in-memory session recording: an
// asciinema-v2-shaped timestamped I/O log per session, exportable via the
// export_recording wire operation. Adapted nearly verbatim from
// sshterminal.SessionRecording, since nothing about the capture format
// depends on the session coming from an SSH-backed ManagedSession versus a
// locally-spawned PTY. Never persisted to disk.
package recording

import (
	"encoding/json"
	"sync"
	"time"
)

// Entry is one timestamped I/O event.
type Entry struct {
	Elapsed float64 `json:"elapsed"`
	Type    string  `json:"type"` // "o" for output, "i" for input
	Data    string  `json:"data"`
}

// Recording captures timestamped terminal I/O for one session.
type Recording struct {
	mu         sync.Mutex
	entries    []Entry
	startTime  time.Time
	maxEntries int
}

// New creates a recording. maxEntries <= 0 means unlimited.
func New(maxEntries int) *Recording {
	return &Recording{startTime: time.Now(), maxEntries: maxEntries}
}

// RecordOutput appends a PTY-output event.
func (r *Recording) RecordOutput(data []byte) { r.record("o", data) }

// RecordInput appends a client-input event.
func (r *Recording) RecordInput(data []byte) { r.record("i", data) }

func (r *Recording) record(kind string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxEntries > 0 && len(r.entries) >= r.maxEntries {
		return
	}
	r.entries = append(r.entries, Entry{
		Elapsed: time.Since(r.startTime).Seconds(),
		Type:    kind,
		Data:    string(data),
	})
}

// Entries returns a copy of every recorded entry.
func (r *Recording) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// EntryCount reports how many entries have been recorded.
func (r *Recording) EntryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// ExportJSON serializes the recording for the export_recording operation.
func (r *Recording) ExportJSON() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.Marshal(r.entries)
}
