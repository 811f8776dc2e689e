// SPDX-License-Identifier: MIT

// Package requestlog keeps the per-device bounded history of recently
// issued accounts. The whole map is mirrored to a single JSON file on
// every mutation so rate-limit state survives restarts.
package requestlog

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	xlog "github.com/ptcfleet/accountserver/internal/log"
)

var persistFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "accountserver",
	Name:      "requestlog_persist_failures_total",
	Help:      "Total failed request log snapshot writes",
})

// Entry records one issued account for a device.
type Entry struct {
	TS       int64  `json:"ts"`
	Username string `json:"username"`
}

// Log is the device -> bounded FIFO mapping. Each device holds at most
// capacity entries; appending beyond that drops the oldest.
type Log struct {
	mu       sync.Mutex
	path     string
	capacity int
	entries  map[string][]Entry
	logger   zerolog.Logger
}

// Open loads the snapshot at path, or starts empty if it is missing or
// unreadable. Load failures are never fatal; they only cost rate-limit
// precision.
func Open(path string, capacity int) *Log {
	l := &Log{
		path:     path,
		capacity: capacity,
		entries:  make(map[string][]Entry),
		logger:   xlog.WithComponent("requestlog"),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn().Err(err).Str("path", path).Msg("failed to read request log snapshot, starting empty")
		}
		return l
	}
	if err := json.Unmarshal(data, &l.entries); err != nil {
		l.logger.Warn().Err(err).Str("path", path).Msg("corrupt request log snapshot, starting empty")
		l.entries = make(map[string][]Entry)
		return l
	}

	// Clamp histories that were written under a larger capacity.
	for device, entries := range l.entries {
		if len(entries) > capacity {
			l.entries[device] = entries[len(entries)-capacity:]
		}
	}
	l.logger.Info().Int("devices", len(l.entries)).Msg("request log snapshot loaded")
	return l
}

// Append enqueues an entry for device, dropping the oldest entry when the
// window is full, and persists the snapshot.
func (l *Log) Append(device string, e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.entries[device]
	if len(entries) >= l.capacity {
		entries = entries[len(entries)-l.capacity+1:]
	}
	l.entries[device] = append(entries, e)
	l.persistLocked()
}

// Rotate moves the oldest entry of the device's window to the tail,
// preserving the relative order of the rest. No-op for unknown devices.
func (l *Log) Rotate(device string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.entries[device]
	if len(entries) < 2 {
		return
	}
	head := entries[0]
	copy(entries, entries[1:])
	entries[len(entries)-1] = head
	l.persistLocked()
}

// Usernames returns the device's logged usernames in insertion order.
func (l *Log) Usernames(device string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.entries[device]
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Username
	}
	return names
}

// Contains reports whether username is in the device's current window.
// It is false for unknown devices, which makes it usable as the append
// guard: append when the device is new OR the username is new.
func (l *Log) Contains(device, username string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.entries[device] {
		if e.Username == username {
			return true
		}
	}
	return false
}

// Head returns the oldest entry of the device's window.
func (l *Log) Head(device string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.entries[device]
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[0], true
}

// Entries returns a snapshot of the device's window in insertion order.
func (l *Log) Entries(device string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.entries[device]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Len returns the number of entries in the device's window.
func (l *Log) Len(device string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries[device])
}

// persistLocked writes the snapshot atomically (write-temp-then-rename).
// Failures are logged and counted but never propagated: the lease itself
// has already committed to the store by the time the log is written.
func (l *Log) persistLocked() {
	data, err := json.Marshal(l.entries)
	if err != nil {
		persistFailures.Inc()
		l.logger.Warn().Err(err).Msg("failed to encode request log snapshot")
		return
	}
	if err := renameio.WriteFile(l.path, data, 0o600); err != nil {
		persistFailures.Inc()
		l.logger.Warn().Err(err).Str("path", l.path).Msg("failed to persist request log snapshot")
	}
}
