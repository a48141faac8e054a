package pipeline

import (
	"fmt"
	"sync"
	"time"
)

// ResultEntry is one answered question.
type ResultEntry struct {
	Transcription string
	Answer        string
	IsPlaying     bool
	// AudioRef points at the saved or preview copy of the question audio.
	AudioRef      string
	CorrelationID string
	CreatedAt     time.Time
}

// ResultHistory is append-only and keeps insertion order. At most one
// entry is playing at any time.
type ResultHistory struct {
	mu      sync.Mutex
	entries []ResultEntry
}

// Append adds e (with IsPlaying cleared) and returns its index.
func (h *ResultHistory) Append(e ResultEntry) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	e.IsPlaying = false
	h.entries = append(h.entries, e)
	return len(h.entries) - 1
}

// Len returns the number of entries.
func (h *ResultHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Get returns a copy of entry i.
func (h *ResultHistory) Get(i int) (ResultEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i < 0 || i >= len(h.entries) {
		return ResultEntry{}, false
	}
	return h.entries[i], true
}

// Snapshot returns a copy of all entries.
func (h *ResultHistory) Snapshot() []ResultEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ResultEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// SetPlaying marks entry i as playing after clearing every other flag.
func (h *ResultHistory) SetPlaying(i int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i < 0 || i >= len(h.entries) {
		return fmt.Errorf("no result at index %d", i)
	}
	for j := range h.entries {
		h.entries[j].IsPlaying = false
	}
	h.entries[i].IsPlaying = true
	return nil
}

// ClearPlaying clears the flag of entry i.
func (h *ResultHistory) ClearPlaying(i int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i >= 0 && i < len(h.entries) {
		h.entries[i].IsPlaying = false
	}
}

// ClearAll clears every playing flag.
func (h *ResultHistory) ClearAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for j := range h.entries {
		h.entries[j].IsPlaying = false
	}
}

// PlayingIndex returns the playing entry or -1.
func (h *ResultHistory) PlayingIndex() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for j := range h.entries {
		if h.entries[j].IsPlaying {
			return j
		}
	}
	return -1
}

// playingCount is used by tests to check the single-playing invariant.
func (h *ResultHistory) playingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for j := range h.entries {
		if h.entries[j].IsPlaying {
			n++
		}
	}
	return n
}
