package state

import (
	"fmt"
	"sync"
	"time"
)

type TimingEntry struct {
	Stage    string    `json:"stage"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end,omitempty"`
	Duration string    `json:"duration,omitempty"`
}

// Timing records when each stage of a run started and ended.
type Timing struct {
	mu      sync.Mutex
	Entries []TimingEntry `json:"entries"`
	now     func() time.Time
}

func NewTiming() *Timing {
	return &Timing{now: time.Now}
}

func (t *Timing) clock() time.Time {
	if t.now == nil {
		return time.Now()
	}
	return t.now()
}

// AddStart appends a new timing entry for the given stage.
func (t *Timing) AddStart(stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Entries = append(t.Entries, TimingEntry{
		Stage: stage,
		Start: t.clock(),
	})
}

// AddEnd records the end time for the most recent open entry matching stage.
func (t *Timing) AddEnd(stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.Entries) - 1; i >= 0; i-- {
		if t.Entries[i].Stage == stage && t.Entries[i].End.IsZero() {
			t.Entries[i].End = t.clock()
			d := t.Entries[i].End.Sub(t.Entries[i].Start)
			t.Entries[i].Duration = formatDuration(d)
			break
		}
	}
}

// Snapshot returns a copy of the entries.
func (t *Timing) Snapshot() []TimingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TimingEntry(nil), t.Entries...)
}

func formatDuration(d time.Duration) string {
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %02ds", m, s)
}
