package tools

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is the immutable audit entry for one tool invocation.
type Record struct {
	Seq      int             `json:"seq"`
	Tool     string          `json:"tool"`
	Args     Args            `json:"args"`
	Output   json.RawMessage `json:"output,omitempty"`
	Failure  *Failure        `json:"failure,omitempty"`
	Time     time.Time       `json:"time"`
	Duration time.Duration   `json:"duration_ns"`
}

// OK reports whether the invocation produced output.
func (r Record) OK() bool {
	return r.Failure == nil
}

// Observation renders the record for a reasoning prompt, truncating output
// beyond max characters. max <= 0 disables truncation.
func (r Record) Observation(max int) string {
	if r.Failure != nil {
		return fmt.Sprintf("FAILED (%s): %s", r.Failure.Kind, r.Failure.Reason)
	}
	return truncate(string(r.Output), max)
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("... [truncated %d chars]", len(s)-max)
}
