// Package audit keeps the append-only record of every request the server
// dispatched. Records are chained with a keyed BLAKE3 digest so that edits
// to a persisted log can be detected.
package audit

import (
	"fmt"
	"sort"
	"time"
	"unicode/utf8"
)

// Outcome of a request attempt
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Record is one audited request attempt. Seq, ID, Timestamp, Prev and
// Digest are assigned by Log.Record.
type Record struct {
	Seq        uint64            `json:"seq"`
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Operation  string            `json:"operation"`
	Outcome    Outcome           `json:"outcome"`
	Reason     string            `json:"reason,omitempty"`
	ClientID   string            `json:"client_id,omitempty"`
	RemoteAddr string            `json:"remote_addr,omitempty"`
	Arguments  map[string]string `json:"arguments,omitempty"`
	Details    string            `json:"details,omitempty"`
	Stage      string            `json:"stage,omitempty"`
	Prev       string            `json:"prev_digest,omitempty"`
	Digest     string            `json:"digest"`
}

// Succeeded reports whether the attempt succeeded
func (r Record) Succeeded() bool { return r.Outcome == OutcomeSuccess }

// String is a one-line rendering for terminals
func (r Record) String() string {
	s := fmt.Sprintf("#%d %s %s %s", r.Seq, r.Timestamp.Format(time.RFC3339Nano), r.Operation, r.Outcome)
	if r.Reason != "" {
		s += " (" + r.Reason + ")"
	}
	if r.ClientID != "" {
		s += " client=" + r.ClientID
	}
	return s
}

// MaxArgumentLength is the longest argument value kept in a summary
const MaxArgumentLength = 64

// Operation names an audited operation, e.g. "tools/call:send_tari"
func Operation(method, target string) string {
	if target == "" {
		return method
	}
	return method + ":" + target
}

// Summarize renders call arguments for a record. Long values are
// truncated to MaxArgumentLength runes.
func Summarize(args map[string]interface{}) map[string]string {
	if len(args) == 0 {
		return nil
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(args))
	for _, k := range keys {
		out[k] = truncate(fmt.Sprint(args[k]), MaxArgumentLength)
	}
	return out
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}
