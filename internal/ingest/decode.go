package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/hochfrequenz/auto-claude/internal/domain"
)

// Event is one recognised record of an execution log. The concrete type is
// one of MessageUsage, RunStarted, RunCompleted, ContextCheckpoint,
// TaskCompleted or TaskBlocked.
type Event interface {
	Kind() string
}

// MessageUsage is the token usage of one assistant message
type MessageUsage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
}

// RunStarted marks the beginning of a run
type RunStarted struct {
	RunID string
	Repo  string
}

// RunCompleted marks the end of a run. Nil fields were not present.
type RunCompleted struct {
	ExitCode    *int
	DurationSec *int64
}

// ContextCheckpoint reports context window usage at a point in the run
type ContextCheckpoint struct {
	UsagePct      float64
	TokensUsed    int64
	ContextWindow int64
}

// TaskCompleted reports a finished task, optionally tied to a PR or issue
type TaskCompleted struct {
	Task        string
	PR          string
	Issue       string
	UnitType    domain.UnitType
	TokensUsed  int64
	DurationSec int64
}

// TaskBlocked reports a task the agent could not finish
type TaskBlocked struct {
	Task   string
	Reason string
}

func (MessageUsage) Kind() string      { return "message_usage" }
func (RunStarted) Kind() string        { return "run_started" }
func (RunCompleted) Kind() string      { return "run_completed" }
func (ContextCheckpoint) Kind() string { return "context_checkpoint" }
func (TaskCompleted) Kind() string     { return "task_completed" }
func (TaskBlocked) Kind() string       { return "task_blocked" }

// Record is a decoded log line. Event is nil when the line is valid JSON of
// an unrecognised shape; such lines only contribute their timestamp.
type Record struct {
	Timestamp *time.Time
	Event     Event
}

// ParseError is a log line that is not valid JSON
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: malformed record: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("malformed record: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type rawUsage struct {
	InputTokens         number `json:"input_tokens"`
	OutputTokens        number `json:"output_tokens"`
	CacheReadTokens     number `json:"cache_read_input_tokens"`
	CacheCreationTokens number `json:"cache_creation_input_tokens"`
}

type rawMessage struct {
	Role  text      `json:"role"`
	Usage *rawUsage `json:"usage"`
}

type rawRecord struct {
	Type      text        `json:"type"`
	Event     text        `json:"event"`
	Timestamp text        `json:"timestamp"`
	Message   *rawMessage `json:"message"`

	RunID         text   `json:"run_id"`
	Repo          text   `json:"repo"`
	ExitCode      number `json:"exit_code"`
	DurationSec   number `json:"duration_sec"`
	UsagePct      number `json:"usage_pct"`
	TokensUsed    number `json:"tokens_used"`
	ContextWindow number `json:"context_window"`
	Task          text   `json:"task"`
	PR            ref    `json:"pr"`
	Issue         ref    `json:"issue"`
	UnitType      text   `json:"unit_type"`
	Reason        text   `json:"reason"`
}

// Decode parses one log line. Lines that are not JSON yield a *ParseError;
// JSON that matches no known shape yields a Record with a nil Event.
func Decode(line []byte) (Record, error) {
	line = bytes.TrimSpace(line)
	if !json.Valid(line) {
		var v any
		return Record{}, &ParseError{Err: json.Unmarshal(line, &v)}
	}

	var raw rawRecord
	if err := json.Unmarshal(line, &raw); err != nil {
		// valid JSON but not an object
		return Record{}, nil
	}

	var rec Record
	if raw.Timestamp.set {
		if t, err := domain.ParseTimestamp(raw.Timestamp.value); err == nil {
			rec.Timestamp = &t
		}
	}
	rec.Event = raw.event()
	return rec, nil
}

func (r *rawRecord) event() Event {
	if r.isAssistantMessage() {
		u := r.Message.Usage
		if u == nil {
			return MessageUsage{}
		}
		return MessageUsage{
			InputTokens:      u.InputTokens.int(),
			OutputTokens:     u.OutputTokens.int(),
			CacheReadTokens:  u.CacheReadTokens.int(),
			CacheWriteTokens: u.CacheCreationTokens.int(),
		}
	}

	switch r.Event.value {
	case "run_started":
		return RunStarted{RunID: r.RunID.value, Repo: r.Repo.value}
	case "run_completed":
		var ev RunCompleted
		if r.ExitCode.set {
			code := int(r.ExitCode.value)
			ev.ExitCode = &code
		}
		if r.DurationSec.set {
			d := r.DurationSec.int()
			ev.DurationSec = &d
		}
		return ev
	case "context_checkpoint":
		return ContextCheckpoint{
			UsagePct:      r.UsagePct.value,
			TokensUsed:    r.TokensUsed.int(),
			ContextWindow: r.ContextWindow.int(),
		}
	case "task_completed":
		return TaskCompleted{
			Task:        r.Task.value,
			PR:          string(r.PR),
			Issue:       string(r.Issue),
			UnitType:    domain.UnitType(r.UnitType.value),
			TokensUsed:  r.TokensUsed.int(),
			DurationSec: r.DurationSec.int(),
		}
	case "task_blocked":
		return TaskBlocked{Task: r.Task.value, Reason: r.Reason.value}
	}
	return nil
}

// isAssistantMessage accepts both the wrapped {"type":"message"} shape and
// the stream-json {"type":"assistant"} shape.
func (r *rawRecord) isAssistantMessage() bool {
	if r.Message == nil {
		return false
	}
	switch r.Type.value {
	case "message":
		return r.Message.Role.value == "assistant"
	case "assistant":
		return r.Message.Role.value == "" || r.Message.Role.value == "assistant"
	}
	return false
}

// number accepts JSON numbers and numeric strings. Anything else leaves it unset.
type number struct {
	value float64
	set   bool
}

func (n *number) UnmarshalJSON(b []byte) error {
	if isNull(b) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		n.value, n.set = f, true
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			n.value, n.set = f, true
		}
	}
	return nil
}

func (n number) int() int64 {
	return int64(n.value)
}

// text accepts JSON strings and renders numbers as their literal
type text struct {
	value string
	set   bool
}

func (t *text) UnmarshalJSON(b []byte) error {
	if isNull(b) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		t.value, t.set = s, true
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		t.value, t.set = n.String(), true
	}
	return nil
}

// ref is a PR or issue reference given as a number or string. Zero, empty,
// false and null all mean no reference.
type ref string

func (r *ref) UnmarshalJSON(b []byte) error {
	if isNull(b) {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		if f, err := n.Float64(); err == nil && f == 0 {
			*r = ""
			return nil
		}
		*r = ref(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*r = ref(s)
	}
	return nil
}

func isNull(b []byte) bool {
	return string(bytes.TrimSpace(b)) == "null"
}
