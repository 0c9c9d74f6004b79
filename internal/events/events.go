// Package events appends structured lifecycle events to the events log
package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/auto-claude/internal/domain"
)

// Event types emitted by the CLI
const (
	TypeRunStarted        = "run_started"
	TypeRunCompleted      = "run_completed"
	TypeContextCheckpoint = "context_checkpoint"
	TypeContextWarning    = "context_warning"
)

// Event is one line of the events log. Fields never override the fixed keys.
type Event struct {
	Type      string
	ID        string
	Timestamp time.Time
	RunID     string
	Repo      string
	Fields    map[string]any
}

var fixedKeys = map[string]bool{"event": true, "event_id": true, "timestamp": true, "run_id": true, "repo": true}

// MarshalJSON writes the fixed keys first, then Fields sorted by key
func (e *Event) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	write := func(k string, v any) error {
		val, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, _ := json.Marshal(k)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
		return nil
	}

	if err := write("event", e.Type); err != nil {
		return nil, err
	}
	if e.ID != "" {
		if err := write("event_id", e.ID); err != nil {
			return nil, err
		}
	}
	if err := write("timestamp", domain.FormatTimestamp(e.Timestamp)); err != nil {
		return nil, err
	}
	if err := write("run_id", e.RunID); err != nil {
		return nil, err
	}
	if err := write("repo", e.Repo); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		if !fixedKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := write(k, e.Fields[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Emitter appends events to the log at Path, creating it when missing
type Emitter struct {
	Path  string
	Now   func() time.Time
	NewID func() string

	mu sync.Mutex
}

// NewEmitter creates an Emitter for path
func NewEmitter(path string) *Emitter {
	return &Emitter{Path: path, Now: time.Now, NewID: uuid.NewString}
}

// Emit appends one event and returns it
func (e *Emitter) Emit(eventType, runID, repo string, fields map[string]any) (*Event, error) {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	ev := &Event{
		Type:      eventType,
		Timestamp: now().UTC().Truncate(time.Second),
		RunID:     runID,
		Repo:      repo,
		Fields:    fields,
	}
	if e.NewID != nil {
		ev.ID = e.NewID()
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", eventType, err)
	}
	line = append(line, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(e.Path), 0755); err != nil {
		return nil, fmt.Errorf("creating events log directory: %w", err)
	}
	f, err := os.OpenFile(e.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening events log: %w", err)
	}
	// One write per line keeps concurrent appenders from interleaving
	if _, err := f.Write(line); err != nil {
		f.Close()
		return nil, fmt.Errorf("appending to events log: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("closing events log: %w", err)
	}
	return ev, nil
}

// RunFields derives the lifecycle fields of a run event. A nil argument
// leaves its fields out.
func RunFields(exitCode *int, durationSec *int64, budget *float64) map[string]any {
	fields := make(map[string]any)
	if exitCode != nil {
		fields["exit_code"] = *exitCode
		if *exitCode == 0 {
			fields["status"] = "success"
		} else {
			fields["status"] = "failed"
		}
	}
	if durationSec != nil {
		fields["duration_sec"] = *durationSec
		fields["duration_min"] = *durationSec / 60
	}
	if budget != nil {
		fields["budget"] = *budget
	}
	return fields
}

// ParseExtra turns key=value pairs into fields. Values become integers or
// floats when they parse as such, strings otherwise. Pairs without "=" are
// ignored.
func ParseExtra(pairs []string) map[string]any {
	fields := make(map[string]any)
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			continue
		}
		fields[k] = parseValue(v)
	}
	return fields
}

func parseValue(v string) any {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	return v
}

// Merge copies src into dst, src winning, and returns dst
func Merge(dst map[string]any, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
