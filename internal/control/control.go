// Package control reads and persists the externally edited control file that
// pauses or skips unattended runs.
package control

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hochfrequenz/auto-claude/internal/config"
	"github.com/hochfrequenz/auto-claude/internal/domain"
)

// State is the content of the control file. Keys other than the ones below
// are kept verbatim across a load and save.
type State struct {
	// PauseUntil is nil when unset or unparseable
	PauseUntil *time.Time
	SkipCount  int

	LastRun     string
	LastRunRepo string

	rawPause string
	extra    map[string]json.RawMessage
}

var knownKeys = map[string]bool{
	"pause_until":   true,
	"skip_count":    true,
	"last_run":      true,
	"last_run_repo": true,
}

// Paused reports whether now falls before PauseUntil
func (s *State) Paused(now time.Time) bool {
	return s.PauseUntil != nil && now.Before(*s.PauseUntil)
}

// PauseUntilRaw returns pause_until as written in the file
func (s *State) PauseUntilRaw() string {
	return s.rawPause
}

// UnmarshalJSON decodes the control file leniently: a non-integer or
// negative skip_count counts as zero.
func (s *State) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*s = State{extra: make(map[string]json.RawMessage)}
	for k, v := range fields {
		if !knownKeys[k] {
			s.extra[k] = v
		}
	}

	if raw, ok := fields["pause_until"]; ok {
		var str string
		if json.Unmarshal(raw, &str) == nil && str != "" {
			s.rawPause = str
			if t, err := domain.ParseTimestamp(str); err == nil {
				s.PauseUntil = &t
			}
		}
	}
	if raw, ok := fields["skip_count"]; ok {
		var f float64
		if json.Unmarshal(raw, &f) == nil && f > 0 && f == math.Trunc(f) {
			s.SkipCount = int(f)
		}
	}
	if raw, ok := fields["last_run"]; ok {
		json.Unmarshal(raw, &s.LastRun)
	}
	if raw, ok := fields["last_run_repo"]; ok {
		json.Unmarshal(raw, &s.LastRunRepo)
	}
	return nil
}

// MarshalJSON writes the known keys followed by preserved ones, sorted
func (s *State) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(s.extra)+4)
	for k, v := range s.extra {
		fields[k] = v
	}

	set := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		fields[key] = b
		return nil
	}

	if pause := s.pauseText(); pause != "" {
		if err := set("pause_until", pause); err != nil {
			return nil, err
		}
	}
	if err := set("skip_count", s.SkipCount); err != nil {
		return nil, err
	}
	if s.LastRun != "" {
		if err := set("last_run", s.LastRun); err != nil {
			return nil, err
		}
	}
	if s.LastRunRepo != "" {
		if err := set("last_run_repo", s.LastRunRepo); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(fields[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// pauseText keeps the original spelling of pause_until unless PauseUntil was changed
func (s *State) pauseText() string {
	if s.PauseUntil == nil {
		return s.rawPause
	}
	if t, err := domain.ParseTimestamp(s.rawPause); err == nil && t.Equal(*s.PauseUntil) {
		return s.rawPause
	}
	return domain.FormatTimestamp(*s.PauseUntil)
}

// File is the control file at Path
type File struct {
	Path string
}

// Load reads the control file. A missing or malformed file yields a
// *config.Error; callers treat that as "no overrides".
func (f *File) Load() (*State, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, &config.Error{Path: f.Path, Err: err}
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, &config.Error{Path: f.Path, Err: fmt.Errorf("malformed control file: %w", err)}
	}
	return &st, nil
}

// Save replaces the control file atomically: the new content is written to a
// temporary file in the same directory, synced and renamed over the old one.
func (f *File) Save(st *State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshaling control state: %w", err)
	}
	var data bytes.Buffer
	if err := json.Indent(&data, raw, "", "  "); err != nil {
		return fmt.Errorf("marshaling control state: %w", err)
	}
	data.WriteByte('\n')

	dir := filepath.Dir(f.Path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary control file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temporary control file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temporary control file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temporary control file: %w", err)
	}
	if info, err := os.Stat(f.Path); err == nil {
		os.Chmod(tmpPath, info.Mode().Perm())
	} else {
		os.Chmod(tmpPath, 0644)
	}

	if err := os.Rename(tmpPath, f.Path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming control file into place: %w", err)
	}

	// Sync the parent directory so the rename survives a power loss
	if parent, err := os.Open(dir); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}

// StampLastRun records the time and repository of the latest run. The
// control file must already exist.
func (f *File) StampLastRun(repo string, now time.Time) error {
	st, err := f.Load()
	if err != nil {
		return err
	}
	st.LastRun = domain.FormatTimestamp(now)
	st.LastRunRepo = repo
	return f.Save(st)
}
