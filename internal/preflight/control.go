// Package preflight decides whether an unattended run may start and which
// enforcement mode it runs under.
package preflight

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/hochfrequenz/auto-claude/internal/control"
)

// ControlResult is the outcome of the control signal
type ControlResult struct {
	ShouldRun bool   `json:"should_run"`
	Reason    string `json:"reason,omitempty"`
	SkipCount int    `json:"skip_count"`
}

// CheckControl applies the control file. Force bypasses it without reading.
// A missing or malformed file permits the run. A positive skip_count is
// decremented by one and persisted before returning; a failed persist is
// logged and the decision stays skip.
func CheckControl(f *control.File, force bool, now time.Time, logger *slog.Logger) ControlResult {
	ok := ControlResult{ShouldRun: true}
	if force || f == nil {
		return ok
	}
	if logger == nil {
		logger = slog.Default()
	}

	st, err := f.Load()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("no control file", "path", f.Path)
		} else {
			logger.Warn("ignoring control file", "error", err)
		}
		return ok
	}

	if st.Paused(now) {
		return ControlResult{
			Reason:    "Paused until " + st.PauseUntilRaw(),
			SkipCount: st.SkipCount,
		}
	}

	if st.SkipCount > 0 {
		was := st.SkipCount
		st.SkipCount--
		if err := f.Save(st); err != nil {
			logger.Error("persisting skip count", "path", f.Path, "error", err)
		}
		return ControlResult{
			Reason:    fmt.Sprintf("Skip count was %d, now %d", was, st.SkipCount),
			SkipCount: st.SkipCount,
		}
	}

	return ok
}
