// Package sink appends one serialized record per line to the session's
// output file.
package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ifebuche/twifesh/internal/records"
)

// FileSink writes newline-delimited JSON records. The filename is fixed
// at construction from the active keywords and the session start time;
// it is never renamed mid-session.
type FileSink struct {
	path string
}

// NewFile derives the session's output path under dir.
func NewFile(dir string, keywords []string, start time.Time) *FileSink {
	name := strings.Join(keywords, "_") + "_" + start.Format("2006January02_15_04_05") + ".jsonl"
	return &FileSink{path: filepath.Join(dir, name)}
}

// Path returns the output file's location.
func (s *FileSink) Path() string { return s.path }

// Append opens the file, writes one newline-terminated JSON record, and
// releases the handle on every exit path.
func (s *FileSink) Append(rec records.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return f.Sync()
}
