package sink

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ifebuche/twifesh/internal/records"
)

func strPtr(s string) *string { return &s }

func TestNewFile_NameFromKeywordsAndStart(t *testing.T) {
	start := time.Date(2022, time.July, 3, 19, 53, 37, 0, time.UTC)
	s := NewFile("/tmp/out", []string{"bitcoin", "naija"}, start)

	want := filepath.Join("/tmp/out", "bitcoin_naija_2022July03_19_53_37.jsonl")
	if s.Path() != want {
		t.Errorf("expected path %s, got %s", want, s.Path())
	}
}

func TestAppend_OneRecordPerLine(t *testing.T) {
	dir := t.TempDir()
	s := NewFile(dir, []string{"golang"}, time.Now())

	recs := []records.Record{
		{TweetID: "1", Text: strPtr("first")},
		{TweetID: "2", Text: strPtr("second")},
	}
	for _, r := range recs {
		if err := s.Append(r); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	f, err := os.Open(s.Path())
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var got records.Record
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("line 0 is not valid JSON: %v", err)
	}
	if got.TweetID != "1" {
		t.Errorf("expected tweet id 1 on first line, got %s", got.TweetID)
	}

	// Absent optional fields serialize as explicit null.
	if !strings.Contains(lines[0], `"source":null`) {
		t.Errorf("expected explicit null for absent source, line: %s", lines[0])
	}
}

func TestAppend_PathFixedAcrossWrites(t *testing.T) {
	dir := t.TempDir()
	s := NewFile(dir, []string{"k"}, time.Now())

	before := s.Path()
	if err := s.Append(records.Record{TweetID: "1"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if s.Path() != before {
		t.Errorf("sink path changed mid-session: %s -> %s", before, s.Path())
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected a single output artifact, got %d", len(entries))
	}
}

func TestAppend_MissingDirFails(t *testing.T) {
	s := NewFile("/nonexistent/dir", []string{"k"}, time.Now())
	if err := s.Append(records.Record{TweetID: "1"}); err == nil {
		t.Error("expected error for unwritable path")
	}
}
