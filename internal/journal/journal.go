// Package journal is an append-only, fsynced log of feedback events that can
// be replayed into a restored engine.
package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fractal-lba/adaptive/internal/reward"
	"github.com/fractal-lba/adaptive/internal/state"
	"github.com/fractal-lba/adaptive/internal/strategy"
)

const filePrefix = "feedback-"

// Journal appends records to a daily file feedback-YYYYMMDD.wal and rolls
// over to a new file when the day changes.
type Journal struct {
	mu   sync.Mutex
	dir  string
	day  string
	file *os.File
	path string
	now  func() time.Time
}

// Entry represents a single journal line
type Entry struct {
	Timestamp time.Time
	Body      []byte
}

// Open creates dir if needed and opens today's file for appending.
func Open(dir string) (*Journal, error) {
	return openWithClock(dir, time.Now)
}

func openWithClock(dir string, now func() time.Time) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	j := &Journal{dir: dir, now: now}
	if err := j.rollLocked(now()); err != nil {
		return nil, err
	}
	return j, nil
}

// Path returns the file currently appended to.
func (j *Journal) Path() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.path
}

// Append writes timestamp|length|body as one line and fsyncs. body must not
// contain a newline.
func (j *Journal) Append(body []byte) error {
	if bytes.IndexByte(body, '\n') >= 0 {
		return fmt.Errorf("journal: body contains a newline")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	ts := j.now()
	if err := j.rollLocked(ts); err != nil {
		return err
	}

	line := fmt.Sprintf("%s|%d|%s\n", ts.UTC().Format(time.RFC3339Nano), len(body), body)
	if _, err := j.file.WriteString(line); err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}

	// fsync before acknowledging the caller
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	return nil
}

// Close flushes and closes the current file
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	if err := j.file.Sync(); err != nil {
		return err
	}
	err := j.file.Close()
	j.file = nil
	return err
}

func (j *Journal) rollLocked(ts time.Time) error {
	day := ts.UTC().Format("20060102")
	if j.file != nil && day == j.day {
		return nil
	}
	if j.file != nil {
		if err := j.file.Close(); err != nil {
			return fmt.Errorf("failed to close journal: %w", err)
		}
		j.file = nil
	}

	path := filepath.Join(j.dir, filePrefix+day+".wal")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal file: %w", err)
	}
	j.file, j.path, j.day = file, path, day
	return nil
}

// Replay reads all well-formed entries from a journal file. Lines that are
// malformed or whose length prefix does not match their body are skipped.
func Replay(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		entry, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}

	return entries, scanner.Err()
}

func parseLine(line string) (Entry, bool) {
	// timestamp|length|body; the body may itself contain '|'
	parts := strings.SplitN(line, "|", 3)
	if len(parts) != 3 {
		return Entry{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return Entry{}, false
	}
	length, err := strconv.Atoi(parts[1])
	if err != nil || length != len(parts[2]) {
		return Entry{}, false
	}
	return Entry{Timestamp: ts, Body: []byte(parts[2])}, true
}

// Files lists the journal files in dir, oldest day first.
func Files(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+"*.wal"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// FeedbackRecord is the journaled form of one feedback event. It carries the
// adaptation's state and action so it can be re-learned after the adaptation
// itself is gone.
type FeedbackRecord struct {
	AdaptationID string          `json:"adaptation_id"`
	State        state.State     `json:"state"`
	Action       strategy.Action `json:"action"`
	Feedback     reward.Feedback `json:"feedback"`
}

// AppendFeedback journals rec as compact JSON.
func (j *Journal) AppendFeedback(rec FeedbackRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("journal: marshal feedback: %w", err)
	}
	return j.Append(body)
}

// DecodeFeedback parses an entry written by AppendFeedback.
func DecodeFeedback(e Entry) (FeedbackRecord, error) {
	var rec FeedbackRecord
	if err := json.Unmarshal(e.Body, &rec); err != nil {
		return FeedbackRecord{}, fmt.Errorf("journal: decode feedback: %w", err)
	}
	if rec.Action.Strategy == "" || rec.Action.Option == "" {
		return FeedbackRecord{}, fmt.Errorf("journal: feedback record without action")
	}
	return rec, nil
}
