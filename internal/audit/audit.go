// Package audit keeps a hash-chained JSONL record of what the overlay did to
// the host: hooks installed and removed, scripts submitted, unloads.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luaconsole/overlay/internal/logging"
)

var log = logging.L("audit")

// FileName is the audit log inside the data directory.
const FileName = "luaconsole-audit.jsonl"

const genesis = "genesis"

// Event types.
const (
	EventLoad            = "overlay_load"
	EventUnload          = "overlay_unload"
	EventHookInstalled   = "hook_installed"
	EventHookRemoved     = "hook_removed"
	EventScriptSubmitted = "script_submitted"
	EventScriptCleared   = "scripts_cleared"
	EventLogRotated      = "log_rotated"
)

// synced events are fsynced after writing.
var synced = map[string]bool{
	EventLoad:          true,
	EventUnload:        true,
	EventHookInstalled: true,
	EventHookRemoved:   true,
}

var ErrChainBroken = errors.New("audit: hash chain broken")

// Entry is one audit record.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	EventType string         `json:"eventType"`
	TaskID    string         `json:"taskId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	PrevHash  string         `json:"prevHash"`
	EntryHash string         `json:"entryHash"`
}

// Logger appends entries; each entry's hash covers the previous one. A nil
// *Logger is valid and discards everything, which is how auditing is
// switched off.
type Logger struct {
	mu         sync.Mutex
	file       *os.File
	filePath   string
	maxSize    int64
	maxBackups int
	written    int64
	prevHash   string
	dropped    atomic.Int64
}

// NewLogger opens dir/FileName for appending.
func NewLogger(dir string, maxSizeMB, maxBackups int) (*Logger, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 5
	}
	if maxBackups <= 0 {
		maxBackups = 2
	}
	l := &Logger{
		filePath:   filepath.Join(dir, FileName),
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		prevHash:   genesis,
	}
	if last, err := lastHash(l.filePath); err == nil && last != "" {
		l.prevHash = last
	}
	if err := l.openFile(); err != nil {
		return nil, err
	}
	log.Info("audit logger started", "path", l.filePath)
	return l, nil
}

// Path is the active audit file.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.filePath
}

// Log writes an entry. The chain only advances after a successful write.
func (l *Logger) Log(eventType, taskID string, details map[string]any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	data, entry, err := l.encode(eventType, taskID, details)
	if err != nil {
		log.Error("encode audit entry", "eventType", eventType, logging.KeyError, err.Error())
		l.dropped.Add(1)
		return
	}
	if l.written+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			log.Error("audit rotation failed", logging.KeyError, err.Error())
			l.dropped.Add(1)
			return
		}
		// the sentinel moved the chain; re-encode against it
		if data, entry, err = l.encode(eventType, taskID, details); err != nil {
			l.dropped.Add(1)
			return
		}
	}
	if err := l.write(data, entry); err != nil {
		log.Error("write audit entry", "eventType", eventType, logging.KeyError, err.Error())
		l.dropped.Add(1)
		return
	}
	if synced[eventType] {
		if err := l.file.Sync(); err != nil {
			log.Warn("fsync audit entry", "eventType", eventType, logging.KeyError, err.Error())
		}
	}
}

func (l *Logger) encode(eventType, taskID string, details map[string]any) ([]byte, Entry, error) {
	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		EventType: eventType,
		TaskID:    taskID,
		Details:   details,
		PrevHash:  l.prevHash,
	}
	h, err := hashEntry(entry)
	if err != nil {
		return nil, Entry{}, err
	}
	entry.EntryHash = h
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, Entry{}, err
	}
	return append(data, '\n'), entry, nil
}

func (l *Logger) write(data []byte, entry Entry) error {
	n, err := l.file.Write(data)
	l.written += int64(n)
	if err != nil {
		return err
	}
	l.prevHash = entry.EntryHash
	return nil
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// DroppedCount returns entries that failed to write, or -1 when auditing is
// off.
func (l *Logger) DroppedCount() int64 {
	if l == nil {
		return -1
	}
	return l.dropped.Load()
}

// hashEntry length-prefixes each field so no two field splits hash alike.
func hashEntry(e Entry) (string, error) {
	h := sha256.New()
	for _, field := range []string{e.Timestamp, e.EventType, e.TaskID, e.PrevHash} {
		fmt.Fprintf(h, "%d:%s", len(field), field)
	}
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return "", fmt.Errorf("marshal details: %w", err)
		}
		fmt.Fprintf(h, "%d:", len(b))
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (l *Logger) openFile() error {
	f, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	l.file = f
	l.written = info.Size()
	return nil
}

// rotate shifts backups and starts the new file with a sentinel that links
// to the last entry of the old one.
func (l *Logger) rotate() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	for i := l.maxBackups; i >= 2; i-- {
		src, dst := l.backupName(i-1), l.backupName(i)
		if i == l.maxBackups {
			if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
				log.Warn("remove oldest audit backup", "path", dst, logging.KeyError, err.Error())
			}
		}
		if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
			log.Warn("rename audit backup", "src", src, "dst", dst, logging.KeyError, err.Error())
		}
	}
	if err := os.Rename(l.filePath, l.backupName(1)); err != nil && !os.IsNotExist(err) {
		log.Warn("rename audit log", logging.KeyError, err.Error())
	}
	if err := l.openFile(); err != nil {
		return err
	}

	data, entry, err := l.encode(EventLogRotated, "", map[string]any{"previousFile": l.backupName(1)})
	if err != nil {
		return fmt.Errorf("encode rotation sentinel: %w", err)
	}
	if err := l.write(data, entry); err != nil {
		return fmt.Errorf("write rotation sentinel: %w", err)
	}
	return nil
}

func (l *Logger) backupName(index int) string {
	return fmt.Sprintf("%s.%d", l.filePath, index)
}

// VerifyFile checks every entry hash in path and that each entry links to
// the one before it. The first entry may link to anything, since it may
// follow a rotated file. It returns the number of entries checked.
func VerifyFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	prev := ""
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return n, fmt.Errorf("line %d: %w", n+1, err)
		}
		want, err := hashEntry(e)
		if err != nil {
			return n, fmt.Errorf("line %d: %w", n+1, err)
		}
		if want != e.EntryHash {
			return n, fmt.Errorf("%w: line %d hash mismatch", ErrChainBroken, n+1)
		}
		if n > 0 && e.PrevHash != prev {
			return n, fmt.Errorf("%w: line %d does not link to line %d", ErrChainBroken, n+1, n)
		}
		prev = e.EntryHash
		n++
	}
	return n, sc.Err()
}

// lastHash returns the entry hash of the final line in path so a reopened
// log continues its chain.
func lastHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	last := ""
	for sc.Scan() {
		var e Entry
		if json.Unmarshal(sc.Bytes(), &e) == nil && e.EntryHash != "" {
			last = e.EntryHash
		}
	}
	return last, sc.Err()
}
