package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// SessionLog is the log file for one attach. Every injection writes a fresh
// file named after the host pid, so logs from two runs never interleave.
// When the file passes the size cap it is moved aside to a single ".prev"
// part and restarted; older sessions are pruned when a new one opens.
type SessionLog struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	prev    string
	maxSize int64
	written int64
}

// SessionLogPath turns the configured log path into the per-attach one:
// logs/luaconsole.log becomes logs/luaconsole-<pid>.log.
func SessionLogPath(base string, pid int) string {
	ext := filepath.Ext(base)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(base, ext), pid, ext)
}

// OpenSessionLog creates the log for this attach, truncating a leftover file
// from a reused pid, and removes all but the keep newest logs of earlier
// sessions.
func OpenSessionLog(base string, pid, maxSizeMB, keep int) (*SessionLog, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	if keep < 0 {
		keep = 0
	}
	if err := os.MkdirAll(filepath.Dir(base), 0700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	path := SessionLogPath(base, pid)
	ext := filepath.Ext(path)
	sl := &SessionLog{
		path:    path,
		prev:    strings.TrimSuffix(path, ext) + ".prev" + ext,
		maxSize: int64(maxSizeMB) * 1024 * 1024,
	}
	os.Remove(sl.prev)
	if err := sl.create(); err != nil {
		return nil, err
	}
	pruneSessions(base, path, keep)
	return sl, nil
}

// Path is the file this attach writes to.
func (sl *SessionLog) Path() string { return sl.path }

// Write implements io.Writer.
func (sl *SessionLog) Write(p []byte) (int, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.file == nil {
		return 0, os.ErrClosed
	}
	if sl.written > 0 && sl.written+int64(len(p)) > sl.maxSize {
		if err := sl.roll(); err != nil {
			return 0, fmt.Errorf("roll session log: %w", err)
		}
	}
	n, err := sl.file.Write(p)
	sl.written += int64(n)
	return n, err
}

// Close closes the file. Later writes fail with os.ErrClosed.
func (sl *SessionLog) Close() error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.file == nil {
		return nil
	}
	err := sl.file.Close()
	sl.file = nil
	return err
}

func (sl *SessionLog) create() error {
	f, err := os.OpenFile(sl.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	sl.file = f
	sl.written = 0
	return nil
}

func (sl *SessionLog) roll() error {
	sl.file.Close()
	sl.file = nil
	if err := os.Rename(sl.path, sl.prev); err != nil {
		return err
	}
	return sl.create()
}

// pruneSessions keeps the keep most recently written session logs next to
// current. The ".prev" part of a session goes with it.
func pruneSessions(base, current string, keep int) {
	ext := filepath.Ext(base)
	matches, err := filepath.Glob(strings.TrimSuffix(base, ext) + "-*" + ext)
	if err != nil {
		return
	}

	type session struct {
		path string
		mod  int64
	}
	var old []session
	for _, m := range matches {
		if m == current || strings.HasSuffix(m, ".prev"+ext) {
			continue
		}
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		old = append(old, session{m, info.ModTime().UnixNano()})
	}
	if len(old) <= keep {
		return
	}
	sort.Slice(old, func(i, j int) bool { return old[i].mod > old[j].mod })
	for _, s := range old[keep:] {
		os.Remove(s.path)
		os.Remove(strings.TrimSuffix(s.path, ext) + ".prev" + ext)
	}
}
