package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Sink receives formatted copies of our own log records. The overlay's log
// ring implements it so that hook and surface failures show up in the
// console window, not only in the log file.
type Sink interface {
	Append(line string)
}

// SetMirror installs sink as the destination for records at or above level.
// A nil sink disables mirroring.
func SetMirror(sink Sink, level string) {
	mirrorMu.Lock()
	defer mirrorMu.Unlock()
	mirrorSink = sink
	mirrorLevel = ParseLevel(level)
}

// ClearMirror detaches the current sink. Called during teardown before the
// ring is dropped.
func ClearMirror() {
	SetMirror(nil, "warn")
}

// mirrorHandler wraps a base handler and tees qualifying records to the sink.
type mirrorHandler struct {
	base  slog.Handler
	attrs []slog.Attr
}

func (h *mirrorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *mirrorHandler) Handle(ctx context.Context, record slog.Record) error {
	mirrorMu.RLock()
	sink, min := mirrorSink, mirrorLevel
	mirrorMu.RUnlock()

	if sink != nil && record.Level >= min {
		sink.Append(formatMirrored(record, h.attrs))
	}

	return h.base.Handle(ctx, record)
}

func (h *mirrorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &mirrorHandler{base: h.base.WithAttrs(attrs), attrs: merged}
}

func (h *mirrorHandler) WithGroup(name string) slog.Handler {
	return &mirrorHandler{base: h.base.WithGroup(name), attrs: h.attrs}
}

// formatMirrored renders "[LEVEL] component: message key=value ..." which is
// what fits on one line of the console log window.
func formatMirrored(record slog.Record, attrs []slog.Attr) string {
	var b strings.Builder
	component := "overlay"
	var fields []string

	collect := func(a slog.Attr) bool {
		if a.Key == KeyComponent {
			component = a.Value.String()
			return true
		}
		fields = append(fields, fmt.Sprintf("%s=%v", a.Key, a.Value.Any()))
		return true
	}
	for _, a := range attrs {
		collect(a)
	}
	record.Attrs(collect)

	fmt.Fprintf(&b, "[%s] %s: %s", record.Level.String(), component, record.Message)
	for _, f := range fields {
		b.WriteByte(' ')
		b.WriteString(f)
	}
	return b.String()
}
