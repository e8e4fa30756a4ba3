package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult splits problems into fatals, which stop the module from
// installing any hook, and warnings, which were corrected in place.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// Err joins the fatals, or returns nil.
func (r ValidationResult) Err() error {
	return errors.Join(r.Fatals...)
}

// ValidateTiered checks the config. Out-of-range numbers are clamped and
// reported as warnings; values that would make a hook target garbage are
// fatal. A missing singleton offset only turns gameplay detection off.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if c.LogOffset == 0 {
		r.Fatals = append(r.Fatals, fmt.Errorf("log_offset is not set"))
	}
	if c.ContraptionOffset == 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("contraption_offset is not set, gameplay detection disabled"))
	}
	if c.LogOffset != 0 && c.LogOffset == c.ContraptionOffset {
		r.Fatals = append(r.Fatals, fmt.Errorf("log_offset and contraption_offset are both 0x%X", c.LogOffset))
	}
	if c.GameStateOffset > 0x10000 {
		r.Fatals = append(r.Fatals, fmt.Errorf("game_state_offset 0x%X is implausibly large", c.GameStateOffset))
	}
	if strings.TrimSpace(c.WindowClass) == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("window_class is empty"))
	}
	if !validKey(c.ToggleKey) {
		r.Fatals = append(r.Fatals, fmt.Errorf("toggle_key 0x%X is not a virtual-key code", c.ToggleKey))
	}
	if !validKey(c.UnloadKey) {
		r.Fatals = append(r.Fatals, fmt.Errorf("unload_key 0x%X is not a virtual-key code", c.UnloadKey))
	}
	if c.ToggleKey == c.UnloadKey {
		r.Fatals = append(r.Fatals, fmt.Errorf("toggle_key and unload_key are both 0x%X", c.ToggleKey))
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.MirrorLevel != "" && !validLogLevels[strings.ToLower(c.MirrorLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("mirror_level %q is not valid (use debug, info, warn, error)", c.MirrorLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}
	if c.LogMessageKind != "std_string" && c.LogMessageKind != "cstring" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_message_kind %q is not valid (use std_string or cstring), using std_string", c.LogMessageKind))
		c.LogMessageKind = "std_string"
	}
	if c.Marker == "" {
		r.Warnings = append(r.Warnings, fmt.Errorf("marker is empty, only script-tagged messages will be relayed"))
	}

	clamp(&r, "poll_interval_ms", &c.PollIntervalMs, 1, 100)
	clamp(&r, "ring_capacity", &c.RingCapacity, 16, 100000)
	clamp(&r, "script_budget_ms", &c.ScriptBudgetMs, 1, 5000)
	clamp(&r, "editor_capacity", &c.EditorCapacity, 1024, 1<<20)
	clamp(&r, "singleton_wait_ms", &c.SingletonWaitMs, 0, 600000)
	clamp(&r, "log_max_size_mb", &c.LogMaxSizeMB, 1, 500)
	clamp(&r, "log_max_backups", &c.LogMaxBackups, 1, 20)
	clamp(&r, "audit_max_size_mb", &c.AuditMaxSizeMB, 1, 500)
	clamp(&r, "audit_max_backups", &c.AuditMaxBackups, 1, 20)

	if c.FontSize < 6 {
		r.Warnings = append(r.Warnings, fmt.Errorf("font_size %.1f is below minimum 6, clamping", c.FontSize))
		c.FontSize = 6
	} else if c.FontSize > 72 {
		r.Warnings = append(r.Warnings, fmt.Errorf("font_size %.1f exceeds maximum 72, clamping", c.FontSize))
		c.FontSize = 72
	}

	return r
}

// Validate runs ValidateTiered and logs every finding as a warning.
func (c *Config) Validate() []error {
	errs := c.ValidateTiered().AllErrors()
	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}
	return errs
}

func validKey(vk int) bool {
	return vk > 0 && vk < 0xFF
}

func clamp(r *ValidationResult, name string, v *int, lo, hi int) {
	if *v < lo {
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d is below minimum %d, clamping", name, *v, lo))
		*v = lo
	} else if *v > hi {
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", name, *v, hi))
		*v = hi
	}
}
