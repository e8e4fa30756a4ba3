package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// Config is read once when the module attaches. Offsets are relative to the
// base of ModuleName and depend on the exact host build.
type Config struct {
	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat     string `mapstructure:"log_format" yaml:"log_format"`
	LogFile       string `mapstructure:"log_file" yaml:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`
	MirrorLevel   string `mapstructure:"mirror_level" yaml:"mirror_level"`

	ToggleKey      int `mapstructure:"toggle_key" yaml:"toggle_key"`
	UnloadKey      int `mapstructure:"unload_key" yaml:"unload_key"`
	PollIntervalMs int `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`

	WindowClass    string `mapstructure:"window_class" yaml:"window_class"`
	HostExecutable string `mapstructure:"host_executable" yaml:"host_executable"`
	ModuleName     string `mapstructure:"module_name" yaml:"module_name"`

	LogOffset         uint64 `mapstructure:"log_offset" yaml:"log_offset"`
	ContraptionOffset uint64 `mapstructure:"contraption_offset" yaml:"contraption_offset"`
	GameStateOffset   uint64 `mapstructure:"game_state_offset" yaml:"game_state_offset"`
	PlayState         int32  `mapstructure:"play_state" yaml:"play_state"`
	SingletonWaitMs   int    `mapstructure:"singleton_wait_ms" yaml:"singleton_wait_ms"`

	// LogMessageKind is how the host passes the log message: "std_string"
	// or "cstring".
	LogMessageKind string `mapstructure:"log_message_kind" yaml:"log_message_kind"`
	ScriptTag      int    `mapstructure:"script_tag" yaml:"script_tag"`
	Marker         string `mapstructure:"marker" yaml:"marker"`
	ScriptPrefix   string `mapstructure:"script_prefix" yaml:"script_prefix"`
	RingCapacity   int    `mapstructure:"ring_capacity" yaml:"ring_capacity"`
	ScriptBudgetMs int    `mapstructure:"script_budget_ms" yaml:"script_budget_ms"`

	FontPath       string  `mapstructure:"font_path" yaml:"font_path"`
	FontSize       float32 `mapstructure:"font_size" yaml:"font_size"`
	EditorCapacity int     `mapstructure:"editor_capacity" yaml:"editor_capacity"`
	CimguiDLL      string  `mapstructure:"cimgui_dll" yaml:"cimgui_dll"`

	AuditEnabled    bool `mapstructure:"audit_enabled" yaml:"audit_enabled"`
	AuditMaxSizeMB  int  `mapstructure:"audit_max_size_mb" yaml:"audit_max_size_mb"`
	AuditMaxBackups int  `mapstructure:"audit_max_backups" yaml:"audit_max_backups"`
}

// Virtual-key codes used by the defaults.
const (
	vkInsert = 0x2D
	vkNext   = 0x22
)

func Default() *Config {
	return &Config{
		LogLevel:      "info",
		LogFormat:     "text",
		LogFile:       "luaconsole.log",
		LogMaxSizeMB:  10,
		LogMaxBackups: 2,
		MirrorLevel:   "warn",

		ToggleKey:      vkInsert,
		UnloadKey:      vkNext,
		PollIntervalMs: 1,

		WindowClass:    "CONTRAPTION_WINDOWS_CLASS",
		HostExecutable: "ScrapMechanic.exe",
		ModuleName:     "",

		PlayState:       3,
		SingletonWaitMs: 30000,

		LogMessageKind: "std_string",
		ScriptTag:      3,
		Marker:         "[SM-LuaConsole]",
		ScriptPrefix:   "[Script] ",
		RingCapacity:   1000,
		ScriptBudgetMs: 50,

		FontSize:       16,
		EditorCapacity: 16 * 1024,
		CimguiDLL:      "cimgui.dll",

		AuditMaxSizeMB:  5,
		AuditMaxBackups: 2,
	}
}

// Load reads luaconsole.yaml from cfgFile, or from the data directory and
// the host's working directory when cfgFile is empty. A missing file yields
// the defaults.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := newViper(cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("luaconsole")
		v.SetConfigType("yaml")
		v.AddConfigPath(DataDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LUACONSOLE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// newViper registers every key with its default so AutomaticEnv can see
// keys that are absent from the file.
func newViper(cfg *Config) *viper.Viper {
	v := viper.New()
	for key, value := range cfg.settings() {
		v.SetDefault(key, value)
	}
	return v
}

func (c *Config) settings() map[string]any {
	return map[string]any{
		"log_level":          c.LogLevel,
		"log_format":         c.LogFormat,
		"log_file":           c.LogFile,
		"log_max_size_mb":    c.LogMaxSizeMB,
		"log_max_backups":    c.LogMaxBackups,
		"mirror_level":       c.MirrorLevel,
		"toggle_key":         c.ToggleKey,
		"unload_key":         c.UnloadKey,
		"poll_interval_ms":   c.PollIntervalMs,
		"window_class":       c.WindowClass,
		"host_executable":    c.HostExecutable,
		"module_name":        c.ModuleName,
		"log_offset":         c.LogOffset,
		"contraption_offset": c.ContraptionOffset,
		"game_state_offset":  c.GameStateOffset,
		"play_state":         c.PlayState,
		"singleton_wait_ms":  c.SingletonWaitMs,
		"log_message_kind":   c.LogMessageKind,
		"script_tag":         c.ScriptTag,
		"marker":             c.Marker,
		"script_prefix":      c.ScriptPrefix,
		"ring_capacity":      c.RingCapacity,
		"script_budget_ms":   c.ScriptBudgetMs,
		"font_path":          c.FontPath,
		"font_size":          c.FontSize,
		"editor_capacity":    c.EditorCapacity,
		"cimgui_dll":         c.CimguiDLL,
		"audit_enabled":      c.AuditEnabled,
		"audit_max_size_mb":  c.AuditMaxSizeMB,
		"audit_max_backups":  c.AuditMaxBackups,
	}
}

// SaveTo writes cfg as YAML. An empty path means luaconsole.yaml in DataDir.
func SaveTo(cfg *Config, cfgFile string) (string, error) {
	v := viper.New()
	for key, value := range cfg.settings() {
		v.Set(key, value)
	}

	cfgPath := cfgFile
	if cfgPath == "" {
		cfgPath = filepath.Join(DataDir(), "luaconsole.yaml")
	}
	if dir := filepath.Dir(cfgPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return "", err
		}
	}

	if err := v.WriteConfigAs(cfgPath); err != nil {
		return "", err
	}
	return cfgPath, nil
}

// DataDir holds the config, the log file and the audit trail.
func DataDir() string {
	switch runtime.GOOS {
	case "windows":
		if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
			return filepath.Join(dir, "LuaConsole")
		}
		return filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local", "LuaConsole")
	default:
		if dir, err := os.UserConfigDir(); err == nil {
			return filepath.Join(dir, "luaconsole")
		}
		return ".luaconsole"
	}
}

// ResolvePath places relative file names inside DataDir.
func ResolvePath(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(DataDir(), name)
}
