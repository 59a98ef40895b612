package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// DefaultPort is used when the configured port is the PortDefault sentinel.
	DefaultPort = 29170
	// PortDefault is the sentinel meaning "use the platform default port".
	PortDefault = 0

	DefaultHost            = "127.0.0.1"
	DefaultEndpointPath    = "/index-mcp"
	DefaultHistoryCapacity = 100
	MinHistoryCapacity     = 10
)

// History persistence backends
const (
	HistoryStoreNone   = "none"
	HistoryStoreFile   = "file"
	HistoryStoreSQLite = "sqlite"
)

// Settings holds the application configuration. Values are treated as
// immutable once published through a Manager.
type Settings struct {
	Host                string    `mapstructure:"host" yaml:"host"`
	Port                int       `mapstructure:"port" yaml:"port"`
	EndpointPath        string    `mapstructure:"endpoint_path" yaml:"endpoint_path"`
	HistoryCapacity     int       `mapstructure:"history_capacity" yaml:"history_capacity"`
	DisabledTools       []string  `mapstructure:"disabled_tools" yaml:"disabled_tools"`
	SyncExternalChanges bool      `mapstructure:"sync_external_changes" yaml:"sync_external_changes"`
	ProjectRoot         string    `mapstructure:"project_root" yaml:"project_root"`
	LogLevel            string    `mapstructure:"log_level" yaml:"log_level"`
	LogFormat           string    `mapstructure:"log_format" yaml:"log_format"`
	HistoryStore        string    `mapstructure:"history_store" yaml:"history_store"`
	HistoryPath         string    `mapstructure:"history_path" yaml:"history_path"`
	Console             bool      `mapstructure:"console" yaml:"console"`
	Telemetry           Telemetry `mapstructure:"telemetry" yaml:"telemetry"`
}

// Telemetry configures OpenTelemetry export.
type Telemetry struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// Defaults returns Settings with every default applied.
func Defaults() Settings {
	return Settings{
		Host:            DefaultHost,
		Port:            PortDefault,
		EndpointPath:    DefaultEndpointPath,
		HistoryCapacity: DefaultHistoryCapacity,
		ProjectRoot:     ".",
		LogLevel:        "info",
		LogFormat:       "text",
		HistoryStore:    HistoryStoreNone,
		Telemetry:       Telemetry{ServiceName: "index-mcp"},
	}
}

// Dir returns the per-user configuration directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "index-mcp")
}

// Flags returns the command-line flags understood by Load.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("index-mcp", pflag.ContinueOnError)
	fs.String("config", "", "path to a config file")
	fs.String("host", DefaultHost, "listen host")
	fs.Int("port", PortDefault, fmt.Sprintf("listen port (0 = %d)", DefaultPort))
	fs.String("endpoint-path", DefaultEndpointPath, "base path of the MCP endpoint")
	fs.Int("history-capacity", DefaultHistoryCapacity, "maximum number of command history entries")
	fs.StringSlice("disable-tool", nil, "tool name to disable (repeatable)")
	fs.Bool("sync-external-changes", false, "refresh the project index before each tool call")
	fs.String("project-root", ".", "project directory the tools operate on")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-format", "text", "log format (text, json)")
	fs.String("history-store", HistoryStoreNone, "history persistence (none, file, sqlite)")
	fs.String("history-path", "", "history persistence path")
	fs.Bool("console", false, "run the interactive admin console")
	fs.Bool("telemetry", false, "export OpenTelemetry traces and metrics")
	return fs
}

var flagKeys = map[string]string{
	"host":                  "host",
	"port":                  "port",
	"endpoint-path":         "endpoint_path",
	"history-capacity":      "history_capacity",
	"disable-tool":          "disabled_tools",
	"sync-external-changes": "sync_external_changes",
	"project-root":          "project_root",
	"log-level":             "log_level",
	"log-format":            "log_format",
	"history-store":         "history_store",
	"history-path":          "history_path",
	"console":               "console",
	"telemetry":             "telemetry.enabled",
}

// Load loads configuration: defaults, then an optional config file, then
// INDEX_MCP_* environment variables, then explicitly set flags. It returns
// the settings and the config file that was used, if any.
func Load(flags *pflag.FlagSet) (Settings, string, error) {
	v := viper.New()

	d := Defaults()
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("endpoint_path", d.EndpointPath)
	v.SetDefault("history_capacity", d.HistoryCapacity)
	v.SetDefault("disabled_tools", []string{})
	v.SetDefault("sync_external_changes", d.SyncExternalChanges)
	v.SetDefault("project_root", d.ProjectRoot)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("history_store", d.HistoryStore)
	v.SetDefault("history_path", "")
	v.SetDefault("console", false)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)

	configFile := ""
	if flags != nil {
		if f := flags.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(Dir())
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("INDEX_MCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return Settings{}, "", fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			if configFile != "" || !errors.Is(err, os.ErrNotExist) {
				return Settings{}, "", fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, "", fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := s.Validate(); err != nil {
		return Settings{}, "", err
	}

	return s.Normalize(), v.ConfigFileUsed(), nil
}

// Validate rejects settings that cannot be normalized into something usable.
func (s Settings) Validate() error {
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("invalid port %d", s.Port)
	}
	switch s.HistoryStore {
	case "", HistoryStoreNone, HistoryStoreFile, HistoryStoreSQLite:
	default:
		return fmt.Errorf("invalid history_store %q (want none, file or sqlite)", s.HistoryStore)
	}
	return nil
}

// Normalize clamps and canonicalizes values. It never mutates s.
func (s Settings) Normalize() Settings {
	if s.Host == "" {
		s.Host = DefaultHost
	}
	if s.EndpointPath == "" {
		s.EndpointPath = DefaultEndpointPath
	}
	if !strings.HasPrefix(s.EndpointPath, "/") {
		s.EndpointPath = "/" + s.EndpointPath
	}
	if len(s.EndpointPath) > 1 {
		s.EndpointPath = strings.TrimRight(s.EndpointPath, "/")
	}
	if s.HistoryCapacity < MinHistoryCapacity {
		s.HistoryCapacity = MinHistoryCapacity
	}
	if s.HistoryStore == "" {
		s.HistoryStore = HistoryStoreNone
	}
	if s.HistoryPath == "" && s.HistoryStore != HistoryStoreNone {
		name := "history.json"
		if s.HistoryStore == HistoryStoreSQLite {
			name = "history.db"
		}
		s.HistoryPath = filepath.Join(Dir(), name)
	}
	if s.ProjectRoot == "" {
		s.ProjectRoot = "."
	}
	if s.Telemetry.ServiceName == "" {
		s.Telemetry.ServiceName = "index-mcp"
	}
	s.DisabledTools = normalizeNames(s.DisabledTools)
	return s
}

func normalizeNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// EffectivePort resolves the PortDefault sentinel.
func (s Settings) EffectivePort() int {
	if s.Port == PortDefault {
		return DefaultPort
	}
	return s.Port
}

// IsToolEnabled reports whether name is not administratively disabled.
func (s Settings) IsToolEnabled(name string) bool {
	i := sort.SearchStrings(s.DisabledTools, name)
	return i >= len(s.DisabledTools) || s.DisabledTools[i] != name
}

// ListenChanged reports whether the listening address differs between a and b.
func ListenChanged(a, b Settings) bool {
	return a.Host != b.Host || a.EffectivePort() != b.EffectivePort() || a.EndpointPath != b.EndpointPath
}
