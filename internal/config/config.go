// Package config loads hlsgrab settings from defaults, a JSON file, the
// environment and the command line, in increasing order of precedence.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/agleyzer/hlsgrab/internal/cluster"
	"github.com/agleyzer/hlsgrab/internal/download"
	"github.com/agleyzer/hlsgrab/internal/fetch"
	"github.com/agleyzer/hlsgrab/internal/mux"
	"github.com/agleyzer/hlsgrab/internal/platform"
	"github.com/agleyzer/hlsgrab/internal/resolver"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "HLSGRAB_"

// Config holds all runtime settings.
type Config struct {
	// HostRoot is prepended to root-relative manifest paths. Empty means
	// the scheme and host of the manifest URL.
	HostRoot string
	// WorkDir holds staged track files while muxing.
	WorkDir string
	// OutputDir receives final containers and direct downloads.
	OutputDir string
	// Timeout bounds a whole HTTP exchange.
	Timeout   time.Duration
	UserAgent string
	Referer   string
	// Concurrency bounds in-flight segment fetches; 0 means unbounded.
	Concurrency int
	Retries     int
	RetryDelay  time.Duration
	FFmpegPath  string
	// StrictManifests validates manifests before parsing.
	StrictManifests bool
	// ProbeVariants drops variants whose media manifests cannot be fetched.
	ProbeVariants bool
	// Port is the HTTP front-end listen port.
	Port int
	// Raft settings; an empty RaftBind disables clustering.
	RaftID    string
	RaftBind  string
	RaftPeers []string
	Verbose   bool
}

// Default returns the built-in settings.
func Default() Config {
	fc := fetch.DefaultConfig()
	return Config{
		WorkDir:       os.TempDir(),
		OutputDir:     ".",
		Timeout:       fc.Timeout,
		UserAgent:     fc.UserAgent,
		Concurrency:   fc.Concurrency,
		Retries:       fc.Retries,
		RetryDelay:    fc.RetryDelay,
		FFmpegPath:    mux.DefaultFFmpegPath,
		ProbeVariants: true,
		Port:          8080,
	}
}

// Validate checks the settings for consistency.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative, got %d", c.Concurrency)
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", c.Retries)
	}
	if c.Timeout < 0 || c.RetryDelay < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg path is required")
	}
	if c.HostRoot != "" && !strings.HasPrefix(c.HostRoot, "http://") && !strings.HasPrefix(c.HostRoot, "https://") {
		return fmt.Errorf("host root must be an http(s) URL, got %q", c.HostRoot)
	}
	if c.Clustered() {
		if _, _, err := net.SplitHostPort(c.RaftBind); err != nil {
			return fmt.Errorf("invalid raft-bind address %q: %w", c.RaftBind, err)
		}
	}
	return nil
}

// Clustered reports whether Raft replication is configured.
func (c *Config) Clustered() bool {
	return c.RaftBind != ""
}

// Fetch returns the transport settings.
func (c *Config) Fetch() fetch.Config {
	return fetch.Config{
		Timeout:     c.Timeout,
		UserAgent:   c.UserAgent,
		Concurrency: c.Concurrency,
		Retries:     c.Retries,
		RetryDelay:  c.RetryDelay,
	}
}

// Resolver returns the manifest resolution options.
func (c *Config) Resolver() resolver.Options {
	return resolver.Options{
		HostRoot: c.HostRoot,
		Strict:   c.StrictManifests,
		Probe:    c.ProbeVariants,
	}
}

// Download returns the orchestrator settings.
func (c *Config) Download() download.Config {
	return download.Config{
		WorkDir:   c.WorkDir,
		OutputDir: c.OutputDir,
	}
}

// Direct returns the single-file download settings.
func (c *Config) Direct() platform.DirectConfig {
	return platform.DirectConfig{
		OutputDir: c.OutputDir,
		Timeout:   c.Timeout,
		UserAgent: c.UserAgent,
		Referer:   c.Referer,
	}
}

// Cluster returns the Raft settings. Peers default to this node alone.
func (c *Config) Cluster() cluster.Config {
	id := c.RaftID
	if id == "" {
		id = c.RaftBind
	}
	peers := c.RaftPeers
	if len(peers) == 0 {
		peers = []string{c.RaftBind}
	}
	return cluster.Config{
		RaftID:   id,
		BindAddr: c.RaftBind,
		Peers:    peers,
		LogRaft:  c.Verbose,
	}
}

// LogValue implements slog.LogValuer.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("work_dir", c.WorkDir),
		slog.String("output_dir", c.OutputDir),
		slog.Duration("timeout", c.Timeout),
		slog.Int("concurrency", c.Concurrency),
		slog.Int("retries", c.Retries),
		slog.Bool("strict", c.StrictManifests),
		slog.Bool("probe", c.ProbeVariants),
		slog.Bool("clustered", c.Clustered()),
	)
}

// LoadFile overlays the JSON object at path onto c. Keys are the flag names,
// e.g. {"concurrency": 8, "timeout": "2m", "raft-peers": ["a:1", "b:1"]}.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file at %s: %w", path, err)
	}

	// numbers keep their literal text so large integers reach Atoi intact
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("failed to unmarshal config JSON: %w", err)
	}

	for key, v := range raw {
		value, ok := c.lookup(key)
		if !ok {
			return fmt.Errorf("unknown config key %q", key)
		}
		if err := value.Set(jsonText(v)); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

func jsonText(v any) string {
	switch t := v.(type) {
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, jsonText(p))
		}
		return strings.Join(parts, ",")
	case json.Number:
		return t.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// LoadEnv overlays HLSGRAB_* variables found by lookupEnv onto c. The
// variable name is the flag name upper-cased with dashes as underscores.
func (c *Config) LoadEnv(lookupEnv func(string) (string, bool)) error {
	for _, f := range fields {
		s, ok := lookupEnv(EnvName(f.name))
		if !ok {
			continue
		}
		if err := f.value(c).Set(s); err != nil {
			return fmt.Errorf("%s: %w", EnvName(f.name), err)
		}
	}
	return nil
}

// EnvName returns the environment variable for a flag name.
func EnvName(flagName string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// LoadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *Config) lookup(name string) (flag.Value, bool) {
	for _, f := range fields {
		if f.name == name {
			return f.value(c), true
		}
	}
	return nil, false
}

// Flags binds the command line to a Config.
type Flags struct {
	// ConfigPath and EnvFile are set by -config and -env-file.
	ConfigPath string
	EnvFile    string

	fs      *flag.FlagSet
	scratch Config
}

// NewFlags registers a flag for every setting on fs.
func NewFlags(set *flag.FlagSet) *Flags {
	f := &Flags{fs: set, scratch: Default()}
	set.StringVar(&f.ConfigPath, "config", "", "JSON config file")
	set.StringVar(&f.EnvFile, "env-file", ".env", "dotenv file loaded into the environment if present")
	for _, fd := range fields {
		set.Var(fd.value(&f.scratch), fd.name, fd.usage)
	}
	return f
}

// Load builds the effective Config after fs has been parsed: defaults, then
// the config file, then the environment, then explicitly set flags.
func (f *Flags) Load(lookupEnv func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if f.ConfigPath != "" {
		if err := cfg.LoadFile(f.ConfigPath); err != nil {
			return Config{}, err
		}
	}
	if f.EnvFile != "" {
		if err := LoadDotEnv(f.EnvFile); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.LoadEnv(lookupEnv); err != nil {
		return Config{}, err
	}

	var err error
	f.fs.Visit(func(fl *flag.Flag) {
		value, ok := cfg.lookup(fl.Name)
		if !ok || err != nil {
			return
		}
		err = value.Set(fl.Value.String())
	})
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
