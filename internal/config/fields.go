package config

import (
	"flag"
	"strconv"
	"strings"
	"time"

	"github.com/xhit/go-str2duration/v2"
)

// field describes one setting shared by the file, environment and flag
// sources.
type field struct {
	name  string
	usage string
	value func(c *Config) flag.Value
}

var fields = []field{
	{"host-root", "prefix for root-relative manifest paths (default: manifest scheme and host)", func(c *Config) flag.Value { return (*stringValue)(&c.HostRoot) }},
	{"work-dir", "directory for staged track files", func(c *Config) flag.Value { return (*stringValue)(&c.WorkDir) }},
	{"output-dir", "directory for downloaded files", func(c *Config) flag.Value { return (*stringValue)(&c.OutputDir) }},
	{"timeout", "HTTP timeout per request, e.g. 30s, 10m, 1h", func(c *Config) flag.Value { return (*durationValue)(&c.Timeout) }},
	{"user-agent", "User-Agent header sent with every request", func(c *Config) flag.Value { return (*stringValue)(&c.UserAgent) }},
	{"referer", "Referer header sent with direct file downloads", func(c *Config) flag.Value { return (*stringValue)(&c.Referer) }},
	{"concurrency", "maximum in-flight segment fetches (0 = unbounded)", func(c *Config) flag.Value { return (*intValue)(&c.Concurrency) }},
	{"retries", "extra attempts per failed segment", func(c *Config) flag.Value { return (*intValue)(&c.Retries) }},
	{"retry-delay", "pause between segment attempts", func(c *Config) flag.Value { return (*durationValue)(&c.RetryDelay) }},
	{"ffmpeg", "path of the ffmpeg binary", func(c *Config) flag.Value { return (*stringValue)(&c.FFmpegPath) }},
	{"strict", "validate manifests before parsing", func(c *Config) flag.Value { return (*boolValue)(&c.StrictManifests) }},
	{"probe", "drop variants whose media manifests cannot be fetched", func(c *Config) flag.Value { return (*boolValue)(&c.ProbeVariants) }},
	{"port", "HTTP server port", func(c *Config) flag.Value { return (*intValue)(&c.Port) }},
	{"raft-id", "Raft node id (default: raft-bind)", func(c *Config) flag.Value { return (*stringValue)(&c.RaftID) }},
	{"raft-bind", "Raft bind address host:port (empty disables clustering)", func(c *Config) flag.Value { return (*stringValue)(&c.RaftBind) }},
	{"raft-peers", "comma-separated Raft peer addresses, including this node", func(c *Config) flag.Value { return (*listValue)(&c.RaftPeers) }},
	{"verbose", "enable verbose logging", func(c *Config) flag.Value { return (*boolValue)(&c.Verbose) }},
}

type stringValue string

func (s *stringValue) String() string     { return string(*s) }
func (s *stringValue) Set(v string) error { *s = stringValue(v); return nil }

type intValue int

func (i *intValue) String() string { return strconv.Itoa(int(*i)) }

func (i *intValue) Set(v string) error {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return err
	}
	*i = intValue(n)
	return nil
}

type boolValue bool

func (b *boolValue) String() string   { return strconv.FormatBool(bool(*b)) }
func (b *boolValue) IsBoolFlag() bool { return true }

func (b *boolValue) Set(v string) error {
	x, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return err
	}
	*b = boolValue(x)
	return nil
}

// durationValue accepts day and week units on top of time.ParseDuration.
type durationValue time.Duration

func (d *durationValue) String() string { return time.Duration(*d).String() }

func (d *durationValue) Set(v string) error {
	x, err := str2duration.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return err
	}
	*d = durationValue(x)
	return nil
}

type listValue []string

func (l *listValue) String() string { return strings.Join(*l, ",") }

func (l *listValue) Set(v string) error {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*l = out
	return nil
}
