// Package config loads runtime configuration for a reactor-based server or
// client from a flat "key = value" file, in the style of golaborate's
// koanf-backed config loaders (cmd/andorhttp2/main.go), adapted from YAML
// to the line-oriented format the original's config.cpp parses.
package config

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/vczn/asuka/internal/obs"
	"github.com/vczn/asuka/reactor"
)

// Config holds the handful of settings a reactor server/client needs at
// startup, matching the key set config.cpp recognizes.
type Config struct {
	Port     uint16
	Threads  int
	UseEpoll bool
	LogFile  string
}

const (
	keyPort    = "port"
	keyThreads = "threads"
	keyUse     = "use"
	keyLogFile = "logfile"
)

// kvParser implements koanf.Parser for the "key = value" format: one
// assignment per line, blank lines ignored, '#' starts a line comment.
// Unknown keys are rejected by Load, not by the parser itself, so the
// parser stays reusable for any flat key set.
type kvParser struct{}

func (kvParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	lines := strings.Split(string(b), "\n")
	for lineNo, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			return nil, fmt.Errorf("config: line %d: missing '=': %q", lineNo+1, raw)
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			return nil, fmt.Errorf("config: line %d: empty key", lineNo+1)
		}
		out[key] = val
	}
	return out, nil
}

func (kvParser) Marshal(m map[string]interface{}) ([]byte, error) {
	var b bytes.Buffer
	for k, v := range m {
		fmt.Fprintf(&b, "%s = %v\n", k, v)
	}
	return b.Bytes(), nil
}

// Load reads and validates path, rejecting any key outside the recognized
// set, matching config.cpp's strict parse.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), kvParser{}); err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}

	recognized := map[string]bool{keyPort: true, keyThreads: true, keyUse: true, keyLogFile: true}
	for _, key := range k.Keys() {
		if !recognized[key] {
			return nil, fmt.Errorf("config: %s: unrecognized key %q", path, key)
		}
	}

	cfg := &Config{Threads: 1}
	if k.Exists(keyPort) {
		port, err := strconv.ParseUint(k.String(keyPort), 10, 16)
		if err != nil {
			return nil, fmt.Errorf("config: %s: bad port %q: %w", path, k.String(keyPort), err)
		}
		cfg.Port = uint16(port)
	}
	if k.Exists(keyThreads) {
		n, err := strconv.Atoi(k.String(keyThreads))
		if err != nil {
			return nil, fmt.Errorf("config: %s: bad threads %q: %w", path, k.String(keyThreads), err)
		}
		cfg.Threads = n
	}
	if k.Exists(keyUse) {
		switch strings.ToLower(k.String(keyUse)) {
		case "epoll":
			cfg.UseEpoll = true
		case "poll":
			cfg.UseEpoll = false
		default:
			return nil, fmt.Errorf("config: %s: %q must be \"epoll\" or \"poll\"", path, keyUse)
		}
	}
	cfg.LogFile = k.String(keyLogFile)

	return cfg, nil
}

// WatchReload watches path for changes with fsnotify and invokes onReload
// with the freshly parsed Config on every write, marshaled onto loop via
// RunInLoop so reload handling never races the reactor it configures.
// The returned stop func closes the underlying watcher.
func WatchReload(path string, loop *reactor.EventLoop, onReload func(*Config)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watching %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					obs.Warnf("config: reload of %s failed: %v", path, err)
					continue
				}
				loop.RunInLoop(func() { onReload(cfg) })
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				obs.Warnf("config: watcher error: %v", werr)
			}
		}
	}()

	return watcher.Close, nil
}
