// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Layered configuration loading (defaults < YAML file < environment < overrides)
// with reload listeners.

package control

import (
	"fmt"
	"strings"
	"sync"

	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix prefixes environment overrides. A double underscore separates
// nesting levels: HTTPD_SERVER__MAX_SESSIONS sets server.max_sessions.
const DefaultEnvPrefix = "HTTPD_"

// Loader reads configuration into koanf-tagged structs.
type Loader struct {
	mu        sync.RWMutex
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	defaults  map[string]any
	overrides map[string]any
	listeners []func(*Loader)
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) { l.envPrefix = prefix }
}

// WithConfigFile sets the YAML file path. An empty path skips the file layer.
func WithConfigFile(path string) LoaderOption {
	return func(l *Loader) { l.filePath = path }
}

// WithDefaults sets the lowest layer. Keys may be dotted paths.
func WithDefaults(m map[string]any) LoaderOption {
	return func(l *Loader) { l.defaults = m }
}

// WithOverrides sets values applied above every other layer (command-line flags).
// Keys may be dotted paths.
func WithOverrides(m map[string]any) LoaderOption {
	return func(l *Loader) { l.overrides = m }
}

// NewLoader creates a loader; nothing is read until Load.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// FilePath returns the configured file, if any.
func (l *Loader) FilePath() string { return l.filePath }

// Load reads every layer and unmarshals into target. Fields of target that no layer
// sets keep their current values, so callers pass a struct holding the defaults.
func (l *Loader) Load(target any) error {
	k, err := l.read()
	if err != nil {
		return err
	}
	if err := k.Unmarshal("", target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	l.mu.Lock()
	l.k = k
	l.mu.Unlock()
	return nil
}

// Reload re-reads every layer and notifies listeners. The previous values stay
// in effect if reading fails.
func (l *Loader) Reload() error {
	k, err := l.read()
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.k = k
	listeners := append([]func(*Loader){}, l.listeners...)
	l.mu.Unlock()
	for _, fn := range listeners {
		fn(l)
	}
	return nil
}

// OnReload registers a listener run synchronously after each successful Reload.
func (l *Loader) OnReload(fn func(*Loader)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Unmarshal decodes the value at path (empty for the root) into target.
func (l *Loader) Unmarshal(path string, target any) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.k.Unmarshal(path, target)
}

// String returns a string value.
func (l *Loader) String(key string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.k.String(key)
}

// Raw returns the merged configuration as a nested map.
func (l *Loader) Raw() map[string]any {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.k.Raw()
}

// All returns the merged configuration as a flat map.
func (l *Loader) All() map[string]any {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.k.All()
}

func (l *Loader) read() (*koanf.Koanf, error) {
	k := koanf.New(".")
	if len(l.defaults) > 0 {
		if err := k.Load(mapProvider(maps.Unflatten(l.defaults, ".")), nil); err != nil {
			return nil, fmt.Errorf("load defaults: %w", err)
		}
	}
	if l.filePath != "" {
		if err := k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", l.filePath, err)
		}
	}
	prefix := l.envPrefix
	transform := func(s string) string {
		s = strings.TrimPrefix(s, prefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}
	if err := k.Load(env.Provider(prefix, ".", transform), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	if len(l.overrides) > 0 {
		if err := k.Load(mapProvider(maps.Unflatten(l.overrides, ".")), nil); err != nil {
			return nil, fmt.Errorf("load overrides: %w", err)
		}
	}
	return k, nil
}

// mapProvider feeds an in-memory map to koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("map provider has no byte form")
}

func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}
