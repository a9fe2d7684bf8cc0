// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package config

import (
	"fmt"
	"sync"

	"github.com/knadh/koanf/providers/file"

	"github.com/kestrelsec/kestrel/internal/logging"
)

// Subscriber receives the previous and the freshly validated configuration
// after a successful reload. Callbacks run on the watcher goroutine and
// must not block.
type Subscriber func(old, updated *Config)

// Manager holds the live configuration and supports hot reload from the
// config file. Reads are lock-free for callers that keep their own copy;
// Current returns the latest snapshot.
type Manager struct {
	path string

	mu   sync.RWMutex
	cfg  *Config
	subs []Subscriber
}

// NewManager loads the initial configuration and remembers the file path
// (empty when no file was found; reload then reapplies defaults and env).
func NewManager() (*Manager, error) {
	path := findConfigFile()
	cfg, err := loadFrom(path)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, cfg: cfg}, nil
}

// Current returns the latest configuration snapshot. The returned struct
// must be treated as read-only.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Subscribe registers a callback for future reloads.
func (m *Manager) Subscribe(fn Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Reload re-reads all configuration layers. On validation failure the
// previous configuration stays active and the error is returned.
func (m *Manager) Reload() error {
	cfg, err := loadFrom(m.path)
	if err != nil {
		return fmt.Errorf("config reload rejected: %w", err)
	}

	m.mu.Lock()
	old := m.cfg
	m.cfg = cfg
	subs := make([]Subscriber, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(old, cfg)
	}
	return nil
}

// Watch starts watching the config file for changes and reloads on each
// change event. It is a no-op when no config file was found at startup.
func (m *Manager) Watch() error {
	if m.path == "" {
		return nil
	}

	provider := file.Provider(m.path)
	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			logging.Error().Err(err).Str("path", m.path).Msg("Config watch error")
			return
		}
		if rerr := m.Reload(); rerr != nil {
			logging.Error().Err(rerr).Str("path", m.path).Msg("Config reload failed, keeping previous configuration")
			return
		}
		logging.Info().Str("path", m.path).Msg("Configuration reloaded")
	})
}
