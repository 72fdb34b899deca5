/*
Copyright 2022 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package rpconfig holds forward-compatible application preferences stored
// alongside sessions.json under the same config root. Every field defaults
// when absent so older config files keep loading after a new field is added.
package rpconfig

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/gravitational/trace"
)

const fileName = "config.json"

// Config is the full set of user-tunable preferences.
type Config struct {
	DefaultShell    string `json:"default_shell,omitempty"`
	ScrollbackLines int    `json:"scrollback_lines,omitempty"`
	FontFamily      string `json:"font_family,omitempty"`
	FontSize        int    `json:"font_size,omitempty"`
	ColorScheme     string `json:"color_scheme,omitempty"`
	CursorStyle     string `json:"cursor_style,omitempty"`
	BellEnabled     bool   `json:"bell_enabled"`
}

// Default returns the preferences used when no config file exists yet, or
// when a field is absent from one that does.
func Default() Config {
	return Config{
		DefaultShell:    "",
		ScrollbackLines: 10000,
		FontFamily:      "monospace",
		FontSize:        13,
		ColorScheme:     "default",
		CursorStyle:     "block",
		BellEnabled:     true,
	}
}

// applyDefaults fills zero-valued fields with Default()'s values, so a config
// file written before a field existed still loads with a sane value for it.
func applyDefaults(c *Config) {
	def := Default()
	if c.ScrollbackLines == 0 {
		c.ScrollbackLines = def.ScrollbackLines
	}
	if c.FontFamily == "" {
		c.FontFamily = def.FontFamily
	}
	if c.FontSize == 0 {
		c.FontSize = def.FontSize
	}
	if c.ColorScheme == "" {
		c.ColorScheme = def.ColorScheme
	}
	if c.CursorStyle == "" {
		c.CursorStyle = def.CursorStyle
	}
}

// Store loads and saves Config at a fixed path under a config directory.
type Store struct {
	path string
}

// New builds a Store rooted at the default redpill config directory.
func New() (*Store, error) {
	home, err := os.UserConfigDir()
	if err != nil {
		return nil, trace.Wrap(err, "resolving config directory")
	}
	return NewAt(filepath.Join(home, "redpill")), nil
}

// NewAt builds a Store rooted at an explicit directory, primarily for tests.
func NewAt(dir string) *Store {
	return &Store{path: filepath.Join(dir, fileName)}
}

// Load reads the config file, applying defaults for missing fields. A missing
// file returns Default() rather than an error.
func (s *Store) Load() (Config, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, trace.Wrap(err, "reading config %s", s.path)
	}

	c := Default()
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, trace.Wrap(err, "parsing config %s", s.path)
	}
	applyDefaults(&c)
	return c, nil
}

// Save writes the config as pretty-printed JSON, creating the config
// directory if necessary.
func (s *Store) Save(c Config) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return trace.Wrap(err, "creating config directory")
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return trace.Wrap(err, "marshaling config")
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return trace.Wrap(err, "writing config %s", s.path)
	}
	return nil
}
