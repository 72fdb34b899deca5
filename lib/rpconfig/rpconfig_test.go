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

package rpconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	store := NewAt(t.TempDir())
	cfg, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := NewAt(t.TempDir())
	cfg := Default()
	cfg.DefaultShell = "/bin/zsh"
	cfg.ScrollbackLines = 5000

	require.NoError(t, store.Save(cfg))
	loaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestLoadAppliesDefaultsForMissingFields(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte(`{"default_shell":"/bin/bash"}`), 0o600))

	store := NewAt(dir)
	cfg, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "/bin/bash", cfg.DefaultShell)
	require.Equal(t, Default().ScrollbackLines, cfg.ScrollbackLines)
	require.Equal(t, Default().FontFamily, cfg.FontFamily)
}
