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

package session

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStorageLoadNonexistentFileReturnsEmpty(t *testing.T) {
	s := NewStorageAt(t.TempDir())
	d, err := s.Load()
	require.NoError(t, err)
	require.Empty(t, d.Groups)
	require.Empty(t, d.Sessions)
}

func TestStorageRoundTrip(t *testing.T) {
	s := NewStorageAt(t.TempDir())

	d := NewData()
	d.Groups = append(d.Groups, NewGroup("infra"))
	d.Sessions = append(d.Sessions, wrapSession(&LocalSession{IDValue: "a", NameValue: "shell"}))

	require.NoError(t, s.Save(d))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Groups, 1)
	require.Equal(t, "infra", loaded.Groups[0].Name)
	require.Len(t, loaded.Sessions, 1)
	require.Equal(t, "shell", loaded.Sessions[0].Session().Name())
}

func TestStorageBackup(t *testing.T) {
	dir := t.TempDir()
	s := NewStorageAt(dir)

	// No file yet: backup is a no-op.
	path, err := s.Backup()
	require.NoError(t, err)
	require.Empty(t, path)

	require.NoError(t, s.Save(NewData()))
	path, err = s.Backup()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "sessions.json.backup"), path)
}
