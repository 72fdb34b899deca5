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

package credstore

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ring, err := keyring.Open(keyring.Config{
		ServiceName:     ServiceName,
		AllowedBackends: []keyring.BackendType{keyring.FileBackend},
		FileDir:         t.TempDir(),
		FilePasswordFunc: func(string) (string, error) {
			return "test-passphrase", nil
		},
	})
	require.NoError(t, err)
	return NewWithKeyring(ring)
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Store("sess-1", KindPassword, "hunter2"))

	got, err := s.Retrieve("sess-1", KindPassword)
	require.NoError(t, err)
	require.Equal(t, "hunter2", got)
}

func TestRetrieveMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Retrieve("no-such-session", KindPassphrase)
	require.Error(t, err)
	require.True(t, trace.IsNotFound(err))
}

func TestExists(t *testing.T) {
	s := newTestStore(t)
	require.False(t, s.Exists("sess-2", KindPassword))
	require.NoError(t, s.Store("sess-2", KindPassword, "secret"))
	require.True(t, s.Exists("sess-2", KindPassword))
}

func TestDeleteAllRemovesBothKinds(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Store("sess-3", KindPassword, "p"))
	require.NoError(t, s.Store("sess-3", KindPassphrase, "k"))

	s.DeleteAll("sess-3")

	require.False(t, s.Exists("sess-3", KindPassword))
	require.False(t, s.Exists("sess-3", KindPassphrase))
}

func TestDeleteAllIgnoresMissingEntries(t *testing.T) {
	s := newTestStore(t)
	s.DeleteAll("never-existed")
}
