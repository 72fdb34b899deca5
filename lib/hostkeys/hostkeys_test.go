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

package hostkeys

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrustOnFirstUseThenVerified(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	s := NewAt(path)

	status := s.Verify("example.com", "ssh-ed25519", "AAAA1")
	require.Equal(t, TrustOnFirstUse, status)

	status = s.Verify("example.com", "ssh-ed25519", "AAAA1")
	require.Equal(t, Verified, status)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "example.com ssh-ed25519 AAAA1\n", string(contents))
}

func TestMismatchDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	s := NewAt(path)

	s.Verify("example.com", "ssh-ed25519", "AAAA1")
	status := s.Verify("example.com", "ssh-ed25519", "AAAA-DIFFERENT")
	require.Equal(t, Mismatch, status)
}

func TestWildcardHostMatch(t *testing.T) {
	require.True(t, hostMatches("*.example.com", "a.example.com"))
	require.False(t, hostMatches("*.example.com", "example.com"))
}

func TestHashedEntriesAreSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(path, []byte("|1|abc123|xyz= ssh-ed25519 AAAA1\n"), 0o600))
	s := NewAt(path)

	// The hashed entry cannot be matched, so this host is treated as unknown
	// and gets a fresh TOFU entry appended.
	status := s.Verify("example.com", "ssh-ed25519", "AAAA1")
	require.Equal(t, TrustOnFirstUse, status)
}

func TestBracketedHostPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(path, []byte("[example.com]:2222 ssh-ed25519 AAAA1\n"), 0o600))
	s := NewAt(path)

	require.Equal(t, Verified, s.Verify("example.com", "ssh-ed25519", "AAAA1"))
}
