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

package sshbackend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vyrti/redpill/lib/session"
	"github.com/vyrti/redpill/lib/transport"
)

func TestNewBackendStartsDisconnected(t *testing.T) {
	b := New(session.SSHSession{IDValue: "s1", Host: "example.com", Username: "root"})
	require.Equal(t, transport.StateDisconnected, b.State())
	require.False(t, b.IsAlive())
	require.Equal(t, "root@example.com:22", b.Description())
}

func TestAuthMethodsRejectsEmptyPassword(t *testing.T) {
	b := New(session.SSHSession{
		Username: "root",
		Auth:     session.AuthMethod{Kind: session.AuthPassword},
	})
	_, err := b.authMethods()
	require.Error(t, err)
}

func TestAuthMethodsAgentRequiresSock(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	b := New(session.SSHSession{
		Username: "root",
		Auth:     session.AuthMethod{Kind: session.AuthAgent},
	})
	_, err := b.authMethods()
	require.Error(t, err)
}
