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

package k8sbackend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vyrti/redpill/lib/session"
	"github.com/vyrti/redpill/lib/transport"
)

func TestNewBackendStartsDisconnected(t *testing.T) {
	b := New(session.K8sSession{Context: "minikube", Namespace: "default", Pod: "web-0"})
	require.Equal(t, transport.StateDisconnected, b.State())
	require.Equal(t, "k8s:minikube/default/web-0[<default>]", b.Description())
}

func TestDefaultShellCommandMatchesOriginal(t *testing.T) {
	require.Equal(t, []string{"/bin/sh", "-c", "command -v bash >/dev/null && exec bash || exec sh"}, defaultShellCommand)
}

func TestSizeQueuePushNonBlocking(t *testing.T) {
	q := newSizeQueue()
	q.push(80, 24)
	size := q.Next()
	require.NotNil(t, size)
	require.EqualValues(t, 80, size.Width)
	require.EqualValues(t, 24, size.Height)
}
