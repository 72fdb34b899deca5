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
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/require"

	"github.com/vyrti/redpill/lib/credstore"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	ring, err := keyring.Open(keyring.Config{
		ServiceName:     credstore.ServiceName,
		AllowedBackends: []keyring.BackendType{keyring.FileBackend},
		FileDir:         t.TempDir(),
		FilePasswordFunc: func(string) (string, error) {
			return "test-passphrase", nil
		},
	})
	require.NoError(t, err)
	storage := NewStorageAt(t.TempDir())
	m, err := NewManagerWith(storage, credstore.NewWithKeyring(ring))
	require.NoError(t, err)
	return m
}

func TestSessionCRUD(t *testing.T) {
	m := newTestManager(t)

	id, err := m.AddLocalSession(&LocalSession{NameValue: "local shell"})
	require.NoError(t, err)

	s := m.GetSession(id)
	require.NotNil(t, s)
	require.Equal(t, "local shell", s.Name())

	require.True(t, m.DeleteSession(id))
	require.Nil(t, m.GetSession(id))
	require.False(t, m.DeleteSession(id))
}

func TestGroupHierarchyInvariants(t *testing.T) {
	m := newTestManager(t)

	rootID, err := m.AddGroup(NewGroup("root"))
	require.NoError(t, err)
	childID, err := m.AddGroup(NewNestedGroup("child", rootID))
	require.NoError(t, err)

	// Cycle prevention: cannot move root under its own descendant.
	err = m.MoveGroup(rootID, childID)
	require.Error(t, err)

	// Non-empty group delete refusal.
	err = m.DeleteGroup(rootID)
	require.Error(t, err)

	// Recursive delete succeeds and removes both levels.
	require.NoError(t, m.DeleteGroupRecursive(rootID))
	require.Nil(t, m.GetGroup(rootID))
	require.Nil(t, m.GetGroup(childID))
}

func TestDeleteGroupRecursivePurgesSessions(t *testing.T) {
	m := newTestManager(t)

	gid, err := m.AddGroup(NewGroup("g"))
	require.NoError(t, err)
	sid, err := m.AddSSHSession(&SSHSession{NameValue: "box", Host: "h", GroupIDValue: gid})
	require.NoError(t, err)

	require.NoError(t, m.DeleteGroupRecursive(gid))
	require.Nil(t, m.GetSession(sid))
}

func TestMassConnectEnumeratesNestedGroups(t *testing.T) {
	m := newTestManager(t)

	parent, err := m.AddGroup(NewGroup("parent"))
	require.NoError(t, err)
	child, err := m.AddGroup(NewNestedGroup("child", parent))
	require.NoError(t, err)

	id1, err := m.AddLocalSession(&LocalSession{NameValue: "a", GroupIDValue: parent})
	require.NoError(t, err)
	id2, err := m.AddLocalSession(&LocalSession{NameValue: "b", GroupIDValue: child})
	require.NoError(t, err)

	ids := m.GetAllSessionsInGroupRecursive(parent)
	require.ElementsMatch(t, []string{id1, id2}, ids)
}

func TestSecretCustodyOnSave(t *testing.T) {
	m := newTestManager(t)

	id, err := m.AddSSHSession(&SSHSession{
		NameValue: "prod",
		Host:      "prod.example.com",
		Auth: AuthMethod{
			Kind:        AuthPassword,
			Secret:      "s3cr3t",
			UseKeychain: true,
		},
	})
	require.NoError(t, err)

	require.NoError(t, m.Save())

	// In-memory secret is repopulated by the post-save reload...
	s := m.GetSession(id).(*SSHSession)
	require.Equal(t, "s3cr3t", s.Auth.Secret)

	// ...but the on-disk bytes never contain it.
	raw, err := m.storage.Load()
	require.NoError(t, err)
	loaded := raw.FindSession(id).(*SSHSession)
	require.Empty(t, loaded.Auth.Secret)
	require.True(t, loaded.Auth.HasSecret)
}

func TestSaveLoadRoundTripPreservesOrder(t *testing.T) {
	m := newTestManager(t)

	_, err := m.AddLocalSession(&LocalSession{NameValue: "one"})
	require.NoError(t, err)
	_, err = m.AddLocalSession(&LocalSession{NameValue: "two"})
	require.NoError(t, err)
	_, err = m.AddLocalSession(&LocalSession{NameValue: "three"})
	require.NoError(t, err)
	require.NoError(t, m.Save())

	require.NoError(t, m.Reload())

	sessions := m.AllSessions()
	require.Len(t, sessions, 3)
	require.Equal(t, "one", sessions[0].Name())
	require.Equal(t, "two", sessions[1].Name())
	require.Equal(t, "three", sessions[2].Name())
}

func TestAddSSMSessionValidatesInstanceID(t *testing.T) {
	m := newTestManager(t)

	_, err := m.AddSSMSession(&SSMSession{NameValue: "bad", InstanceID: "not-an-instance"})
	require.Error(t, err)

	_, err = m.AddSSMSession(&SSMSession{NameValue: "good", InstanceID: "i-0123456789abcdef0"})
	require.NoError(t, err)
}

func TestMoveSessionToGroupValidatesGroupExists(t *testing.T) {
	m := newTestManager(t)
	id, err := m.AddLocalSession(&LocalSession{NameValue: "x"})
	require.NoError(t, err)

	require.Error(t, m.MoveSessionToGroup(id, "no-such-group"))
}

func TestUpdateSSHSessionEditsInPlace(t *testing.T) {
	m := newTestManager(t)
	id, err := m.AddSSHSession(&SSHSession{NameValue: "box", Host: "old-host", Port: 22})
	require.NoError(t, err)

	err = m.UpdateSSHSession(&SSHSession{IDValue: id, NameValue: "box renamed", Host: "new-host", Port: 2222})
	require.NoError(t, err)

	s := m.GetSession(id).(*SSHSession)
	require.Equal(t, "box renamed", s.Name())
	require.Equal(t, "new-host", s.Host)
	require.Equal(t, 2222, s.Port)
}

func TestUpdateSessionRejectsUnknownID(t *testing.T) {
	m := newTestManager(t)
	err := m.UpdateLocalSession(&LocalSession{IDValue: "no-such-session", NameValue: "x"})
	require.Error(t, err)
}

func TestUpdateSessionRejectsKindChange(t *testing.T) {
	m := newTestManager(t)
	id, err := m.AddLocalSession(&LocalSession{NameValue: "x"})
	require.NoError(t, err)

	err = m.UpdateSSHSession(&SSHSession{IDValue: id, NameValue: "x", Host: "h"})
	require.Error(t, err)
}

func TestUpdateSSMSessionValidatesInstanceID(t *testing.T) {
	m := newTestManager(t)
	id, err := m.AddSSMSession(&SSMSession{NameValue: "inst", InstanceID: "i-0123456789abcdef0"})
	require.NoError(t, err)

	err = m.UpdateSSMSession(&SSMSession{IDValue: id, NameValue: "inst", InstanceID: "not-an-instance"})
	require.Error(t, err)

	err = m.UpdateSSMSession(&SSMSession{IDValue: id, NameValue: "inst renamed", InstanceID: "i-0123456789abcdef0"})
	require.NoError(t, err)
	require.Equal(t, "inst renamed", m.GetSession(id).Name())
}

func TestUpdateK8sSessionEditsInPlace(t *testing.T) {
	m := newTestManager(t)
	id, err := m.AddK8sSession(&K8sSession{NameValue: "pod", Context: "ctx", Namespace: "ns", Pod: "p"})
	require.NoError(t, err)

	err = m.UpdateK8sSession(&K8sSession{IDValue: id, NameValue: "pod", Context: "ctx", Namespace: "ns2", Pod: "p2"})
	require.NoError(t, err)

	s := m.GetSession(id).(*K8sSession)
	require.Equal(t, "ns2", s.Namespace)
	require.Equal(t, "p2", s.Pod)
}

func TestUpdateGroupRenamesReparentsAndRecolors(t *testing.T) {
	m := newTestManager(t)
	parentA, err := m.AddGroup(NewGroup("a"))
	require.NoError(t, err)
	parentB, err := m.AddGroup(NewGroup("b"))
	require.NoError(t, err)
	childID, err := m.AddGroup(NewNestedGroup("child", parentA))
	require.NoError(t, err)

	err = m.UpdateGroup(&Group{IDValue: childID, Name: "child renamed", ParentID: parentB, Color: "blue"})
	require.NoError(t, err)

	g := m.GetGroup(childID)
	require.Equal(t, "child renamed", g.Name)
	require.Equal(t, parentB, g.ParentID)
	require.Equal(t, "blue", g.Color)
}

func TestUpdateGroupRejectsCycle(t *testing.T) {
	m := newTestManager(t)
	rootID, err := m.AddGroup(NewGroup("root"))
	require.NoError(t, err)
	childID, err := m.AddGroup(NewNestedGroup("child", rootID))
	require.NoError(t, err)

	err = m.UpdateGroup(&Group{IDValue: rootID, Name: "root", ParentID: childID})
	require.Error(t, err)
}

func TestTopLevelGroups(t *testing.T) {
	m := newTestManager(t)
	rootID, err := m.AddGroup(NewGroup("root"))
	require.NoError(t, err)
	_, err = m.AddGroup(NewNestedGroup("child", rootID))
	require.NoError(t, err)

	top := m.TopLevelGroups()
	require.Len(t, top, 1)
	require.Equal(t, rootID, top[0].IDValue)
}
