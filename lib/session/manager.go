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
	"regexp"
	"sync"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/vyrti/redpill/lib/credstore"
)

// ssmInstanceIDPattern matches AWS EC2 instance ids and SSM-managed (hybrid)
// instance ids, e.g. "i-0123456789abcdef0" or "mi-0123456789abcdef0".
var ssmInstanceIDPattern = regexp.MustCompile(`^(i|mi)-[0-9a-f]+$`)

// Manager owns the authoritative Data and enforces the hierarchy invariants:
// referential integrity of group_id/parent_id, acyclicity of group nesting,
// and non-empty-group delete refusal. It also drives the secret-custody
// write barrier on Save.
type Manager struct {
	mu      sync.Mutex
	data    *Data
	storage *Storage
	creds   *credstore.Store
	dirty   bool
}

// NewManager constructs a manager with the default on-disk storage and
// keychain-backed credential store, loading any existing session data.
func NewManager() (*Manager, error) {
	storage, err := NewStorage()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	creds, err := credstore.Open()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return NewManagerWith(storage, creds)
}

// NewManagerWith constructs a manager over explicit storage/credential
// backends, for tests and headless embedding.
func NewManagerWith(storage *Storage, creds *credstore.Store) (*Manager, error) {
	m := &Manager{storage: storage, creds: creds}
	if err := m.Reload(); err != nil {
		return nil, trace.Wrap(err)
	}
	return m, nil
}

// Reload discards in-memory changes and re-reads the aggregate from storage,
// rehydrating SSH secrets from the credential store.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := m.storage.Load()
	if err != nil {
		return trace.Wrap(err)
	}
	m.data = data
	m.hydrateSecretsLocked()
	m.dirty = false
	return nil
}

func (m *Manager) hydrateSecretsLocked() {
	for _, e := range m.data.Sessions {
		ssh := e.SSH
		if ssh == nil || !ssh.Auth.UseKeychain {
			continue
		}
		switch ssh.Auth.Kind {
		case AuthPassword:
			if secret, err := m.creds.Retrieve(ssh.IDValue, credstore.KindPassword); err == nil {
				ssh.Auth.Secret = secret
				ssh.Auth.HasSecret = true
			}
		case AuthPrivateKey:
			if secret, err := m.creds.Retrieve(ssh.IDValue, credstore.KindPassphrase); err == nil {
				ssh.Auth.Secret = secret
				ssh.Auth.HasSecret = true
			}
		}
	}
}

// IsDirty reports whether in-memory state has unsaved changes.
func (m *Manager) IsDirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

func (m *Manager) markDirty() { m.dirty = true }

// --- lookups ---

func (m *Manager) GetSession(id string) Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.FindSession(id)
}

func (m *Manager) GetGroup(id string) *Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.FindGroup(id)
}

func (m *Manager) SessionsInGroup(groupID string) []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SessionsInGroup(groupID)
}

func (m *Manager) UngroupedSessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UngroupedSessions()
}

func (m *Manager) ChildGroups(parentID string) []*Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ChildGroups(parentID)
}

// TopLevelGroups returns groups with no parent.
func (m *Manager) TopLevelGroups() []*Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ChildGroups("")
}

func (m *Manager) AllSessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.data.Sessions))
	for _, e := range m.data.Sessions {
		if s := e.Session(); s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m *Manager) AllGroups() []*Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Group, len(m.data.Groups))
	copy(out, m.data.Groups)
	return out
}

// --- session CRUD ---

func (m *Manager) addSession(s Session, groupID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if groupID != "" && m.data.FindGroup(groupID) == nil {
		return "", trace.NotFound("group %s does not exist", groupID)
	}
	m.data.Sessions = append(m.data.Sessions, wrapSession(s))
	m.markDirty()
	return s.ID(), nil
}

// AddSSHSession assigns an id and appends the session. If s.IDValue is empty
// one is generated.
func (m *Manager) AddSSHSession(s *SSHSession) (string, error) {
	if s.IDValue == "" {
		s.IDValue = uuid.NewString()
	}
	return m.addSession(s, s.GroupIDValue)
}

func (m *Manager) AddLocalSession(s *LocalSession) (string, error) {
	if s.IDValue == "" {
		s.IDValue = uuid.NewString()
	}
	return m.addSession(s, s.GroupIDValue)
}

func (m *Manager) AddSSMSession(s *SSMSession) (string, error) {
	if !ssmInstanceIDPattern.MatchString(s.InstanceID) {
		return "", trace.BadParameter("invalid SSM instance id %q", s.InstanceID)
	}
	if s.IDValue == "" {
		s.IDValue = uuid.NewString()
	}
	return m.addSession(s, s.GroupIDValue)
}

func (m *Manager) AddK8sSession(s *K8sSession) (string, error) {
	if s.IDValue == "" {
		s.IDValue = uuid.NewString()
	}
	return m.addSession(s, s.GroupIDValue)
}

// updateSession replaces the stored entry matching s.ID() with s, refusing a
// kind change (editing a session never morphs its transport) and validating
// the target group, if any, exists.
func (m *Manager) updateSession(s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.GroupID() != "" && m.data.FindGroup(s.GroupID()) == nil {
		return trace.NotFound("group %s does not exist", s.GroupID())
	}
	for i, e := range m.data.Sessions {
		existing := e.Session()
		if existing == nil || existing.ID() != s.ID() {
			continue
		}
		if e.SessionKind != s.Kind() {
			return trace.BadParameter("session %s is a %s session, not %s", s.ID(), e.SessionKind, s.Kind())
		}
		m.data.Sessions[i] = wrapSession(s)
		m.markDirty()
		return nil
	}
	return trace.NotFound("session %s does not exist", s.ID())
}

// UpdateSSHSession overwrites an existing SSH session's configuration in place.
func (m *Manager) UpdateSSHSession(s *SSHSession) error { return m.updateSession(s) }

// UpdateLocalSession overwrites an existing local session's configuration in place.
func (m *Manager) UpdateLocalSession(s *LocalSession) error { return m.updateSession(s) }

// UpdateSSMSession overwrites an existing SSM session's configuration in place.
func (m *Manager) UpdateSSMSession(s *SSMSession) error {
	if !ssmInstanceIDPattern.MatchString(s.InstanceID) {
		return trace.BadParameter("invalid SSM instance id %q", s.InstanceID)
	}
	return m.updateSession(s)
}

// UpdateK8sSession overwrites an existing Kubernetes session's configuration in place.
func (m *Manager) UpdateK8sSession(s *K8sSession) error { return m.updateSession(s) }

// DeleteSession removes a session by id and purges any keychain entries for
// it. Returns whether a session was actually removed.
func (m *Manager) DeleteSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, e := range m.data.Sessions {
		if s := e.Session(); s != nil && s.ID() == id {
			m.data.Sessions = append(m.data.Sessions[:i], m.data.Sessions[i+1:]...)
			m.creds.DeleteAll(id)
			m.markDirty()
			return true
		}
	}
	return false
}

// MoveSessionToGroup reassigns a session's group (pass "" to ungroup).
func (m *Manager) MoveSessionToGroup(sessionID, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if groupID != "" && m.data.FindGroup(groupID) == nil {
		return trace.NotFound("group %s does not exist", groupID)
	}
	s := m.data.FindSession(sessionID)
	if s == nil {
		return trace.NotFound("session %s does not exist", sessionID)
	}
	s.SetGroupID(groupID)
	m.markDirty()
	return nil
}

// --- group CRUD ---

// AddGroup appends a new top-level or nested group, validating the parent
// exists if set.
func (m *Manager) AddGroup(g *Group) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g.ParentID != "" && m.data.FindGroup(g.ParentID) == nil {
		return "", trace.NotFound("parent group %s does not exist", g.ParentID)
	}
	if g.IDValue == "" {
		g.IDValue = uuid.NewString()
	}
	m.data.Groups = append(m.data.Groups, g)
	m.markDirty()
	return g.IDValue, nil
}

// isDescendant reports whether candidate is ancestor or a descendant of
// ancestor, by walking parent_id chains. Used to reject cyclic MoveGroup.
func (d *Data) isDescendant(candidate, ancestor string) bool {
	cur := candidate
	for cur != "" {
		if cur == ancestor {
			return true
		}
		g := d.FindGroup(cur)
		if g == nil {
			return false
		}
		cur = g.ParentID
	}
	return false
}

// MoveGroup reparents a group, refusing moves that would create a cycle.
func (m *Manager) MoveGroup(groupID, newParentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.data.FindGroup(groupID)
	if g == nil {
		return trace.NotFound("group %s does not exist", groupID)
	}
	if newParentID == groupID {
		return trace.BadParameter("cannot move group %s into itself", groupID)
	}
	if newParentID != "" {
		if m.data.FindGroup(newParentID) == nil {
			return trace.NotFound("group %s does not exist", newParentID)
		}
		// Reject if newParentID is groupID or a descendant of groupID,
		// which would make groupID reachable from itself.
		if m.data.isDescendant(newParentID, groupID) {
			return trace.BadParameter("moving group %s under %s would create a cycle", groupID, newParentID)
		}
	}
	g.ParentID = newParentID
	m.markDirty()
	return nil
}

// UpdateGroup applies a rename/reparent/recolor to an existing group,
// rejecting a reparent that would create a cycle, matching MoveGroup's
// invariant.
func (m *Manager) UpdateGroup(g *Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.data.FindGroup(g.IDValue)
	if existing == nil {
		return trace.NotFound("group %s does not exist", g.IDValue)
	}
	if g.ParentID == g.IDValue {
		return trace.BadParameter("cannot move group %s into itself", g.IDValue)
	}
	if g.ParentID != "" {
		if m.data.FindGroup(g.ParentID) == nil {
			return trace.NotFound("group %s does not exist", g.ParentID)
		}
		if m.data.isDescendant(g.ParentID, g.IDValue) {
			return trace.BadParameter("moving group %s under %s would create a cycle", g.IDValue, g.ParentID)
		}
	}
	existing.Name = g.Name
	existing.ParentID = g.ParentID
	existing.Color = g.Color
	m.markDirty()
	return nil
}

// DeleteGroup removes an empty group. Fails if it has child groups or member
// sessions.
func (m *Manager) DeleteGroup(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.data.ChildGroups(id)) > 0 {
		return trace.BadParameter("group %s has child groups", id)
	}
	if len(m.data.SessionsInGroup(id)) > 0 {
		return trace.BadParameter("group %s has member sessions", id)
	}
	return m.removeGroupLocked(id)
}

func (m *Manager) removeGroupLocked(id string) error {
	for i, g := range m.data.Groups {
		if g.IDValue == id {
			m.data.Groups = append(m.data.Groups[:i], m.data.Groups[i+1:]...)
			m.markDirty()
			return nil
		}
	}
	return trace.NotFound("group %s does not exist", id)
}

// DeleteGroupRecursive deletes a group, all its descendant groups, and all
// sessions they contain, depth-first.
func (m *Manager) DeleteGroupRecursive(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data.FindGroup(id) == nil {
		return trace.NotFound("group %s does not exist", id)
	}
	m.deleteGroupRecursiveLocked(id)
	return nil
}

func (m *Manager) deleteGroupRecursiveLocked(id string) {
	for _, child := range m.data.ChildGroups(id) {
		m.deleteGroupRecursiveLocked(child.IDValue)
	}
	for _, s := range m.data.SessionsInGroup(id) {
		m.creds.DeleteAll(s.ID())
		m.removeSessionByIDLocked(s.ID())
	}
	_ = m.removeGroupLocked(id)
}

func (m *Manager) removeSessionByIDLocked(id string) {
	for i, e := range m.data.Sessions {
		if s := e.Session(); s != nil && s.ID() == id {
			m.data.Sessions = append(m.data.Sessions[:i], m.data.Sessions[i+1:]...)
			return
		}
	}
}

// GetAllSessionsInGroupRecursive returns every session id reachable under
// groupID, including sessions in nested groups, depth-first.
func (m *Manager) GetAllSessionsInGroupRecursive(groupID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	var walk func(gid string)
	walk = func(gid string) {
		for _, s := range m.data.SessionsInGroup(gid) {
			out = append(out, s.ID())
		}
		for _, child := range m.data.ChildGroups(gid) {
			walk(child.IDValue)
		}
	}
	walk(groupID)
	return out
}

// --- persistence ---

// Save drives the secret-custody write barrier: SSH secrets flagged for
// keychain persistence are written to the credential store and cleared from
// memory before the aggregate is serialized. If a keychain write fails, the
// secret is left in memory for the rest of the process and the save goes on.
// It is not written to sessions.json either (AuthMethod.Secret is never
// marshaled), so after a restart such a secret has to be entered again.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.data.Sessions {
		ssh := e.SSH
		if ssh == nil || !ssh.Auth.UseKeychain || ssh.Auth.Secret == "" {
			continue
		}
		kind := credstore.KindPassword
		if ssh.Auth.Kind == AuthPrivateKey {
			kind = credstore.KindPassphrase
		}
		if err := m.creds.Store(ssh.IDValue, kind, ssh.Auth.Secret); err == nil {
			ssh.Auth.Secret = ""
			ssh.Auth.HasSecret = true
		}
	}

	if err := m.storage.Save(m.data); err != nil {
		return trace.Wrap(err)
	}

	m.hydrateSecretsLocked()
	m.dirty = false
	return nil
}

// Backup snapshots the current on-disk session file.
func (m *Manager) Backup() (string, error) {
	return m.storage.Backup()
}
