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


// Data is the persisted aggregate of all sessions and groups.
type Data struct {
	Groups   []*Group    `json:"groups"`
	Sessions []RawEntry  `json:"sessions"`
}

// RawEntry is how a Session is represented on the wire: a kind tag plus the
// matching concrete payload. Exactly one of the typed fields is populated.
type RawEntry struct {
	SessionKind Kind          `json:"kind"`
	SSH         *SSHSession   `json:"ssh,omitempty"`
	Local       *LocalSession `json:"local,omitempty"`
	SSM         *SSMSession   `json:"ssm,omitempty"`
	K8s         *K8sSession   `json:"k8s,omitempty"`
}

// Session unwraps the tagged union into the Session interface.
func (e RawEntry) Session() Session {
	switch e.SessionKind {
	case KindSSH:
		return e.SSH
	case KindLocal:
		return e.Local
	case KindSSM:
		return e.SSM
	case KindK8s:
		return e.K8s
	default:
		return nil
	}
}

func wrapSession(s Session) RawEntry {
	e := RawEntry{SessionKind: s.Kind()}
	switch v := s.(type) {
	case *SSHSession:
		e.SSH = v
	case *LocalSession:
		e.Local = v
	case *SSMSession:
		e.SSM = v
	case *K8sSession:
		e.K8s = v
	}
	return e
}

// NewData returns an empty aggregate.
func NewData() *Data {
	return &Data{Groups: []*Group{}, Sessions: []RawEntry{}}
}

// FindSession returns the session with the given id, or nil.
func (d *Data) FindSession(id string) Session {
	for _, e := range d.Sessions {
		if s := e.Session(); s != nil && s.ID() == id {
			return s
		}
	}
	return nil
}

// FindGroup returns the group with the given id, or nil.
func (d *Data) FindGroup(id string) *Group {
	for _, g := range d.Groups {
		if g.IDValue == id {
			return g
		}
	}
	return nil
}

// SessionsInGroup returns sessions whose GroupID equals groupID.
func (d *Data) SessionsInGroup(groupID string) []Session {
	var out []Session
	for _, e := range d.Sessions {
		if s := e.Session(); s != nil && s.GroupID() == groupID {
			out = append(out, s)
		}
	}
	return out
}

// UngroupedSessions returns sessions with no group assignment.
func (d *Data) UngroupedSessions() []Session {
	var out []Session
	for _, e := range d.Sessions {
		if s := e.Session(); s != nil && s.GroupID() == "" {
			out = append(out, s)
		}
	}
	return out
}

// ChildGroups returns groups whose ParentID equals parentID (use "" for
// top-level groups).
func (d *Data) ChildGroups(parentID string) []*Group {
	var out []*Group
	for _, g := range d.Groups {
		if g.ParentID == parentID {
			out = append(out, g)
		}
	}
	return out
}
