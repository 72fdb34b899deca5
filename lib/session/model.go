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

// Package session models sessions (SSH/Local/SSM/K8s) and session groups, and
// persists them to disk with secrets kept out of serialized bytes.
package session

import (
	"strconv"

	"github.com/google/uuid"
)

// Kind discriminates the four Session variants on serialization.
type Kind string

const (
	KindSSH   Kind = "ssh"
	KindLocal Kind = "local"
	KindSSM   Kind = "ssm"
	KindK8s   Kind = "k8s"
)

// AuthMethodKind discriminates SSH authentication strategies.
type AuthMethodKind string

const (
	AuthPassword   AuthMethodKind = "password"
	AuthPrivateKey AuthMethodKind = "private_key"
	AuthAgent      AuthMethodKind = "agent"
)

// AuthMethod is the SSH session's authentication configuration. Secret is held
// in memory only; it must never reach a serialized SessionData when
// UseKeychain is true (see Manager.Save).
type AuthMethod struct {
	Kind          AuthMethodKind `json:"kind"`
	Path          string         `json:"path,omitempty"`   // PrivateKey only
	Secret        string         `json:"-"`                // password or passphrase, never marshaled
	HasSecret     bool           `json:"has_secret,omitempty"`
	UseKeychain   bool           `json:"use_keychain,omitempty"`
}

// DefaultAuthMethod matches the original source's default of Agent auth.
func DefaultAuthMethod() AuthMethod {
	return AuthMethod{Kind: AuthAgent}
}

// Session is implemented by the four concrete session kinds.
type Session interface {
	ID() string
	Kind() Kind
	Name() string
	GroupID() string
	SetGroupID(id string)
}

// SSHSession is a remote SSH target.
type SSHSession struct {
	IDValue      string     `json:"id"`
	NameValue    string     `json:"name"`
	Host         string     `json:"host"`
	Port         int        `json:"port"`
	Username     string     `json:"username"`
	Auth         AuthMethod `json:"auth"`
	GroupIDValue string     `json:"group_id,omitempty"`
	ColorScheme  string     `json:"color_scheme,omitempty"`
}

func (s *SSHSession) ID() string            { return s.IDValue }
func (s *SSHSession) Kind() Kind             { return KindSSH }
func (s *SSHSession) Name() string          { return s.NameValue }
func (s *SSHSession) GroupID() string       { return s.GroupIDValue }
func (s *SSHSession) SetGroupID(id string)  { s.GroupIDValue = id }

// Address returns host:port suitable for net.Dial.
func (s *SSHSession) Address() string {
	port := s.Port
	if port == 0 {
		port = 22
	}
	return joinHostPort(s.Host, port)
}

// LocalSession spawns a local shell over a real PTY.
type LocalSession struct {
	IDValue      string            `json:"id"`
	NameValue    string            `json:"name"`
	Shell        string            `json:"shell,omitempty"`
	WorkingDir   string            `json:"working_dir,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	GroupIDValue string            `json:"group_id,omitempty"`
}

func (s *LocalSession) ID() string           { return s.IDValue }
func (s *LocalSession) Kind() Kind            { return KindLocal }
func (s *LocalSession) Name() string         { return s.NameValue }
func (s *LocalSession) GroupID() string      { return s.GroupIDValue }
func (s *LocalSession) SetGroupID(id string) { s.GroupIDValue = id }

// SSMSession targets an AWS EC2 instance via SSM Session Manager.
type SSMSession struct {
	IDValue      string `json:"id"`
	NameValue    string `json:"name"`
	InstanceID   string `json:"instance_id"`
	Region       string `json:"region,omitempty"`
	Profile      string `json:"profile,omitempty"`
	GroupIDValue string `json:"group_id,omitempty"`
	ColorScheme  string `json:"color_scheme,omitempty"`
}

func (s *SSMSession) ID() string           { return s.IDValue }
func (s *SSMSession) Kind() Kind            { return KindSSM }
func (s *SSMSession) Name() string         { return s.NameValue }
func (s *SSMSession) GroupID() string      { return s.GroupIDValue }
func (s *SSMSession) SetGroupID(id string) { s.GroupIDValue = id }

// K8sSession targets a single pod/container via kube exec. This variant has no
// counterpart in the original Rust session model; it is added fresh following
// the shape of the other three.
type K8sSession struct {
	IDValue      string `json:"id"`
	NameValue    string `json:"name"`
	Context      string `json:"context"`
	Namespace    string `json:"namespace"`
	Pod          string `json:"pod"`
	Container    string `json:"container,omitempty"`
	GroupIDValue string `json:"group_id,omitempty"`
}

func (s *K8sSession) ID() string           { return s.IDValue }
func (s *K8sSession) Kind() Kind            { return KindK8s }
func (s *K8sSession) Name() string         { return s.NameValue }
func (s *K8sSession) GroupID() string      { return s.GroupIDValue }
func (s *K8sSession) SetGroupID(id string) { s.GroupIDValue = id }

// Group is a (possibly nested) folder for organizing sessions.
type Group struct {
	IDValue      string `json:"id"`
	Name         string `json:"name"`
	ParentID     string `json:"parent_id,omitempty"`
	Color        string `json:"color,omitempty"`
}

func (g *Group) ID() string { return g.IDValue }

// NewGroup creates a top-level group.
func NewGroup(name string) *Group {
	return &Group{IDValue: uuid.NewString(), Name: name}
}

// NewNestedGroup creates a group nested under parentID.
func NewNestedGroup(name, parentID string) *Group {
	return &Group{IDValue: uuid.NewString(), Name: name, ParentID: parentID}
}

func joinHostPort(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}
