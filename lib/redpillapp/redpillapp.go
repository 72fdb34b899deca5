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

// Package redpillapp is the orchestrator tying the session manager, the
// configured backends, and the tab bridge together into the operations a
// UI or CLI front-end drives.
package redpillapp

import (
	"context"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/vyrti/redpill/lib/k8sbackend"
	"github.com/vyrti/redpill/lib/localpty"
	"github.com/vyrti/redpill/lib/session"
	"github.com/vyrti/redpill/lib/sshbackend"
	"github.com/vyrti/redpill/lib/ssmbackend"
	"github.com/vyrti/redpill/lib/tabbridge"
	"github.com/vyrti/redpill/lib/termcore"
)

const defaultCols, defaultRows = 80, 24

var log = logrus.WithField("component", "app")

// Result is one outcome of a MassConnect fan-out.
type Result struct {
	SessionID string
	TabID     string
	Err       error
}

// App owns the session manager, the live tab set, and the active tab index.
type App struct {
	manager    *session.Manager
	tabs       []*tabbridge.Tab
	tabSession map[string]string // tab ID -> source session ID, absent for ephemeral local terminals
	active     int
}

// New wraps a session manager in an orchestrator. The manager should already
// have been loaded via Reload.
func New(manager *session.Manager) *App {
	return &App{manager: manager, active: -1, tabSession: make(map[string]string)}
}

// Manager exposes the underlying session manager for CLI/config plumbing.
func (a *App) Manager() *session.Manager { return a.manager }

// Tabs returns the live tab set in open order.
func (a *App) Tabs() []*tabbridge.Tab { return a.tabs }

// ActiveTab returns the currently focused tab, or nil if none is open.
func (a *App) ActiveTab() *tabbridge.Tab {
	if a.active < 0 || a.active >= len(a.tabs) {
		return nil
	}
	return a.tabs[a.active]
}

// ActiveSSHConnectionCount reports how many open tabs are backed by a live
// SSH transport, used to gate quit-confirmation prompts.
func (a *App) ActiveSSHConnectionCount() int {
	count := 0
	for _, t := range a.tabs {
		if _, ok := t.Backend().(*sshbackend.Backend); ok && t.Backend().IsAlive() {
			count++
		}
	}
	return count
}

func (a *App) addTab(t *tabbridge.Tab, sourceSessionID string) {
	a.tabs = append(a.tabs, t)
	a.active = len(a.tabs) - 1
	if sourceSessionID != "" {
		a.tabSession[t.ID] = sourceSessionID
	}
}

// OpenLocalTerminal spawns a new local-shell tab.
func (a *App) OpenLocalTerminal() (*tabbridge.Tab, error) {
	cfg := session.LocalSession{NameValue: "local"}
	backend := localpty.New(cfg)
	if err := backend.Connect(); err != nil {
		return nil, trace.Wrap(err, "opening local terminal")
	}
	term := termcore.New(defaultCols, defaultRows)
	tab := tabbridge.New("local", backend, term)
	a.addTab(tab, "")
	return tab, nil
}

// OpenSSHSession opens a tab bound to the named SSH session.
func (a *App) OpenSSHSession(ctx context.Context, sessionID string) (*tabbridge.Tab, error) {
	s := a.manager.GetSession(sessionID)
	if s == nil {
		return nil, trace.NotFound("session %s not found", sessionID)
	}
	cfg, ok := s.(*session.SSHSession)
	if !ok {
		return nil, trace.BadParameter("session %s is not an ssh session", sessionID)
	}
	backend := sshbackend.New(*cfg)
	if err := backend.Connect(ctx); err != nil {
		return nil, trace.Wrap(err, "opening ssh session %s", sessionID)
	}
	term := termcore.New(defaultCols, defaultRows)
	tab := tabbridge.New(cfg.Name(), backend, term)
	a.addTab(tab, sessionID)
	return tab, nil
}

// OpenSSMSession opens a tab bound to the named SSM session.
func (a *App) OpenSSMSession(ctx context.Context, sessionID string) (*tabbridge.Tab, error) {
	s := a.manager.GetSession(sessionID)
	if s == nil {
		return nil, trace.NotFound("session %s not found", sessionID)
	}
	cfg, ok := s.(*session.SSMSession)
	if !ok {
		return nil, trace.BadParameter("session %s is not an ssm session", sessionID)
	}
	backend := ssmbackend.New(*cfg)
	if err := backend.Connect(ctx); err != nil {
		return nil, trace.Wrap(err, "opening ssm session %s", sessionID)
	}
	term := termcore.New(defaultCols, defaultRows)
	tab := tabbridge.New(cfg.Name(), backend, term)
	a.addTab(tab, sessionID)
	return tab, nil
}

// OpenK8sSession opens a tab bound to the named Kubernetes pod-exec session.
func (a *App) OpenK8sSession(ctx context.Context, sessionID string) (*tabbridge.Tab, error) {
	s := a.manager.GetSession(sessionID)
	if s == nil {
		return nil, trace.NotFound("session %s not found", sessionID)
	}
	cfg, ok := s.(*session.K8sSession)
	if !ok {
		return nil, trace.BadParameter("session %s is not a kubernetes session", sessionID)
	}
	backend := k8sbackend.New(*cfg)
	if err := backend.Connect(ctx); err != nil {
		return nil, trace.Wrap(err, "opening kubernetes session %s", sessionID)
	}
	term := termcore.New(defaultCols, defaultRows)
	tab := tabbridge.New(cfg.Name(), backend, term)
	a.addTab(tab, sessionID)
	return tab, nil
}

// openByKind dispatches to the right Open* method based on the session's kind,
// used by MassConnect to fan out over a mixed group.
func (a *App) openByKind(ctx context.Context, s session.Session) (*tabbridge.Tab, error) {
	switch s.Kind() {
	case session.KindSSH:
		return a.OpenSSHSession(ctx, s.ID())
	case session.KindLocal:
		return a.OpenLocalTerminal()
	case session.KindSSM:
		return a.OpenSSMSession(ctx, s.ID())
	case session.KindK8s:
		return a.OpenK8sSession(ctx, s.ID())
	default:
		return nil, trace.BadParameter("unknown session kind %q", s.Kind())
	}
}

// CloseTab closes the tab with the given id, closing its backend and
// adjusting the active-tab index.
func (a *App) CloseTab(id string) error {
	idx := -1
	for i, t := range a.tabs {
		if t.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return trace.NotFound("tab %s not found", id)
	}
	tab := a.tabs[idx]
	a.tabs = append(a.tabs[:idx], a.tabs[idx+1:]...)

	switch {
	case len(a.tabs) == 0:
		a.active = -1
	case a.active > idx:
		a.active--
	case a.active >= len(a.tabs):
		a.active = len(a.tabs) - 1
	}

	delete(a.tabSession, tab.ID)
	if err := tab.Close(); err != nil {
		return trace.Wrap(err, "closing tab %s", id)
	}
	return nil
}

// tabForSession finds the live tab (if any) opened from the given session ID.
func (a *App) tabForSession(sessionID string) *tabbridge.Tab {
	for _, t := range a.tabs {
		if a.tabSession[t.ID] == sessionID {
			return t
		}
	}
	return nil
}

// SetActiveTabByID focuses the named tab.
func (a *App) SetActiveTabByID(id string) error {
	for i, t := range a.tabs {
		if t.ID == id {
			a.active = i
			return nil
		}
	}
	return trace.NotFound("tab %s not found", id)
}

// MassConnect recursively enumerates every session under a group (including
// nested subgroups) and opens a tab for each, continuing past individual
// failures so one bad host doesn't block the rest of the group.
func (a *App) MassConnect(ctx context.Context, groupID string) []Result {
	ids := a.manager.GetAllSessionsInGroupRecursive(groupID)
	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		s := a.manager.GetSession(id)
		if s == nil {
			results = append(results, Result{SessionID: id, Err: trace.NotFound("session %s vanished", id)})
			continue
		}
		tab, err := a.openByKind(ctx, s)
		res := Result{SessionID: id, Err: err}
		if tab != nil {
			res.TabID = tab.ID
		}
		if err != nil {
			log.WithError(err).WithField("session", id).Warn("mass connect: session failed")
		}
		results = append(results, res)
	}
	return results
}

// DeleteSession removes a session from the manager and closes any open tab
// bound to it.
func (a *App) DeleteSession(id string) error {
	if t := a.tabForSession(id); t != nil {
		if err := a.CloseTab(t.ID); err != nil {
			return trace.Wrap(err)
		}
	}
	if !a.manager.DeleteSession(id) {
		return trace.NotFound("session %s not found", id)
	}
	return nil
}

// DeleteGroup removes a group (and everything under it) and closes any open
// tabs bound to sessions that were inside it.
func (a *App) DeleteGroup(id string) error {
	affected := a.manager.GetAllSessionsInGroupRecursive(id)
	for _, sid := range affected {
		if t := a.tabForSession(sid); t != nil {
			_ = a.CloseTab(t.ID)
		}
	}
	return trace.Wrap(a.manager.DeleteGroupRecursive(id))
}
