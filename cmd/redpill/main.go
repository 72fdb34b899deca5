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

// Command redpill drives the session manager and tab orchestrator headlessly,
// for scripting and integration testing of the engine without a UI attached.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/vyrti/redpill/lib/credstore"
	"github.com/vyrti/redpill/lib/redpillapp"
	"github.com/vyrti/redpill/lib/session"
)

var log = logrus.WithField(trace.Component, "redpill")

// initCLIParser builds a kingpin application with the flag-repeatability and
// hidden-help conventions the teacher's tsh/tctl share across their CLIs.
func initCLIParser(name, help string) *kingpin.Application {
	app := kingpin.New(name, help)
	app.AllRepeatable(true)
	app.HelpFlag.Hidden()
	app.HelpFlag.NoEnvar()
	return app
}

// initLogger mirrors the teacher's CLI logging convention: discard logs
// unless debug verbosity was requested, in which case write to stderr.
func initLogger(level logrus.Level) {
	logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks))
	logrus.SetLevel(level)
	if level == logrus.DebugLevel {
		logrus.SetOutput(os.Stderr)
	} else {
		logrus.SetOutput(io.Discard)
	}
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, trace.DebugReport(err))
		os.Exit(1)
	}
}

func run(args []string) error {
	app := initCLIParser("redpill", "Multi-protocol terminal session manager")

	var configDir string
	var debug bool
	app.Flag("config-dir", "Directory holding sessions.json and config.json").StringVar(&configDir)
	app.Flag("debug", "Enable verbose logging to stderr").Short('d').BoolVar(&debug)

	list := app.Command("list", "List configured sessions and groups")

	openLocal := app.Command("open-local", "Open a local shell tab")

	openSSH := app.Command("open-ssh", "Open an SSH session by id")
	openSSHID := openSSH.Arg("id", "Session id").Required().String()

	openSSM := app.Command("open-ssm", "Open an SSM session by id")
	openSSMID := openSSM.Arg("id", "Session id").Required().String()

	openK8s := app.Command("open-k8s", "Open a Kubernetes pod-exec session by id")
	openK8sID := openK8s.Arg("id", "Session id").Required().String()

	massConnect := app.Command("mass-connect", "Open a tab for every session under a group")
	massConnectGroup := massConnect.Arg("group", "Group id").Required().String()

	addGroup := app.Command("add-group", "Create a new session group")
	addGroupName := addGroup.Arg("name", "Group name").Required().String()
	addGroupParent := addGroup.Flag("parent", "Parent group id").String()

	selected, err := app.Parse(args)
	if err != nil {
		return trace.Wrap(err)
	}

	level := logrus.WarnLevel
	if debug {
		level = logrus.DebugLevel
	}
	initLogger(level)

	manager, err := openManager(configDir)
	if err != nil {
		return trace.Wrap(err)
	}
	orchestrator := redpillapp.New(manager)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch selected {
	case list.FullCommand():
		return runList(manager)
	case openLocal.FullCommand():
		tab, err := orchestrator.OpenLocalTerminal()
		if err != nil {
			return trace.Wrap(err)
		}
		fmt.Println(tab.ID)
	case openSSH.FullCommand():
		tab, err := orchestrator.OpenSSHSession(ctx, *openSSHID)
		if err != nil {
			return trace.Wrap(err)
		}
		fmt.Println(tab.ID)
	case openSSM.FullCommand():
		tab, err := orchestrator.OpenSSMSession(ctx, *openSSMID)
		if err != nil {
			return trace.Wrap(err)
		}
		fmt.Println(tab.ID)
	case openK8s.FullCommand():
		tab, err := orchestrator.OpenK8sSession(ctx, *openK8sID)
		if err != nil {
			return trace.Wrap(err)
		}
		fmt.Println(tab.ID)
	case massConnect.FullCommand():
		results := orchestrator.MassConnect(ctx, *massConnectGroup)
		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
				log.WithError(r.Err).WithField("session", r.SessionID).Warn("failed to open")
				continue
			}
			fmt.Printf("%s -> %s\n", r.SessionID, r.TabID)
		}
		if failed > 0 {
			return trace.Errorf("%d of %d sessions failed to open", failed, len(results))
		}
	case addGroup.FullCommand():
		id, err := manager.AddGroup(&session.Group{Name: *addGroupName, ParentID: *addGroupParent})
		if err != nil {
			return trace.Wrap(err)
		}
		if err := manager.Save(); err != nil {
			return trace.Wrap(err)
		}
		fmt.Println(id)
	}

	return nil
}

func openManager(configDir string) (*session.Manager, error) {
	if configDir == "" {
		return session.NewManager()
	}
	storage := session.NewStorageAt(configDir)
	creds, err := credstore.Open()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return session.NewManagerWith(storage, creds)
}

func runList(manager *session.Manager) error {
	for _, g := range manager.AllGroups() {
		fmt.Printf("group\t%s\t%s\t%s\n", g.IDValue, g.Name, g.ParentID)
	}
	for _, s := range manager.AllSessions() {
		fmt.Printf("session\t%s\t%s\t%s\t%s\n", s.ID(), s.Kind(), s.Name(), s.GroupID())
	}
	return nil
}
