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

// Package hostkeys implements OpenSSH-format known_hosts parsing, matching,
// and trust-on-first-use pinning.
package hostkeys

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gravitational/trace"
)

// Status is the outcome of verifying a host key against known_hosts.
type Status int

const (
	// Verified means a matching host+type+key entry was found.
	Verified Status = iota
	// TrustOnFirstUse means the host was absent and has just been pinned.
	TrustOnFirstUse
	// Mismatch means the host is known under a different key of the same type.
	Mismatch
	// ErrorStatus means the file could not be read/written; the connection is
	// allowed to proceed with a logged warning (a read-only known_hosts must
	// not brick connectivity).
	ErrorStatus
)

func (s Status) String() string {
	switch s {
	case Verified:
		return "verified"
	case TrustOnFirstUse:
		return "trust-on-first-use"
	case Mismatch:
		return "mismatch"
	case ErrorStatus:
		return "error"
	default:
		return "unknown"
	}
}

// Store reads from and appends to a single known_hosts file.
type Store struct {
	path string
}

// DefaultPath returns "~/.ssh/known_hosts".
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", trace.Wrap(err, "resolving home directory")
	}
	return filepath.Join(home, ".ssh", "known_hosts"), nil
}

// New opens the default known_hosts store.
func New() (*Store, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Store{path: path}, nil
}

// NewAt opens a known_hosts store at an explicit path, for tests.
func NewAt(path string) *Store {
	return &Store{path: path}
}

type entry struct {
	hostField string
	keyType   string
	keyData   string
}

func parseLines(contents string) []entry {
	var entries []entry
	for _, line := range strings.Split(contents, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 3 {
			continue
		}
		entries = append(entries, entry{hostField: parts[0], keyType: parts[1], keyData: parts[2]})
	}
	return entries
}

// hostMatches implements OpenSSH's known_hosts host-field matching: a
// comma-separated list of patterns, each possibly hashed (skipped, "|1|..."),
// possibly bracketed ("[host]:port" -> "host"), and possibly containing "*"
// wildcards, each matching any run of characters (dots included), with the
// whole pattern anchored at both ends.
func hostMatches(field, host string) bool {
	for _, pattern := range strings.Split(field, ",") {
		pattern = strings.TrimSpace(pattern)
		if strings.HasPrefix(pattern, "|") {
			continue // hashed entries are not verifiable without the salt/hmac
		}
		if strings.HasPrefix(pattern, "[") {
			if end := strings.Index(pattern, "]"); end != -1 {
				pattern = pattern[1:end]
			}
		}
		if pattern == host {
			return true
		}
		if strings.Contains(pattern, "*") {
			re := "^" + regexp.QuoteMeta(pattern) + "$"
			re = strings.ReplaceAll(re, regexp.QuoteMeta("*"), ".*")
			if matched, err := regexp.MatchString(re, host); err == nil && matched {
				return true
			}
		}
	}
	return false
}

// Verify checks (host, keyType, keyBase64) against the store, appending a
// TOFU entry when the host is unknown.
func (s *Store) Verify(host, keyType, keyBase64 string) Status {
	contents, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.appendEntry(host, keyType, keyBase64)
		}
		return ErrorStatus
	}

	for _, e := range parseLines(string(contents)) {
		if !hostMatches(e.hostField, host) {
			continue
		}
		if e.keyType == keyType && e.keyData == keyBase64 {
			return Verified
		}
		if e.keyType == keyType {
			return Mismatch
		}
	}
	return s.appendEntry(host, keyType, keyBase64)
}

func (s *Store) appendEntry(host, keyType, keyBase64 string) Status {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return ErrorStatus
		}
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return ErrorStatus
	}
	defer f.Close()

	line := fmt.Sprintf("%s %s %s\n", host, keyType, keyBase64)
	if _, err := f.WriteString(line); err != nil {
		return ErrorStatus
	}
	return TrustOnFirstUse
}
