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

// Package credstore stores session secrets (passwords, key passphrases) in the
// operating system's native credential store rather than on disk.
package credstore

import (
	"fmt"

	"github.com/99designs/keyring"
	"github.com/gravitational/trace"
)

// ServiceName is the fixed keyring service namespace this application uses.
const ServiceName = "redpill-term"

// Kind distinguishes the two classes of secret a session can carry.
type Kind string

const (
	KindPassword   Kind = "password"
	KindPassphrase Kind = "passphrase"
)

// Store is a secret-custody boundary backed by an OS keychain/credential manager.
type Store struct {
	ring keyring.Keyring
}

// Open opens (creating if necessary) the backing keyring for this application.
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: ServiceName,
	})
	if err != nil {
		return nil, trace.Wrap(err, "opening credential store")
	}
	return &Store{ring: ring}, nil
}

// NewWithKeyring wraps an already-constructed keyring, for tests.
func NewWithKeyring(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

func entryName(sessionID string, kind Kind) string {
	return fmt.Sprintf("%s:%s", kind, sessionID)
}

// Store writes a secret for the given session/kind pair, overwriting any prior value.
func (s *Store) Store(sessionID string, kind Kind, secret string) error {
	err := s.ring.Set(keyring.Item{
		Key:         entryName(sessionID, kind),
		Data:        []byte(secret),
		Label:       fmt.Sprintf("redpill %s credential", kind),
		Description: "redpill-term session credential",
	})
	if err != nil {
		return trace.Wrap(err, "storing %s credential for session %s", kind, sessionID)
	}
	return nil
}

// Retrieve reads a previously stored secret. Returns trace.NotFound if absent.
func (s *Store) Retrieve(sessionID string, kind Kind) (string, error) {
	item, err := s.ring.Get(entryName(sessionID, kind))
	if err != nil {
		if err == keyring.ErrKeyNotFound {
			return "", trace.NotFound("no %s credential stored for session %s", kind, sessionID)
		}
		return "", trace.Wrap(err, "retrieving %s credential for session %s", kind, sessionID)
	}
	return string(item.Data), nil
}

// Exists reports whether a secret is present without returning its value.
func (s *Store) Exists(sessionID string, kind Kind) bool {
	_, err := s.ring.Get(entryName(sessionID, kind))
	return err == nil
}

// Delete removes a single secret. Deleting an absent entry is not an error.
func (s *Store) Delete(sessionID string, kind Kind) error {
	err := s.ring.Remove(entryName(sessionID, kind))
	if err != nil && err != keyring.ErrKeyNotFound {
		return trace.Wrap(err, "deleting %s credential for session %s", kind, sessionID)
	}
	return nil
}

// DeleteAll removes both credential kinds for a session, ignoring not-found errors
// on either, matching the teacher's keychain-cleanup-on-session-delete behavior.
func (s *Store) DeleteAll(sessionID string) {
	_ = s.Delete(sessionID, KindPassword)
	_ = s.Delete(sessionID, KindPassphrase)
}
