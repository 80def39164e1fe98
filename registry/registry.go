// Copyright 2025-2026 The livecap Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package registry implements the per-replica table of active capture sessions
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/goldiusleonard/livecap/common"
	"github.com/goldiusleonard/livecap/telemetry"
)

// Kind the capture session kind
type Kind string

// Supported session kinds
const (
	// KindVideo continuous video capture
	KindVideo Kind = "video"
	// KindComments live comment feed capture
	KindComments Kind = "comments"
)

// SessionKey identifies one session within a registry of one kind
type SessionKey struct {
	// RequesterID id of the caller owning the capture
	RequesterID string
	// SubjectID platform-assigned id of the user being captured
	SubjectID string
}

// String implement Stringer
func (k SessionKey) String() string {
	return fmt.Sprintf("%s/%s", k.RequesterID, k.SubjectID)
}

// Session one active capture session
type Session struct {
	// RequesterID id of the caller owning the capture
	RequesterID string
	// SubjectID platform-assigned id of the user being captured
	SubjectID string
	// Kind the capture kind
	Kind Kind
	// RoomID resolved broadcast room, fetched once at start
	RoomID string
	// StartedAt when the session started
	StartedAt time.Time
	// Cancel terminates the session's capture context
	Cancel context.CancelFunc
}

// Key the registry key of this session
func (s Session) Key() SessionKey {
	return SessionKey{RequesterID: s.RequesterID, SubjectID: s.SubjectID}
}

// SessionRegistry per-replica table of active sessions of one kind. The only
// local source of truth. All operations are safe under concurrent use from
// the capture, HTTP handler, and coordination listener goroutines.
type SessionRegistry interface {
	// TryAdd record a new session. False if the key is already present, in
	// which case the caller must reject the start as a duplicate session.
	TryAdd(session Session) bool
	// Remove drop a session entry. False if absent.
	Remove(requesterID, subjectID string) bool
	// Contains whether a session entry is present
	Contains(requesterID, subjectID string) bool
	// Get fetch a session entry
	Get(requesterID, subjectID string) (Session, bool)
	// Clear drop all entries, returning the sessions removed
	Clear() []Session
	// Count number of active entries
	Count() int
}

// sessionRegistryImpl implements SessionRegistry with one mutex-guarded map
type sessionRegistryImpl struct {
	common.Component
	kind     Kind
	lock     *sync.Mutex
	sessions map[SessionKey]Session
}

// GetSessionRegistry define a new empty SessionRegistry for one session kind
func GetSessionRegistry(kind Kind) SessionRegistry {
	logTags := log.Fields{
		"module": "registry", "component": "session-registry", "kind": string(kind),
	}
	return &sessionRegistryImpl{
		Component: common.Component{LogTags: logTags},
		kind:      kind,
		lock:      &sync.Mutex{},
		sessions:  make(map[SessionKey]Session),
	}
}

// TryAdd record a new session
func (r *sessionRegistryImpl) TryAdd(session Session) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	key := session.Key()
	if _, present := r.sessions[key]; present {
		log.WithFields(r.LogTags).Debugf("Rejecting duplicate session %s", key)
		return false
	}
	r.sessions[key] = session
	telemetry.SetActiveSessions(string(r.kind), len(r.sessions))
	log.WithFields(r.LogTags).Infof("Recorded session %s", key)
	return true
}

// Remove drop a session entry
func (r *sessionRegistryImpl) Remove(requesterID, subjectID string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	key := SessionKey{RequesterID: requesterID, SubjectID: subjectID}
	if _, present := r.sessions[key]; !present {
		return false
	}
	delete(r.sessions, key)
	telemetry.SetActiveSessions(string(r.kind), len(r.sessions))
	log.WithFields(r.LogTags).Infof("Removed session %s", key)
	return true
}

// Contains whether a session entry is present
func (r *sessionRegistryImpl) Contains(requesterID, subjectID string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	_, present := r.sessions[SessionKey{RequesterID: requesterID, SubjectID: subjectID}]
	return present
}

// Get fetch a session entry
func (r *sessionRegistryImpl) Get(requesterID, subjectID string) (Session, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	session, present := r.sessions[SessionKey{RequesterID: requesterID, SubjectID: subjectID}]
	return session, present
}

// Clear drop all entries
func (r *sessionRegistryImpl) Clear() []Session {
	r.lock.Lock()
	defer r.lock.Unlock()
	removed := make([]Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		removed = append(removed, session)
	}
	r.sessions = make(map[SessionKey]Session)
	telemetry.SetActiveSessions(string(r.kind), 0)
	log.WithFields(r.LogTags).Infof("Cleared %d sessions", len(removed))
	return removed
}

// Count number of active entries
func (r *sessionRegistryImpl) Count() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.sessions)
}
