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

// Package coordination implements the cross-replica broadcast channel
package coordination

import (
	"fmt"
)

// Action coordination message action
type Action string

// Coordination actions exchanged between replicas
const (
	// ActionStop request whichever replica owns the session to stop it
	ActionStop Action = "STOP"
	// ActionStopped reply from the owning replica after stopping
	ActionStopped Action = "STOPPED"
	// ActionNotFound reply from a replica which saw the session but lost it
	// to a concurrent stop
	ActionNotFound Action = "NOT_FOUND"
	// ActionRemoveAllSessions request every replica to clear its registry
	ActionRemoveAllSessions Action = "REMOVE_ALL_SESSIONS"
	// ActionRemoveAllSessionsACK reply after a successful registry clear
	ActionRemoveAllSessionsACK Action = "REMOVE_ALL_SESSIONS_ACK"
	// ActionRemoveAllSessionsFailed reply after a partially failed clear
	ActionRemoveAllSessionsFailed Action = "REMOVE_ALL_SESSIONS_FAILED"
)

// Message the wire-level coordination message. Stateless and fire-and-forget;
// there is no delivery acknowledgment beyond the application-level reply.
type Message struct {
	// Action the coordination action
	Action Action `json:"action" validate:"required"`
	// RequesterID id of the caller owning the targeted session
	RequesterID string `json:"requester_id,omitempty"`
	// SubjectID id of the captured subject of the targeted session
	SubjectID string `json:"subject_id,omitempty"`
}

// String implement Stringer
func (m Message) String() string {
	return fmt.Sprintf("%s[%s/%s]", m.Action, m.RequesterID, m.SubjectID)
}

// Known whether the action is part of the coordination protocol. Subscribers
// ignore unknown actions instead of treating them as errors.
func (m Message) Known() bool {
	switch m.Action {
	case ActionStop,
		ActionStopped,
		ActionNotFound,
		ActionRemoveAllSessions,
		ActionRemoveAllSessionsACK,
		ActionRemoveAllSessionsFailed:
		return true
	}
	return false
}

// Matches whether the message targets one (requester, subject) pair
func (m Message) Matches(requesterID, subjectID string) bool {
	return m.RequesterID == requesterID && m.SubjectID == subjectID
}
