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

package coordination

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageSerialization(t *testing.T) {
	assert := assert.New(t)

	// Wire field names are part of the protocol
	serialized, err := json.Marshal(&Message{
		Action:      ActionStop,
		RequesterID: "requester-0",
		SubjectID:   "subject-0",
	})
	assert.Nil(err)
	assert.JSONEq(
		`{"action":"STOP","requester_id":"requester-0","subject_id":"subject-0"}`,
		string(serialized),
	)

	// Target fields are omitted when empty
	serialized, err = json.Marshal(&Message{Action: ActionRemoveAllSessions})
	assert.Nil(err)
	assert.JSONEq(`{"action":"REMOVE_ALL_SESSIONS"}`, string(serialized))

	// Round trip
	var parsed Message
	assert.Nil(json.Unmarshal(
		[]byte(`{"action":"STOPPED","requester_id":"a","subject_id":"b"}`), &parsed,
	))
	assert.Equal(ActionStopped, parsed.Action)
	assert.True(parsed.Matches("a", "b"))
	assert.False(parsed.Matches("a", "c"))
}

func TestMessageActionFiltering(t *testing.T) {
	assert := assert.New(t)

	for _, action := range []Action{
		ActionStop,
		ActionStopped,
		ActionNotFound,
		ActionRemoveAllSessions,
		ActionRemoveAllSessionsACK,
		ActionRemoveAllSessionsFailed,
	} {
		assert.True(Message{Action: action}.Known())
	}
	assert.False(Message{Action: "PAUSE"}.Known())
	assert.False(Message{}.Known())
}
