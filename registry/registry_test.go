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

package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func TestSessionRegistryBasicOperation(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	uut := GetSessionRegistry(KindVideo)

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	session := Session{
		RequesterID: "requester-0",
		SubjectID:   "subject-0",
		Kind:        KindVideo,
		RoomID:      "room-0",
		StartedAt:   time.Now(),
		Cancel:      cancel,
	}

	// Empty registry
	assert.Equal(0, uut.Count())
	assert.False(uut.Contains("requester-0", "subject-0"))
	assert.False(uut.Remove("requester-0", "subject-0"))

	// First add wins, second is rejected
	assert.True(uut.TryAdd(session))
	assert.False(uut.TryAdd(session))
	assert.Equal(1, uut.Count())
	assert.True(uut.Contains("requester-0", "subject-0"))

	// Same subject under a different requester is a distinct session
	other := session
	other.RequesterID = "requester-1"
	assert.True(uut.TryAdd(other))
	assert.Equal(2, uut.Count())

	// Lookup returns the stored entry
	fetched, ok := uut.Get("requester-0", "subject-0")
	assert.True(ok)
	assert.Equal("room-0", fetched.RoomID)
	_, ok = uut.Get("requester-2", "subject-0")
	assert.False(ok)

	// Removal is idempotent
	assert.True(uut.Remove("requester-0", "subject-0"))
	assert.False(uut.Remove("requester-0", "subject-0"))
	assert.Equal(1, uut.Count())

	// Clear returns what it dropped
	removed := uut.Clear()
	assert.Len(removed, 1)
	assert.Equal("requester-1", removed[0].RequesterID)
	assert.Equal(0, uut.Count())
}

func TestSessionRegistryConcurrentAdd(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.WarnLevel)

	uut := GetSessionRegistry(KindComments)

	// Many goroutines race on the same key, exactly one wins
	workers := 32
	wins := make(chan bool, workers)
	wg := sync.WaitGroup{}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- uut.TryAdd(Session{
				RequesterID: "shared-requester",
				SubjectID:   "shared-subject",
				Kind:        KindComments,
				StartedAt:   time.Now(),
				Cancel:      func() {},
			})
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for win := range wins {
		if win {
			won++
		}
	}
	assert.Equal(1, won)
	assert.Equal(1, uut.Count())
}

func TestSessionRegistryConcurrentMixedUse(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.WarnLevel)

	uut := GetSessionRegistry(KindVideo)

	wg := sync.WaitGroup{}
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				key := fmt.Sprintf("subject-%d-%d", id, i)
				uut.TryAdd(Session{
					RequesterID: "requester",
					SubjectID:   key,
					Kind:        KindVideo,
					StartedAt:   time.Now(),
					Cancel:      func() {},
				})
				uut.Contains("requester", key)
				uut.Remove("requester", key)
			}
		}(worker)
	}
	wg.Wait()
	assert.Equal(0, uut.Count())
}
