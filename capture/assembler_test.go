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

package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/goldiusleonard/livecap/registry"
	"github.com/stretchr/testify/assert"
)

// recordingStore ObjectStore keeping uploads in memory
type recordingStore struct {
	lock    sync.Mutex
	content map[string][]byte
	fail    bool
}

func (s *recordingStore) Upload(
	_ context.Context, content io.Reader, key string,
) (string, error) {
	if s.fail {
		return "", fmt.Errorf("store rejected the upload")
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.content == nil {
		s.content = map[string][]byte{}
	}
	s.content[key] = data
	return fmt.Sprintf("https://store.example.com/%s", key), nil
}

func writeTestSegments(t *testing.T, workDir string, payloads []string) []string {
	assert := assert.New(t)
	paths := []string{}
	for i, payload := range payloads {
		segmentPath := filepath.Join(workDir, fmt.Sprintf("seg_%05d.mp4", i+1))
		assert.Nil(os.WriteFile(segmentPath, []byte(payload), 0o600))
		paths = append(paths, segmentPath)
	}
	return paths
}

func TestSegmentAssembler(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	store := &recordingStore{}
	uut, err := GetSegmentAssembler(passthroughRemuxer{}, store, time.Second*5, &wg)
	assert.Nil(err)

	workDir := t.TempDir()
	segmentPaths := writeTestSegments(t, workDir, []string{"part-a|", "part-b|", "part-c|"})

	startedAt := time.Now().Add(-time.Minute)
	session := registry.Session{
		RequesterID: "requester-0",
		SubjectID:   "subject-0",
		Kind:        registry.KindVideo,
		RoomID:      "room-0",
		StartedAt:   startedAt,
		Cancel:      func() {},
	}

	serialized, err := uut.Assemble(utCtxt, session, segmentPaths)
	assert.Nil(err)

	var trailer SessionTrailer
	assert.Nil(json.Unmarshal(serialized, &trailer))
	assert.Equal("subject-0", trailer.SubjectID)
	assert.Equal("requester-0", trailer.RequesterID)
	assert.Equal("room-0", trailer.RoomID)
	assert.Equal(3, trailer.SegmentCount)
	assert.True(trailer.EndedAt.After(trailer.StartedAt))

	// The artifact is the ordered concatenation of the segments
	expectedKey := fmt.Sprintf(
		"subject-0_requester-0_%s.mp4", startedAt.UTC().Format("20060102T150405Z"),
	)
	assert.Equal(
		fmt.Sprintf("https://store.example.com/%s", expectedKey), trailer.ArtifactURL,
	)
	assert.Equal([]byte("part-a|part-b|part-c|"), store.content[expectedKey])

	// Session files are cleaned up in the background
	wg.Wait()
	for _, segmentPath := range segmentPaths {
		_, err := os.Stat(segmentPath)
		assert.True(os.IsNotExist(err))
	}
	_, err = os.Stat(filepath.Join(workDir, "full.mp4"))
	assert.True(os.IsNotExist(err))
}

func TestSegmentAssemblerUploadFailureIsNotFatal(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	store := &recordingStore{fail: true}
	uut, err := GetSegmentAssembler(passthroughRemuxer{}, store, time.Second*5, &wg)
	assert.Nil(err)

	segmentPaths := writeTestSegments(t, t.TempDir(), []string{"only-part"})
	serialized, err := uut.Assemble(utCtxt, registry.Session{
		RequesterID: "requester-1",
		SubjectID:   "subject-1",
		Kind:        registry.KindVideo,
		RoomID:      "room-1",
		StartedAt:   time.Now(),
		Cancel:      func() {},
	}, segmentPaths)
	assert.Nil(err)

	// The trailer still stamps the session; only the artifact URL is missing
	var trailer SessionTrailer
	assert.Nil(json.Unmarshal(serialized, &trailer))
	assert.Equal(1, trailer.SegmentCount)
	assert.Empty(trailer.ArtifactURL)
	wg.Wait()
}

func TestSegmentAssemblerEmptySession(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	store := &recordingStore{}
	uut, err := GetSegmentAssembler(passthroughRemuxer{}, store, time.Second*5, &wg)
	assert.Nil(err)

	// A session without segments still gets its trailer
	serialized, err := uut.Assemble(utCtxt, registry.Session{
		RequesterID: "requester-2",
		SubjectID:   "subject-2",
		Kind:        registry.KindVideo,
		RoomID:      "room-2",
		StartedAt:   time.Now(),
		Cancel:      func() {},
	}, nil)
	assert.Nil(err)

	var trailer SessionTrailer
	assert.Nil(json.Unmarshal(serialized, &trailer))
	assert.Equal(0, trailer.SegmentCount)
	assert.Empty(trailer.ArtifactURL)
	assert.Empty(store.content)
	wg.Wait()
}
