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
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/goldiusleonard/livecap/common"
	"github.com/goldiusleonard/livecap/objectstore"
	"github.com/goldiusleonard/livecap/registry"
)

// SessionTrailer the final artifact stamped with session metadata, emitted as
// the last item on the output stream
type SessionTrailer struct {
	// SubjectID the captured subject
	SubjectID string `json:"subject_id"`
	// RequesterID the caller owning the capture
	RequesterID string `json:"requester_id"`
	// RoomID the resolved broadcast room
	RoomID string `json:"room_id"`
	// StartedAt when the session started
	StartedAt time.Time `json:"started_at"`
	// EndedAt when the session ended
	EndedAt time.Time `json:"ended_at"`
	// SegmentCount number of finalized segments
	SegmentCount int `json:"segment_count"`
	// ArtifactURL retrieval URL of the uploaded artifact, empty if none
	ArtifactURL string `json:"artifact_url,omitempty"`
}

// SegmentAssembler concatenates the ordered segments of a finished session
// into one artifact and persists it
type SegmentAssembler interface {
	// Assemble build, upload, and stamp the session artifact. Returns the
	// serialized trailer. Intermediate and assembled files are deleted by a
	// background best-effort cleanup.
	Assemble(
		ctxt context.Context, session registry.Session, segmentPaths []string,
	) ([]byte, error)
}

// segmentAssemblerImpl implements SegmentAssembler
type segmentAssemblerImpl struct {
	common.Component
	remux         Remuxer
	store         objectstore.ObjectStore
	uploadTimeout time.Duration
	wg            *sync.WaitGroup
}

// GetSegmentAssembler define a SegmentAssembler
func GetSegmentAssembler(
	remux Remuxer,
	store objectstore.ObjectStore,
	uploadTimeout time.Duration,
	wg *sync.WaitGroup,
) (SegmentAssembler, error) {
	logTags := log.Fields{
		"module":    "capture",
		"component": "segment-assembler",
	}
	return &segmentAssemblerImpl{
		Component:     common.Component{LogTags: logTags},
		remux:         remux,
		store:         store,
		uploadTimeout: uploadTimeout,
		wg:            wg,
	}, nil
}

// Assemble build, upload, and stamp the session artifact
func (a *segmentAssemblerImpl) Assemble(
	ctxt context.Context, session registry.Session, segmentPaths []string,
) ([]byte, error) {
	trailer := SessionTrailer{
		SubjectID:    session.SubjectID,
		RequesterID:  session.RequesterID,
		RoomID:       session.RoomID,
		StartedAt:    session.StartedAt,
		EndedAt:      time.Now(),
		SegmentCount: len(segmentPaths),
	}

	var assembledPath string
	if len(segmentPaths) > 0 {
		assembledPath = filepath.Join(filepath.Dir(segmentPaths[0]), "full.mp4")
		if err := a.remux.Concat(ctxt, segmentPaths, assembledPath); err != nil {
			log.WithError(err).WithFields(a.LogTags).Errorf(
				"Unable to assemble %d segments of %s", len(segmentPaths), session.Key(),
			)
			return nil, err
		}
		trailer.ArtifactURL = a.upload(session, assembledPath)
	}

	serialized, err := json.Marshal(&trailer)
	if err != nil {
		return nil, err
	}

	// Fire-and-forget cleanup of intermediate and assembled files
	a.wg.Add(1)
	go a.cleanup(segmentPaths, assembledPath)

	return serialized, nil
}

// upload persist the assembled artifact. Best effort: a failure is logged and
// leaves the trailer without an artifact URL.
func (a *segmentAssemblerImpl) upload(
	session registry.Session, assembledPath string,
) string {
	artifact, err := os.Open(assembledPath)
	if err != nil {
		log.WithError(err).WithFields(a.LogTags).Errorf("Unable to open %s", assembledPath)
		return ""
	}
	defer func() {
		if err := artifact.Close(); err != nil {
			log.WithError(err).WithFields(a.LogTags).Debugf("Unable to close %s", assembledPath)
		}
	}()
	key := fmt.Sprintf(
		"%s_%s_%s.mp4",
		session.SubjectID,
		session.RequesterID,
		session.StartedAt.UTC().Format("20060102T150405Z"),
	)
	uploadCtxt, cancel := context.WithTimeout(context.Background(), a.uploadTimeout)
	defer cancel()
	artifactURL, err := a.store.Upload(uploadCtxt, artifact, key)
	if err != nil {
		log.WithError(err).WithFields(a.LogTags).Errorf("Upload of %s failed", key)
		return ""
	}
	return artifactURL
}

// cleanup best-effort deletion of session files
func (a *segmentAssemblerImpl) cleanup(segmentPaths []string, assembledPath string) {
	defer a.wg.Done()
	targets := segmentPaths
	if assembledPath != "" {
		targets = append(targets, assembledPath)
	}
	for _, target := range targets {
		if err := os.Remove(target); err != nil {
			log.WithError(err).WithFields(a.LogTags).Warnf("Unable to delete %s", target)
		}
	}
	log.WithFields(a.LogTags).Debugf("Cleaned up %d session files", len(targets))
}
