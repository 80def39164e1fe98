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
	"time"

	"github.com/apex/log"
	"github.com/goldiusleonard/livecap/common"
	"github.com/goldiusleonard/livecap/platform"
	"github.com/goldiusleonard/livecap/registry"
)

// liveProbeTimeout bound on the per-segment liveness probe
const liveProbeTimeout = time.Second * 5

// OutputItem one item streamed back to the session's caller
type OutputItem struct {
	// Payload serialized item bytes
	Payload []byte
	// Trailer marks the final item of the stream
	Trailer bool
}

// OutputSink receives streamed output items
type OutputSink func(item OutputItem) error

// SessionRunner one session's capture loop, driven by the session controller
// under reconnect supervision
type SessionRunner interface {
	// Attempt run one connection attempt of the capture loop. A transport
	// disconnect return is eligible for one supervised restart; state
	// accumulated by earlier attempts carries over.
	Attempt(ctxt context.Context) error
	// Finalize emit the session trailer once the loop has exited for good
	Finalize(ctxt context.Context) error
}

// videoSessionRunnerImpl implements SessionRunner for video capture
type videoSessionRunnerImpl struct {
	common.Component
	resolver     platform.Resolver
	source       StreamSource
	remux        Remuxer
	assembler    SegmentAssembler
	workDir      string
	session      registry.Session
	saveInterval time.Duration
	active       func() bool
	sink         OutputSink
	segmentPaths []string
	sequence     int
}

// GetVideoSessionRunner define a video SessionRunner for one session
func GetVideoSessionRunner(
	resolver platform.Resolver,
	source StreamSource,
	remux Remuxer,
	assembler SegmentAssembler,
	workDir string,
	session registry.Session,
	saveInterval time.Duration,
	active func() bool,
	sink OutputSink,
) (SessionRunner, error) {
	logTags := log.Fields{
		"module":    "capture",
		"component": "video-session-runner",
		"instance":  session.Key().String(),
	}
	return &videoSessionRunnerImpl{
		Component:    common.Component{LogTags: logTags},
		resolver:     resolver,
		source:       source,
		remux:        remux,
		assembler:    assembler,
		workDir:      workDir,
		session:      session,
		saveInterval: saveInterval,
		active:       active,
		sink:         sink,
		segmentPaths: []string{},
	}, nil
}

// Attempt run one connection attempt of the video capture loop
func (r *videoSessionRunnerImpl) Attempt(ctxt context.Context) error {
	streamURL, err := r.resolver.GetStreamURL(ctxt, r.session.RoomID)
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf(
			"Unable to fetch stream URL of room %s", r.session.RoomID,
		)
		return err
	}
	stream, err := r.source.Open(ctxt, streamURL)
	if err != nil {
		return err
	}
	writer, err := GetChunkWriter(
		r.session.Key().String(),
		stream,
		r.remux,
		r.saveInterval,
		r.workDir,
		r.sequence,
		r.emitSegment,
		r.keepGoing(ctxt),
	)
	if err != nil {
		_ = stream.Close()
		return common.NewError(common.KindFatal, "unable to start chunk writer", err)
	}
	paths, runErr := writer.Run(ctxt)
	r.segmentPaths = append(r.segmentPaths, paths...)
	r.sequence += len(paths)
	return runErr
}

// emitSegment forward one finalized segment onto the output stream
func (r *videoSessionRunnerImpl) emitSegment(segment Segment) error {
	return r.sink(OutputItem{Payload: segment.Payload})
}

// keepGoing per-segment continuation predicate over registry presence and
// broadcast liveness
func (r *videoSessionRunnerImpl) keepGoing(ctxt context.Context) func() bool {
	return func() bool {
		if !r.active() {
			return false
		}
		probeContext, cancel := context.WithTimeout(ctxt, liveProbeTimeout)
		defer cancel()
		alive, err := r.resolver.IsLive(probeContext, r.session.RoomID)
		if err != nil {
			// Inconclusive probe. Keep capturing; a dead stream surfaces as
			// a read error anyway.
			log.WithError(err).WithFields(r.LogTags).Warn("Liveness probe failed")
			return true
		}
		return alive
	}
}

// Finalize assemble the session artifact and emit the trailer
func (r *videoSessionRunnerImpl) Finalize(ctxt context.Context) error {
	serialized, err := r.assembler.Assemble(ctxt, r.session, r.segmentPaths)
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf(
			"Unable to assemble session %s", r.session.Key(),
		)
		return err
	}
	return r.sink(OutputItem{Payload: serialized, Trailer: true})
}

// ==============================================================================

// commentSessionRunnerImpl implements SessionRunner for comment capture
type commentSessionRunnerImpl struct {
	common.Component
	client            ChatClient
	queue             EventQueue
	session           registry.Session
	pullWait          time.Duration
	disconnectTimeout time.Duration
	active            func() bool
	sink              OutputSink
}

// GetCommentSessionRunner define a comment SessionRunner for one session. The
// client's comment callback feeds the bounded queue; the runner drains it
// onto the output stream.
func GetCommentSessionRunner(
	client ChatClient,
	queue EventQueue,
	session registry.Session,
	pullWait time.Duration,
	disconnectTimeout time.Duration,
	active func() bool,
	sink OutputSink,
) (SessionRunner, error) {
	logTags := log.Fields{
		"module":    "capture",
		"component": "comment-session-runner",
		"instance":  session.Key().String(),
	}
	client.OnComment(queue.Push)
	return &commentSessionRunnerImpl{
		Component:         common.Component{LogTags: logTags},
		client:            client,
		queue:             queue,
		session:           session,
		pullWait:          pullWait,
		disconnectTimeout: disconnectTimeout,
		active:            active,
		sink:              sink,
	}, nil
}

// Attempt run one connection attempt of the comment drain loop
func (r *commentSessionRunnerImpl) Attempt(ctxt context.Context) error {
	connectResult := make(chan error, 1)
	r.client.Join(r.session.SubjectID)
	go func() {
		connectResult <- r.client.Connect()
		// Poison the queue so the drain loop notices without waiting out
		// its pull bound
		r.queue.PushStop()
	}()
	defer r.disconnect()

	for {
		event, outcome := r.queue.Pull(ctxt, r.pullWait)
		switch outcome {
		case PullEvent:
			serialized, err := json.Marshal(&event)
			if err != nil {
				return common.NewError(common.KindFatal, "comment serialization failed", err)
			}
			if err := r.sink(OutputItem{Payload: serialized}); err != nil {
				return common.NewError(common.KindFatal, "comment emit failed", err)
			}
		case PullStopped:
			select {
			case err := <-connectResult:
				// The client's own event loop ended, not a requested stop
				if !r.active() {
					return nil
				}
				return common.NewError(
					common.KindTransportDisconnect, "chat client disconnected", err,
				)
			default:
			}
			log.WithFields(r.LogTags).Info("Poison item drained, ending comment loop")
			return nil
		case PullCancelled:
			return nil
		case PullTimeout:
			select {
			case err := <-connectResult:
				if !r.active() {
					return nil
				}
				return common.NewError(
					common.KindTransportDisconnect, "chat client disconnected", err,
				)
			default:
			}
			if !r.active() {
				log.WithFields(r.LogTags).Info("Session no longer active, ending comment loop")
				return nil
			}
		}
	}
}

// disconnect close the chat client with an upper bound on the wait
func (r *commentSessionRunnerImpl) disconnect() {
	done := make(chan error, 1)
	go func() {
		done <- r.client.Disconnect()
	}()
	select {
	case err := <-done:
		if err != nil {
			log.WithError(err).WithFields(r.LogTags).Warn("Chat disconnect failed")
		}
	case <-time.After(r.disconnectTimeout):
		log.WithFields(r.LogTags).Warn("Chat disconnect exceeded its bound, moving on")
	}
}

// Finalize emit the comment session trailer
func (r *commentSessionRunnerImpl) Finalize(ctxt context.Context) error {
	trailer := SessionTrailer{
		SubjectID:   r.session.SubjectID,
		RequesterID: r.session.RequesterID,
		RoomID:      r.session.RoomID,
		StartedAt:   r.session.StartedAt,
		EndedAt:     time.Now(),
	}
	serialized, err := json.Marshal(&trailer)
	if err != nil {
		return err
	}
	return r.sink(OutputItem{Payload: serialized, Trailer: true})
}
