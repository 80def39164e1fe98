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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/apex/log"
	"github.com/goldiusleonard/livecap/common"
	"github.com/goldiusleonard/livecap/telemetry"
)

// trailingCutBound bound on finalizing the last buffered segment once the
// source is gone
const trailingCutBound = time.Second * 10

// Segment one finalized, time-bounded slice of captured media
type Segment struct {
	// SequenceNumber monotonic per session, starting at 1
	SequenceNumber int
	// Path segment file location
	Path string
	// Payload repackaged segment bytes
	Payload []byte
	// Duration wall-clock span the segment covers
	Duration time.Duration
}

// SegmentSink receives each finalized segment as it completes
type SegmentSink func(segment Segment) error

// ChunkWriter turns a raw broadcast byte stream into discrete time-bounded
// segments. Owned exclusively by one capture goroutine.
type ChunkWriter interface {
	// Run cut segments until the stream ends, the context is cancelled, or
	// the continue predicate turns false. Returns the ordered list of
	// finalized segment file paths, together with the terminating error if
	// the loop ended abnormally.
	Run(ctxt context.Context) ([]string, error)
}

// chunkWriterImpl implements ChunkWriter
type chunkWriterImpl struct {
	common.Component
	source       io.ReadCloser
	remux        Remuxer
	saveInterval time.Duration
	workDir      string
	sink         SegmentSink
	// startSequence sequence number continuation for restarted captures
	startSequence int
	// keepGoing polled once per completed segment; false ends the loop cleanly
	keepGoing func() bool
}

// GetChunkWriter define a ChunkWriter for one capture session. Segment
// numbering continues from startSequence.
func GetChunkWriter(
	instance string,
	source io.ReadCloser,
	remux Remuxer,
	saveInterval time.Duration,
	workDir string,
	startSequence int,
	sink SegmentSink,
	keepGoing func() bool,
) (ChunkWriter, error) {
	logTags := log.Fields{
		"module":    "capture",
		"component": "chunk-writer",
		"instance":  instance,
	}
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to create %s", workDir)
		return nil, err
	}
	return &chunkWriterImpl{
		Component:     common.Component{LogTags: logTags},
		source:        source,
		remux:         remux,
		saveInterval:  saveInterval,
		workDir:       workDir,
		sink:          sink,
		startSequence: startSequence,
		keepGoing:     keepGoing,
	}, nil
}

// Run cut segments until the session ends
func (w *chunkWriterImpl) Run(ctxt context.Context) ([]string, error) {
	defer func() {
		if err := w.source.Close(); err != nil {
			log.WithError(err).WithFields(w.LogTags).Debug("Source close failed")
		}
	}()

	// Unblock the source read on cancellation
	go func() {
		<-ctxt.Done()
		_ = w.source.Close()
	}()

	var accumulated bytes.Buffer
	readBuffer := make([]byte, 32*1024)
	segmentPaths := []string{}
	sequence := w.startSequence
	lastCut := time.Now()

	cut := func(cutCtxt context.Context) error {
		sequence++
		duration := time.Since(lastCut)
		segmentPath := filepath.Join(w.workDir, fmt.Sprintf("seg_%05d.mp4", sequence))
		if err := w.remux.Repackage(cutCtxt, accumulated.Bytes(), segmentPath); err != nil {
			return common.NewError(common.KindFatal, "segment repackage failed", err)
		}
		payload, err := os.ReadFile(segmentPath)
		if err != nil {
			return common.NewError(common.KindFatal, "segment readback failed", err)
		}
		if err := w.sink(Segment{
			SequenceNumber: sequence,
			Path:           segmentPath,
			Payload:        payload,
			Duration:       duration,
		}); err != nil {
			return common.NewError(common.KindFatal, "segment emit failed", err)
		}
		segmentPaths = append(segmentPaths, segmentPath)
		accumulated.Reset()
		lastCut = time.Now()
		if telemetry.SegmentsCut != nil {
			telemetry.SegmentsCut.Inc()
		}
		log.WithFields(w.LogTags).Debugf(
			"Finalized segment %d covering %s", sequence, duration,
		)
		return nil
	}

	for {
		readCount, readErr := w.source.Read(readBuffer)
		if readCount > 0 {
			accumulated.Write(readBuffer[:readCount])
		}
		if readErr != nil {
			// Finalize whatever is buffered before reporting. The session
			// context is already cancelled on a deliberate stop, so the
			// trailing cut runs under its own bounded context.
			if accumulated.Len() > 0 {
				cutCtxt, cutCancel := context.WithTimeout(
					context.Background(), trailingCutBound,
				)
				if err := cut(cutCtxt); err != nil {
					log.WithError(err).WithFields(w.LogTags).Error(
						"Unable to finalize trailing segment",
					)
				}
				cutCancel()
			}
			if ctxt.Err() != nil {
				// Deliberate cancellation
				return segmentPaths, nil
			}
			if errors.Is(readErr, io.EOF) {
				log.WithFields(w.LogTags).Info("Source stream ended")
				return segmentPaths, common.NewError(
					common.KindTransportDisconnect, "source stream ended", readErr,
				)
			}
			log.WithError(readErr).WithFields(w.LogTags).Error("Source read failed")
			return segmentPaths, common.NewError(
				common.KindTransportDisconnect, "source read failed", readErr,
			)
		}

		if time.Since(lastCut) < w.saveInterval {
			continue
		}
		if err := cut(ctxt); err != nil {
			return segmentPaths, err
		}
		// Exit condition is checked once per completed segment, never
		// mid-buffer
		if !w.keepGoing() {
			log.WithFields(w.LogTags).Info("Session no longer active, stopping cuts")
			return segmentPaths, nil
		}
	}
}
