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
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/goldiusleonard/livecap/common"
)

// Remuxer repackages captured media without transcoding
type Remuxer interface {
	// Repackage write raw captured bytes as one standalone MP4 segment,
	// copy codec
	Repackage(ctxt context.Context, raw []byte, outputPath string) error
	// Concat stream-copy ordered segments into one artifact
	Concat(ctxt context.Context, segmentPaths []string, outputPath string) error
}

// ffmpegRemuxerImpl implements Remuxer by shelling out to ffmpeg
type ffmpegRemuxerImpl struct {
	common.Component
	ffmpegPath string
}

// GetFFmpegRemuxer define a Remuxer around the ffmpeg binary
func GetFFmpegRemuxer(ffmpegPath string) (Remuxer, error) {
	logTags := log.Fields{
		"module":    "capture",
		"component": "ffmpeg-remuxer",
		"instance":  ffmpegPath,
	}
	if output, err := exec.Command(ffmpegPath, "-version").Output(); err != nil {
		log.WithError(err).WithFields(logTags).Error("ffmpeg not available")
		return nil, fmt.Errorf("ffmpeg not found at %s", ffmpegPath)
	} else if !strings.Contains(string(output), "ffmpeg version") {
		return nil, fmt.Errorf("%s is not ffmpeg", ffmpegPath)
	}
	return &ffmpegRemuxerImpl{
		Component:  common.Component{LogTags: logTags},
		ffmpegPath: ffmpegPath,
	}, nil
}

// Repackage write raw captured bytes as one MP4 segment
func (f *ffmpegRemuxerImpl) Repackage(
	ctxt context.Context, raw []byte, outputPath string,
) error {
	cmd := exec.CommandContext(
		ctxt,
		f.ffmpegPath,
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", "pipe:0",
		"-c", "copy",
		"-movflags", "+frag_keyframe+empty_moov",
		"-f", "mp4",
		outputPath,
	)
	cmd.Stdin = bytes.NewReader(raw)
	if output, err := cmd.CombinedOutput(); err != nil {
		log.WithError(err).WithFields(f.LogTags).Errorf(
			"Repackage into %s failed: %s", outputPath, strings.TrimSpace(string(output)),
		)
		return fmt.Errorf("ffmpeg repackage failed: %w", err)
	}
	log.WithFields(f.LogTags).Debugf("Repackaged %dB into %s", len(raw), outputPath)
	return nil
}

// Concat stream-copy ordered segments into one artifact
func (f *ffmpegRemuxerImpl) Concat(
	ctxt context.Context, segmentPaths []string, outputPath string,
) error {
	if len(segmentPaths) == 0 {
		return fmt.Errorf("no segments to concatenate")
	}

	// ffmpeg concat demuxer wants a list file
	var list strings.Builder
	for _, segment := range segmentPaths {
		fmt.Fprintf(&list, "file '%s'\n", segment)
	}
	listPath := filepath.Join(filepath.Dir(outputPath), "segments.txt")
	if err := os.WriteFile(listPath, []byte(list.String()), 0o600); err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(listPath); err != nil {
			log.WithError(err).WithFields(f.LogTags).Debugf("Unable to remove %s", listPath)
		}
	}()

	cmd := exec.CommandContext(
		ctxt,
		f.ffmpegPath,
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outputPath,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		log.WithError(err).WithFields(f.LogTags).Errorf(
			"Concat into %s failed: %s", outputPath, strings.TrimSpace(string(output)),
		)
		return fmt.Errorf("ffmpeg concat failed: %w", err)
	}
	log.WithFields(f.LogTags).Infof(
		"Concatenated %d segments into %s", len(segmentPaths), outputPath,
	)
	return nil
}
