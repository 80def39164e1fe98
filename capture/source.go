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

// Package capture implements the media and comment capture pipelines
package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/apex/log"
	"github.com/goldiusleonard/livecap/common"
)

// StreamSource opens the raw byte stream of a live broadcast
type StreamSource interface {
	// Open begin reading the broadcast at streamURL. The returned reader
	// delivers the stream until disconnect or close.
	Open(ctxt context.Context, streamURL string) (io.ReadCloser, error)
}

// httpStreamSourceImpl implements StreamSource over an HTTP chunked response
type httpStreamSourceImpl struct {
	common.Component
	client *http.Client
}

// GetHTTPStreamSource define a StreamSource reading HTTP chunked broadcasts
func GetHTTPStreamSource() StreamSource {
	logTags := log.Fields{
		"module":    "capture",
		"component": "http-stream-source",
	}
	// No client timeout. The stream is long-lived; cancellation comes from
	// the request context.
	return &httpStreamSourceImpl{
		Component: common.Component{LogTags: logTags},
		client:    &http.Client{},
	}
}

// Open begin reading the broadcast
func (s *httpStreamSourceImpl) Open(
	ctxt context.Context, streamURL string,
) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctxt, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, common.NewError(
			common.KindTransportDisconnect, "unable to open stream", err,
		)
	}
	if resp.StatusCode != http.StatusOK {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).WithFields(s.LogTags).Warn("Failed to close response body")
		}
		return nil, common.NewError(
			common.KindTransportDisconnect,
			fmt.Sprintf("stream returned %d", resp.StatusCode),
			nil,
		)
	}
	log.WithFields(s.LogTags).Infof("Opened stream %s", streamURL)
	return resp.Body, nil
}
