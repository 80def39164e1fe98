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

// Package platform provides the narrow client of the upstream live platform
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/apex/log"
	"github.com/goldiusleonard/livecap/common"
)

// Resolver upstream collaborator resolving broadcast metadata
type Resolver interface {
	// ResolveRoom resolve the broadcast room of a subject
	ResolveRoom(ctxt context.Context, subjectID string) (string, error)
	// IsLive whether a room is currently broadcasting
	IsLive(ctxt context.Context, roomID string) (bool, error)
	// GetStreamURL fetch the live stream URL of a room
	GetStreamURL(ctxt context.Context, roomID string) (string, error)
	// IsRegionBlocked whether the subject's broadcast is blocked in this region
	IsRegionBlocked(ctxt context.Context, subjectID string) (bool, error)
}

// restResolverImpl implements Resolver against the platform HTTP API
type restResolverImpl struct {
	common.Component
	baseURL string
	client  *http.Client
}

// GetRestResolver define a Resolver hitting the platform API at baseURL
func GetRestResolver(baseURL string, requestTimeout time.Duration) (Resolver, error) {
	logTags := log.Fields{
		"module":    "platform",
		"component": "rest-resolver",
		"instance":  baseURL,
	}
	if _, err := url.Parse(baseURL); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid platform API base URL")
		return nil, err
	}
	return &restResolverImpl{
		Component: common.Component{LogTags: logTags},
		baseURL:   baseURL,
		client:    &http.Client{Timeout: requestTimeout},
	}, nil
}

// fetchJSON perform one GET and decode the JSON body into result
func (r *restResolverImpl) fetchJSON(
	ctxt context.Context, path string, result interface{},
) error {
	target := fmt.Sprintf("%s%s", r.baseURL, path)
	req, err := http.NewRequestWithContext(ctxt, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return common.NewError(
			common.KindUpstreamUnavailable, fmt.Sprintf("GET %s failed", path), err,
		)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).WithFields(r.LogTags).Warn("Failed to close response body")
		}
	}()
	if resp.StatusCode == http.StatusNotFound {
		return common.NewError(
			common.KindRoomNotFound, fmt.Sprintf("GET %s returned 404", path), nil,
		)
	}
	if resp.StatusCode != http.StatusOK {
		return common.NewError(
			common.KindUpstreamUnavailable,
			fmt.Sprintf("GET %s returned %d", path, resp.StatusCode),
			nil,
		)
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

// ResolveRoom resolve the broadcast room of a subject
func (r *restResolverImpl) ResolveRoom(
	ctxt context.Context, subjectID string,
) (string, error) {
	var body struct {
		RoomID string `json:"room_id"`
	}
	path := fmt.Sprintf("/v1/subject/%s/room", url.PathEscape(subjectID))
	if err := r.fetchJSON(ctxt, path, &body); err != nil {
		return "", err
	}
	if body.RoomID == "" {
		return "", common.NewError(
			common.KindRoomNotFound, fmt.Sprintf("no room for subject %s", subjectID), nil,
		)
	}
	return body.RoomID, nil
}

// IsLive whether a room is currently broadcasting
func (r *restResolverImpl) IsLive(ctxt context.Context, roomID string) (bool, error) {
	var body struct {
		Alive bool `json:"alive"`
	}
	path := fmt.Sprintf("/v1/room/%s/live", url.PathEscape(roomID))
	if err := r.fetchJSON(ctxt, path, &body); err != nil {
		return false, err
	}
	return body.Alive, nil
}

// GetStreamURL fetch the live stream URL of a room
func (r *restResolverImpl) GetStreamURL(
	ctxt context.Context, roomID string,
) (string, error) {
	var body struct {
		URL string `json:"url"`
	}
	path := fmt.Sprintf("/v1/room/%s/stream", url.PathEscape(roomID))
	if err := r.fetchJSON(ctxt, path, &body); err != nil {
		return "", err
	}
	if body.URL == "" {
		return "", common.NewError(
			common.KindUpstreamUnavailable,
			fmt.Sprintf("no stream URL for room %s", roomID),
			nil,
		)
	}
	return body.URL, nil
}

// IsRegionBlocked whether the subject's broadcast is blocked in this region
func (r *restResolverImpl) IsRegionBlocked(
	ctxt context.Context, subjectID string,
) (bool, error) {
	var body struct {
		Blocked bool `json:"blocked"`
	}
	path := fmt.Sprintf("/v1/subject/%s/region-block", url.PathEscape(subjectID))
	if err := r.fetchJSON(ctxt, path, &body); err != nil {
		return false, err
	}
	return body.Blocked, nil
}
