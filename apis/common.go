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

// Package apis implements the recorder REST API
package apis

import (
	"net/http"

	"github.com/apex/log"
	"github.com/goldiusleonard/livecap/common"
	"github.com/gorilla/mux"
)

// MethodHandlers DICT of method-endpoint handler
type MethodHandlers map[string]http.HandlerFunc

// RegisterPathPrefix Register new method handler for an end-point
func RegisterPathPrefix(
	parentRouter *mux.Router, pathPrefix string, methodHandlers MethodHandlers,
) *mux.Router {
	router := parentRouter.PathPrefix(pathPrefix).Subrouter()
	for method, handler := range methodHandlers {
		router.Methods(method).Path("").HandlerFunc(handler)
	}
	return router
}

// ========================================================================================

// RestAccessLogWrapper adapts the request access log to the application logger
type RestAccessLogWrapper struct {
	common.Component
}

// Write logging support
func (w RestAccessLogWrapper) Write(p []byte) (n int, err error) {
	log.WithFields(w.LogTags).Infof("%s", p)
	return len(p), nil
}

// ErrorRespCode map a recorder error to its REST status code
func ErrorRespCode(err error) int {
	switch common.KindOf(err) {
	case common.KindValidation:
		return http.StatusBadRequest
	case common.KindDuplicateSession:
		return http.StatusConflict
	case common.KindRoomNotFound:
		return http.StatusNotFound
	case common.KindNotLive:
		return http.StatusGone
	case common.KindRegionBlocked:
		return http.StatusUnavailableForLegalReasons
	case common.KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
