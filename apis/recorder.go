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

package apis

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/goldiusleonard/livecap/common"
	"github.com/goldiusleonard/livecap/core"
	"github.com/goldiusleonard/livecap/registry"
	"github.com/goldiusleonard/livecap/session"
	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
)

// stopOnDetachBound wait limit on the stop issued when a streaming caller
// disconnects
const stopOnDetachBound = time.Second * 20

// APIRestRecorderHandler REST handler for the live session recorder
type APIRestRecorderHandler struct {
	goutils.RestAPIHandler
	natsClient  *core.NatsClient
	videoCtrl   session.Controller
	commentCtrl session.Controller
	validate    *validator.Validate
	baseContext context.Context
}

// GetAPIRestRecorderHandler define APIRestRecorderHandler
func GetAPIRestRecorderHandler(
	baseContext context.Context,
	client *core.NatsClient,
	httpConfig *common.HTTPConfig,
	videoCtrl session.Controller,
	commentCtrl session.Controller,
) (APIRestRecorderHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "recorder",
	}
	return APIRestRecorderHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range httpConfig.Logging.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		},
		natsClient:  client,
		videoCtrl:   videoCtrl,
		commentCtrl: commentCtrl,
		validate:    validator.New(),
		baseContext: baseContext,
	}, nil
}

// controllerOfKind pick the controller serving one session kind
func (h APIRestRecorderHandler) controllerOfKind(kind registry.Kind) session.Controller {
	if kind == registry.KindComments {
		return h.commentCtrl
	}
	return h.videoCtrl
}

// =======================================================================
// Capture start

// -----------------------------------------------------------------------

// StartVideoCapture godoc
// @Summary Start a video capture session
// @Description Start capturing a subject's live video broadcast. This is a long lived
// streaming response carrying finalized media segments as they are cut, closing with a
// JSON trailer once the session ends.
// @tags Recorder
// @Produce octet-stream
// @Param Livecap-Request-ID header string false "User provided request ID to match against logs"
// @Param subjectID path string true "Subject to capture"
// @Param requester query string true "Requester owning the session"
// @Param save_interval query integer false "Segment cut cadence in seconds"
// @Success 200 {string} string "media segments followed by the session trailer"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 409 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,409,500 {string} Livecap-Request-ID "Request ID to match against logs"
// @Router /v1/video/{subjectID} [get]
func (h APIRestRecorderHandler) StartVideoCapture(w http.ResponseWriter, r *http.Request) {
	h.startCapture(w, r, registry.KindVideo, "application/octet-stream", false)
}

// StartVideoCaptureHandler Wrapper around StartVideoCapture
func (h APIRestRecorderHandler) StartVideoCaptureHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.StartVideoCapture(w, r)
	}
}

// StartCommentCapture godoc
// @Summary Start a comment capture session
// @Description Start capturing a subject's live comment feed. This is a long lived
// streaming response carrying one JSON comment event per line, closing with a JSON
// trailer once the session ends.
// @tags Recorder
// @Produce json
// @Param Livecap-Request-ID header string false "User provided request ID to match against logs"
// @Param subjectID path string true "Subject to capture"
// @Param requester query string true "Requester owning the session"
// @Success 200 {string} string "comment events followed by the session trailer"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 409 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,409,500 {string} Livecap-Request-ID "Request ID to match against logs"
// @Router /v1/comments/{subjectID} [get]
func (h APIRestRecorderHandler) StartCommentCapture(w http.ResponseWriter, r *http.Request) {
	h.startCapture(w, r, registry.KindComments, "application/x-ndjson", true)
}

// StartCommentCaptureHandler Wrapper around StartCommentCapture
func (h APIRestRecorderHandler) StartCommentCaptureHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.StartCommentCapture(w, r)
	}
}

// startCapture shared start-and-stream flow of both capture kinds
func (h APIRestRecorderHandler) startCapture(
	w http.ResponseWriter,
	r *http.Request,
	kind registry.Kind,
	contentType string,
	delimitItems bool,
) {
	localLogTagsInitial := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTagsInitial).Error("Failed to form response")
		}
	}()

	// Send support headers for streaming first
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Type", contentType)

	// --------------------------------------------------------------------------
	// Read operation parameters
	vars := mux.Vars(r)
	subjectID, ok := vars["subjectID"]
	if !ok {
		msg := "No subject ID provided"
		log.WithFields(localLogTagsInitial).Errorf(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	requestQueries := r.URL.Query()
	var requesterID string
	{
		t, ok := requestQueries["requester"]
		if !ok || len(t) != 1 {
			msg := "Missing requester / Multiple requesters"
			log.WithFields(localLogTagsInitial).Errorf(msg)
			respCode = http.StatusBadRequest
			respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
			return
		}
		requesterID = t[0]
	}
	saveInterval := time.Duration(0)
	{
		t, ok := requestQueries["save_interval"]
		if ok {
			if len(t) != 1 {
				msg := "Multiple save_interval"
				log.WithFields(localLogTagsInitial).Errorf(msg)
				respCode = http.StatusBadRequest
				respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
				return
			}
			p, err := strconv.Atoi(t[0])
			if err != nil || p < 1 {
				msg := "Unable to parse save_interval"
				log.WithError(err).WithFields(localLogTagsInitial).Errorf(msg)
				respCode = http.StatusBadRequest
				respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
				return
			}
			saveInterval = time.Second * time.Duration(p)
		}
	}

	// --------------------------------------------------------------------------
	// Start operation

	logTags := localLogTagsInitial
	logTags["kind"] = string(kind)
	logTags["subject"] = subjectID
	logTags["requester"] = requesterID

	writeFlusher, ok := w.(http.Flusher)
	if !ok {
		msg := "Streaming not supported"
		log.WithFields(logTags).Errorf(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, msg)
		return
	}

	ctrl := h.controllerOfKind(kind)
	active, err := ctrl.Start(r.Context(), session.StartRequest{
		RequesterID:  requesterID,
		SubjectID:    subjectID,
		SaveInterval: saveInterval,
	})
	if err != nil {
		msg := "Unable to start capture"
		log.WithError(err).WithFields(logTags).Errorf(msg)
		respCode = ErrorRespCode(err)
		respBody = h.GetStdRESTErrorMsg(r.Context(), respCode, msg, err.Error())
		return
	}

	// Relay capture output until the session ends
	complete := false
	for !complete {
		select {
		case <-h.baseContext.Done():
			// Server stopping. The root context tears the session down.
			complete = true
			log.WithFields(logTags).Info("Terminating capture stream on server stop")
			msg := "Server stopping"
			respCode = http.StatusInternalServerError
			respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, msg)
		case <-r.Context().Done():
			// Caller went away; the capture must not outlive its stream
			complete = true
			log.WithFields(logTags).Info("Terminating capture on caller disconnect")
			stopCtxt, stopCancel := context.WithTimeout(context.Background(), stopOnDetachBound)
			if _, err := ctrl.Stop(stopCtxt, requesterID, subjectID); err != nil {
				log.WithError(err).WithFields(logTags).Error("Stop on caller disconnect failed")
			}
			stopCancel()
			respCode = http.StatusOK
			respBody = h.GetStdRESTSuccessMsg(r.Context())
		case item, ok := <-active.Output:
			if !ok {
				// Output closed, terminal status already delivered
				complete = true
				if runErr := <-active.Result; runErr != nil {
					msg := "Capture session failed"
					respCode = http.StatusInternalServerError
					respBody = h.GetStdRESTErrorMsg(
						r.Context(), http.StatusInternalServerError, msg, runErr.Error(),
					)
				} else {
					respCode = http.StatusOK
					respBody = h.GetStdRESTSuccessMsg(r.Context())
				}
				break
			}
			written, err := w.Write(item.Payload)
			if err == nil && delimitItems {
				_, err = fmt.Fprintf(w, "\n")
			}
			writeFlusher.Flush()
			if err != nil {
				complete = true
				msg := "Failed to transmit capture output"
				log.WithError(err).WithFields(logTags).Errorf(msg)
				respCode = http.StatusInternalServerError
				respBody = h.GetStdRESTErrorMsg(
					r.Context(), http.StatusInternalServerError, msg, err.Error(),
				)
				break
			}
			log.WithFields(logTags).Debugf("Relayed %dB", written)
		}
	}
	// On final flush
	writeFlusher.Flush()
}

// =======================================================================
// Capture stop

// -----------------------------------------------------------------------

// APIRestRespStopResult response of a stop request
type APIRestRespStopResult struct {
	goutils.RestAPIBaseResponse
	// Outcome terminal result of the stop
	Outcome string `json:"outcome"`
}

// StopVideoCapture godoc
// @Summary Stop a video capture session
// @Description Stop a video capture session wherever in the cluster it runs
// @tags Recorder
// @Produce json
// @Param Livecap-Request-ID header string false "User provided request ID to match against logs"
// @Param subjectID path string true "Subject of the session"
// @Param requester query string true "Requester owning the session"
// @Success 200 {object} APIRestRespStopResult "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {object} APIRestRespStopResult "error"
// @Failure 504 {object} APIRestRespStopResult "error"
// @Header 200,400,404,504 {string} Livecap-Request-ID "Request ID to match against logs"
// @Router /v1/video/{subjectID} [delete]
func (h APIRestRecorderHandler) StopVideoCapture(w http.ResponseWriter, r *http.Request) {
	h.stopCapture(w, r, registry.KindVideo)
}

// StopVideoCaptureHandler Wrapper around StopVideoCapture
func (h APIRestRecorderHandler) StopVideoCaptureHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.StopVideoCapture(w, r)
	}
}

// StopCommentCapture godoc
// @Summary Stop a comment capture session
// @Description Stop a comment capture session wherever in the cluster it runs
// @tags Recorder
// @Produce json
// @Param Livecap-Request-ID header string false "User provided request ID to match against logs"
// @Param subjectID path string true "Subject of the session"
// @Param requester query string true "Requester owning the session"
// @Success 200 {object} APIRestRespStopResult "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {object} APIRestRespStopResult "error"
// @Failure 504 {object} APIRestRespStopResult "error"
// @Header 200,400,404,504 {string} Livecap-Request-ID "Request ID to match against logs"
// @Router /v1/comments/{subjectID} [delete]
func (h APIRestRecorderHandler) StopCommentCapture(w http.ResponseWriter, r *http.Request) {
	h.stopCapture(w, r, registry.KindComments)
}

// StopCommentCaptureHandler Wrapper around StopCommentCapture
func (h APIRestRecorderHandler) StopCommentCaptureHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.StopCommentCapture(w, r)
	}
}

// stopCapture shared stop flow of both capture kinds
func (h APIRestRecorderHandler) stopCapture(
	w http.ResponseWriter, r *http.Request, kind registry.Kind,
) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	subjectID, ok := vars["subjectID"]
	if !ok {
		msg := "No subject ID provided"
		log.WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}
	requesterID := r.URL.Query().Get("requester")
	if requesterID == "" {
		msg := "Missing requester"
		log.WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	outcome, err := h.controllerOfKind(kind).Stop(r.Context(), requesterID, subjectID)
	if err != nil {
		msg := "Unable to process stop"
		log.WithError(err).WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}
	switch outcome {
	case session.StopOutcomeStopped:
		respCode = http.StatusOK
	case session.StopOutcomeNotFound:
		respCode = http.StatusNotFound
	default:
		respCode = http.StatusGatewayTimeout
	}
	respBody = APIRestRespStopResult{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success:   outcome == session.StopOutcomeStopped,
			RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Outcome: string(outcome),
	}
}

// =======================================================================
// Cluster-wide purge

// -----------------------------------------------------------------------

// APIRestRespPurgeResult response of a cluster-wide session purge
type APIRestRespPurgeResult struct {
	goutils.RestAPIBaseResponse
	// Outcome terminal result of the purge
	Outcome string `json:"outcome"`
}

// RemoveAllSessions godoc
// @Summary Purge sessions of one kind cluster-wide
// @Description Clear the local session registry of one kind and broadcast the purge to
// all replicas
// @tags Recorder
// @Produce json
// @Param Livecap-Request-ID header string false "User provided request ID to match against logs"
// @Param kind query string true "Session kind to purge" Enums(video, comments)
// @Success 200 {object} APIRestRespPurgeResult "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} APIRestRespPurgeResult "error"
// @Failure 504 {object} APIRestRespPurgeResult "error"
// @Header 200,400,500,504 {string} Livecap-Request-ID "Request ID to match against logs"
// @Router /v1/sessions [delete]
func (h APIRestRecorderHandler) RemoveAllSessions(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	kind := registry.Kind(r.URL.Query().Get("kind"))
	if kind != registry.KindVideo && kind != registry.KindComments {
		msg := "Unknown session kind"
		log.WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	outcome, err := h.controllerOfKind(kind).RemoveAll(r.Context())
	if err != nil {
		msg := "Unable to process purge"
		log.WithError(err).WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}
	switch outcome {
	case session.RemoveAllOutcomeRemoved:
		respCode = http.StatusOK
	case session.RemoveAllOutcomePartialFailure:
		respCode = http.StatusInternalServerError
	default:
		respCode = http.StatusGatewayTimeout
	}
	respBody = APIRestRespPurgeResult{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success:   outcome == session.RemoveAllOutcomeRemoved,
			RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Outcome: string(outcome),
	}
}

// RemoveAllSessionsHandler Wrapper around RemoveAllSessions
func (h APIRestRecorderHandler) RemoveAllSessionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.RemoveAllSessions(w, r)
	}
}

// =======================================================================
// Subject status

// -----------------------------------------------------------------------

// APIRestRespSubjectStatus response of a subject status query
type APIRestRespSubjectStatus struct {
	goutils.RestAPIBaseResponse
	session.StatusReport
}

// SubjectStatus godoc
// @Summary Query a subject's broadcast status
// @Description Report whether a subject is broadcasting right now. Derived purely from
// the upstream platform, no local session state involved.
// @tags Recorder
// @Produce json
// @Param Livecap-Request-ID header string false "User provided request ID to match against logs"
// @Param subjectID path string true "Subject to query"
// @Success 200 {object} APIRestRespSubjectStatus "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Failure 502 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,404,502 {string} Livecap-Request-ID "Request ID to match against logs"
// @Router /v1/status/{subjectID} [get]
func (h APIRestRecorderHandler) SubjectStatus(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	subjectID, ok := vars["subjectID"]
	if !ok {
		msg := "No subject ID provided"
		log.WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	report, err := h.videoCtrl.Status(r.Context(), subjectID)
	if err != nil {
		msg := "Unable to query subject status"
		log.WithError(err).WithFields(localLogTags).Errorf(msg)
		respCode = ErrorRespCode(err)
		respBody = h.GetStdRESTErrorMsg(r.Context(), respCode, msg, err.Error())
		return
	}
	respCode = http.StatusOK
	respBody = APIRestRespSubjectStatus{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()),
		StatusReport:        report,
	}
}

// SubjectStatusHandler Wrapper around SubjectStatus
func (h APIRestRecorderHandler) SubjectStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.SubjectStatus(w, r)
	}
}

// =======================================================================
// Health Checks

// -----------------------------------------------------------------------

// Alive godoc
// @Summary For recorder REST API liveness check
// @Description Will return success to indicate recorder REST API module is live
// @tags Recorder
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {string} string "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /alive [get]
func (h APIRestRecorderHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestRecorderHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// -----------------------------------------------------------------------

// Ready godoc
// @Summary For recorder REST API readiness check
// @Description Will return success once the NATS connection is ready
// @tags Recorder
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {string} string "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /ready [get]
func (h APIRestRecorderHandler) Ready(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()
	if h.natsClient.NATs().Status() == nats.CONNECTED {
		respCode = http.StatusOK
		respBody = h.GetStdRESTSuccessMsg(r.Context())
	} else {
		msg := "NATS connection not ready"
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, msg)
	}
}

// ReadyHandler Wrapper around Ready
func (h APIRestRecorderHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}
