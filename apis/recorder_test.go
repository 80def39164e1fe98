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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/goldiusleonard/livecap/capture"
	"github.com/goldiusleonard/livecap/common"
	"github.com/goldiusleonard/livecap/core"
	"github.com/goldiusleonard/livecap/session"
	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

// fakeController scripted session.Controller
type fakeController struct {
	lock             sync.Mutex
	startRequest     session.StartRequest
	startResult      *session.ActiveCapture
	startErr         error
	stopRequester    string
	stopSubject      string
	stopOutcome      session.StopOutcome
	stopErr          error
	statusReport     session.StatusReport
	statusErr        error
	removeAllCalls   int
	removeAllOutcome session.RemoveAllOutcome
	removeAllErr     error
}

func (c *fakeController) StartListener(_ *sync.WaitGroup, _ context.Context) error {
	return nil
}

func (c *fakeController) Start(
	_ context.Context, request session.StartRequest,
) (*session.ActiveCapture, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.startRequest = request
	return c.startResult, c.startErr
}

func (c *fakeController) Stop(
	_ context.Context, requesterID, subjectID string,
) (session.StopOutcome, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.stopRequester = requesterID
	c.stopSubject = subjectID
	return c.stopOutcome, c.stopErr
}

func (c *fakeController) Status(
	_ context.Context, _ string,
) (session.StatusReport, error) {
	return c.statusReport, c.statusErr
}

func (c *fakeController) RemoveAll(_ context.Context) (session.RemoveAllOutcome, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.removeAllCalls++
	return c.removeAllOutcome, c.removeAllErr
}

func defineTestRestNatsClient(t *testing.T) *core.NatsClient {
	assert := assert.New(t)
	client, err := core.GetNatsClient(core.NATSConnectParams{
		ServerURI:            common.GetUnitTestNatsURI(),
		ConnectTimeout:       time.Second,
		MaxReconnectAttempt:  0,
		ReconnectWait:        time.Second,
		OnDisconnectCallback: func(_ *nats.Conn, _ error) {},
		OnReconnectCallback:  func(_ *nats.Conn) {},
		OnCloseCallback:      func(_ *nats.Conn) {},
	})
	assert.Nil(err)
	return &client
}

func defineTestRecorderRouter(
	t *testing.T,
	ctxt context.Context,
	natsClient *core.NatsClient,
	videoCtrl, commentCtrl session.Controller,
) *mux.Router {
	assert := assert.New(t)
	httpConfig := common.HTTPConfig{
		Logging: common.HTTPRequestLogging{RequestIDHeader: "Livecap-Request-ID"},
	}
	handler, err := GetAPIRestRecorderHandler(ctxt, natsClient, &httpConfig, videoCtrl, commentCtrl)
	assert.Nil(err)

	router := mux.NewRouter()
	v1Router := RegisterPathPrefix(router, "/v1", nil)
	videoRouter := RegisterPathPrefix(v1Router, "/video/{subjectID}", map[string]http.HandlerFunc{
		"get":    handler.StartVideoCaptureHandler(),
		"delete": handler.StopVideoCaptureHandler(),
	})
	_ = videoRouter
	_ = RegisterPathPrefix(v1Router, "/comments/{subjectID}", map[string]http.HandlerFunc{
		"get":    handler.StartCommentCaptureHandler(),
		"delete": handler.StopCommentCaptureHandler(),
	})
	_ = RegisterPathPrefix(v1Router, "/sessions", map[string]http.HandlerFunc{
		"delete": handler.RemoveAllSessionsHandler(),
	})
	_ = RegisterPathPrefix(v1Router, "/status/{subjectID}", map[string]http.HandlerFunc{
		"get": handler.SubjectStatusHandler(),
	})
	_ = RegisterPathPrefix(router, "/alive", map[string]http.HandlerFunc{
		"get": handler.AliveHandler(),
	})
	_ = RegisterPathPrefix(router, "/ready", map[string]http.HandlerFunc{
		"get": handler.ReadyHandler(),
	})
	return router
}

func TestRecorderStopEndpoint(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	natsClient := defineTestRestNatsClient(t)
	defer natsClient.Close(utCtxt)
	videoCtrl := &fakeController{}
	commentCtrl := &fakeController{}
	router := defineTestRecorderRouter(t, utCtxt, natsClient, videoCtrl, commentCtrl)

	type testCase struct {
		outcome  session.StopOutcome
		respCode int
		success  bool
	}
	cases := []testCase{
		{outcome: session.StopOutcomeStopped, respCode: http.StatusOK, success: true},
		{outcome: session.StopOutcomeNotFound, respCode: http.StatusNotFound, success: false},
		{outcome: session.StopOutcomeTimeout, respCode: http.StatusGatewayTimeout, success: false},
	}
	for _, oneCase := range cases {
		videoCtrl.stopOutcome = oneCase.outcome
		req, err := http.NewRequest(
			"DELETE", "/v1/video/subject-0?requester=requester-0", nil,
		)
		assert.Nil(err)
		respRecorder := httptest.NewRecorder()
		router.ServeHTTP(respRecorder, req)
		assert.Equal(oneCase.respCode, respRecorder.Code)
		var resp APIRestRespStopResult
		assert.Nil(json.Unmarshal(respRecorder.Body.Bytes(), &resp))
		assert.Equal(oneCase.success, resp.Success)
		assert.Equal(string(oneCase.outcome), resp.Outcome)
		assert.Equal("requester-0", videoCtrl.stopRequester)
		assert.Equal("subject-0", videoCtrl.stopSubject)
	}

	// The comment route stops through the comment controller
	commentCtrl.stopOutcome = session.StopOutcomeStopped
	req, err := http.NewRequest(
		"DELETE", "/v1/comments/subject-1?requester=requester-1", nil,
	)
	assert.Nil(err)
	respRecorder := httptest.NewRecorder()
	router.ServeHTTP(respRecorder, req)
	assert.Equal(http.StatusOK, respRecorder.Code)
	assert.Equal("subject-1", commentCtrl.stopSubject)
	assert.Equal("subject-0", videoCtrl.stopSubject)

	// Requester is mandatory
	req, err = http.NewRequest("DELETE", "/v1/video/subject-0", nil)
	assert.Nil(err)
	respRecorder = httptest.NewRecorder()
	router.ServeHTTP(respRecorder, req)
	assert.Equal(http.StatusBadRequest, respRecorder.Code)

	// A transport-level stop failure reads as an internal error
	videoCtrl.stopErr = fmt.Errorf("dummy error")
	req, err = http.NewRequest("DELETE", "/v1/video/subject-0?requester=requester-0", nil)
	assert.Nil(err)
	respRecorder = httptest.NewRecorder()
	router.ServeHTTP(respRecorder, req)
	assert.Equal(http.StatusInternalServerError, respRecorder.Code)
}

func TestRecorderRemoveAllEndpoint(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	natsClient := defineTestRestNatsClient(t)
	defer natsClient.Close(utCtxt)
	videoCtrl := &fakeController{}
	commentCtrl := &fakeController{}
	router := defineTestRecorderRouter(t, utCtxt, natsClient, videoCtrl, commentCtrl)

	// The kind query is mandatory and closed
	for _, kindParam := range []string{"", "?kind=everything"} {
		req, err := http.NewRequest("DELETE", fmt.Sprintf("/v1/sessions%s", kindParam), nil)
		assert.Nil(err)
		respRecorder := httptest.NewRecorder()
		router.ServeHTTP(respRecorder, req)
		assert.Equal(http.StatusBadRequest, respRecorder.Code)
	}
	assert.Equal(0, videoCtrl.removeAllCalls)
	assert.Equal(0, commentCtrl.removeAllCalls)

	type testCase struct {
		outcome  session.RemoveAllOutcome
		respCode int
	}
	cases := []testCase{
		{outcome: session.RemoveAllOutcomeRemoved, respCode: http.StatusOK},
		{outcome: session.RemoveAllOutcomePartialFailure, respCode: http.StatusInternalServerError},
		{outcome: session.RemoveAllOutcomeTimeout, respCode: http.StatusGatewayTimeout},
	}
	for _, oneCase := range cases {
		commentCtrl.removeAllOutcome = oneCase.outcome
		req, err := http.NewRequest("DELETE", "/v1/sessions?kind=comments", nil)
		assert.Nil(err)
		respRecorder := httptest.NewRecorder()
		router.ServeHTTP(respRecorder, req)
		assert.Equal(oneCase.respCode, respRecorder.Code)
		var resp APIRestRespPurgeResult
		assert.Nil(json.Unmarshal(respRecorder.Body.Bytes(), &resp))
		assert.Equal(string(oneCase.outcome), resp.Outcome)
	}
	assert.Equal(3, commentCtrl.removeAllCalls)
	assert.Equal(0, videoCtrl.removeAllCalls)
}

func TestRecorderStatusEndpoint(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	natsClient := defineTestRestNatsClient(t)
	defer natsClient.Close(utCtxt)
	videoCtrl := &fakeController{
		statusReport: session.StatusReport{Alive: true, RoomID: "room-0"},
	}
	router := defineTestRecorderRouter(t, utCtxt, natsClient, videoCtrl, &fakeController{})

	req, err := http.NewRequest("GET", "/v1/status/subject-0", nil)
	assert.Nil(err)
	respRecorder := httptest.NewRecorder()
	router.ServeHTTP(respRecorder, req)
	assert.Equal(http.StatusOK, respRecorder.Code)
	var resp APIRestRespSubjectStatus
	assert.Nil(json.Unmarshal(respRecorder.Body.Bytes(), &resp))
	assert.True(resp.Success)
	assert.True(resp.Alive)
	assert.Equal("room-0", resp.RoomID)

	// Unknown subjects surface as 404
	videoCtrl.statusErr = common.NewError(common.KindRoomNotFound, "no room", nil)
	req, err = http.NewRequest("GET", "/v1/status/subject-1", nil)
	assert.Nil(err)
	respRecorder = httptest.NewRecorder()
	router.ServeHTTP(respRecorder, req)
	assert.Equal(http.StatusNotFound, respRecorder.Code)

	// Upstream outages surface as 502
	videoCtrl.statusErr = common.NewError(common.KindUpstreamUnavailable, "api down", nil)
	req, err = http.NewRequest("GET", "/v1/status/subject-1", nil)
	assert.Nil(err)
	respRecorder = httptest.NewRecorder()
	router.ServeHTTP(respRecorder, req)
	assert.Equal(http.StatusBadGateway, respRecorder.Code)
}

func TestRecorderHealthEndpoints(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	natsClient := defineTestRestNatsClient(t)
	defer natsClient.Close(utCtxt)
	router := defineTestRecorderRouter(
		t, utCtxt, natsClient, &fakeController{}, &fakeController{},
	)

	req, err := http.NewRequest("GET", "/alive", nil)
	assert.Nil(err)
	respRecorder := httptest.NewRecorder()
	router.ServeHTTP(respRecorder, req)
	assert.Equal(http.StatusOK, respRecorder.Code)

	req, err = http.NewRequest("GET", "/ready", nil)
	assert.Nil(err)
	respRecorder = httptest.NewRecorder()
	router.ServeHTTP(respRecorder, req)
	assert.Equal(http.StatusOK, respRecorder.Code)
}

func TestRecorderStartCaptureStream(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	natsClient := defineTestRestNatsClient(t)
	defer natsClient.Close(utCtxt)

	// Scripted session: two comment events, the trailer, then a clean end
	output := make(chan capture.OutputItem, 4)
	output <- capture.OutputItem{Payload: []byte(`{"author":"user-0","text":"hello"}`)}
	output <- capture.OutputItem{Payload: []byte(`{"author":"user-1","text":"hi"}`)}
	output <- capture.OutputItem{Payload: []byte(`{"segment_count":0}`), Trailer: true}
	close(output)
	result := make(chan error, 1)
	result <- nil
	commentCtrl := &fakeController{
		startResult: &session.ActiveCapture{Output: output, Result: result},
	}
	router := defineTestRecorderRouter(
		t, utCtxt, natsClient, &fakeController{}, commentCtrl,
	)

	req, err := http.NewRequest(
		"GET", "/v1/comments/subject-0?requester=requester-0&save_interval=30", nil,
	)
	assert.Nil(err)
	respRecorder := httptest.NewRecorder()
	router.ServeHTTP(respRecorder, req)
	assert.Equal(http.StatusOK, respRecorder.Code)
	assert.Equal("application/x-ndjson", respRecorder.Header().Get("Content-Type"))

	// The events arrive newline delimited and in order
	body := respRecorder.Body.String()
	lines := strings.Split(body, "\n")
	assert.GreaterOrEqual(len(lines), 3)
	assert.Equal(`{"author":"user-0","text":"hello"}`, lines[0])
	assert.Equal(`{"author":"user-1","text":"hi"}`, lines[1])
	assert.Equal(`{"segment_count":0}`, lines[2])

	// The start carried the parsed parameters through
	assert.Equal("requester-0", commentCtrl.startRequest.RequesterID)
	assert.Equal("subject-0", commentCtrl.startRequest.SubjectID)
	assert.Equal(time.Second*30, commentCtrl.startRequest.SaveInterval)
}

func TestRecorderStartCaptureRejections(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	natsClient := defineTestRestNatsClient(t)
	defer natsClient.Close(utCtxt)
	videoCtrl := &fakeController{}
	router := defineTestRecorderRouter(
		t, utCtxt, natsClient, videoCtrl, &fakeController{},
	)

	// Case 0: missing requester
	req, err := http.NewRequest("GET", "/v1/video/subject-0", nil)
	assert.Nil(err)
	respRecorder := httptest.NewRecorder()
	router.ServeHTTP(respRecorder, req)
	assert.Equal(http.StatusBadRequest, respRecorder.Code)

	// Case 1: malformed save_interval
	for _, param := range []string{"fast", "0", "-5"} {
		req, err := http.NewRequest(
			"GET", fmt.Sprintf("/v1/video/subject-0?requester=requester-0&save_interval=%s", param), nil,
		)
		assert.Nil(err)
		respRecorder := httptest.NewRecorder()
		router.ServeHTTP(respRecorder, req)
		assert.Equal(http.StatusBadRequest, respRecorder.Code)
	}

	// Case 2: controller rejections map onto protocol codes
	type testCase struct {
		startErr error
		respCode int
	}
	cases := []testCase{
		{
			startErr: common.NewError(common.KindDuplicateSession, "already active", nil),
			respCode: http.StatusConflict,
		},
		{
			startErr: common.NewError(common.KindNotLive, "not live", nil),
			respCode: http.StatusGone,
		},
		{
			startErr: common.NewError(common.KindRegionBlocked, "blocked", nil),
			respCode: http.StatusUnavailableForLegalReasons,
		},
		{
			startErr: common.NewError(common.KindRoomNotFound, "no room", nil),
			respCode: http.StatusNotFound,
		},
	}
	for _, oneCase := range cases {
		videoCtrl.startErr = oneCase.startErr
		req, err := http.NewRequest("GET", "/v1/video/subject-0?requester=requester-0", nil)
		assert.Nil(err)
		respRecorder := httptest.NewRecorder()
		router.ServeHTTP(respRecorder, req)
		assert.Equal(oneCase.respCode, respRecorder.Code)
	}
}
