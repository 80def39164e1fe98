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

// Package session implements the per-kind session controller tying the
// registry, the capture pipelines, and the cross-replica coordination
// channel together
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/goldiusleonard/livecap/capture"
	"github.com/goldiusleonard/livecap/common"
	"github.com/goldiusleonard/livecap/coordination"
	"github.com/goldiusleonard/livecap/platform"
	"github.com/goldiusleonard/livecap/registry"
	"github.com/goldiusleonard/livecap/telemetry"
	"github.com/google/uuid"
)

const (
	// outputBuffer in-flight items tolerated on a session output stream
	outputBuffer = 16
	// outputStallBound how long a session output send may block before the
	// item is treated as undeliverable
	outputStallBound = time.Second * 5
	// finalizeBound upper limit on post-loop assembly and trailer emission
	finalizeBound = time.Minute
	// broadcastBuffer inbound coordination messages tolerated in flight
	broadcastBuffer = 64
)

// StartRequest parameters of one capture start
type StartRequest struct {
	// RequesterID id of the caller owning the capture
	RequesterID string `validate:"required"`
	// SubjectID platform-assigned id of the user to capture
	SubjectID string `validate:"required"`
	// SaveInterval segment cut cadence; the controller default applies when
	// unset
	SaveInterval time.Duration
}

// StopOutcome terminal result of a stop request
type StopOutcome string

// Stop outcomes
const (
	// StopOutcomeStopped a replica owned the session and stopped it
	StopOutcomeStopped StopOutcome = "Stopped"
	// StopOutcomeNotFound a replica saw the session but lost it to a
	// concurrent stop
	StopOutcomeNotFound StopOutcome = "NotFound"
	// StopOutcomeTimeout no replica replied within the wait bound
	StopOutcomeTimeout StopOutcome = "Timeout"
)

// RemoveAllOutcome terminal result of a cluster-wide session purge
type RemoveAllOutcome string

// Remove-all outcomes
const (
	// RemoveAllOutcomeRemoved another replica acknowledged the purge
	RemoveAllOutcomeRemoved RemoveAllOutcome = "Removed"
	// RemoveAllOutcomePartialFailure a replica reported a failed purge
	RemoveAllOutcomePartialFailure RemoveAllOutcome = "PartialFailure"
	// RemoveAllOutcomeTimeout no replica replied within the wait bound
	RemoveAllOutcomeTimeout RemoveAllOutcome = "Timeout"
)

// StatusReport point-in-time broadcast status of one subject
type StatusReport struct {
	// Alive whether the subject is broadcasting right now
	Alive bool `json:"alive"`
	// RoomID the subject's resolved broadcast room
	RoomID string `json:"room_id"`
}

// ActiveCapture handle of one running capture session
type ActiveCapture struct {
	// Session the registry entry
	Session registry.Session
	// Output per-session output stream; closed when the session ends. The
	// last item before close carries the trailer.
	Output <-chan capture.OutputItem
	// Result terminal session status, delivered exactly once
	Result <-chan error
}

// RunnerBuilder builds the capture loop of one new session
type RunnerBuilder func(
	session registry.Session,
	saveInterval time.Duration,
	active func() bool,
	sink capture.OutputSink,
) (capture.SessionRunner, error)

// Controller drives the capture sessions of one kind on this replica and
// answers coordination broadcasts from its peers
type Controller interface {
	// StartListener begin answering coordination broadcasts. Must run before
	// cross-replica stop or purge requests can complete.
	StartListener(wg *sync.WaitGroup, ctxt context.Context) error
	// Start begin one capture session
	Start(ctxt context.Context, request StartRequest) (*ActiveCapture, error)
	// Stop end one session wherever in the cluster it runs. Stops it
	// directly when owned locally, otherwise broadcasts a stop request and
	// waits for the cluster's reply up to the configured bound.
	Stop(ctxt context.Context, requesterID, subjectID string) (StopOutcome, error)
	// Status report a subject's broadcast status. Purely upstream-derived,
	// no registry state involved.
	Status(ctxt context.Context, subjectID string) (StatusReport, error)
	// RemoveAll purge this kind's sessions cluster-wide
	RemoveAll(ctxt context.Context) (RemoveAllOutcome, error)
}

// ControllerParams tunables of one session controller
type ControllerParams struct {
	// ReplyWait bound on cross-replica reply waits
	ReplyWait time.Duration `validate:"required"`
	// ResolveAttempts room resolution tries before giving up
	ResolveAttempts int `validate:"required,gte=1"`
	// ResolveRetryDelay fixed wait between room resolution tries
	ResolveRetryDelay time.Duration
	// RestartDelay fixed wait before the one supervised capture restart
	RestartDelay time.Duration `validate:"required"`
	// DefaultSaveInterval segment cut cadence when a start names none
	DefaultSaveInterval time.Duration `validate:"required"`
}

// controllerImpl implements Controller
type controllerImpl struct {
	common.Component
	kind       registry.Kind
	sessions   registry.SessionRegistry
	channel    coordination.Channel
	resolver   platform.Resolver
	build      RunnerBuilder
	supervisor ReconnectSupervisor
	params     ControllerParams
	validate   *validator.Validate
	wg         *sync.WaitGroup
	// rootContext parent of every session context; sessions outlive the
	// HTTP request that started them and die with the service
	rootContext  context.Context
	lock         *sync.Mutex
	stopWaiters  map[registry.SessionKey]map[string]chan coordination.Message
	purgeWaiters map[string]chan coordination.Message
}

// GetController define a session controller for one capture kind
func GetController(
	rootContext context.Context,
	kind registry.Kind,
	sessions registry.SessionRegistry,
	channel coordination.Channel,
	resolver platform.Resolver,
	build RunnerBuilder,
	params ControllerParams,
	wg *sync.WaitGroup,
) (Controller, error) {
	logTags := log.Fields{
		"module":    "session",
		"component": "controller",
		"kind":      string(kind),
		"topic":     channel.Topic(),
	}
	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid controller params")
		return nil, err
	}
	return &controllerImpl{
		Component:    common.Component{LogTags: logTags},
		kind:         kind,
		sessions:     sessions,
		channel:      channel,
		resolver:     resolver,
		build:        build,
		supervisor:   GetReconnectSupervisor(string(kind), params.RestartDelay),
		params:       params,
		validate:     validate,
		wg:           wg,
		rootContext:  rootContext,
		lock:         &sync.Mutex{},
		stopWaiters:  make(map[registry.SessionKey]map[string]chan coordination.Message),
		purgeWaiters: make(map[string]chan coordination.Message),
	}, nil
}

// StartListener begin answering coordination broadcasts
func (c *controllerImpl) StartListener(wg *sync.WaitGroup, ctxt context.Context) error {
	inbound, stopSubscription, err := c.channel.Subscribe(wg, ctxt, broadcastBuffer)
	if err != nil {
		log.WithError(err).WithFields(c.LogTags).Error("Unable to open coordination subscription")
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer stopSubscription()
		defer log.WithFields(c.LogTags).Info("Coordination listener exiting")
		for {
			select {
			case <-ctxt.Done():
				return
			case msg, ok := <-inbound:
				if !ok {
					return
				}
				c.handleBroadcast(ctxt, msg)
			}
		}
	}()
	return nil
}

// handleBroadcast process one inbound coordination message
func (c *controllerImpl) handleBroadcast(ctxt context.Context, msg coordination.Message) {
	switch msg.Action {
	case coordination.ActionStop:
		c.handleStopRequest(ctxt, msg)
	case coordination.ActionStopped, coordination.ActionNotFound:
		c.dispatchStopReply(msg)
	case coordination.ActionRemoveAllSessions:
		c.handlePurgeRequest(ctxt)
	case coordination.ActionRemoveAllSessionsACK, coordination.ActionRemoveAllSessionsFailed:
		c.dispatchPurgeReply(msg)
	}
}

// handleStopRequest answer a peer's stop broadcast. Only the owning replica
// replies; everyone else stays silent so an unowned session surfaces to the
// requester as a timeout.
func (c *controllerImpl) handleStopRequest(ctxt context.Context, msg coordination.Message) {
	session, present := c.sessions.Get(msg.RequesterID, msg.SubjectID)
	if !present {
		log.WithFields(c.LogTags).Debugf("Ignoring %s, session not owned here", msg.String())
		return
	}
	if c.sessions.Remove(msg.RequesterID, msg.SubjectID) {
		session.Cancel()
		_ = c.channel.Publish(ctxt, coordination.Message{
			Action:      coordination.ActionStopped,
			RequesterID: msg.RequesterID,
			SubjectID:   msg.SubjectID,
		})
		return
	}
	// Owned a moment ago, gone now. A concurrent stop won the race.
	_ = c.channel.Publish(ctxt, coordination.Message{
		Action:      coordination.ActionNotFound,
		RequesterID: msg.RequesterID,
		SubjectID:   msg.SubjectID,
	})
}

// handlePurgeRequest answer a peer's remove-all broadcast
func (c *controllerImpl) handlePurgeRequest(ctxt context.Context) {
	removed := c.sessions.Clear()
	for _, session := range removed {
		session.Cancel()
	}
	log.WithFields(c.LogTags).Infof("Purged %d sessions on remove-all broadcast", len(removed))
	_ = c.channel.Publish(ctxt, coordination.Message{
		Action: coordination.ActionRemoveAllSessionsACK,
	})
}

// dispatchStopReply fan a stop reply out to the waits targeting its session
func (c *controllerImpl) dispatchStopReply(msg coordination.Message) {
	c.lock.Lock()
	defer c.lock.Unlock()
	key := registry.SessionKey{RequesterID: msg.RequesterID, SubjectID: msg.SubjectID}
	for _, waiter := range c.stopWaiters[key] {
		select {
		case waiter <- msg:
		default:
		}
	}
}

// dispatchPurgeReply fan a purge reply out to all pending purge waits
func (c *controllerImpl) dispatchPurgeReply(msg coordination.Message) {
	c.lock.Lock()
	defer c.lock.Unlock()
	for _, waiter := range c.purgeWaiters {
		select {
		case waiter <- msg:
		default:
		}
	}
}

// addStopWaiter register one reply wait for a session key
func (c *controllerImpl) addStopWaiter(
	key registry.SessionKey,
) (string, chan coordination.Message) {
	c.lock.Lock()
	defer c.lock.Unlock()
	waiterID := uuid.NewString()
	replies := make(chan coordination.Message, 2)
	if c.stopWaiters[key] == nil {
		c.stopWaiters[key] = make(map[string]chan coordination.Message)
	}
	c.stopWaiters[key][waiterID] = replies
	return waiterID, replies
}

// removeStopWaiter unregister one reply wait
func (c *controllerImpl) removeStopWaiter(key registry.SessionKey, waiterID string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.stopWaiters[key], waiterID)
	if len(c.stopWaiters[key]) == 0 {
		delete(c.stopWaiters, key)
	}
}

// addPurgeWaiter register one purge reply wait
func (c *controllerImpl) addPurgeWaiter() (string, chan coordination.Message) {
	c.lock.Lock()
	defer c.lock.Unlock()
	waiterID := uuid.NewString()
	replies := make(chan coordination.Message, 2)
	c.purgeWaiters[waiterID] = replies
	return waiterID, replies
}

// removePurgeWaiter unregister one purge reply wait
func (c *controllerImpl) removePurgeWaiter(waiterID string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.purgeWaiters, waiterID)
}

// Start begin one capture session
func (c *controllerImpl) Start(
	ctxt context.Context, request StartRequest,
) (*ActiveCapture, error) {
	if err := c.validate.Struct(&request); err != nil {
		return nil, common.NewError(common.KindValidation, "invalid start request", err)
	}
	saveInterval := request.SaveInterval
	if saveInterval <= 0 {
		saveInterval = c.params.DefaultSaveInterval
	}
	key := registry.SessionKey{
		RequesterID: request.RequesterID, SubjectID: request.SubjectID,
	}

	// Cheapest rejection first; re-checked under the registry lock by TryAdd
	if c.sessions.Contains(request.RequesterID, request.SubjectID) {
		return nil, common.NewError(
			common.KindDuplicateSession, fmt.Sprintf("session %s already active", key), nil,
		)
	}

	blocked, err := c.resolver.IsRegionBlocked(ctxt, request.SubjectID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, common.NewError(
			common.KindRegionBlocked,
			fmt.Sprintf("subject %s is region blocked", request.SubjectID),
			nil,
		)
	}

	var roomID string
	if err := common.Attempt(
		ctxt, c.params.ResolveAttempts, c.params.ResolveRetryDelay, c.LogTags,
		func() error {
			fetched, err := c.resolver.ResolveRoom(ctxt, request.SubjectID)
			if err != nil {
				return err
			}
			roomID = fetched
			return nil
		},
	); err != nil {
		if common.KindOf(err) == common.KindRoomNotFound {
			return nil, err
		}
		return nil, common.NewError(
			common.KindRoomNotFound,
			fmt.Sprintf("room resolution for %s exhausted retries", request.SubjectID),
			err,
		)
	}

	alive, err := c.resolver.IsLive(ctxt, roomID)
	if err != nil {
		return nil, err
	}
	if !alive {
		return nil, common.NewError(
			common.KindNotLive, fmt.Sprintf("subject %s is not live", request.SubjectID), nil,
		)
	}

	sessionContext, cancel := context.WithCancel(c.rootContext)
	session := registry.Session{
		RequesterID: request.RequesterID,
		SubjectID:   request.SubjectID,
		Kind:        c.kind,
		RoomID:      roomID,
		StartedAt:   time.Now(),
		Cancel:      cancel,
	}
	if !c.sessions.TryAdd(session) {
		cancel()
		return nil, common.NewError(
			common.KindDuplicateSession, fmt.Sprintf("session %s already active", key), nil,
		)
	}

	output := make(chan capture.OutputItem, outputBuffer)
	result := make(chan error, 1)
	sink := func(item capture.OutputItem) error {
		select {
		case output <- item:
			return nil
		case <-time.After(outputStallBound):
			return fmt.Errorf("output consumer of %s stalled", key)
		}
	}
	active := func() bool {
		return c.sessions.Contains(request.RequesterID, request.SubjectID)
	}
	runner, err := c.build(session, saveInterval, active, sink)
	if err != nil {
		c.sessions.Remove(request.RequesterID, request.SubjectID)
		cancel()
		return nil, err
	}

	log.WithFields(c.LogTags).Infof("Starting session %s in room %s", key, roomID)
	c.wg.Add(1)
	go c.runSession(sessionContext, cancel, session, runner, output, result)
	return &ActiveCapture{Session: session, Output: output, Result: result}, nil
}

// runSession drive one session's capture loop to completion
func (c *controllerImpl) runSession(
	sessionContext context.Context,
	cancel context.CancelFunc,
	session registry.Session,
	runner capture.SessionRunner,
	output chan capture.OutputItem,
	result chan error,
) {
	defer c.wg.Done()
	defer close(output)
	defer cancel()

	active := func() bool {
		return c.sessions.Contains(session.RequesterID, session.SubjectID)
	}
	runErr := c.supervisor.Run(sessionContext, active, runner.Attempt)

	// Still registered here means the loop ended on its own, e.g. the
	// broadcast ended or the capture failed
	c.sessions.Remove(session.RequesterID, session.SubjectID)
	if runErr != nil {
		telemetry.RecordCaptureFailure(string(c.kind))
		log.WithError(runErr).WithFields(c.LogTags).Errorf("Session %s failed", session.Key())
	}

	// Finalization runs off the session context, which is cancelled by now
	// on the stop path
	finalizeContext, finalizeCancel := context.WithTimeout(
		context.Background(), finalizeBound,
	)
	defer finalizeCancel()
	if err := runner.Finalize(finalizeContext); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf(
			"Unable to finalize session %s", session.Key(),
		)
	}
	log.WithFields(c.LogTags).Infof("Session %s ended", session.Key())
	result <- runErr
}

// Stop end one session wherever in the cluster it runs
func (c *controllerImpl) Stop(
	ctxt context.Context, requesterID, subjectID string,
) (StopOutcome, error) {
	key := registry.SessionKey{RequesterID: requesterID, SubjectID: subjectID}

	if session, present := c.sessions.Get(requesterID, subjectID); present {
		if c.sessions.Remove(requesterID, subjectID) {
			session.Cancel()
			// Broadcast the result so concurrent foreign stop waits settle
			_ = c.channel.Publish(ctxt, coordination.Message{
				Action:      coordination.ActionStopped,
				RequesterID: requesterID,
				SubjectID:   subjectID,
			})
			log.WithFields(c.LogTags).Infof("Stopped local session %s", key)
			return StopOutcomeStopped, nil
		}
		return StopOutcomeNotFound, nil
	}

	// Not owned here. Ask the cluster and wait for whoever owns it.
	waiterID, replies := c.addStopWaiter(key)
	defer c.removeStopWaiter(key, waiterID)
	if err := c.channel.Publish(ctxt, coordination.Message{
		Action:      coordination.ActionStop,
		RequesterID: requesterID,
		SubjectID:   subjectID,
	}); err != nil {
		return StopOutcomeTimeout, common.NewError(
			common.KindTransportDisconnect, "stop broadcast failed", err,
		)
	}
	deadline := time.NewTimer(c.params.ReplyWait)
	defer deadline.Stop()
	for {
		select {
		case msg := <-replies:
			switch msg.Action {
			case coordination.ActionStopped:
				telemetry.RecordStopWaitOutcome("stopped")
				return StopOutcomeStopped, nil
			case coordination.ActionNotFound:
				telemetry.RecordStopWaitOutcome("not_found")
				return StopOutcomeNotFound, nil
			}
		case <-deadline.C:
			telemetry.RecordStopWaitOutcome("timeout")
			log.WithFields(c.LogTags).Warnf("Stop of %s got no reply within %s", key, c.params.ReplyWait)
			return StopOutcomeTimeout, nil
		case <-ctxt.Done():
			return StopOutcomeTimeout, ctxt.Err()
		}
	}
}

// Status report a subject's broadcast status
func (c *controllerImpl) Status(
	ctxt context.Context, subjectID string,
) (StatusReport, error) {
	var roomID string
	if err := common.Attempt(
		ctxt, c.params.ResolveAttempts, c.params.ResolveRetryDelay, c.LogTags,
		func() error {
			fetched, err := c.resolver.ResolveRoom(ctxt, subjectID)
			if err != nil {
				return err
			}
			roomID = fetched
			return nil
		},
	); err != nil {
		if common.KindOf(err) == common.KindRoomNotFound {
			return StatusReport{}, err
		}
		return StatusReport{}, common.NewError(
			common.KindRoomNotFound,
			fmt.Sprintf("room resolution for %s exhausted retries", subjectID),
			err,
		)
	}
	alive, err := c.resolver.IsLive(ctxt, roomID)
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{Alive: alive, RoomID: roomID}, nil
}

// RemoveAll purge this kind's sessions cluster-wide
func (c *controllerImpl) RemoveAll(ctxt context.Context) (RemoveAllOutcome, error) {
	waiterID, replies := c.addPurgeWaiter()
	defer c.removePurgeWaiter(waiterID)

	removed := c.sessions.Clear()
	for _, session := range removed {
		session.Cancel()
	}
	log.WithFields(c.LogTags).Infof("Purged %d local sessions", len(removed))

	if err := c.channel.Publish(ctxt, coordination.Message{
		Action: coordination.ActionRemoveAllSessions,
	}); err != nil {
		return RemoveAllOutcomeTimeout, common.NewError(
			common.KindTransportDisconnect, "remove-all broadcast failed", err,
		)
	}
	deadline := time.NewTimer(c.params.ReplyWait)
	defer deadline.Stop()
	select {
	case msg := <-replies:
		if msg.Action == coordination.ActionRemoveAllSessionsACK {
			return RemoveAllOutcomeRemoved, nil
		}
		return RemoveAllOutcomePartialFailure, nil
	case <-deadline.C:
		return RemoveAllOutcomeTimeout, nil
	case <-ctxt.Done():
		return RemoveAllOutcomeTimeout, ctxt.Err()
	}
}
