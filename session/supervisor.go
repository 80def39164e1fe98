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

package session

import (
	"context"
	"time"

	"github.com/apex/log"
	"github.com/goldiusleonard/livecap/common"
	"github.com/goldiusleonard/livecap/telemetry"
)

// ReconnectSupervisor wraps one session's capture attempts, restarting the
// loop once after a transport-level disconnect
type ReconnectSupervisor interface {
	// Run drive attempt to completion. A transport disconnect triggers one
	// restart after a fixed delay; any failure after that is the session's
	// terminal error. The active predicate is consulted before restarting
	// so a session stopped during the wait is not revived.
	Run(
		ctxt context.Context,
		active func() bool,
		attempt func(ctxt context.Context) error,
	) error
}

// reconnectSupervisorImpl implements ReconnectSupervisor
type reconnectSupervisorImpl struct {
	common.Component
	restartDelay time.Duration
}

// GetReconnectSupervisor define a ReconnectSupervisor
func GetReconnectSupervisor(instance string, restartDelay time.Duration) ReconnectSupervisor {
	logTags := log.Fields{
		"module":    "session",
		"component": "reconnect-supervisor",
		"instance":  instance,
	}
	return &reconnectSupervisorImpl{
		Component:    common.Component{LogTags: logTags},
		restartDelay: restartDelay,
	}
}

// Run drive attempt to completion with at most one restart
func (s *reconnectSupervisorImpl) Run(
	ctxt context.Context,
	active func() bool,
	attempt func(ctxt context.Context) error,
) error {
	err := attempt(ctxt)
	if err == nil {
		return nil
	}
	if ctxt.Err() != nil {
		// Deliberate cancellation, not a failure
		return nil
	}
	if common.KindOf(err) != common.KindTransportDisconnect {
		return err
	}

	log.WithError(err).WithFields(s.LogTags).Warnf(
		"Capture disconnected, restarting in %s", s.restartDelay,
	)
	select {
	case <-ctxt.Done():
		return nil
	case <-time.After(s.restartDelay):
	}
	if !active() {
		log.WithFields(s.LogTags).Info("Session ended during restart wait")
		return nil
	}

	telemetry.RecordCaptureRestart()
	if err := attempt(ctxt); err != nil {
		if ctxt.Err() != nil {
			return nil
		}
		log.WithError(err).WithFields(s.LogTags).Error("Restarted capture failed for good")
		return err
	}
	return nil
}
