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
	"time"

	"github.com/apex/log"
	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/goldiusleonard/livecap/common"
	"github.com/goldiusleonard/livecap/telemetry"
)

// CommentEvent one live comment from the push-event client
type CommentEvent struct {
	// Author comment author login
	Author string `json:"author"`
	// Message comment text
	Message string `json:"message"`
	// SentAt platform timestamp of the comment
	SentAt time.Time `json:"sent_at"`
	// Stop poison marker short-circuiting the drain loop
	Stop bool `json:"stop,omitempty"`
}

// PullResult outcome of one bounded queue pull
type PullResult int

// Pull outcomes
const (
	// PullEvent an event was drained
	PullEvent PullResult = iota
	// PullTimeout the bounded wait elapsed with no event
	PullTimeout
	// PullStopped the poison item was drained
	PullStopped
	// PullCancelled the context ended
	PullCancelled
)

// EventQueue bounded single-producer/single-consumer hand-off between the
// push-event client callback and the pull-based output stream
type EventQueue interface {
	// Push enqueue one event. Never blocks the client's event loop: on a
	// full queue the event is dropped and counted.
	Push(event CommentEvent)
	// PushStop enqueue the poison item
	PushStop()
	// Pull drain one event, waiting at most wait so the caller can re-check
	// session liveness between events
	Pull(ctxt context.Context, wait time.Duration) (CommentEvent, PullResult)
}

// eventQueueImpl implements EventQueue on a buffered channel
type eventQueueImpl struct {
	common.Component
	events chan CommentEvent
}

// GetEventQueue define a bounded EventQueue
func GetEventQueue(instance string, capacity int) EventQueue {
	logTags := log.Fields{
		"module":    "capture",
		"component": "event-queue",
		"instance":  instance,
	}
	return &eventQueueImpl{
		Component: common.Component{LogTags: logTags},
		events:    make(chan CommentEvent, capacity),
	}
}

// Push enqueue one event
func (q *eventQueueImpl) Push(event CommentEvent) {
	select {
	case q.events <- event:
	default:
		if telemetry.EventsDropped != nil {
			telemetry.EventsDropped.Inc()
		}
		log.WithFields(q.LogTags).Warn("Queue full, dropping event")
	}
}

// PushStop enqueue the poison item. The drain loop's periodic liveness check
// covers the case of the poison being dropped on a full queue.
func (q *eventQueueImpl) PushStop() {
	q.Push(CommentEvent{Stop: true})
}

// Pull drain one event with a bounded wait
func (q *eventQueueImpl) Pull(
	ctxt context.Context, wait time.Duration,
) (CommentEvent, PullResult) {
	select {
	case event := <-q.events:
		if event.Stop {
			return event, PullStopped
		}
		return event, PullEvent
	case <-time.After(wait):
		return CommentEvent{}, PullTimeout
	case <-ctxt.Done():
		return CommentEvent{}, PullCancelled
	}
}

// ==============================================================================

// ChatClient narrow interface over the external push-event chat client
type ChatClient interface {
	// OnComment register the comment callback. Invoked inline by the
	// client's own event loop.
	OnComment(handler func(CommentEvent))
	// Join subscribe to one subject's comment channel
	Join(subjectID string)
	// Connect run the client event loop. Blocks until disconnect.
	Connect() error
	// Disconnect close the client connection
	Disconnect() error
}

// ircChatClientImpl implements ChatClient over the IRC chat transport
type ircChatClientImpl struct {
	common.Component
	client *twitch.Client
}

// GetIRCChatClient define a ChatClient. Connects anonymously when username
// is empty.
func GetIRCChatClient(username, oauthToken, serverOverride string) ChatClient {
	logTags := log.Fields{
		"module":    "capture",
		"component": "irc-chat-client",
	}
	var client *twitch.Client
	if username == "" {
		client = twitch.NewAnonymousClient()
	} else {
		client = twitch.NewClient(username, oauthToken)
	}
	if serverOverride != "" {
		client.IrcAddress = serverOverride
		client.TLS = false
	}
	return &ircChatClientImpl{
		Component: common.Component{LogTags: logTags},
		client:    client,
	}
}

// OnComment register the comment callback
func (c *ircChatClientImpl) OnComment(handler func(CommentEvent)) {
	c.client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		handler(CommentEvent{
			Author:  msg.User.Name,
			Message: msg.Message,
			SentAt:  msg.Time,
		})
	})
}

// Join subscribe to one subject's comment channel
func (c *ircChatClientImpl) Join(subjectID string) {
	c.client.Join(subjectID)
}

// Connect run the client event loop
func (c *ircChatClientImpl) Connect() error {
	return c.client.Connect()
}

// Disconnect close the client connection
func (c *ircChatClientImpl) Disconnect() error {
	return c.client.Disconnect()
}
