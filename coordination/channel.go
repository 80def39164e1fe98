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

package coordination

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/goldiusleonard/livecap/common"
	"github.com/goldiusleonard/livecap/core"
	"github.com/goldiusleonard/livecap/telemetry"
	"github.com/nats-io/nats.go"
)

// Channel cluster-wide broadcast/subscribe on one named topic
type Channel interface {
	// Publish broadcast a coordination message. Fire-and-forget; a failure is
	// logged and surfaced but must not block the caller's primary operation.
	Publish(ctxt context.Context, msg Message) error
	// Subscribe open a long-lived subscription. The returned channel carries
	// inbound messages until the cancel function is called or the parent
	// context ends. The subscription resubscribes on transport loss with a
	// fixed retry delay.
	Subscribe(
		wg *sync.WaitGroup, ctxt context.Context, buffer int,
	) (<-chan Message, context.CancelFunc, error)
	// Topic the channel's topic name
	Topic() string
}

// natsChannelImpl implements Channel on NATS core pub/sub
type natsChannelImpl struct {
	common.Component
	nats             *core.NatsClient
	topic            string
	resubscribeDelay time.Duration
}

// GetNatsChannel define a Channel on one NATS subject
func GetNatsChannel(
	natsClient *core.NatsClient, topic string, resubscribeDelay time.Duration,
) (Channel, error) {
	logTags := log.Fields{
		"module":    "coordination",
		"component": "nats-channel",
		"topic":     topic,
	}
	return &natsChannelImpl{
		Component:        common.Component{LogTags: logTags},
		nats:             natsClient,
		topic:            topic,
		resubscribeDelay: resubscribeDelay,
	}, nil
}

// Topic the channel's topic name
func (c *natsChannelImpl) Topic() string {
	return c.topic
}

// Publish broadcast a coordination message
func (c *natsChannelImpl) Publish(ctxt context.Context, msg Message) error {
	serialized, err := json.Marshal(&msg)
	if err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Unable to serialize %s", msg.String())
		return err
	}
	if err := c.nats.NATs().Publish(c.topic, serialized); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Unable to publish %s", msg.String())
		return err
	}
	if err := c.nats.NATs().FlushWithContext(ctxt); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Flush failed after %s", msg.String())
		return err
	}
	telemetry.RecordCoordinationMessage(string(msg.Action), "outbound")
	log.WithFields(c.LogTags).Debugf("Published %s", msg.String())
	return nil
}

// Subscribe open a long-lived subscription
func (c *natsChannelImpl) Subscribe(
	wg *sync.WaitGroup, ctxt context.Context, buffer int,
) (<-chan Message, context.CancelFunc, error) {
	output := make(chan Message, buffer)
	opContext, cancel := context.WithCancel(ctxt)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(output)
		defer log.WithFields(c.LogTags).Info("Subscription loop exiting")
		for {
			if !c.runSubscription(opContext, output) {
				return
			}
			// Transport-level break. Fixed delay, then resubscribe.
			select {
			case <-opContext.Done():
				return
			case <-time.After(c.resubscribeDelay):
			}
			log.WithFields(c.LogTags).Warn("Resubscribing after transport loss")
		}
	}()

	return output, cancel, nil
}

// runSubscription operate one subscription until cancellation or transport
// loss. Returns true when the caller should resubscribe.
func (c *natsChannelImpl) runSubscription(
	opContext context.Context, output chan<- Message,
) bool {
	inbound := make(chan *nats.Msg, cap(output)+1)
	sub, err := c.nats.NATs().ChanSubscribe(c.topic, inbound)
	if err != nil {
		if c.nats.NATs().IsClosed() {
			// Known gap: a permanently closed connection ends the loop, missed
			// messages are not replayed
			log.WithError(err).WithFields(c.LogTags).Error(
				"Connection closed, abandoning subscription",
			)
			return false
		}
		log.WithError(err).WithFields(c.LogTags).Error("Subscribe failed")
		return true
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			log.WithError(err).WithFields(c.LogTags).Debug("Unsubscribe failed")
		}
	}()
	log.WithFields(c.LogTags).Infof("Subscribed to %s", c.topic)

	for {
		select {
		case <-opContext.Done():
			return false
		case <-time.After(c.resubscribeDelay):
			// Periodic transport health probe
			if c.nats.NATs().IsClosed() {
				log.WithFields(c.LogTags).Error("Connection closed, abandoning subscription")
				return false
			}
			if !sub.IsValid() {
				return true
			}
		case raw, ok := <-inbound:
			if !ok {
				return true
			}
			var msg Message
			if err := json.Unmarshal(raw.Data, &msg); err != nil {
				log.WithError(err).WithFields(c.LogTags).Warnf(
					"Discarding malformed message %dB", len(raw.Data),
				)
				continue
			}
			if !msg.Known() {
				log.WithFields(c.LogTags).Debugf("Ignoring unknown action '%s'", msg.Action)
				continue
			}
			telemetry.RecordCoordinationMessage(string(msg.Action), "inbound")
			select {
			case output <- msg:
			case <-opContext.Done():
				return false
			}
		}
	}
}
