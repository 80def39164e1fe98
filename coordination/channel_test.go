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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/goldiusleonard/livecap/common"
	"github.com/goldiusleonard/livecap/core"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func defineTestNatsClient(t *testing.T) *core.NatsClient {
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

func TestNatsChannelPubSub(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	// Self-published messages are not echoed back, so the publisher and the
	// subscriber need separate connections
	publisherSide := defineTestNatsClient(t)
	defer publisherSide.Close(utCtxt)
	subscriberSide := defineTestNatsClient(t)
	defer subscriberSide.Close(utCtxt)

	topic := fmt.Sprintf("ut-channel-%s", uuid.NewString())
	publishChannel, err := GetNatsChannel(publisherSide, topic, time.Second)
	assert.Nil(err)
	assert.Equal(topic, publishChannel.Topic())
	subscribeChannel, err := GetNatsChannel(subscriberSide, topic, time.Second)
	assert.Nil(err)

	inbound, stopSubscription, err := subscribeChannel.Subscribe(&wg, utCtxt, 16)
	assert.Nil(err)
	defer stopSubscription()
	// Give the subscription a moment to register with the server
	time.Sleep(time.Millisecond * 100)

	// Case 0: a protocol message flows through
	sent := Message{Action: ActionStop, RequesterID: "requester-0", SubjectID: "subject-0"}
	assert.Nil(publishChannel.Publish(utCtxt, sent))
	select {
	case received, ok := <-inbound:
		assert.True(ok)
		assert.Equal(sent, received)
	case <-time.After(time.Second * 3):
		assert.FailNow("subscription did not deliver the message")
	}

	// Case 1: malformed payloads and unknown actions are discarded
	assert.Nil(publisherSide.NATs().Publish(topic, []byte("not json")))
	assert.Nil(publisherSide.NATs().Publish(topic, []byte(`{"action":"PAUSE"}`)))
	assert.Nil(publisherSide.NATs().FlushWithContext(utCtxt))
	sent = Message{Action: ActionStopped, RequesterID: "requester-0", SubjectID: "subject-0"}
	assert.Nil(publishChannel.Publish(utCtxt, sent))
	select {
	case received, ok := <-inbound:
		assert.True(ok)
		// The discarded payloads never show up; the next protocol message does
		assert.Equal(sent, received)
	case <-time.After(time.Second * 3):
		assert.FailNow("subscription did not deliver the message")
	}

	// Case 2: cancelling the subscription closes the stream
	stopSubscription()
	select {
	case _, ok := <-inbound:
		assert.False(ok)
	case <-time.After(time.Second * 3):
		assert.FailNow("subscription did not close")
	}
}

func TestNatsChannelFanOut(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	publisherSide := defineTestNatsClient(t)
	defer publisherSide.Close(utCtxt)
	subscriberSide0 := defineTestNatsClient(t)
	defer subscriberSide0.Close(utCtxt)
	subscriberSide1 := defineTestNatsClient(t)
	defer subscriberSide1.Close(utCtxt)

	topic := fmt.Sprintf("ut-channel-%s", uuid.NewString())
	publishChannel, err := GetNatsChannel(publisherSide, topic, time.Second)
	assert.Nil(err)

	// Every subscriber sees every broadcast
	inbounds := []<-chan Message{}
	for _, side := range []*core.NatsClient{subscriberSide0, subscriberSide1} {
		channel, err := GetNatsChannel(side, topic, time.Second)
		assert.Nil(err)
		inbound, stopSubscription, err := channel.Subscribe(&wg, utCtxt, 16)
		assert.Nil(err)
		defer stopSubscription()
		inbounds = append(inbounds, inbound)
	}
	time.Sleep(time.Millisecond * 100)

	sent := Message{Action: ActionRemoveAllSessions}
	assert.Nil(publishChannel.Publish(utCtxt, sent))
	for idx, inbound := range inbounds {
		select {
		case received, ok := <-inbound:
			assert.True(ok)
			assert.Equal(sent, received)
		case <-time.After(time.Second * 3):
			assert.FailNow(fmt.Sprintf("subscriber %d did not get the broadcast", idx))
		}
	}
}
