// Copyright 2022 The statusmq Authors
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

package dataplane_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alwitt/statusmq/common"
	"github.com/alwitt/statusmq/dataplane"
	"github.com/alwitt/statusmq/management"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func TestJetStreamStatusPublisherDefinition(t *testing.T) {
	assert := assert.New(t)

	valid := dataplane.JetStreamStatusPublisherParam{
		NATS: getTestNatsParams(),
		Stream: management.JSStreamParam{
			Name: "subscriber-status", Subjects: []string{"online", "offline"},
		},
		AckTimeout: time.Second,
	}
	_, err := dataplane.GetJetStreamStatusPublisher(valid, "ut-publisher-def")
	assert.Nil(err)

	// Case 0: no ACK timeout
	{
		param := valid
		param.AckTimeout = 0
		_, err := dataplane.GetJetStreamStatusPublisher(param, "ut-publisher-def")
		assert.NotNil(err)
	}

	// Case 1: wildcard stream subject
	{
		param := valid
		param.Stream.Subjects = []string{"online", "status.*"}
		_, err := dataplane.GetJetStreamStatusPublisher(param, "ut-publisher-def")
		assert.NotNil(err)
	}

	// Case 2: topic outside the stream
	{
		uut, err := dataplane.GetJetStreamStatusPublisher(valid, "ut-publisher-def")
		assert.Nil(err)
		ctxt, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err = uut.OpenChannel(ctxt, "elsewhere")
		assert.NotNil(err)
		cancel()
	}
}

func TestJetStreamStatusChannel(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)
	testName := fmt.Sprintf("ut-status-%s", uuid.New().String()[:8])

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	js := getTestNatsClient(t)
	defer js.Close(utCtxt)
	ctrl, err := management.GetJetStreamController(js, testName)
	assert.Nil(err)

	onlineTopic := fmt.Sprintf("%s.online", testName)
	offlineTopic := fmt.Sprintf("%s.offline", testName)
	uut, err := dataplane.GetJetStreamStatusPublisher(dataplane.JetStreamStatusPublisherParam{
		NATS: getTestNatsParams(),
		Stream: management.JSStreamParam{
			Name: testName, Subjects: []string{onlineTopic, offlineTopic},
		},
		AckTimeout: time.Second,
	}, testName)
	assert.Nil(err)

	// Opening a channel provisions the stream
	ctxt, cancel := context.WithTimeout(utCtxt, time.Second*2)
	defer cancel()
	channel, err := uut.OpenChannel(ctxt, onlineTopic)
	assert.Nil(err)
	defer func() {
		ctxt, cancel := context.WithTimeout(utCtxt, time.Second)
		assert.Nil(ctrl.DeleteStream(ctxt, testName))
		cancel()
	}()
	assert.Equal(onlineTopic, channel.Topic())
	assert.True(channel.IsConnected())
	{
		info, err := ctrl.GetStream(ctxt, testName)
		assert.Nil(err)
		assert.EqualValues([]string{onlineTopic, offlineTopic}, info.Config.Subjects)
	}

	// Listen for the status events
	received := make(chan *nats.Msg, 2)
	sub, err := js.NATs().ChanSubscribe(onlineTopic, received)
	assert.Nil(err)
	defer func() {
		assert.Nil(sub.Unsubscribe())
	}()
	assert.Nil(js.NATs().Flush())

	// Case 0: send a status event
	{
		acked := make(chan string, 1)
		event := common.NewStatusEvent("ahenk-123", time.Now())
		assert.Nil(channel.SendAsync(event, func(msgID string, err error) {
			assert.Nil(err)
			acked <- msgID
		}))
		select {
		case msgID := <-acked:
			assert.Equal(fmt.Sprintf("%s:1", testName), msgID)
		case <-time.After(time.Second * 2):
			assert.Fail("no ACK received")
		}
		select {
		case msg := <-received:
			decoded, err := common.DecodeStatusEvent(msg.Data, validator.New())
			assert.Nil(err)
			assert.Equal(event, decoded)
			assert.NotEmpty(msg.Header.Get(nats.MsgIdHdr))
		case <-time.After(time.Second * 2):
			assert.Fail("no status event received")
		}
	}

	// Case 1: invalid event is not sent
	{
		assert.NotNil(channel.SendAsync(common.StatusEvent{}, func(string, error) {
			assert.Fail("callback should not be invoked")
		}))
	}

	// Case 2: closed channel
	{
		assert.Nil(channel.Close(ctxt))
		assert.False(channel.IsConnected())
		assert.NotNil(channel.SendAsync(
			common.NewStatusEvent("ahenk-123", time.Now()), func(string, error) {
				assert.Fail("callback should not be invoked")
			},
		))
		// Closing again is fine
		assert.Nil(channel.Close(ctxt))
	}
}
