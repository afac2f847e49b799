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
	"sync"
	"testing"
	"time"

	"github.com/alwitt/statusmq/common"
	"github.com/alwitt/statusmq/dataplane"
	"github.com/alwitt/statusmq/management"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestJetStreamStatusWatcher(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)
	testName := fmt.Sprintf("ut-watch-%s", uuid.New().String()[:8])

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	js := getTestNatsClient(t)
	defer js.Close(utCtxt)
	ctrl, err := management.GetJetStreamController(js, testName)
	assert.Nil(err)

	onlineTopic := fmt.Sprintf("%s.online", testName)
	publisher, err := dataplane.GetJetStreamStatusPublisher(dataplane.JetStreamStatusPublisherParam{
		NATS: getTestNatsParams(),
		Stream: management.JSStreamParam{
			Name: testName, Subjects: []string{onlineTopic},
		},
		AckTimeout: time.Second,
	}, testName)
	assert.Nil(err)

	// Status stream is provisioned by the channel
	ctxt, cancel := context.WithTimeout(utCtxt, time.Second*2)
	defer cancel()
	channel, err := publisher.OpenChannel(ctxt, onlineTopic)
	assert.Nil(err)
	defer func() {
		assert.Nil(channel.Close(utCtxt))
		ctxt, cancel := context.WithTimeout(utCtxt, time.Second)
		assert.Nil(ctrl.DeleteStream(ctxt, testName))
		cancel()
	}()

	// Start the watcher
	wg := sync.WaitGroup{}
	watchCtxt, watchCancel := context.WithCancel(utCtxt)
	defer wg.Wait()
	defer watchCancel()
	uut, err := dataplane.GetJetStreamStatusWatcher(watchCtxt, &js, onlineTopic)
	assert.Nil(err)
	received := make(chan common.StatusEvent, 1)
	assert.Nil(uut.StartReading(
		func(_ context.Context, topic string, event common.StatusEvent) error {
			assert.Equal(onlineTopic, topic)
			received <- event
			return nil
		},
		func(err error) {
			assert.Nil(err)
		},
		&wg,
	))
	// Second start is rejected
	assert.NotNil(uut.StartReading(nil, nil, &wg))

	event := common.NewStatusEvent("ahenk-77", time.Now())
	assert.Nil(channel.SendAsync(event, func(_ string, err error) {
		assert.Nil(err)
	}))
	select {
	case got := <-received:
		assert.Equal(event, got)
	case <-time.After(time.Second * 2):
		assert.Fail("status event not received")
	}
}
