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

package dataplane

import (
	"context"
	"fmt"
	"sync"

	"github.com/alwitt/statusmq/common"
	"github.com/alwitt/statusmq/core"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
)

// ForwardStatusEventCB callback used to forward status events read from a topic
type ForwardStatusEventCB func(ctxt context.Context, topic string, event common.StatusEvent) error

// AlertOnErrorCB callback used to expose internal error to an outer context for handling
type AlertOnErrorCB func(err error)

// StatusWatcher reads the status events published on a status topic
type StatusWatcher interface {
	// StartReading begin reading status events. Reading continues until the
	// watcher's context ends.
	StartReading(
		forwardCB ForwardStatusEventCB,
		errorCB AlertOnErrorCB,
		wg *sync.WaitGroup,
	) error
}

// jetStreamStatusWatcherImpl implements StatusWatcher
type jetStreamStatusWatcherImpl struct {
	common.Component
	topic      string
	reading    bool
	sub        *nats.Subscription
	validate   *validator.Validate
	forwardMsg ForwardStatusEventCB
	errorCB    AlertOnErrorCB
	lock       *sync.Mutex
	ctxt       context.Context
}

// GetJetStreamStatusWatcher define new StatusWatcher reading from JetStream.
//
// The watcher uses an ephemeral consumer, and only sees status events published
// after it is defined.
func GetJetStreamStatusWatcher(
	ctxt context.Context, natsClient *core.NatsClient, topic string,
) (StatusWatcher, error) {
	logTags := log.Fields{
		"module":    "dataplane",
		"component": "js-status-watcher",
		"topic":     topic,
	}
	logTags, err := common.UpdateLogTags(ctxt, logTags)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Failed to update logtags")
		return nil, err
	}
	if err := ValidateTopicName(topic); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define status watcher")
		return nil, err
	}
	s, err := natsClient.JetStream().SubscribeSync(topic, nats.DeliverNew())
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define subscription")
		return nil, err
	}
	return &jetStreamStatusWatcherImpl{
		Component: common.Component{LogTags: logTags},
		topic:     topic,
		sub:       s,
		validate:  validator.New(),
		lock:      &sync.Mutex{},
		ctxt:      ctxt,
	}, nil
}

// StartReading begin reading status events
func (r *jetStreamStatusWatcherImpl) StartReading(
	forwardCB ForwardStatusEventCB,
	errorCB AlertOnErrorCB,
	wg *sync.WaitGroup,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	// Already reading
	if r.reading {
		err := fmt.Errorf("already reading")
		log.WithError(err).WithFields(r.LogTags).Error("Unable to start reading")
		return err
	}
	wg.Add(1)
	r.forwardMsg = forwardCB
	r.errorCB = errorCB
	r.reading = true
	go func() {
		defer wg.Done()
		log.WithFields(r.LogTags).Infof("Starting reading status events")
		defer log.WithFields(r.LogTags).Infof("Stopping status event read loop")
		defer func() {
			if err := r.sub.Unsubscribe(); err != nil {
				log.WithError(err).WithFields(r.LogTags).Error("Unsubscribe failed")
			} else {
				log.WithFields(r.LogTags).Infof("Unsubscribed from topic")
			}
		}()
		for {
			newMsg, err := r.sub.NextMsgWithContext(r.ctxt)
			if err != nil {
				if r.ctxt.Err() == nil {
					log.WithError(err).WithFields(r.LogTags).Errorf("Read failure")
					r.errorCB(err)
				}
				break
			}
			if newMsg == nil {
				continue
			}
			if err := newMsg.Ack(); err != nil {
				log.WithError(err).WithFields(r.LogTags).Warn("Status event ACK failed")
			}
			event, err := common.DecodeStatusEvent(newMsg.Data, r.validate)
			if err != nil {
				log.WithError(err).WithFields(r.LogTags).Errorf("Unusable status event")
				r.errorCB(err)
				continue
			}
			log.WithFields(r.LogTags).Debugf("Received %s", event)
			if err := r.forwardMsg(r.ctxt, r.topic, event); err != nil {
				log.WithError(err).WithFields(r.LogTags).Errorf("Unable to forward status event")
				r.errorCB(err)
			}
		}
	}()
	return nil
}
