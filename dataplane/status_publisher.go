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
	"time"

	"github.com/alwitt/statusmq/common"
	"github.com/alwitt/statusmq/core"
	"github.com/alwitt/statusmq/management"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// SendCompleteCB callback invoked once the outcome of an async send is known.
//
// On success, msgID identifies the stored message. On failure, err is set.
type SendCompleteCB func(msgID string, err error)

// StatusChannel a publishing channel bound to one status topic
type StatusChannel interface {
	// Topic the topic this channel publishes to
	Topic() string
	// SendAsync send a status event without waiting for the ACK.
	//
	// A returned error means the send could not be issued. Otherwise, onComplete
	// is called exactly once with the outcome.
	SendAsync(event common.StatusEvent, onComplete SendCompleteCB) error
	// IsConnected whether the channel is usable
	IsConnected() bool
	// Close release the channel. Waits for outstanding ACKs until the context ends.
	Close(ctxt context.Context) error
}

// StatusPublisher opens publishing channels to status topics
type StatusPublisher interface {
	// OpenChannel open a new publishing channel to a topic
	OpenChannel(ctxt context.Context, topic string) (StatusChannel, error)
}

// ==============================================================================

// JetStreamStatusPublisherParam parameters for the JetStream backed StatusPublisher
type JetStreamStatusPublisherParam struct {
	// NATS connection parameters used for each channel
	NATS core.NATSConnectParams
	// Stream the JetStream stream which must capture the status topics
	Stream management.JSStreamParam
	// AckTimeout max time to wait for a publish ACK
	AckTimeout time.Duration `validate:"gt=0"`
}

// jetStreamStatusPublisherImpl implements StatusPublisher
type jetStreamStatusPublisherImpl struct {
	common.Component
	instance string
	param    JetStreamStatusPublisherParam
	validate *validator.Validate
}

// GetJetStreamStatusPublisher define new JetStream backed StatusPublisher.
//
// Every channel opened holds its own NATS connection, so recreating one channel
// does not disturb the other.
func GetJetStreamStatusPublisher(
	param JetStreamStatusPublisherParam, instance string,
) (StatusPublisher, error) {
	logTags := log.Fields{
		"module": "dataplane", "component": "js-status-publisher", "instance": instance,
	}
	validate := validator.New()
	if err := validate.Struct(&param); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid publisher parameters")
		return nil, err
	}
	for _, subject := range param.Stream.Subjects {
		if err := ValidateTopicName(subject); err != nil {
			log.WithError(err).WithFields(logTags).Error("Invalid status stream subject")
			return nil, err
		}
	}
	return &jetStreamStatusPublisherImpl{
		Component: common.Component{LogTags: logTags},
		instance:  instance,
		param:     param,
		validate:  validate,
	}, nil
}

// OpenChannel open a new publishing channel to a topic
func (p *jetStreamStatusPublisherImpl) OpenChannel(
	ctxt context.Context, topic string,
) (StatusChannel, error) {
	localLogTags, err := common.UpdateLogTags(ctxt, p.LogTags)
	if err != nil {
		log.WithError(err).WithFields(p.LogTags).Errorf("Failed to update logtags")
		return nil, err
	}
	localLogTags["topic"] = topic
	if err := ValidateTopicName(topic); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Unable to open channel")
		return nil, err
	}
	covered := false
	for _, subject := range p.param.Stream.Subjects {
		if subject == topic {
			covered = true
			break
		}
	}
	if !covered {
		err := fmt.Errorf(
			"topic %s is not captured by stream %s", topic, p.param.Stream.Name,
		)
		log.WithError(err).WithFields(localLogTags).Error("Unable to open channel")
		return nil, err
	}

	channelID := uuid.New().String()
	connParam := p.param.NATS
	connParam.ClientName = fmt.Sprintf("%s/%s/%s", p.instance, topic, channelID)
	connParam.FailFastOnConnect = true
	client, err := core.GetJetStream(connParam)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Unable to connect channel")
		return nil, err
	}

	// The stream must exist before JetStream will ACK anything published to the topic
	ctrl, err := management.GetJetStreamController(client, connParam.ClientName)
	if err != nil {
		client.Close(ctxt)
		return nil, err
	}
	if err := ctrl.EnsureStream(ctxt, p.param.Stream); err != nil {
		log.WithError(err).WithFields(localLogTags).Errorf(
			"Unable to provision status stream %s", p.param.Stream.Name,
		)
		client.Close(ctxt)
		return nil, err
	}

	localLogTags["component"] = "js-status-channel"
	localLogTags["channel"] = channelID
	log.WithFields(localLogTags).Info("Opened status channel")
	return &jetStreamStatusChannelImpl{
		Component:  common.Component{LogTags: localLogTags},
		topic:      topic,
		client:     client,
		ackTimeout: p.param.AckTimeout,
		validate:   p.validate,
		lock:       &sync.RWMutex{},
		inflight:   &sync.WaitGroup{},
	}, nil
}

// ==============================================================================

// jetStreamStatusChannelImpl implements StatusChannel
type jetStreamStatusChannelImpl struct {
	common.Component
	topic      string
	client     core.NatsClient
	ackTimeout time.Duration
	validate   *validator.Validate
	lock       *sync.RWMutex
	closed     bool
	inflight   *sync.WaitGroup
}

// Topic the topic this channel publishes to
func (c *jetStreamStatusChannelImpl) Topic() string {
	return c.topic
}

// IsConnected whether the channel is usable
func (c *jetStreamStatusChannelImpl) IsConnected() bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return !c.closed && c.client.IsConnected()
}

// SendAsync send a status event without waiting for the ACK
func (c *jetStreamStatusChannelImpl) SendAsync(
	event common.StatusEvent, onComplete SendCompleteCB,
) error {
	payload, err := event.Encode(c.validate)
	if err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Unable to encode %s", event)
		return err
	}

	c.lock.RLock()
	defer c.lock.RUnlock()
	if c.closed {
		return fmt.Errorf("channel to %s is closed", c.topic)
	}
	ack, err := c.client.JetStream().PublishAsync(
		c.topic, payload, nats.MsgId(uuid.New().String()),
	)
	if err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Unable to send %s", event)
		return err
	}

	// Report the outcome once known
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		select {
		case goodSig, ok := <-ack.Ok():
			if !ok {
				onComplete("", fmt.Errorf("reading nats.PubAckFuture OK channel failure"))
				return
			}
			onComplete(ackToMessageID(goodSig), nil)
		case txErr, ok := <-ack.Err():
			if !ok {
				txErr = fmt.Errorf("reading nats.PubAckFuture error channel failure")
			}
			onComplete("", txErr)
		case <-time.After(c.ackTimeout):
			onComplete("", fmt.Errorf("no ACK for %s within %s", event, c.ackTimeout))
		}
	}()
	return nil
}

// Close release the channel
func (c *jetStreamStatusChannelImpl) Close(ctxt context.Context) error {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return nil
	}
	c.closed = true
	c.lock.Unlock()

	// Give outstanding ACKs a chance to arrive
	waitDone := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-ctxt.Done():
		log.WithFields(c.LogTags).Warn("Closing channel with ACKs still outstanding")
	}

	c.client.Close(ctxt)
	log.WithFields(c.LogTags).Info("Closed status channel")
	return nil
}
