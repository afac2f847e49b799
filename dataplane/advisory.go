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
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/alwitt/statusmq/common"
	"github.com/alwitt/statusmq/core"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
)

const (
	// consumerCreatedAdvisoryPrefix subject prefix of JetStream consumer creation advisories
	consumerCreatedAdvisoryPrefix = "$JS.EVENT.ADVISORY.CONSUMER.CREATED"
	// consumerDeletedAdvisoryPrefix subject prefix of JetStream consumer deletion advisories
	consumerDeletedAdvisoryPrefix = "$JS.EVENT.ADVISORY.CONSUMER.DELETED"
)

// ConsumerAdvisoryAction the consumer lifecycle action an advisory reports
type ConsumerAdvisoryAction string

const (
	// ConsumerCreated consumer created, i.e. a subscriber came online
	ConsumerCreated ConsumerAdvisoryAction = "create"
	// ConsumerDeleted consumer deleted, i.e. a subscriber went offline
	ConsumerDeleted ConsumerAdvisoryAction = "delete"
)

// ConsumerActionAdvisory JetStream advisory reporting a consumer lifecycle action
type ConsumerActionAdvisory struct {
	Type      string                 `json:"type"`
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Stream    string                 `json:"stream" validate:"required"`
	Consumer  string                 `json:"consumer" validate:"required"`
	Action    ConsumerAdvisoryAction `json:"action" validate:"required,oneof=create delete"`
}

// String toString function
func (a ConsumerActionAdvisory) String() string {
	return fmt.Sprintf("%s@%s:%s", a.Consumer, a.Stream, a.Action)
}

// ParseConsumerActionAdvisory parse and validate a JetStream consumer action advisory
func ParseConsumerActionAdvisory(
	payload []byte, validate *validator.Validate,
) (ConsumerActionAdvisory, error) {
	var advisory ConsumerActionAdvisory
	if err := json.Unmarshal(payload, &advisory); err != nil {
		return ConsumerActionAdvisory{}, err
	}
	if err := validate.Struct(&advisory); err != nil {
		return ConsumerActionAdvisory{}, err
	}
	return advisory, nil
}

// SubscriberEventHandler receives subscriber lifecycle events
type SubscriberEventHandler interface {
	// OnSubscriberConnected a subscriber came online
	OnSubscriberConnected(subscription string)
	// OnSubscriberDisconnected a subscriber went offline
	OnSubscriberDisconnected(subscription string)
}

// ConsumerAdvisoryListener converts JetStream consumer advisories into subscriber
// lifecycle events
type ConsumerAdvisoryListener interface {
	// StartListening subscribe to the consumer advisories
	StartListening(wg *sync.WaitGroup) error
	// StopListening unsubscribe from the consumer advisories
	StopListening() error
	// ProcessAdvisory forward one advisory to the SubscriberEventHandler
	ProcessAdvisory(advisory ConsumerActionAdvisory) error
}

// consumerAdvisoryListenerImpl implements ConsumerAdvisoryListener
type consumerAdvisoryListenerImpl struct {
	common.Component
	nats          *core.NatsClient
	streamFilter  string
	handler       SubscriberEventHandler
	tp            common.TaskProcessor
	validate      *validator.Validate
	lock          *sync.Mutex
	subscriptions []*nats.Subscription
	ctxt          context.Context
}

// GetConsumerAdvisoryListener define new ConsumerAdvisoryListener
//
// Advisories are queued and forwarded to the handler from a separate event loop,
// so a slow handler does not back up the NATS subscription.
func GetConsumerAdvisoryListener(
	ctxt context.Context,
	natsClient *core.NatsClient,
	streamFilter string,
	handler SubscriberEventHandler,
	taskBuffer int,
) (ConsumerAdvisoryListener, error) {
	logTags := log.Fields{
		"module": "dataplane", "component": "consumer-advisory", "stream": streamFilter,
	}
	if streamFilter == "" {
		err := fmt.Errorf("advisory stream filter is empty")
		log.WithError(err).WithFields(logTags).Error("Unable to define advisory listener")
		return nil, err
	}
	tp, err := common.GetNewTaskProcessorInstance("consumer-advisory", taskBuffer, ctxt)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define task processor")
		return nil, err
	}
	instance := &consumerAdvisoryListenerImpl{
		Component:    common.Component{LogTags: logTags},
		nats:         natsClient,
		streamFilter: streamFilter,
		handler:      handler,
		tp:           tp,
		validate:     validator.New(),
		lock:         &sync.Mutex{},
		ctxt:         ctxt,
	}
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(ConsumerActionAdvisory{}), instance.processAdvisoryTask,
	); err != nil {
		return nil, err
	}
	return instance, nil
}

// processAdvisoryTask TaskProcessor handler for ConsumerActionAdvisory
func (l *consumerAdvisoryListenerImpl) processAdvisoryTask(param interface{}) error {
	advisory, ok := param.(ConsumerActionAdvisory)
	if !ok {
		return fmt.Errorf("can't process %s as ConsumerActionAdvisory", reflect.TypeOf(param))
	}
	return l.ProcessAdvisory(advisory)
}

// ProcessAdvisory forward one advisory to the SubscriberEventHandler
func (l *consumerAdvisoryListenerImpl) ProcessAdvisory(advisory ConsumerActionAdvisory) error {
	log.WithFields(l.LogTags).Debugf("Processing advisory %s", advisory)
	switch advisory.Action {
	case ConsumerCreated:
		l.handler.OnSubscriberConnected(advisory.Consumer)
	case ConsumerDeleted:
		l.handler.OnSubscriberDisconnected(advisory.Consumer)
	default:
		return fmt.Errorf("unknown consumer advisory action '%s'", advisory.Action)
	}
	return nil
}

// receiveAdvisory NATS message handler for the advisory subscriptions
func (l *consumerAdvisoryListenerImpl) receiveAdvisory(msg *nats.Msg) {
	defer common.RecoverPanic(l.LogTags, "advisory receive")
	advisory, err := ParseConsumerActionAdvisory(msg.Data, l.validate)
	if err != nil {
		log.WithError(err).WithFields(l.LogTags).Errorf("Unusable advisory on %s", msg.Subject)
		return
	}
	log.WithFields(l.LogTags).Debugf("Received advisory %s on %s", advisory, msg.Subject)
	if err := l.tp.Submit(l.ctxt, advisory); err != nil {
		log.WithError(err).WithFields(l.LogTags).Errorf("Dropped advisory %s", advisory)
	}
}

// StartListening subscribe to the consumer advisories
func (l *consumerAdvisoryListenerImpl) StartListening(wg *sync.WaitGroup) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if len(l.subscriptions) > 0 {
		err := fmt.Errorf("already listening")
		log.WithError(err).WithFields(l.LogTags).Error("Unable to start listening")
		return err
	}
	subjects := []string{
		fmt.Sprintf("%s.%s.*", consumerCreatedAdvisoryPrefix, l.streamFilter),
		fmt.Sprintf("%s.%s.*", consumerDeletedAdvisoryPrefix, l.streamFilter),
	}
	for _, subject := range subjects {
		sub, err := l.nats.NATs().Subscribe(subject, l.receiveAdvisory)
		if err != nil {
			log.WithError(err).WithFields(l.LogTags).Errorf("Unable to subscribe to %s", subject)
			l.unsubscribeAll()
			return err
		}
		log.WithFields(l.LogTags).Infof("Subscribed to %s", subject)
		l.subscriptions = append(l.subscriptions, sub)
	}
	return l.tp.StartEventLoop(wg)
}

// unsubscribeAll helper function to drop all advisory subscriptions. Caller holds the lock.
func (l *consumerAdvisoryListenerImpl) unsubscribeAll() {
	for _, sub := range l.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			log.WithError(err).WithFields(l.LogTags).Errorf("Unsubscribe %s failed", sub.Subject)
		} else {
			log.WithFields(l.LogTags).Infof("Unsubscribed from %s", sub.Subject)
		}
	}
	l.subscriptions = nil
}

// StopListening unsubscribe from the consumer advisories
func (l *consumerAdvisoryListenerImpl) StopListening() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.unsubscribeAll()
	return l.tp.StopEventLoop()
}
