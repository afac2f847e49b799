package presence

import (
	"context"
	"fmt"
	"sync"

	"github.com/alwitt/statusmq/common"
	"github.com/alwitt/statusmq/dataplane"
	"github.com/apex/log"
)

// ChannelRegistry holds at most one live status channel per topic
type ChannelRegistry interface {
	// Topics the topics managed by the registry
	Topics() []string
	// Ensure return the current channel for a topic, creating one if absent
	Ensure(ctxt context.Context, topic string) (dataplane.StatusChannel, error)
	// IsHealthy whether the topic currently has a connected channel
	IsHealthy(topic string) bool
	// Recreate replace the topic's channel with a newly created one
	Recreate(ctxt context.Context, topic string) (dataplane.StatusChannel, error)
	// Shutdown release all channels. Safe to call multiple times.
	Shutdown(ctxt context.Context)
}

// channelSlot registry entry for one topic.
//
// create is a single token semaphore held across channel creation, so only one
// creation per topic is in progress at any time. entryLock only guards channel.
type channelSlot struct {
	topic     string
	create    chan struct{}
	entryLock sync.RWMutex
	channel   dataplane.StatusChannel
}

// acquire wait for the creation token, giving up when the context ends
func (s *channelSlot) acquire(ctxt context.Context) error {
	select {
	case s.create <- struct{}{}:
		return nil
	case <-ctxt.Done():
		return fmt.Errorf(
			"%w: %s: waiting for channel creation: %s", ErrConnect, s.topic, ctxt.Err(),
		)
	}
}

// release return the creation token
func (s *channelSlot) release() {
	<-s.create
}

// current the channel currently in the slot
func (s *channelSlot) current() dataplane.StatusChannel {
	s.entryLock.RLock()
	defer s.entryLock.RUnlock()
	return s.channel
}

// channelRegistryImpl implements ChannelRegistry
type channelRegistryImpl struct {
	common.Component
	client   dataplane.StatusPublisher
	topics   []string
	slots    map[string]*channelSlot
	stateMtx sync.RWMutex
	closed   bool
}

// GetChannelRegistry define new ChannelRegistry for a fixed set of topics.
//
// No channel is opened until first requested.
func GetChannelRegistry(
	client dataplane.StatusPublisher, topics []string, instance string,
) (ChannelRegistry, error) {
	logTags := log.Fields{
		"module": "presence", "component": "channel-registry", "instance": instance,
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("no status topics given")
	}
	slots := map[string]*channelSlot{}
	for _, topic := range topics {
		if err := dataplane.ValidateTopicName(topic); err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to define registry")
			return nil, err
		}
		if _, ok := slots[topic]; ok {
			return nil, fmt.Errorf("status topic %s repeated", topic)
		}
		slots[topic] = &channelSlot{topic: topic, create: make(chan struct{}, 1)}
	}
	return &channelRegistryImpl{
		Component: common.Component{LogTags: logTags},
		client:    client,
		topics:    append([]string{}, topics...),
		slots:     slots,
	}, nil
}

// Topics the topics managed by the registry
func (r *channelRegistryImpl) Topics() []string {
	return append([]string{}, r.topics...)
}

// isClosed whether Shutdown has been called
func (r *channelRegistryImpl) isClosed() bool {
	r.stateMtx.RLock()
	defer r.stateMtx.RUnlock()
	return r.closed
}

// getSlot helper function to find the slot of a topic
func (r *channelRegistryImpl) getSlot(topic string) (*channelSlot, error) {
	slot, ok := r.slots[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	return slot, nil
}

// openChannel helper function to create a channel. Caller holds the creation token.
func (r *channelRegistryImpl) openChannel(
	ctxt context.Context, slot *channelSlot,
) (channel dataplane.StatusChannel, err error) {
	// A misbehaving client must not take down the caller
	defer func() {
		if p := recover(); p != nil {
			channel = nil
			err = fmt.Errorf("%w: %s: panic %v", ErrConnect, slot.topic, p)
		}
	}()
	channel, err = r.client.OpenChannel(ctxt, slot.topic)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrConnect, slot.topic, err.Error())
	}
	if channel == nil {
		return nil, fmt.Errorf("%w: %s: no channel returned", ErrConnect, slot.topic)
	}
	return channel, nil
}

// releaseChannel helper function to close a channel, only logging failures
func (r *channelRegistryImpl) releaseChannel(
	ctxt context.Context, topic string, channel dataplane.StatusChannel,
) {
	defer common.RecoverPanic(r.LogTags, fmt.Sprintf("release of %s channel", topic))
	if err := channel.Close(ctxt); err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf("Failed to release %s channel", topic)
		return
	}
	log.WithFields(r.LogTags).Debugf("Released %s channel", topic)
}

// Ensure return the current channel for a topic, creating one if absent.
//
// Waiting for a creation already in progress is bounded by ctxt.
func (r *channelRegistryImpl) Ensure(
	ctxt context.Context, topic string,
) (dataplane.StatusChannel, error) {
	slot, err := r.getSlot(topic)
	if err != nil {
		return nil, err
	}
	if r.isClosed() {
		return nil, ErrRegistryClosed
	}
	if channel := slot.current(); channel != nil {
		return channel, nil
	}
	if err := slot.acquire(ctxt); err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf("Unable to create %s channel", topic)
		return nil, err
	}
	defer slot.release()
	// Created by whoever held the token before us
	if channel := slot.current(); channel != nil {
		return channel, nil
	}
	channel, err := r.openChannel(ctxt, slot)
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf("Unable to create %s channel", topic)
		return nil, err
	}
	if _, err := r.install(ctxt, slot, channel); err != nil {
		return nil, err
	}
	log.WithFields(r.LogTags).Infof("Created %s channel", topic)
	return channel, nil
}

// install place a new channel into the slot, returning the one it replaced.
//
// A channel created while Shutdown ran is released instead of installed.
func (r *channelRegistryImpl) install(
	ctxt context.Context, slot *channelSlot, channel dataplane.StatusChannel,
) (dataplane.StatusChannel, error) {
	slot.entryLock.Lock()
	if r.isClosed() {
		slot.entryLock.Unlock()
		r.releaseChannel(ctxt, slot.topic, channel)
		return nil, ErrRegistryClosed
	}
	previous := slot.channel
	slot.channel = channel
	slot.entryLock.Unlock()
	return previous, nil
}

// IsHealthy whether the topic currently has a connected channel
func (r *channelRegistryImpl) IsHealthy(topic string) (healthy bool) {
	slot, err := r.getSlot(topic)
	if err != nil {
		return false
	}
	channel := slot.current()
	if channel == nil {
		return false
	}
	defer func() {
		if p := recover(); p != nil {
			log.WithFields(r.LogTags).Errorf("Health probe of %s channel panicked: %v", topic, p)
			healthy = false
		}
	}()
	return channel.IsConnected()
}

// Recreate replace the topic's channel with a newly created one.
//
// The previous channel stays in service until the new one exists, and is released
// after the swap without holding up other callers. On failure the entry is left as
// it was.
func (r *channelRegistryImpl) Recreate(
	ctxt context.Context, topic string,
) (dataplane.StatusChannel, error) {
	slot, err := r.getSlot(topic)
	if err != nil {
		return nil, err
	}
	if r.isClosed() {
		return nil, ErrRegistryClosed
	}
	if err := slot.acquire(ctxt); err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf("Unable to recreate %s channel", topic)
		return nil, err
	}
	channel, err := r.openChannel(ctxt, slot)
	if err != nil {
		slot.release()
		log.WithError(err).WithFields(r.LogTags).Errorf("Unable to recreate %s channel", topic)
		return nil, err
	}
	previous, err := r.install(ctxt, slot, channel)
	slot.release()
	if err != nil {
		return nil, err
	}
	log.WithFields(r.LogTags).Infof("Recreated %s channel", topic)
	if previous != nil {
		r.releaseChannel(ctxt, topic, previous)
	}
	return channel, nil
}

// Shutdown release all channels
func (r *channelRegistryImpl) Shutdown(ctxt context.Context) {
	r.stateMtx.Lock()
	if r.closed {
		r.stateMtx.Unlock()
		return
	}
	r.closed = true
	r.stateMtx.Unlock()

	log.WithFields(r.LogTags).Info("Releasing all channels")
	for _, topic := range r.topics {
		slot := r.slots[topic]
		slot.entryLock.Lock()
		channel := slot.channel
		slot.channel = nil
		slot.entryLock.Unlock()
		if channel != nil {
			r.releaseChannel(ctxt, topic, channel)
		}
	}
}
