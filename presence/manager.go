package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alwitt/statusmq/common"
	"github.com/alwitt/statusmq/dataplane"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// EligibilityFilter decides whether a subscription's status changes are published
type EligibilityFilter func(subscription string) bool

// PrefixFilter only subscriptions whose name starts with prefix are eligible
func PrefixFilter(prefix string) EligibilityFilter {
	return func(subscription string) bool {
		return strings.HasPrefix(subscription, prefix)
	}
}

// ContainsFilter only subscriptions whose name contains marker anywhere are eligible
func ContainsFilter(marker string) EligibilityFilter {
	return func(subscription string) bool {
		return len(marker) > 0 && strings.Contains(subscription, marker)
	}
}

// Eligibility match modes
const (
	MatchPrefix   = "prefix"
	MatchContains = "contains"
)

// GetEligibilityFilter define the eligibility filter for a match mode
func GetEligibilityFilter(mode, pattern string) (EligibilityFilter, error) {
	switch mode {
	case MatchPrefix:
		return PrefixFilter(pattern), nil
	case MatchContains:
		return ContainsFilter(pattern), nil
	default:
		return nil, fmt.Errorf("unknown eligibility match mode %q", mode)
	}
}

// ManagerParam parameters for the Manager
type ManagerParam struct {
	// OnlineTopic topic receiving subscriber connected events
	OnlineTopic string `validate:"required,nefield=OfflineTopic"`
	// OfflineTopic topic receiving subscriber disconnected events
	OfflineTopic string `validate:"required"`
	// Eligible decides which subscriptions are published
	Eligible EligibilityFilter `validate:"required"`
	// HealthCheck health monitor schedule
	HealthCheck HealthMonitorParam
	// ChannelTimeout max time the event path waits for a channel to be created
	ChannelTimeout time.Duration `validate:"gt=0"`
	// ShutdownGracePeriod max time Stop waits for outstanding sends
	ShutdownGracePeriod time.Duration `validate:"gt=0"`
	// Metrics optional metrics collection
	Metrics *StatusMetrics
}

// Manager keeps the online / offline status channels alive, and publishes
// subscriber status events through them.
//
// One Manager is expected per process. Its methods are safe for concurrent use.
type Manager struct {
	common.Component
	param    ManagerParam
	registry ChannelRegistry
	monitor  HealthMonitor

	// lifecycle is read-held for the full duration of a dispatch, so once Stop
	// sets stopping, no dispatch is adding to inflight or background.
	lifecycle       sync.RWMutex
	stopping        bool
	inflight        sync.WaitGroup
	background      sync.WaitGroup
	recreatePending map[string]*int32
}

// NewManager define a new Manager. No channel is opened until Start.
func NewManager(
	rootCtxt context.Context,
	client dataplane.StatusPublisher,
	param ManagerParam,
	instance string,
) (*Manager, error) {
	logTags := log.Fields{
		"module": "presence", "component": "manager", "instance": instance,
	}
	if err := validator.New().Struct(&param); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid manager parameters")
		return nil, err
	}
	registry, err := GetChannelRegistry(
		param.Metrics.InstrumentPublisher(client),
		[]string{param.OnlineTopic, param.OfflineTopic},
		instance,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define channel registry")
		return nil, err
	}
	monitor, err := GetHealthMonitor(rootCtxt, registry, param.HealthCheck, instance)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define health monitor")
		return nil, err
	}
	var onlineFlag, offlineFlag int32
	pending := map[string]*int32{
		param.OnlineTopic: &onlineFlag, param.OfflineTopic: &offlineFlag,
	}
	return &Manager{
		Component:       common.Component{LogTags: logTags},
		param:           param,
		registry:        registry,
		monitor:         monitor,
		recreatePending: pending,
	}, nil
}

// Start open the status channels, and begin the periodic health checks.
//
// Channels which fail to open here are retried by the health checks.
func (m *Manager) Start() error {
	log.WithFields(m.LogTags).Info("Starting status manager")
	for _, topic := range m.registry.Topics() {
		ctxt, cancel := context.WithTimeout(context.Background(), m.param.ChannelTimeout)
		if _, err := m.registry.Ensure(ctxt, topic); err != nil {
			log.WithError(err).WithFields(m.LogTags).Warnf(
				"%s channel not available at start", topic,
			)
		}
		cancel()
	}
	return m.monitor.Start()
}

// Ready whether all status channels are currently healthy
func (m *Manager) Ready() bool {
	for _, topic := range m.registry.Topics() {
		if !m.registry.IsHealthy(topic) {
			return false
		}
	}
	return true
}

// OnSubscriberConnected publish an online status event for the subscription
func (m *Manager) OnSubscriberConnected(subscription string) {
	m.dispatch(m.param.OnlineTopic, subscription)
}

// OnSubscriberDisconnected publish an offline status event for the subscription
func (m *Manager) OnSubscriberDisconnected(subscription string) {
	m.dispatch(m.param.OfflineTopic, subscription)
}

// dispatch publish a status event on a topic. Never blocks on the publish ACK,
// and never lets a failure escape.
func (m *Manager) dispatch(topic, subscription string) {
	localLogTags := log.Fields{}
	for k, v := range m.LogTags {
		localLogTags[k] = v
	}
	localLogTags["topic"] = topic
	localLogTags["subscription"] = subscription
	defer common.RecoverPanic(localLogTags, "status dispatch")

	m.lifecycle.RLock()
	defer m.lifecycle.RUnlock()
	if m.stopping {
		log.WithFields(localLogTags).Debug("Manager stopping, status event dropped")
		return
	}

	event := common.NewStatusEvent(subscription, time.Now())
	if !m.param.Eligible(subscription) {
		log.WithFields(localLogTags).Debug("System subscription, status event not published")
		m.param.Metrics.recordEvent(topic, outcomeFiltered)
		return
	}

	ctxt, cancel := context.WithTimeout(context.Background(), m.param.ChannelTimeout)
	defer cancel()
	channel, err := m.registry.Ensure(ctxt, topic)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Errorf("No channel, dropped %s", event)
		m.param.Metrics.recordEvent(topic, outcomeNoChannel)
		if !errors.Is(err, ErrRegistryClosed) {
			m.triggerRecreate(topic)
		}
		return
	}

	m.inflight.Add(1)
	err = channel.SendAsync(event, func(msgID string, sendErr error) {
		defer m.inflight.Done()
		if sendErr != nil {
			log.WithError(
				fmt.Errorf("%w: %s", ErrTransport, sendErr.Error()),
			).WithFields(localLogTags).Errorf("Publish of %s not acknowledged", event)
			m.param.Metrics.recordEvent(topic, outcomeAckFailed)
			return
		}
		m.param.Metrics.recordEvent(topic, outcomeAcked)
		log.WithFields(localLogTags).Debugf("Published %s as %s", event, msgID)
	})
	if err != nil {
		m.inflight.Done()
		log.WithError(
			fmt.Errorf("%w: %s", ErrTransport, err.Error()),
		).WithFields(localLogTags).Errorf("Send failed, dropped %s", event)
		m.param.Metrics.recordEvent(topic, outcomeSendFailed)
		m.triggerRecreate(topic)
		return
	}
	log.WithFields(localLogTags).Debugf("Sent %s", event)
}

// triggerRecreate recreate a topic's channel in the background, so the next event
// for the topic has a chance to succeed. At most one recreation per topic is
// pending at a time. Caller holds the lifecycle read lock.
func (m *Manager) triggerRecreate(topic string) {
	flag, ok := m.recreatePending[topic]
	if !ok || m.stopping {
		return
	}
	if !atomic.CompareAndSwapInt32(flag, 0, 1) {
		log.WithFields(m.LogTags).Debugf("%s channel recreation already pending", topic)
		return
	}
	m.background.Add(1)
	go func() {
		defer m.background.Done()
		defer atomic.StoreInt32(flag, 0)
		defer common.RecoverPanic(m.LogTags, fmt.Sprintf("recreate of %s channel", topic))
		ctxt, cancel := context.WithTimeout(context.Background(), m.param.ChannelTimeout)
		defer cancel()
		if _, err := m.registry.Recreate(ctxt, topic); err != nil {
			log.WithError(err).WithFields(m.LogTags).Errorf("Recreate of %s channel failed", topic)
		}
	}()
}

// waitWithTimeout helper function to wait on a WaitGroup until the context ends
func waitWithTimeout(ctxt context.Context, wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctxt.Done():
		return false
	}
}

// Stop end the health checks and release the status channels.
//
// Outstanding sends are given until the shutdown grace period, or the context
// ends, to complete. Safe to call multiple times.
func (m *Manager) Stop(ctxt context.Context) error {
	m.lifecycle.Lock()
	if m.stopping {
		m.lifecycle.Unlock()
		return nil
	}
	m.stopping = true
	m.lifecycle.Unlock()
	log.WithFields(m.LogTags).Info("Stopping status manager")

	graceCtxt, cancel := context.WithTimeout(ctxt, m.param.ShutdownGracePeriod)
	defer cancel()

	if err := m.monitor.Stop(graceCtxt); err != nil {
		log.WithError(err).WithFields(m.LogTags).Warn("Health monitor did not stop cleanly")
	}
	if !waitWithTimeout(graceCtxt, &m.background) {
		log.WithFields(m.LogTags).Warn("Channel recreation still in progress")
	}
	if !waitWithTimeout(graceCtxt, &m.inflight) {
		log.WithFields(m.LogTags).Warn("Stopping with status events still unacknowledged")
	}
	m.registry.Shutdown(graceCtxt)
	log.WithFields(m.LogTags).Info("Status manager stopped")
	return nil
}
