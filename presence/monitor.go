package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alwitt/statusmq/common"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// HealthMonitor periodically verifies the registry's channels, and recreates
// the unhealthy ones
type HealthMonitor interface {
	// Start begin the periodic health checks
	Start() error
	// CheckOnce run one round of health checks across all topics
	CheckOnce()
	// Stop end the periodic health checks. Waits for an in-progress round to
	// finish, until the context ends.
	Stop(ctxt context.Context) error
}

// HealthMonitorParam parameters for the HealthMonitor
type HealthMonitorParam struct {
	// InitialDelay delay before the first round of checks
	InitialDelay time.Duration `validate:"gte=0"`
	// Interval time between rounds of checks
	Interval time.Duration `validate:"gt=0"`
	// RecreateTimeout max time given to one channel recreation
	RecreateTimeout time.Duration `validate:"gt=0"`
}

// healthMonitorImpl implements HealthMonitor
type healthMonitorImpl struct {
	common.Component
	registry ChannelRegistry
	param    HealthMonitorParam
	timer    common.IntervalTimer
	loopWG   *sync.WaitGroup
	lock     sync.Mutex
	started  bool
}

// GetHealthMonitor define new HealthMonitor
func GetHealthMonitor(
	rootCtxt context.Context, registry ChannelRegistry, param HealthMonitorParam, instance string,
) (HealthMonitor, error) {
	logTags := log.Fields{
		"module": "presence", "component": "health-monitor", "instance": instance,
	}
	if err := validator.New().Struct(&param); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid health check schedule")
		return nil, err
	}
	loopWG := &sync.WaitGroup{}
	timer, err := common.GetIntervalTimerInstance(
		fmt.Sprintf("%s-health-check", instance), rootCtxt, loopWG,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define health check timer")
		return nil, err
	}
	return &healthMonitorImpl{
		Component: common.Component{LogTags: logTags},
		registry:  registry,
		param:     param,
		timer:     timer,
		loopWG:    loopWG,
	}, nil
}

// Start begin the periodic health checks
func (m *healthMonitorImpl) Start() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.started {
		return fmt.Errorf("health monitor already started")
	}
	if err := m.timer.StartWithDelay(m.param.InitialDelay, m.param.Interval, m.tick); err != nil {
		log.WithError(err).WithFields(m.LogTags).Error("Unable to start health checks")
		return err
	}
	m.started = true
	return nil
}

// tick timer handler. Never fails, so the schedule is never disrupted.
func (m *healthMonitorImpl) tick() error {
	m.CheckOnce()
	return nil
}

// CheckOnce run one round of health checks across all topics
func (m *healthMonitorImpl) CheckOnce() {
	for _, topic := range m.registry.Topics() {
		m.checkTopic(topic)
	}
}

// checkTopic health check one topic. Failures are contained to this topic.
func (m *healthMonitorImpl) checkTopic(topic string) {
	defer common.RecoverPanic(m.LogTags, fmt.Sprintf("health check of %s", topic))
	if m.registry.IsHealthy(topic) {
		log.WithFields(m.LogTags).Debugf("%s channel healthy", topic)
		return
	}
	log.WithFields(m.LogTags).Warnf("%s channel unhealthy, recreating", topic)
	// Not tied to the monitor's lifetime, so a recreation in progress completes
	// even if Stop is called
	ctxt, cancel := context.WithTimeout(context.Background(), m.param.RecreateTimeout)
	defer cancel()
	if _, err := m.registry.Recreate(ctxt, topic); err != nil {
		log.WithError(err).WithFields(m.LogTags).Errorf("Recreate of %s channel failed", topic)
	}
}

// Stop end the periodic health checks
func (m *healthMonitorImpl) Stop(ctxt context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if !m.started {
		return nil
	}
	m.started = false
	if err := m.timer.Stop(); err != nil {
		return err
	}
	loopDone := make(chan struct{})
	go func() {
		m.loopWG.Wait()
		close(loopDone)
	}()
	select {
	case <-loopDone:
		log.WithFields(m.LogTags).Info("Health checks stopped")
		return nil
	case <-ctxt.Done():
		log.WithFields(m.LogTags).Warn("Health check round still in progress at stop")
		return ctxt.Err()
	}
}
