package common

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
)

// TimeoutHandler handler callback on timeout
type TimeoutHandler func() error

// IntervalTimer support class for triggering events at specific intervals
type IntervalTimer interface {
	// Start trigger the handler every interval. Stop after the first trigger if oneShot.
	Start(interval time.Duration, handler TimeoutHandler, oneShot bool) error
	// StartWithDelay trigger the handler once after initialDelay, then every interval.
	StartWithDelay(initialDelay, interval time.Duration, handler TimeoutHandler) error
	// Stop stop the timer loop. A handler call already in progress runs to completion.
	Stop() error
}

// intervalTimerImpl implements IntervalTimer
type intervalTimerImpl struct {
	Component
	rootContext      context.Context
	operationContext context.Context
	contextCancel    context.CancelFunc
	wg               *sync.WaitGroup
}

// GetIntervalTimerInstance create new interval timer instance
func GetIntervalTimerInstance(
	name string, rootCtxt context.Context, wg *sync.WaitGroup,
) (IntervalTimer, error) {
	logTags := log.Fields{
		"module": "common", "component": "interval-timer", "instance": name,
	}
	return &intervalTimerImpl{
		Component:        Component{LogTags: logTags},
		rootContext:      rootCtxt,
		operationContext: nil,
		contextCancel:    nil,
		wg:               wg,
	}, nil
}

// Start start the interval timer
func (t *intervalTimerImpl) Start(
	interval time.Duration, handler TimeoutHandler, oneShot bool,
) error {
	return t.startLoop(interval, interval, handler, oneShot)
}

// StartWithDelay start the interval timer, with a different delay before the first trigger
func (t *intervalTimerImpl) StartWithDelay(
	initialDelay, interval time.Duration, handler TimeoutHandler,
) error {
	return t.startLoop(initialDelay, interval, handler, false)
}

func (t *intervalTimerImpl) startLoop(
	initialDelay, interval time.Duration, handler TimeoutHandler, oneShot bool,
) error {
	if interval <= 0 || initialDelay < 0 {
		return fmt.Errorf("invalid timer interval %s (delay %s)", interval, initialDelay)
	}
	log.WithFields(t.LogTags).Infof("Starting with int %s (delay %s)", interval, initialDelay)
	t.wg.Add(1)
	ctxt, cancel := context.WithCancel(t.rootContext)
	t.operationContext = ctxt
	t.contextCancel = cancel
	go func() {
		defer t.wg.Done()
		defer log.WithFields(t.LogTags).Info("Timer loop exiting")
		nextWait := initialDelay
		for {
			select {
			case <-ctxt.Done():
				return
			case <-time.After(nextWait):
				// Stop may have raced with the timeout
				if ctxt.Err() != nil {
					return
				}
				log.WithFields(t.LogTags).Debug("Calling handler")
				if err := handler(); err != nil {
					log.WithError(err).WithFields(t.LogTags).Error("Handler failed")
				}
				if oneShot {
					return
				}
			}
			nextWait = interval
		}
	}()
	return nil
}

// Stop stop the interval timer
func (t *intervalTimerImpl) Stop() error {
	if t.contextCancel != nil {
		log.WithFields(t.LogTags).Info("Stopping timer loop")
		t.contextCancel()
	}
	return nil
}
