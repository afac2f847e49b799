package presence

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alwitt/statusmq/common"
	"github.com/alwitt/statusmq/dataplane"
	"github.com/alwitt/statusmq/mocks"
	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// defineTestManager helper function to define a Manager for testing. The health
// checks are scheduled far enough out to not interfere.
func defineTestManager(
	t *testing.T, ctxt context.Context, client dataplane.StatusPublisher, instance string,
) *Manager {
	uut, err := NewManager(ctxt, client, ManagerParam{
		OnlineTopic:  "online",
		OfflineTopic: "offline",
		Eligible:     PrefixFilter("ahenk"),
		HealthCheck: HealthMonitorParam{
			InitialDelay: time.Hour, Interval: time.Hour, RecreateTimeout: time.Second,
		},
		ChannelTimeout:      time.Second,
		ShutdownGracePeriod: time.Millisecond * 500,
	}, instance)
	assert.Nil(t, err)
	return uut
}

// stopTestManager helper function to stop a Manager, releasing whatever channels it holds
func stopTestManager(t *testing.T, uut *Manager) {
	ctxt, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Nil(t, uut.Stop(ctxt))
}

func TestManagerDefinition(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := new(mocks.StatusPublisher)

	valid := ManagerParam{
		OnlineTopic:  "online",
		OfflineTopic: "offline",
		Eligible:     PrefixFilter("ahenk"),
		HealthCheck: HealthMonitorParam{
			Interval: time.Second, RecreateTimeout: time.Second,
		},
		ChannelTimeout:      time.Second,
		ShutdownGracePeriod: time.Second,
	}
	_, err := NewManager(ctxt, client, valid, "ut-manager-def")
	assert.Nil(err)

	// Case 0: same topic for both directions
	{
		param := valid
		param.OfflineTopic = "online"
		_, err := NewManager(ctxt, client, param, "ut-manager-def")
		assert.NotNil(err)
	}

	// Case 1: no filter
	{
		param := valid
		param.Eligible = nil
		_, err := NewManager(ctxt, client, param, "ut-manager-def")
		assert.NotNil(err)
	}

	// Case 2: bad health check schedule
	{
		param := valid
		param.HealthCheck.Interval = 0
		_, err := NewManager(ctxt, client, param, "ut-manager-def")
		assert.NotNil(err)
	}

	client.AssertNotCalled(t, "OpenChannel", mock.Anything, mock.Anything)
}

func TestPrefixFilter(t *testing.T) {
	assert := assert.New(t)

	uut := PrefixFilter("ahenk")
	assert.True(uut("ahenk-123"))
	assert.True(uut("ahenk"))
	assert.False(uut("internal-monitor"))
	assert.False(uut("my-ahenk-123"))
	assert.False(uut(""))
}

func TestContainsFilter(t *testing.T) {
	assert := assert.New(t)

	uut := ContainsFilter("ahenk")
	assert.True(uut("ahenk-123"))
	assert.True(uut("my-ahenk-123"))
	assert.False(uut("internal-monitor"))
	assert.False(uut(""))
	assert.False(ContainsFilter("")("anything"))

	{
		filter, err := GetEligibilityFilter(MatchContains, "ahenk")
		assert.Nil(err)
		assert.True(filter("my-ahenk-123"))
	}
	{
		filter, err := GetEligibilityFilter(MatchPrefix, "ahenk")
		assert.Nil(err)
		assert.False(filter("my-ahenk-123"))
	}
	{
		_, err := GetEligibilityFilter("regex", "ahenk")
		assert.NotNil(err)
	}
}

func TestManagerPublishOnline(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := new(mocks.StatusPublisher)
	uut := defineTestManager(t, ctxt, client, "ut-manager-online")

	online := new(mocks.StatusChannel)
	offline := new(mocks.StatusChannel)
	client.On("OpenChannel", mock.Anything, "online").Return(online, nil).Once()
	client.On("OpenChannel", mock.Anything, "offline").Return(offline, nil).Once()
	assert.Nil(uut.Start())

	// Eligible subscription connects
	{
		sent := make(chan common.StatusEvent, 1)
		online.On(
			"SendAsync", mock.AnythingOfType("common.StatusEvent"), mock.Anything,
		).Run(func(args mock.Arguments) {
			event := args.Get(0).(common.StatusEvent)
			cb := args.Get(1).(dataplane.SendCompleteCB)
			sent <- event
			go cb("subscriber-status:1", nil)
		}).Return(nil).Once()

		uut.OnSubscriberConnected("ahenk-123")

		select {
		case event := <-sent:
			assert.Equal("ahenk-123", event.SubscriptionName)
			assert.NotEmpty(event.EventTimestamp)
		case <-time.After(time.Second):
			assert.Fail("no status event sent")
		}
		offline.AssertNotCalled(t, "SendAsync", mock.Anything, mock.Anything)
	}

	// Disconnect goes to the offline topic
	{
		sent := make(chan common.StatusEvent, 1)
		offline.On(
			"SendAsync", mock.AnythingOfType("common.StatusEvent"), mock.Anything,
		).Run(func(args mock.Arguments) {
			sent <- args.Get(0).(common.StatusEvent)
			go args.Get(1).(dataplane.SendCompleteCB)("subscriber-status:2", nil)
		}).Return(nil).Once()

		uut.OnSubscriberDisconnected("ahenk-123")

		select {
		case event := <-sent:
			assert.Equal("ahenk-123", event.SubscriptionName)
		case <-time.After(time.Second):
			assert.Fail("no status event sent")
		}
	}

	// Release both channels on stop; again on the second stop is a no-op
	online.On("Close", mock.Anything).Return(nil).Once()
	offline.On("Close", mock.Anything).Return(nil).Once()
	stopTestManager(t, uut)
	stopTestManager(t, uut)

	client.AssertExpectations(t)
	online.AssertExpectations(t)
	offline.AssertExpectations(t)
	online.AssertNumberOfCalls(t, "Close", 1)
	offline.AssertNumberOfCalls(t, "Close", 1)
}

func TestManagerFilterSystemSubscriptions(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)
	logs := memory.New()
	if logger, ok := log.Log.(*log.Logger); ok {
		defer log.SetHandler(logger.Handler)
	}
	log.SetHandler(logs)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := new(mocks.StatusPublisher)
	uut := defineTestManager(t, ctxt, client, "ut-manager-filter")

	// Subscription without the prefix
	uut.OnSubscriberConnected("internal-monitor")
	uut.OnSubscriberDisconnected("internal-monitor")

	stopTestManager(t, uut)

	client.AssertNotCalled(t, "OpenChannel", mock.Anything, mock.Anything)
	filtered := 0
	for _, entry := range logs.Entries {
		if entry.Fields.Get("subscription") == "internal-monitor" &&
			entry.Level == log.DebugLevel {
			filtered++
		}
	}
	assert.Equal(2, filtered)
}

func TestManagerNonBlockingDispatch(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := new(mocks.StatusPublisher)
	uut := defineTestManager(t, ctxt, client, "ut-manager-nonblock")

	online := new(mocks.StatusChannel)
	client.On("OpenChannel", mock.Anything, "online").Return(online, nil).Once()

	// The ACK only arrives once released
	releaseACK := make(chan struct{})
	ackReported := make(chan struct{})
	online.On(
		"SendAsync", mock.AnythingOfType("common.StatusEvent"), mock.Anything,
	).Run(func(args mock.Arguments) {
		cb := args.Get(1).(dataplane.SendCompleteCB)
		go func() {
			<-releaseACK
			cb("subscriber-status:7", nil)
			close(ackReported)
		}()
	}).Return(nil).Once()

	returned := make(chan struct{})
	go func() {
		uut.OnSubscriberConnected("ahenk-7")
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		assert.Fail("dispatch blocked on the ACK")
	}

	close(releaseACK)
	select {
	case <-ackReported:
	case <-time.After(time.Second):
		assert.Fail("ACK never reported")
	}

	online.On("Close", mock.Anything).Return(nil).Once()
	stopTestManager(t, uut)
	online.AssertExpectations(t)
}

func TestManagerConnectFailure(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := new(mocks.StatusPublisher)
	uut, err := NewManager(ctxt, client, ManagerParam{
		OnlineTopic:  "online",
		OfflineTopic: "offline",
		Eligible:     PrefixFilter("ahenk"),
		HealthCheck: HealthMonitorParam{
			InitialDelay: time.Millisecond * 200, Interval: time.Millisecond * 200,
			RecreateTimeout: time.Second,
		},
		ChannelTimeout:      time.Second,
		ShutdownGracePeriod: time.Second,
	}, "ut-manager-connect-fail")
	assert.Nil(err)

	// Offline channel can't be created
	var offlineAttempts int32
	online := new(mocks.StatusChannel)
	online.On("IsConnected").Return(true)
	client.On("OpenChannel", mock.Anything, "online").Return(online, nil).Once()
	client.On("OpenChannel", mock.Anything, "offline").Run(func(args mock.Arguments) {
		atomic.AddInt32(&offlineAttempts, 1)
	}).Return(nil, fmt.Errorf("dummy error"))
	assert.Nil(uut.Start())
	// Start made one attempt per topic
	assert.Equal(int32(1), atomic.LoadInt32(&offlineAttempts))

	assert.NotPanics(func() { uut.OnSubscriberDisconnected("ahenk-9") })

	// The dispatch triggers a recreate attempt in the background
	assert.Eventually(func() bool {
		return atomic.LoadInt32(&offlineAttempts) >= 3
	}, time.Second, time.Millisecond*10)

	// Health checks keep running and retrying
	time.Sleep(time.Millisecond * 500)

	online.On("Close", mock.Anything).Return(nil).Once()
	stopTestManager(t, uut)
	assert.GreaterOrEqual(atomic.LoadInt32(&offlineAttempts), int32(4))
	online.AssertCalled(t, "IsConnected")
	online.AssertNotCalled(t, "SendAsync", mock.Anything, mock.Anything)
	client.AssertNumberOfCalls(t, "OpenChannel", int(atomic.LoadInt32(&offlineAttempts))+1)
}

func TestManagerSelfHealing(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := new(mocks.StatusPublisher)
	uut := defineTestManager(t, ctxt, client, "ut-manager-heal")

	first := new(mocks.StatusChannel)
	offline := new(mocks.StatusChannel)
	client.On("OpenChannel", mock.Anything, "online").Return(first, nil).Once()
	client.On("OpenChannel", mock.Anything, "offline").Return(offline, nil).Once()
	assert.Nil(uut.Start())

	// Online channel reports disconnected at a health check
	second := new(mocks.StatusChannel)
	{
		first.On("IsConnected").Return(false).Once()
		offline.On("IsConnected").Return(true).Once()
		client.On("OpenChannel", mock.Anything, "online").Return(second, nil).Once()
		first.On("Close", mock.Anything).Return(nil).Once()
		uut.monitor.CheckOnce()
		client.AssertNumberOfCalls(t, "OpenChannel", 3)
	}

	// The next connect event goes out on the new channel
	{
		sent := make(chan common.StatusEvent, 1)
		second.On(
			"SendAsync", mock.AnythingOfType("common.StatusEvent"), mock.Anything,
		).Run(func(args mock.Arguments) {
			sent <- args.Get(0).(common.StatusEvent)
			go args.Get(1).(dataplane.SendCompleteCB)("subscriber-status:3", nil)
		}).Return(nil).Once()
		uut.OnSubscriberConnected("ahenk-123")
		select {
		case event := <-sent:
			assert.Equal("ahenk-123", event.SubscriptionName)
		case <-time.After(time.Second):
			assert.Fail("no status event sent")
		}
		first.AssertNotCalled(t, "SendAsync", mock.Anything, mock.Anything)
	}

	second.On("Close", mock.Anything).Return(nil).Once()
	offline.On("Close", mock.Anything).Return(nil).Once()
	stopTestManager(t, uut)

	client.AssertExpectations(t)
	first.AssertExpectations(t)
	second.AssertExpectations(t)
	offline.AssertExpectations(t)
}

func TestManagerSendFailure(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := new(mocks.StatusPublisher)
	uut := defineTestManager(t, ctxt, client, "ut-manager-send-fail")

	broken := new(mocks.StatusChannel)
	client.On("OpenChannel", mock.Anything, "online").Return(broken, nil).Once()

	// Send fails synchronously; the event is dropped and the channel recreated
	replacement := new(mocks.StatusChannel)
	recreated := make(chan struct{})
	broken.On(
		"SendAsync", mock.AnythingOfType("common.StatusEvent"), mock.Anything,
	).Return(fmt.Errorf("dummy error")).Once()
	client.On("OpenChannel", mock.Anything, "online").Run(func(args mock.Arguments) {
		close(recreated)
	}).Return(replacement, nil).Once()
	broken.On("Close", mock.Anything).Return(nil).Once()

	assert.NotPanics(func() { uut.OnSubscriberConnected("ahenk-5") })
	select {
	case <-recreated:
	case <-time.After(time.Second):
		assert.Fail("channel not recreated")
	}

	// A failed ACK is only logged
	{
		acked := make(chan struct{})
		replacement.On(
			"SendAsync", mock.AnythingOfType("common.StatusEvent"), mock.Anything,
		).Run(func(args mock.Arguments) {
			go func() {
				args.Get(1).(dataplane.SendCompleteCB)("", fmt.Errorf("no ACK"))
				close(acked)
			}()
		}).Return(nil).Once()
		assert.Eventually(func() bool {
			channel, err := uut.registry.Ensure(ctxt, "online")
			return err == nil && channel == replacement
		}, time.Second, time.Millisecond*10)
		uut.OnSubscriberConnected("ahenk-6")
		select {
		case <-acked:
		case <-time.After(time.Second):
			assert.Fail("ACK failure never reported")
		}
	}

	replacement.On("Close", mock.Anything).Return(nil).Once()
	stopTestManager(t, uut)

	client.AssertExpectations(t)
	broken.AssertExpectations(t)
	replacement.AssertExpectations(t)
}

func TestManagerConcurrentDispatch(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.InfoLevel)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := new(mocks.StatusPublisher)
	uut := defineTestManager(t, ctxt, client, "ut-manager-concurrent")

	online := new(mocks.StatusChannel)
	offline := new(mocks.StatusChannel)
	client.On("OpenChannel", mock.Anything, "online").Run(func(args mock.Arguments) {
		time.Sleep(time.Millisecond * 20)
	}).Return(online, nil).Once()
	client.On("OpenChannel", mock.Anything, "offline").Run(func(args mock.Arguments) {
		time.Sleep(time.Millisecond * 20)
	}).Return(offline, nil).Once()
	for _, channel := range []*mocks.StatusChannel{online, offline} {
		channel.On(
			"SendAsync", mock.AnythingOfType("common.StatusEvent"), mock.Anything,
		).Run(func(args mock.Arguments) {
			go args.Get(1).(dataplane.SendCompleteCB)("subscriber-status:0", nil)
		}).Return(nil)
	}

	callers := 20
	wg := sync.WaitGroup{}
	for itr := 0; itr < callers; itr++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			name := fmt.Sprintf("ahenk-%d", idx)
			if idx%2 == 0 {
				uut.OnSubscriberConnected(name)
			} else {
				uut.OnSubscriberDisconnected(name)
			}
		}(itr)
	}
	wg.Wait()

	online.On("Close", mock.Anything).Return(nil).Once()
	offline.On("Close", mock.Anything).Return(nil).Once()
	stopTestManager(t, uut)

	client.AssertNumberOfCalls(t, "OpenChannel", 2)
	online.AssertNumberOfCalls(t, "SendAsync", callers/2)
	offline.AssertNumberOfCalls(t, "SendAsync", callers/2)

	// Nothing is sent after stop
	uut.OnSubscriberConnected("ahenk-late")
	online.AssertNumberOfCalls(t, "SendAsync", callers/2)
	assert.False(uut.Ready())
}
