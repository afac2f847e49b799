package common

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntervalTimerOneShot(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetIntervalTimerInstance("testing", ctxt, &wg)
	assert.Nil(err)

	var value int32
	callback := func() error {
		atomic.AddInt32(&value, 1)
		return nil
	}

	assert.Nil(uut.Start(time.Millisecond*100, callback, true))
	time.Sleep(time.Millisecond * 150)
	assert.Equal(int32(1), atomic.LoadInt32(&value))

	time.Sleep(time.Millisecond * 100)
	assert.Equal(int32(1), atomic.LoadInt32(&value))

	assert.Nil(uut.Start(time.Millisecond*50, callback, true))
	time.Sleep(time.Millisecond * 80)
	assert.Equal(int32(2), atomic.LoadInt32(&value))
}

func TestIntervalTimerWithDelay(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetIntervalTimerInstance("testing-delay", ctxt, &wg)
	assert.Nil(err)

	// Case 0: bad parameters
	assert.NotNil(uut.StartWithDelay(time.Millisecond, 0, func() error { return nil }))

	var value int32
	callback := func() error {
		atomic.AddInt32(&value, 1)
		return nil
	}

	// Case 1: first trigger after the short delay, then on the interval
	assert.Nil(uut.StartWithDelay(time.Millisecond*20, time.Millisecond*200, callback))
	time.Sleep(time.Millisecond * 100)
	assert.Equal(int32(1), atomic.LoadInt32(&value))
	time.Sleep(time.Millisecond * 200)
	assert.Equal(int32(2), atomic.LoadInt32(&value))

	// Case 2: stopping ends the loop
	assert.Nil(uut.Stop())
	wg.Wait()
	time.Sleep(time.Millisecond * 250)
	assert.Equal(int32(2), atomic.LoadInt32(&value))
}
