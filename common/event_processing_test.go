package common

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func TestTaskParamProcessing(t *testing.T) {
	assert := assert.New(t)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetNewTaskProcessorInstance("testing", 4, ctxt)
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.StopEventLoop())
	}()

	// Case 1: no executor map
	{
		assert.NotNil(uut.ProcessNewTaskParam("hello"))
	}

	type testStruct1 struct{}
	type testStruct2 struct{}
	type testStruct3 struct{}

	// Case 2: register handlers
	{
		assert.Nil(uut.AddToTaskExecutionMap(
			reflect.TypeOf(testStruct1{}), func(p interface{}) error { return nil },
		))
		assert.Nil(uut.AddToTaskExecutionMap(
			reflect.TypeOf(testStruct3{}),
			func(p interface{}) error { return fmt.Errorf("dummy error") },
		))
		assert.Nil(uut.ProcessNewTaskParam(testStruct1{}))
		assert.NotNil(uut.ProcessNewTaskParam(testStruct2{}))
		assert.NotNil(uut.ProcessNewTaskParam(&testStruct2{}))
		assert.NotNil(uut.ProcessNewTaskParam(testStruct3{}))
	}

	// Case 3: pointer type is distinct
	{
		assert.Nil(uut.AddToTaskExecutionMap(
			reflect.TypeOf(&testStruct2{}), func(p interface{}) error { return nil },
		))
		assert.Nil(uut.ProcessNewTaskParam(&testStruct2{}))
		assert.NotNil(uut.ProcessNewTaskParam(testStruct2{}))
	}
}

func TestTaskProcessorEventLoop(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	uut, err := GetNewTaskProcessorInstance("testing-loop", 1, ctxt)
	assert.Nil(err)

	type testStruct1 struct{ value int }
	type testStruct2 struct{}

	results := make(chan int, 8)
	assert.Nil(uut.AddToTaskExecutionMap(
		reflect.TypeOf(testStruct1{}), func(p interface{}) error {
			results <- p.(testStruct1).value
			return nil
		},
	))
	assert.Nil(uut.AddToTaskExecutionMap(
		reflect.TypeOf(testStruct2{}), func(p interface{}) error {
			panic("handler failure")
		},
	))

	assert.Nil(uut.StartEventLoop(&wg))

	// Case 0: tasks processed in submission order, a panicking handler does not
	// stop the loop
	{
		lclCtxt, lclCancel := context.WithTimeout(ctxt, time.Second)
		assert.Nil(uut.Submit(lclCtxt, testStruct1{value: 1}))
		assert.Nil(uut.Submit(lclCtxt, testStruct2{}))
		assert.Nil(uut.Submit(lclCtxt, testStruct1{value: 2}))
		lclCancel()
		for _, expected := range []int{1, 2} {
			select {
			case v := <-results:
				assert.Equal(expected, v)
			case <-time.After(time.Second):
				assert.Fail("task not processed in time")
			}
		}
	}

	// Case 1: submit fails after the loop stops
	assert.Nil(uut.StopEventLoop())
	wg.Wait()
	{
		lclCtxt, lclCancel := context.WithTimeout(ctxt, time.Millisecond*50)
		defer lclCancel()
		assert.NotNil(uut.Submit(lclCtxt, testStruct1{value: 3}))
	}
}
