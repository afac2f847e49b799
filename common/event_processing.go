package common

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/apex/log"
)

// TaskHandler a handler function which execute a task based on parameters
type TaskHandler func(taskParam interface{}) error

// TaskProcessor processing module for implementing an event loop model.
//
// Tasks are processed one at a time, in the order they were submitted.
type TaskProcessor interface {
	// Submit enqueue a new task parameter. Blocks until queued, or the context ends.
	Submit(ctxt context.Context, newTaskParam interface{}) error
	// ProcessNewTaskParam run the handler registered for the parameter type
	ProcessNewTaskParam(newTaskParam interface{}) error
	// AddToTaskExecutionMap register the handler for a parameter type
	AddToTaskExecutionMap(theType reflect.Type, handler TaskHandler) error
	// StartEventLoop start processing submitted tasks
	StartEventLoop(wg *sync.WaitGroup) error
	// StopEventLoop stop processing. Queued tasks not yet started are discarded.
	StopEventLoop() error
}

// taskProcessorImpl implement TaskProcessor
type taskProcessorImpl struct {
	Component
	name          string
	operationCtxt context.Context
	contextCancel context.CancelFunc
	newTasks      chan interface{}
	lock          sync.RWMutex
	executionMap  map[reflect.Type]TaskHandler
}

// GetNewTaskProcessorInstance get instance of TaskProcessor
func GetNewTaskProcessorInstance(
	name string, taskBuffer int, rootCtxt context.Context,
) (TaskProcessor, error) {
	if taskBuffer < 0 {
		return nil, fmt.Errorf("[TP %s] invalid task buffer size %d", name, taskBuffer)
	}
	logTags := log.Fields{
		"module": "common", "component": "task-processor", "instance": name,
	}
	ctxt, cancel := context.WithCancel(rootCtxt)
	return &taskProcessorImpl{
		Component:     Component{LogTags: logTags},
		name:          name,
		operationCtxt: ctxt,
		contextCancel: cancel,
		newTasks:      make(chan interface{}, taskBuffer),
		executionMap:  make(map[reflect.Type]TaskHandler),
	}, nil
}

// Submit submit a new task parameter for processing
func (p *taskProcessorImpl) Submit(ctxt context.Context, newTaskParam interface{}) error {
	if p.operationCtxt.Err() != nil {
		return fmt.Errorf("[TP %s] event loop stopped", p.name)
	}
	select {
	case p.newTasks <- newTaskParam:
		log.WithFields(p.LogTags).Debugf("Accepted new %s", reflect.TypeOf(newTaskParam))
		return nil
	case <-ctxt.Done():
		return ctxt.Err()
	case <-p.operationCtxt.Done():
		return fmt.Errorf("[TP %s] event loop stopped", p.name)
	}
}

// AddToTaskExecutionMap add a new entry to the task param to execution mapping
func (p *taskProcessorImpl) AddToTaskExecutionMap(theType reflect.Type, handler TaskHandler) error {
	log.WithFields(p.LogTags).Debugf("Appending to task execution mapping for %s", theType)
	p.lock.Lock()
	defer p.lock.Unlock()
	p.executionMap[theType] = handler
	return nil
}

// StopEventLoop stop the task param processing event loop
func (p *taskProcessorImpl) StopEventLoop() error {
	log.WithFields(p.LogTags).Info("Stopping event loop")
	p.contextCancel()
	return nil
}

// ProcessNewTaskParam process a new task param
func (p *taskProcessorImpl) ProcessNewTaskParam(newTaskParam interface{}) error {
	p.lock.RLock()
	theHandler, ok := p.executionMap[reflect.TypeOf(newTaskParam)]
	p.lock.RUnlock()
	if !ok {
		return fmt.Errorf(
			"[TP %s] No matching handler found for %s", p.name, reflect.TypeOf(newTaskParam),
		)
	}
	log.WithFields(p.LogTags).Debugf("Processing new %s", reflect.TypeOf(newTaskParam))
	return theHandler(newTaskParam)
}

// StartEventLoop start the event loop
func (p *taskProcessorImpl) StartEventLoop(wg *sync.WaitGroup) error {
	log.WithFields(p.LogTags).Info("Starting event loop")
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer log.WithFields(p.LogTags).Info("Event loop exiting")
		for {
			select {
			case <-p.operationCtxt.Done():
				return
			case newTaskParam := <-p.newTasks:
				p.processOne(newTaskParam)
			}
		}
	}()
	return nil
}

// processOne run one task, containing any panic raised by its handler
func (p *taskProcessorImpl) processOne(newTaskParam interface{}) {
	defer RecoverPanic(p.LogTags, "task processing")
	if err := p.ProcessNewTaskParam(newTaskParam); err != nil {
		log.WithError(err).WithFields(p.LogTags).Error("Failed to process new task param")
	}
}
