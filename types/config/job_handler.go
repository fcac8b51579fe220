package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mdollan-source/payg/types"
)

// HandlerOptions describes a registered handler.
type HandlerOptions struct {
	// Idempotent handlers are safe to run twice for the same job.
	Idempotent  bool
	Description string
}

type registeredHandler struct {
	fn   types.HandlerFunc
	opts HandlerOptions
}

// JobHandler maps job types to the function that processes them.
type JobHandler struct {
	handlers map[types.JobType]registeredHandler
	mutex    sync.RWMutex
}

func NewJobHandler() *JobHandler {
	return &JobHandler{
		handlers: make(map[types.JobType]registeredHandler),
	}
}

// Register adds a handler for a job type. A type may only be registered once.
func (jh *JobHandler) Register(jobType types.JobType, handler types.HandlerFunc, opts HandlerOptions) error {
	if !jobType.IsValid() {
		return fmt.Errorf("unknown job type '%s'", jobType)
	}
	if handler == nil {
		return errors.New("handler must not be nil")
	}

	jh.mutex.Lock()
	defer jh.mutex.Unlock()

	if _, exists := jh.handlers[jobType]; exists {
		return fmt.Errorf("handler '%s' already registered", jobType)
	}
	jh.handlers[jobType] = registeredHandler{fn: handler, opts: opts}
	return nil
}

func (jh *JobHandler) Exists(jobType types.JobType) bool {
	jh.mutex.RLock()
	defer jh.mutex.RUnlock()

	_, exists := jh.handlers[jobType]
	return exists
}

// Lookup returns the handler for a job type.
func (jh *JobHandler) Lookup(jobType types.JobType) (types.HandlerFunc, bool) {
	jh.mutex.RLock()
	defer jh.mutex.RUnlock()

	h, ok := jh.handlers[jobType]
	return h.fn, ok
}

func (jh *JobHandler) Options(jobType types.JobType) (HandlerOptions, bool) {
	jh.mutex.RLock()
	defer jh.mutex.RUnlock()

	h, ok := jh.handlers[jobType]
	return h.opts, ok
}

// List returns the registered job types in sorted order.
func (jh *JobHandler) List() []types.JobType {
	jh.mutex.RLock()
	defer jh.mutex.RUnlock()

	names := make([]types.JobType, 0, len(jh.handlers))
	for name := range jh.handlers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
