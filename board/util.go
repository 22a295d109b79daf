package board

import (
	"sync"
	"time"

	"github.com/golang/glog"
)

// makes a copy of the list on update, so readers never hold the lock
// while callbacks run
type CallbackList[T any] struct {
	mutex     sync.Mutex
	nextId    int
	callbacks []*callbackEntry[T]
}

type callbackEntry[T any] struct {
	callbackId int
	callback   T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{}
}

func (self *CallbackList[T]) Add(callback T) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.nextId += 1
	callbackId := self.nextId
	nextCallbacks := make([]*callbackEntry[T], len(self.callbacks), len(self.callbacks)+1)
	copy(nextCallbacks, self.callbacks)
	nextCallbacks = append(nextCallbacks, &callbackEntry[T]{
		callbackId: callbackId,
		callback:   callback,
	})
	self.callbacks = nextCallbacks
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	nextCallbacks := []*callbackEntry[T]{}
	for _, entry := range self.callbacks {
		if entry.callbackId != callbackId {
			nextCallbacks = append(nextCallbacks, entry)
		}
	}
	self.callbacks = nextCallbacks
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbacks := make([]T, len(self.callbacks))
	for i, entry := range self.callbacks {
		callbacks[i] = entry.callback
	}
	return callbacks
}

func recoverLog(tag string) {
	if r := recover(); r != nil {
		glog.Errorf("%s panic = %s\n", tag, r)
	}
}

// fixed delay before the next connect attempt, measured from creation
// so time spent failing counts against the delay
type Reconnect struct {
	deadline time.Time
}

func NewReconnect(timeout time.Duration) *Reconnect {
	return &Reconnect{
		deadline: time.Now().Add(timeout),
	}
}

func (self *Reconnect) After() <-chan time.Time {
	return time.After(time.Until(self.deadline))
}
