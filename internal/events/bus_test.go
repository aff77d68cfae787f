/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package events

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBus(bufSize int) *Bus {
	return NewBus(zerolog.Nop(), bufSize)
}

func receiveOne(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBus_DeliversToSubscriber(t *testing.T) {
	bus := testBus(4)
	defer bus.Close()

	ch := bus.Subscribe(TaskCreated)
	bus.Publish(Event{Type: TaskCreated, Payload: TaskDeletedPayload{TaskUUID: "t1"}})

	ev := receiveOne(t, ch)
	assert.Equal(t, TaskCreated, ev.Type)
}

func TestBus_TypeFiltering(t *testing.T) {
	bus := testBus(4)
	defer bus.Close()

	ch := bus.Subscribe(TaskDeleted)
	bus.Publish(Event{Type: TaskCreated})
	bus.Publish(Event{Type: TaskDeleted, Payload: TaskDeletedPayload{TaskUUID: "t1"}})

	ev := receiveOne(t, ch)
	assert.Equal(t, TaskDeleted, ev.Type)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra event: %v", extra.Type)
	default:
	}
}

func TestBus_FanOut(t *testing.T) {
	bus := testBus(4)
	defer bus.Close()

	ch1 := bus.Subscribe(ExecutionFailed)
	ch2 := bus.Subscribe(ExecutionFailed)

	bus.Publish(Event{Type: ExecutionFailed})

	assert.Equal(t, ExecutionFailed, receiveOne(t, ch1).Type)
	assert.Equal(t, ExecutionFailed, receiveOne(t, ch2).Type)
}

func TestBus_FIFOPerSubscriber(t *testing.T) {
	bus := testBus(16)
	defer bus.Close()

	ch := bus.Subscribe(TaskUpdated)
	for i := 0; i < 5; i++ {
		bus.Publish(Event{Type: TaskUpdated, Payload: i})
	}

	for i := 0; i < 5; i++ {
		ev := receiveOne(t, ch)
		assert.Equal(t, i, ev.Payload)
	}
}

func TestBus_SlowSubscriberDropsOldest(t *testing.T) {
	bus := testBus(2)
	defer bus.Close()

	ch := bus.Subscribe(TaskUpdated)

	// Fill the buffer and push one more; the oldest is dropped.
	bus.Publish(Event{Type: TaskUpdated, Payload: 0})
	bus.Publish(Event{Type: TaskUpdated, Payload: 1})
	bus.Publish(Event{Type: TaskUpdated, Payload: 2})

	first := receiveOne(t, ch)
	second := receiveOne(t, ch)
	assert.Equal(t, 1, first.Payload)
	assert.Equal(t, 2, second.Payload)
}

func TestBus_MultiTypeSubscription(t *testing.T) {
	bus := testBus(4)
	defer bus.Close()

	ch := bus.Subscribe(ExecutionSucceeded, ExecutionFailed)

	bus.Publish(Event{Type: ExecutionSucceeded})
	bus.Publish(Event{Type: ExecutionFailed})

	assert.Equal(t, ExecutionSucceeded, receiveOne(t, ch).Type)
	assert.Equal(t, ExecutionFailed, receiveOne(t, ch).Type)
}

func TestBus_CloseClosesChannels(t *testing.T) {
	bus := testBus(4)
	ch := bus.Subscribe(TaskCreated)

	bus.Close()

	_, open := <-ch
	require.False(t, open)

	// Publishing after close must not panic.
	bus.Publish(Event{Type: TaskCreated})
}
