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
	"sync"

	"github.com/rs/zerolog"

	"github.com/iLLeniumStudios/cron-observer/internal/metrics"
)

// DefaultBufferSize is the per-subscriber channel buffer
const DefaultBufferSize = 64

// Publisher is the minimal interface producers need
type Publisher interface {
	Publish(event Event)
}

// Bus is an in-process publish/subscribe bus. Delivery to a single
// subscriber is FIFO; a slow subscriber loses its oldest buffered event
// rather than blocking the publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[EventType][]*subscriber
	bufSize int
	closed  bool
	logger  zerolog.Logger
}

type subscriber struct {
	ch chan Event
}

// NewBus creates a bus with the given per-subscriber buffer size
func NewBus(logger zerolog.Logger, bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Bus{
		subs:    make(map[EventType][]*subscriber),
		bufSize: bufSize,
		logger:  logger.With().Str("component", "eventbus").Logger(),
	}
}

// Subscribe registers interest in the given event types and returns the
// channel events are delivered on
func (b *Bus) Subscribe(types ...EventType) <-chan Event {
	sub := &subscriber{ch: make(chan Event, b.bufSize)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub.ch
	}
	for _, t := range types {
		b.subs[t] = append(b.subs[t], sub)
	}
	return sub.ch
}

// Publish fans the event out to all subscribers of its type. Never blocks:
// when a subscriber's buffer is full the oldest buffered event is dropped
// with a warning.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	subs := b.subs[event.Type]
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return
	}

	for _, sub := range subs {
		select {
		case sub.ch <- event:
			continue
		default:
		}

		// Buffer full: drop the oldest event to make room.
		select {
		case dropped := <-sub.ch:
			metrics.RecordDroppedEvent(string(dropped.Type))
			b.logger.Warn().
				Str("dropped_type", string(dropped.Type)).
				Str("publishing_type", string(event.Type)).
				Msg("slow subscriber, dropping oldest event")
		default:
		}

		select {
		case sub.ch <- event:
		default:
			// Lost the race with a concurrent publisher; drop the new event.
			metrics.RecordDroppedEvent(string(event.Type))
			b.logger.Warn().
				Str("dropped_type", string(event.Type)).
				Msg("subscriber buffer contended, dropping event")
		}
	}
}

// Close closes every subscriber channel; further publishes are no-ops
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	seen := make(map[*subscriber]struct{})
	for _, subs := range b.subs {
		for _, sub := range subs {
			if _, ok := seen[sub]; ok {
				continue
			}
			seen[sub] = struct{}{}
			close(sub.ch)
		}
	}
	b.subs = make(map[EventType][]*subscriber)
}
