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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ExecutionsCreated tracks executions created by the engine or manual triggers
	ExecutionsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cron_observer_executions_created_total",
			Help: "Total number of executions created",
		},
		[]string{"trigger_type"},
	)

	// ExecutionTransitions tracks execution status transitions
	ExecutionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cron_observer_execution_transitions_total",
			Help: "Total number of execution status transitions",
		},
		[]string{"to_status"},
	)

	// FiringsDropped tracks scheduler firings dropped by a gate
	FiringsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cron_observer_firings_dropped_total",
			Help: "Total number of scheduled firings dropped before execution creation",
		},
		[]string{"reason"},
	)

	// SchedulerHeapSize tracks the number of registered firings
	SchedulerHeapSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cron_observer_scheduler_heap_size",
			Help: "Number of task firings currently registered in the scheduler heap",
		},
	)

	// DeleteQueueDepth tracks pending delete messages
	DeleteQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cron_observer_delete_queue_depth",
			Help: "Number of pending messages in the delete queue",
		},
	)

	// DeletesProcessed tracks delete worker outcomes
	DeletesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cron_observer_deletes_processed_total",
			Help: "Total number of delete messages processed by the worker",
		},
		[]string{"result"},
	)

	// EventsDropped tracks bus events lost to slow subscribers
	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cron_observer_events_dropped_total",
			Help: "Total number of bus events dropped due to slow subscribers",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		ExecutionsCreated,
		ExecutionTransitions,
		FiringsDropped,
		SchedulerHeapSize,
		DeleteQueueDepth,
		DeletesProcessed,
		EventsDropped,
	)
}

// RecordExecutionCreated records a created execution
func RecordExecutionCreated(triggerType string) {
	ExecutionsCreated.WithLabelValues(triggerType).Inc()
}

// RecordTransition records an execution status transition
func RecordTransition(toStatus string) {
	ExecutionTransitions.WithLabelValues(toStatus).Inc()
}

// RecordFiringDropped records a firing dropped before execution creation
func RecordFiringDropped(reason string) {
	FiringsDropped.WithLabelValues(reason).Inc()
}

// SetHeapSize updates the scheduler heap size gauge
func SetHeapSize(n int) {
	SchedulerHeapSize.Set(float64(n))
}

// SetDeleteQueueDepth updates the delete queue depth gauge
func SetDeleteQueueDepth(n int64) {
	DeleteQueueDepth.Set(float64(n))
}

// RecordDeleteProcessed records a delete worker outcome (ack or nack)
func RecordDeleteProcessed(result string) {
	DeletesProcessed.WithLabelValues(result).Inc()
}

// RecordDroppedEvent records a bus event dropped for a slow subscriber
func RecordDroppedEvent(eventType string) {
	EventsDropped.WithLabelValues(eventType).Inc()
}
