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
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordExecutionCreated(t *testing.T) {
	before := testutil.ToFloat64(ExecutionsCreated.WithLabelValues("SCHEDULED"))
	RecordExecutionCreated("SCHEDULED")
	after := testutil.ToFloat64(ExecutionsCreated.WithLabelValues("SCHEDULED"))
	assert.Equal(t, before+1, after)
}

func TestRecordTransition(t *testing.T) {
	before := testutil.ToFloat64(ExecutionTransitions.WithLabelValues("FAILED"))
	RecordTransition("FAILED")
	RecordTransition("FAILED")
	after := testutil.ToFloat64(ExecutionTransitions.WithLabelValues("FAILED"))
	assert.Equal(t, before+2, after)
}

func TestGauges(t *testing.T) {
	SetHeapSize(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(SchedulerHeapSize))

	SetDeleteQueueDepth(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(DeleteQueueDepth))
}

func TestRecordDeleteProcessed(t *testing.T) {
	before := testutil.ToFloat64(DeletesProcessed.WithLabelValues("ack"))
	RecordDeleteProcessed("ack")
	after := testutil.ToFloat64(DeletesProcessed.WithLabelValues("ack"))
	assert.Equal(t, before+1, after)
}

func TestRecordDroppedEvent(t *testing.T) {
	before := testutil.ToFloat64(EventsDropped.WithLabelValues("task.updated"))
	RecordDroppedEvent("task.updated")
	after := testutil.ToFloat64(EventsDropped.WithLabelValues("task.updated"))
	assert.Equal(t, before+1, after)
}
