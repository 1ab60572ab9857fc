// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// callOutcomes counts terminal calls by tool and outcome, scraped by the
// gateway's GET /metrics.
var callOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rig_tool_calls_total",
		Help: "Total terminal tool calls by tool and outcome",
	},
	[]string{"tool", "outcome"},
)

// callDuration observes end-to-end call duration by tool, from RECEIVED
// to the terminal audit write.
var callDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "rig_tool_call_duration_seconds",
		Help:    "Tool call duration in seconds by tool",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"tool"},
)
