// Copyright 2025 mcbridge contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	directionClientToAgent = "client_to_agent"
	directionAgentToClient = "agent_to_client"
)

var (
	activeClientsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcbridge_relay_clients_active",
		Help: "Number of client connections currently registered on the relay.",
	})
	agentAttachedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcbridge_relay_agent_attached",
		Help: "Whether an agent control link is currently attached (0 or 1).",
	})
	forwardedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcbridge_relay_forwarded_bytes_total",
		Help: "Bytes forwarded through the relay, by direction.",
	}, []string{"direction"})
)
