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

// Package api holds the payload types of the relay status API, shared
// between the relay HTTP server and the status client.
package api

import "time"

// Info describes the service answering on the status port.
type Info struct {
	Message     string `json:"message"`
	Version     string `json:"version"`
	VersionHash string `json:"version_hash,omitempty"`
}

// ClientStatus describes one tunnelled client connection.
type ClientStatus struct {
	UID         uint32    `json:"uid"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	// BytesIn counts bytes received from the client, BytesOut bytes sent
	// back to it.
	BytesIn  uint64 `json:"bytes_in"`
	BytesOut uint64 `json:"bytes_out"`
}

// RelayStatus is the full report served on /status.
type RelayStatus struct {
	AgentAttached bool           `json:"agent_attached"`
	AgentAddr     string         `json:"agent_addr,omitempty"`
	Clients       []ClientStatus `json:"clients"`
	TotalBytesIn  uint64         `json:"total_bytes_in"`
	TotalBytesOut uint64         `json:"total_bytes_out"`
}
