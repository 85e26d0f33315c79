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
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcbridge/mcbridge/api"
)

type client struct {
	uid         uint32
	conn        net.Conn
	connectedAt time.Time
	bytesIn     atomic.Uint64
	bytesOut    atomic.Uint64
}

// registry tracks the connected clients, assigning each a uid unique for
// the relay's lifetime. uids start at 1, uid 0 is reserved for control
// frames.
type registry struct {
	mu      sync.Mutex
	nextUID uint32
	clients map[uint32]*client
}

func newRegistry() *registry {
	return &registry{clients: map[uint32]*client{}}
}

func (r *registry) register(conn net.Conn) *client {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextUID++
	c := &client{
		uid:         r.nextUID,
		conn:        conn,
		connectedAt: time.Now(),
	}
	r.clients[c.uid] = c
	return c
}

func (r *registry) unregister(uid uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[uid]; !ok {
		return false
	}
	delete(r.clients, uid)
	return true
}

func (r *registry) get(uid uint32) (*client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[uid]
	return c, ok
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.clients)
}

func (r *registry) snapshot() []api.ClientStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]api.ClientStatus, 0, len(r.clients))
	for _, c := range r.clients {
		statuses = append(statuses, api.ClientStatus{
			UID:         c.uid,
			RemoteAddr:  c.conn.RemoteAddr().String(),
			ConnectedAt: c.connectedAt,
			BytesIn:     c.bytesIn.Load(),
			BytesOut:    c.bytesOut.Load(),
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].UID < statuses[j].UID })
	return statuses
}
