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

package agent

import (
	"net"
	"sync"
	"sync/atomic"
)

// session is one tunnelled client: the agent-side TCP connection to the
// target server, keyed by the uid the relay assigned to the client.
type session struct {
	uid  uint32
	conn net.Conn
	// closedByRelay marks a session torn down on the relay's request, the
	// upstream pump then skips the Disconnect notification back
	closedByRelay atomic.Bool
}

type sessionTable struct {
	mu       sync.Mutex
	sessions map[uint32]*session
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: map[uint32]*session{}}
}

func (t *sessionTable) add(sess *session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sessions[sess.uid]; ok {
		return false
	}
	t.sessions[sess.uid] = sess
	return true
}

func (t *sessionTable) get(uid uint32) (*session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[uid]
	return sess, ok
}

func (t *sessionTable) remove(uid uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sessions[uid]; !ok {
		return false
	}
	delete(t.sessions, uid)
	return true
}

func (t *sessionTable) closeAll() {
	t.mu.Lock()
	sessions := make([]*session, 0, len(t.sessions))
	for _, sess := range t.sessions {
		sessions = append(sessions, sess)
	}
	t.sessions = map[uint32]*session{}
	t.mu.Unlock()

	for _, sess := range sessions {
		sess.closedByRelay.Store(true)
		sess.conn.Close()
	}
}
