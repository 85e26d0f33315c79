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

package utils

import "sync"

// SingleEvent is a broadcast event that can only fire once. Waiters select
// on Done(); Set is safe to call any number of times from any goroutine.
type SingleEvent struct {
	once sync.Once
	ch   chan struct{}
}

func NewSingleEvent() *SingleEvent {
	return &SingleEvent{ch: make(chan struct{})}
}

func (se *SingleEvent) Set() {
	se.once.Do(func() { close(se.ch) })
}

func (se *SingleEvent) IsSet() bool {
	select {
	case <-se.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed once the event fires.
func (se *SingleEvent) Done() <-chan struct{} {
	return se.ch
}
