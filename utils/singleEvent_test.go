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

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSingleEventSetOnce(t *testing.T) {
	event := NewSingleEvent()
	assert.False(t, event.IsSet())

	event.Set()
	event.Set() // idempotent
	assert.True(t, event.IsSet())

	select {
	case <-event.Done():
	default:
		t.Error("Done() should be closed after Set")
	}
}

func TestSingleEventBroadcast(t *testing.T) {
	event := NewSingleEvent()

	const nbWaiters = 10
	wg := sync.WaitGroup{}
	for i := 0; i < nbWaiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-event.Done():
			case <-time.After(time.Second):
				t.Error("waiter timed out")
			}
		}()
	}

	event.Set()
	wg.Wait()
}
