/*
Copyright 2025 Jordi Gil.

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

package ralphloop

import (
	"container/ring"
	"sync"

	"github.com/jordigilh/ralph-core/pkg/schema"
)

// retryBuffer is a bounded ring of signals that failed to persist after
// exhausting the write-retry budget. No external dependency is
// warranted for a single bounded FIFO of this size — see DESIGN.md.
type retryBuffer struct {
	mu       sync.Mutex
	r        *ring.Ring
	capacity int
	size     int
}

func newRetryBuffer(capacity int) *retryBuffer {
	return &retryBuffer{
		r:        ring.New(capacity),
		capacity: capacity,
	}
}

// push enqueues signal, returning false if the buffer is already at
// capacity (the signal is then permanently lost, logged by the caller).
func (b *retryBuffer) push(signal schema.Signal) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size >= b.capacity {
		return false
	}

	// Advance to the first empty slot and store there.
	pos := b.r
	for i := 0; i < b.size; i++ {
		pos = pos.Next()
	}
	pos.Value = signal
	b.size++
	return true
}

// drainAll removes and returns every buffered signal, oldest first.
func (b *retryBuffer) drainAll() []schema.Signal {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]schema.Signal, 0, b.size)
	pos := b.r
	for i := 0; i < b.size; i++ {
		if pos.Value != nil {
			out = append(out, pos.Value.(schema.Signal))
			pos.Value = nil
		}
		pos = pos.Next()
	}
	b.size = 0
	b.r = ring.New(b.capacity)
	return out
}

func (b *retryBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}
