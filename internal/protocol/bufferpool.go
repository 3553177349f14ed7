/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package protocol

import "sync"

// BufferPool recycles byte slices used to hold a MessageDesc's record or
// payload while it is being read off the wire, avoiding an allocation
// per message on a connection carrying a steady stream of small frames.
// ReadMessageDesc is its main caller; a nil *BufferPool is a valid,
// explicit way to opt a reader out of pooling (Get falls back to a plain
// allocation, Put is a no-op), so callers that don't care about reuse
// (tests, one-shot reads) can pass nil instead of constructing one.
type BufferPool struct {
	pool sync.Pool
}

// NewBufferPool returns a BufferPool whose buffers start at the given
// capacity and grow as needed.
func NewBufferPool(initialCap int) *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() interface{} {
				b := make([]byte, 0, initialCap)
				return &b
			},
		},
	}
}

// Get returns a buffer with at least the requested length, resized from
// a pooled slice when its capacity allows. A nil *BufferPool allocates
// directly, so callers never need to guard the pool-or-not choice.
func (p *BufferPool) Get(length int) []byte {
	if p == nil {
		return make([]byte, length)
	}
	b := p.pool.Get().(*[]byte)
	if cap(*b) < length {
		*b = make([]byte, length)
		return *b
	}
	*b = (*b)[:length]
	return *b
}

// Put returns a buffer to the pool for reuse. A nil *BufferPool is a
// no-op. The buffer need not have originated from Get: anything the
// caller no longer needs can be donated back, which is how
// ReadMessageDesc recycles a compressed frame's scratch buffer once it
// has been decompressed into a separate slice.
func (p *BufferPool) Put(b []byte) {
	if p == nil || b == nil {
		return
	}
	b = b[:0]
	p.pool.Put(&b)
}

// DefaultBufferPool is shared by callers that read many MessageDescs off
// the same connection and don't need pool isolation.
var DefaultBufferPool = NewBufferPool(4096)
