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

package network

import (
	"sync/atomic"
	"time"
)

// processStart anchors the monotonic reading newGenerationID builds
// generation IDs from. time.Now() bundles a monotonic clock reading
// alongside the wall clock, and time.Since keeps computing off that
// monotonic reading rather than the wall clock, so generation IDs stay
// strictly increasing across NTP corrections and backward wall-clock
// jumps. Decomposing a Time into wall-clock fields (UnixNano and
// friends) discards the monotonic reading entirely and must never be
// done here.
var processStart = time.Now()

var genCounter uint64

// newGenerationID mints an opaque, strictly increasing token for a new
// MultiChannelQueue: a monotonic-clock reading combined with a
// process-wide counter, so two queues constructed in the same instant
// still compare distinct. Callers must never decompose the value; it
// exists only to be compared for equality and ordering.
func newGenerationID() (uint64, error) {
	elapsed := time.Since(processStart)
	seq := atomic.AddUint64(&genCounter, 1)
	return uint64(elapsed.Nanoseconds())<<12 | (seq & 0xFFF), nil
}
