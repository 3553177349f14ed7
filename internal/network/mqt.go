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

/*
Package network implements the per-peer connection subsystem: one
bidirectional transport to a single remote instance or client, a
multi-channel send queue per connection, and the credit-based
backpressure protocol that governs when messages may go on the wire.
*/
package network

import "fmt"

// MessageQueueType partitions outbound traffic into independently
// flow-controlled streams. It is a closed enumeration: MessageQueueNone
// is the unthrottled control class and is never subjected to credit
// checks; every other value is flow-controlled by peer-advertised
// receive capacity.
type MessageQueueType int

const (
	// MessageQueueNone is unbounded/control traffic: control-message
	// tuples and anything else that must never deadlock on credit.
	MessageQueueNone MessageQueueType = iota
	// MessageQueueReplication carries inter-instance replication traffic.
	MessageQueueReplication
	// MessageQueueQuery carries client query request/response traffic.
	MessageQueueQuery
	// MessageQueueMetadata carries catalog and schema traffic.
	MessageQueueMetadata
	// MessageQueueBulk carries large array-chunk payloads, the class
	// most likely to benefit from FlagCompressed.
	MessageQueueBulk
)

var mqtNames = map[MessageQueueType]string{
	MessageQueueNone:        "none",
	MessageQueueReplication: "replication",
	MessageQueueQuery:       "query",
	MessageQueueMetadata:    "metadata",
	MessageQueueBulk:        "bulk",
}

func (t MessageQueueType) String() string {
	if s, ok := mqtNames[t]; ok {
		return s
	}
	return fmt.Sprintf("mqt(%d)", int(t))
}

// ParseMessageQueueType parses the string form used in configuration
// files and control-plane tooling.
func ParseMessageQueueType(s string) (MessageQueueType, error) {
	for t, name := range mqtNames {
		if name == s {
			return t, nil
		}
	}
	return MessageQueueNone, fmt.Errorf("unknown message queue type: %q", s)
}

// AllMessageQueueTypes lists every known mqt, in a stable order, for
// callers that need to enumerate configuration or metrics per class.
func AllMessageQueueTypes() []MessageQueueType {
	return []MessageQueueType{
		MessageQueueNone,
		MessageQueueReplication,
		MessageQueueQuery,
		MessageQueueMetadata,
		MessageQueueBulk,
	}
}
