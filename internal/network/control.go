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
	"encoding/binary"

	flyerrors "flyarray/internal/errors"
)

// controlTuple mirrors the ⟨mqt, remoteSize, localGen, remoteGen,
// localSeq, remoteSeq⟩ tuple carried in the record of every
// MsgControl message.
type controlTuple struct {
	mqt          MessageQueueType
	remoteSize   uint64
	localGenID   uint64
	remoteGenID  uint64
	localSeqNum  uint64
	remoteSeqNum uint64
}

// controlTupleSize is the wire size of one tuple: a one-byte mqt tag
// followed by five big-endian uint64 fields.
const controlTupleSize = 1 + 5*8

// encodeControlRecord builds the record body of a MsgControl message
// carrying one or more control tuples.
func encodeControlRecord(tuples []controlTuple) []byte {
	buf := make([]byte, 2+len(tuples)*controlTupleSize)
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(tuples)))
	off := 2
	for _, t := range tuples {
		buf[off] = byte(t.mqt)
		binary.BigEndian.PutUint64(buf[off+1:], t.remoteSize)
		binary.BigEndian.PutUint64(buf[off+9:], t.localGenID)
		binary.BigEndian.PutUint64(buf[off+17:], t.remoteGenID)
		binary.BigEndian.PutUint64(buf[off+25:], t.localSeqNum)
		binary.BigEndian.PutUint64(buf[off+33:], t.remoteSeqNum)
		off += controlTupleSize
	}
	return buf
}

// decodeControlRecord parses the record body of a MsgControl message.
// A malformed record is a MalformedMessage error, fatal to the
// connection.
func decodeControlRecord(record []byte) ([]controlTuple, error) {
	if len(record) < 2 {
		return nil, flyerrors.MalformedMessage("control record shorter than the tuple count field")
	}
	count := int(binary.BigEndian.Uint16(record[0:2]))
	want := 2 + count*controlTupleSize
	if len(record) != want {
		return nil, flyerrors.MalformedMessage("control record length does not match its declared tuple count")
	}

	tuples := make([]controlTuple, count)
	off := 2
	for i := 0; i < count; i++ {
		tuples[i] = controlTuple{
			mqt:          MessageQueueType(record[off]),
			remoteSize:   binary.BigEndian.Uint64(record[off+1:]),
			localGenID:   binary.BigEndian.Uint64(record[off+9:]),
			remoteGenID:  binary.BigEndian.Uint64(record[off+17:]),
			localSeqNum:  binary.BigEndian.Uint64(record[off+25:]),
			remoteSeqNum: binary.BigEndian.Uint64(record[off+33:]),
		}
		off += controlTupleSize
	}
	return tuples, nil
}
