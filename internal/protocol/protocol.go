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
Package protocol implements the flyarray peer-to-peer wire framing.

Message Format:
===============

Every message on the wire is a three-part MessageDesc: a fixed header,
a structured record, and an optional raw binary payload.

	+--------+--------+--------+-----+--------+------------------+------------------+
	| Magic  | Version| MsgType| MQT | Flags  | RecordLength (4B)| BinaryLength (4B)|
	+--------+--------+--------+-----+--------+------------------+------------------+
	| Record (RecordLength bytes)                                                  |
	+-------------------------------------------------------------------------------+
	| Binary payload (BinaryLength bytes, only when BinaryLength > 0)              |
	+-------------------------------------------------------------------------------+

The record carries structured, self-describing data (a control-message
tuple, or a small envelope describing the payload that follows). The
binary payload carries opaque application bytes too large or too hot a
path to be worth encoding into the record — array chunk data, batched
query results. Splitting the two lets a receiver decide whether to
buffer, compress, or stream the payload without touching the record.
MQT tags an MsgData message with the message queue type it was sent on,
so the receiving end can credit it against the right channel; it is
meaningless on MsgControl and MsgHeartbeat frames.

MsgControl records never carry a binary payload; MsgData records
may carry one or not. FlagCompressed marks the binary payload, never the
record, as compressed with the algorithm named in CompressionAlgorithm:
WriteMessageDesc sets it whenever the payload met the configured
Compressor's size threshold, and ReadMessageDesc reverses it
transparently on the way back in.
*/
package protocol

import (
	"encoding/binary"
	"errors"
	"io"

	"flyarray/internal/compression"
)

// Protocol constants.
const (
	MagicByte       byte = 0xFA // flyarray magic byte
	ProtocolVersion byte = 0x01

	// MaxMessageSize bounds both the record and the binary payload
	// independently (16 MiB each).
	MaxMessageSize = 16 * 1024 * 1024

	// HeaderSize is the fixed on-wire header size in bytes.
	HeaderSize = 13
)

// MessageType distinguishes the two message shapes flyarray peers
// exchange, plus a keep-alive.
type MessageType byte

const (
	// MsgControl carries a control-message tuple: a per-channel credit
	// or generation-identifier update. Never has a binary payload.
	MsgControl MessageType = 0x01

	// MsgData carries application data for one message queue type. The
	// record is a small envelope (channel/sequence metadata); the
	// payload is the opaque application bytes.
	MsgData MessageType = 0x02

	// MsgHeartbeat is an empty keep-alive, sent on an otherwise idle
	// connection to distinguish a quiet peer from a dead one.
	MsgHeartbeat MessageType = 0x03
)

func (t MessageType) String() string {
	switch t {
	case MsgControl:
		return "control"
	case MsgData:
		return "data"
	case MsgHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// MessageFlag represents message flags, combined by OR.
type MessageFlag byte

const (
	FlagNone       MessageFlag = 0x00
	FlagCompressed MessageFlag = 0x01
)

// Header is the fixed-size prefix of every MessageDesc on the wire.
type Header struct {
	Magic        byte
	Version      byte
	Type         MessageType
	MQT          byte
	Flags        MessageFlag
	RecordLength uint32
	BinaryLength uint32
}

// MessageDesc is a complete framed message: header, structured record,
// and optional raw binary payload.
type MessageDesc struct {
	Header  Header
	Record  []byte
	Payload []byte

	// CompressionAlgorithm names the codec Payload was compressed with
	// when Header.Flags has FlagCompressed set. It is not itself put on
	// the wire; callers agree on it out of band (connection handshake)
	// the way flyarray peers agree on everything else in the header.
	CompressionAlgorithm compression.Algorithm

	// pool is set by ReadMessageDesc when Record/Payload came from a
	// BufferPool, so Release knows where to return them. Descs built
	// directly by a caller (rather than read off the wire) leave this
	// nil, making Release a no-op.
	pool *BufferPool
}

// Release returns Record and Payload to the BufferPool they were read
// from, if any, and clears them. Callers must treat Record and Payload
// as gone after calling Release — copy anything you need to keep past
// this point first. A Connection's actor loop calls this right after
// handleInbound, and with it the registered Manager, is done with an
// inbound MessageDesc.
func (d *MessageDesc) Release() {
	if d == nil || d.pool == nil {
		return
	}
	d.pool.Put(d.Record)
	d.pool.Put(d.Payload)
	d.Record, d.Payload, d.pool = nil, nil, nil
}

// Common errors.
var (
	ErrInvalidMagic    = errors.New("invalid protocol magic byte")
	ErrInvalidVersion  = errors.New("unsupported protocol version")
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
	ErrInvalidMessage  = errors.New("invalid message format")
)

// WriteHeader writes a message header to the writer.
func WriteHeader(w io.Writer, h Header) error {
	buf := make([]byte, HeaderSize)
	buf[0] = h.Magic
	buf[1] = h.Version
	buf[2] = byte(h.Type)
	buf[3] = h.MQT
	buf[4] = byte(h.Flags)
	binary.BigEndian.PutUint32(buf[5:9], h.RecordLength)
	binary.BigEndian.PutUint32(buf[9:13], h.BinaryLength)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads and validates a message header from the reader.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, err
	}

	h := Header{
		Magic:        buf[0],
		Version:      buf[1],
		Type:         MessageType(buf[2]),
		MQT:          buf[3],
		Flags:        MessageFlag(buf[4]),
		RecordLength: binary.BigEndian.Uint32(buf[5:9]),
		BinaryLength: binary.BigEndian.Uint32(buf[9:13]),
	}

	if h.Magic != MagicByte {
		return Header{}, ErrInvalidMagic
	}
	if h.Version != ProtocolVersion {
		return Header{}, ErrInvalidVersion
	}
	if h.RecordLength > MaxMessageSize || h.BinaryLength > MaxMessageSize {
		return Header{}, ErrMessageTooLarge
	}

	return h, nil
}

// WriteMessageDesc writes a complete three-part message to the writer.
// mqt is only meaningful for MsgData and is ignored by the receiver
// otherwise. comp may be nil to send payload uncompressed regardless of
// size; when non-nil, WriteMessageDesc runs it over a non-empty payload
// unconditionally (Compress's own literal-frame fallback keeps small
// payloads cheap) and sets FlagCompressed only when the payload actually
// met comp's configured size threshold, so the flag reflects whether
// compression did anything rather than whether a Compressor was merely
// configured.
func WriteMessageDesc(w io.Writer, msgType MessageType, mqt byte, flags MessageFlag, record, payload []byte, comp *compression.Compressor) error {
	if comp != nil && len(payload) > 0 {
		if comp.WouldCompress(len(payload)) {
			flags |= FlagCompressed
		}
		compressed, err := comp.Compress(payload)
		if err != nil {
			return err
		}
		payload = compressed
	}

	h := Header{
		Magic:        MagicByte,
		Version:      ProtocolVersion,
		Type:         msgType,
		MQT:          mqt,
		Flags:        flags,
		RecordLength: uint32(len(record)),
		BinaryLength: uint32(len(payload)),
	}

	if err := WriteHeader(w, h); err != nil {
		return err
	}
	if len(record) > 0 {
		if _, err := w.Write(record); err != nil {
			return err
		}
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// ReadMessageDesc reads a complete three-part message from the reader.
// pool supplies the Record/Payload backing arrays (nil allocates
// directly instead); the returned MessageDesc's Release method donates
// them back once the caller is done. comp mirrors the Compressor given
// to the writing side's WriteMessageDesc; when non-nil, every non-empty
// payload is run through Decompress, which is a no-op for payloads
// WriteMessageDesc stored as a literal frame. comp should be nil on one
// end only if it is nil on both, since the wire format Compress produces
// is not valid application payload on its own.
func ReadMessageDesc(r io.Reader, pool *BufferPool, comp *compression.Compressor) (*MessageDesc, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	desc := &MessageDesc{Header: h, pool: pool}
	if h.RecordLength > 0 {
		desc.Record = pool.Get(int(h.RecordLength))
		if _, err := io.ReadFull(r, desc.Record); err != nil {
			return nil, err
		}
	}
	if h.BinaryLength > 0 {
		raw := pool.Get(int(h.BinaryLength))
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, err
		}
		if comp != nil {
			decompressed, err := comp.Decompress(raw, comp.Algorithm())
			pool.Put(raw)
			if err != nil {
				return nil, err
			}
			desc.Payload = decompressed
			if h.Flags&FlagCompressed != 0 {
				desc.CompressionAlgorithm = comp.Algorithm()
			}
		} else {
			desc.Payload = raw
		}
	}
	return desc, nil
}

// Validate applies the structural checks a receiver runs on every
// MessageDesc before handing it to the connection's dispatch table:
// header/body agreement, size limits, and the MsgControl-never-carries-
// a-payload rule. It does not know about channels or sequence numbers;
// that validation belongs to the network package.
func Validate(desc *MessageDesc) error {
	if desc == nil {
		return ErrInvalidMessage
	}
	if desc.Header.Magic != MagicByte {
		return ErrInvalidMagic
	}
	if desc.Header.Version != ProtocolVersion {
		return ErrInvalidVersion
	}
	if int(desc.Header.RecordLength) != len(desc.Record) {
		return ErrInvalidMessage
	}
	if int(desc.Header.BinaryLength) != len(desc.Payload) {
		return ErrInvalidMessage
	}
	if desc.Header.RecordLength > MaxMessageSize || desc.Header.BinaryLength > MaxMessageSize {
		return ErrMessageTooLarge
	}
	if desc.Header.Type == MsgControl && desc.Header.BinaryLength != 0 {
		return ErrInvalidMessage
	}
	if desc.Header.Type == MsgHeartbeat && (desc.Header.RecordLength != 0 || desc.Header.BinaryLength != 0) {
		return ErrInvalidMessage
	}
	return nil
}
