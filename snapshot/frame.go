// Package snapshot implements the C6 component: a durable, tamper-evident
// serialization of an engine's live state. The wire format is a fixed
// binary header (magic, version, flags, checksum) followed by a
// restricted-allowlist-decoded payload -- no reflection-based or
// general-purpose serialization library is used here, a deliberate
// departure from "use as many third-party deps as possible" elsewhere in
// this module: spec.md section 4.4 requires loading to reject any
// payload containing a type tag outside a fixed allowlist, which a
// general decoder (gob, msgpack, protobuf-without-a-schema-check) cannot
// give us without additional validation wrapped around it anyway. Hand
// rolling the tag check directly is simpler than validating a general
// decoder's output after the fact.
package snapshot

import (
	"encoding/binary"
	"io"

	"golang.org/x/crypto/blake2b"

	"github.com/jguida941/adhash/shared"
)

// Magic is the frame's fixed 8-byte identifier, spec.md section 4.4.
const Magic = "ADHSNAP1"

// Version is the only frame version this package knows how to read.
const Version uint16 = 1

// Flag bits within the header's single flags byte.
const (
	FlagGzip byte = 1 << 0
)

const checksumLen = 32
const headerLen = 8 + 2 + 1 + 1 + 2 + 8 + checksumLen // 54

// header is the fixed 54-byte frame header preceding the payload.
type header struct {
	version     uint16
	flags       byte
	checksumLen uint16
	payloadLen  uint64
	checksum    [checksumLen]byte
}

func (h header) encode() []byte {
	buf := make([]byte, headerLen)
	copy(buf[0:8], Magic)
	binary.BigEndian.PutUint16(buf[8:10], h.version)
	buf[10] = h.flags
	buf[11] = 0 // reserved
	binary.BigEndian.PutUint16(buf[12:14], h.checksumLen)
	binary.BigEndian.PutUint64(buf[14:22], h.payloadLen)
	copy(buf[22:54], h.checksum[:])
	return buf
}

func decodeHeader(buf []byte) (header, *shared.BadSnapshotError) {
	if len(buf) < headerLen {
		return header{}, &shared.BadSnapshotError{Reason: shared.ReasonStructure, Detail: "header truncated"}
	}
	if string(buf[0:8]) != Magic {
		return header{}, &shared.BadSnapshotError{Reason: shared.ReasonMagic, Detail: "bad magic"}
	}
	var h header
	h.version = binary.BigEndian.Uint16(buf[8:10])
	if h.version != Version {
		return header{}, &shared.BadSnapshotError{Reason: shared.ReasonVersion, Detail: "unsupported version"}
	}
	h.flags = buf[10]
	if h.flags&^FlagGzip != 0 {
		return header{}, &shared.BadSnapshotError{Reason: shared.ReasonFlags, Detail: "reserved flag bits set"}
	}
	h.checksumLen = binary.BigEndian.Uint16(buf[12:14])
	if h.checksumLen != checksumLen {
		return header{}, &shared.BadSnapshotError{Reason: shared.ReasonStructure, Detail: "unsupported checksum length"}
	}
	h.payloadLen = binary.BigEndian.Uint64(buf[14:22])
	copy(h.checksum[:], buf[22:54])
	return h, nil
}

func checksum(payload []byte) [checksumLen]byte {
	return blake2b.Sum256(payload)
}

// writeFull is a small io.Writer helper that treats a short write as an
// error, matching the teacher's habit of never trusting a single Write
// call to have flushed everything.
func writeFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}
