package snapshot

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/jguida941/adhash/shared"
)

// EngineKind tags which engine a Source/Loaded snapshot describes. It is
// independent of supervisor.EngineKind to keep this package free of any
// dependency on the supervisor, which in turn depends on the two engine
// packages -- snapshot only needs to know the tag, not the type.
type EngineKind uint8

const (
	KindChaining EngineKind = iota
	KindRobinHood
)

// field tags. Decoding any tag not in this list is a hard error --
// spec.md section 4.4's "restricted allowlist" requirement. Adding a
// field later means adding a case to the switch in decodePayload, never
// reusing a retired tag value.
const (
	tagEngineKind      byte = 0x01
	tagCapacity        byte = 0x02
	tagSeed            byte = 0x03
	tagSize            byte = 0x04
	tagLoadHigh        byte = 0x05
	tagTombstoneRatio  byte = 0x06
	tagTombstoneCount  byte = 0x07
	tagEntries         byte = 0x08
	tagEnd             byte = 0xFF
)

// Source is what a caller dumps: a read-only description of an engine's
// current state, independent of whether it's backed by chaining or
// robinhood. Entries must enumerate exactly the live key/value pairs;
// Size must match the number of pairs Entries yields.
type Source struct {
	Kind           EngineKind
	Capacity       uint64
	Seed           uint64
	Size           uint64
	LoadHigh       float64
	TombstoneRatio float64 // meaningful only for KindRobinHood
	TombstoneCount uint64  // meaningful only for KindRobinHood; informational
	Entries        func(yield func(key, val []byte) bool) bool
}

// Loaded is what Load hands back: the same shape as Source, but with
// Entries materialized as a concrete slice (the frame has already been
// fully read off the wire by the time Load returns).
type Loaded struct {
	Kind           EngineKind
	Capacity       uint64
	Seed           uint64
	Size           uint64
	LoadHigh       float64
	TombstoneRatio float64
	TombstoneCount uint64
	Entries        [][2][]byte
}

func encodePayload(src Source) []byte {
	var buf bytes.Buffer

	writeTag := func(tag byte) { buf.WriteByte(tag) }
	writeU8 := func(v uint8) { buf.WriteByte(v) }
	writeU64 := func(v uint64) {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		buf.Write(b[:])
	}
	writeF64 := func(v float64) { writeU64(math.Float64bits(v)) }
	writeBytes := func(b []byte) {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(b)))
		buf.Write(l[:])
		buf.Write(b)
	}

	writeTag(tagEngineKind)
	writeU8(uint8(src.Kind))

	writeTag(tagCapacity)
	writeU64(src.Capacity)

	writeTag(tagSeed)
	writeU64(src.Seed)

	writeTag(tagSize)
	writeU64(src.Size)

	writeTag(tagLoadHigh)
	writeF64(src.LoadHigh)

	if src.Kind == KindRobinHood {
		writeTag(tagTombstoneRatio)
		writeF64(src.TombstoneRatio)

		writeTag(tagTombstoneCount)
		writeU64(src.TombstoneCount)
	}

	writeTag(tagEntries)
	var count uint64
	if src.Entries != nil {
		src.Entries(func(_, _ []byte) bool { count++; return false })
	}
	writeU64(count)
	if src.Entries != nil {
		src.Entries(func(key, val []byte) bool {
			writeBytes(key)
			writeBytes(val)
			return false
		})
	}

	writeTag(tagEnd)

	return buf.Bytes()
}

// decodePayload reconstructs a Loaded record from a payload byte stream,
// rejecting any tag outside the allowlist in the const block above.
// maxPayloadBytes is the same cap Load already enforced on the overall
// frame; fields that size an allocation (the entry count, the table
// capacity) are clamped against it too, so a forged field -- otherwise
// bounded only by its own 8 bytes, not by anything it actually has to pay
// for in the payload -- can't trigger an allocation wildly out of
// proportion to the data backing it (spec.md section 4.4's zip-bomb
// defense, applied to the fields that feed sizing decisions, not just to
// the frame's total byte count).
func decodePayload(buf []byte, maxPayloadBytes int64) (Loaded, *shared.BadSnapshotError) {
	var out Loaded
	r := bytes.NewReader(buf)
	badStructure := func(detail string) *shared.BadSnapshotError {
		return &shared.BadSnapshotError{Reason: shared.ReasonStructure, Detail: detail}
	}

	readTag := func() (byte, bool) {
		b, err := r.ReadByte()
		return b, err == nil
	}
	readU8 := func() (uint8, bool) {
		b, err := r.ReadByte()
		return b, err == nil
	}
	readU64 := func() (uint64, bool) {
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, false
		}
		return binary.BigEndian.Uint64(b[:]), true
	}
	readF64 := func() (float64, bool) {
		bits, ok := readU64()
		if !ok {
			return 0, false
		}
		return math.Float64frombits(bits), true
	}
	readBytes := func() ([]byte, bool) {
		var l [4]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return nil, false
		}
		n := binary.BigEndian.Uint32(l[:])
		// n is untrusted; a claimed length larger than what's actually
		// left in the reader would otherwise allocate up to 4 GiB before
		// io.ReadFull gets a chance to fail on the short read.
		if int64(n) > int64(r.Len()) {
			return nil, false
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, false
		}
		return b, true
	}

	for {
		tag, ok := readTag()
		if !ok {
			return out, badStructure("truncated payload: expected a tag")
		}
		switch tag {
		case tagEngineKind:
			v, ok := readU8()
			if !ok {
				return out, badStructure("truncated engine_kind")
			}
			out.Kind = EngineKind(v)
		case tagCapacity:
			v, ok := readU64()
			if !ok {
				return out, badStructure("truncated capacity")
			}
			if v > uint64(maxPayloadBytes) {
				return out, badStructure("capacity implausible for payload cap")
			}
			out.Capacity = v
		case tagSeed:
			v, ok := readU64()
			if !ok {
				return out, badStructure("truncated seed")
			}
			out.Seed = v
		case tagSize:
			v, ok := readU64()
			if !ok {
				return out, badStructure("truncated size")
			}
			out.Size = v
		case tagLoadHigh:
			v, ok := readF64()
			if !ok {
				return out, badStructure("truncated load_high")
			}
			out.LoadHigh = v
		case tagTombstoneRatio:
			v, ok := readF64()
			if !ok {
				return out, badStructure("truncated tombstone_ratio")
			}
			out.TombstoneRatio = v
		case tagTombstoneCount:
			v, ok := readU64()
			if !ok {
				return out, badStructure("truncated tombstone_count")
			}
			out.TombstoneCount = v
		case tagEntries:
			count, ok := readU64()
			if !ok {
				return out, badStructure("truncated entries count")
			}
			// Every entry costs at least 8 bytes of framing (two 4-byte
			// length prefixes for a zero-length key/value pair); a count
			// claiming more entries than the remaining bytes could
			// possibly back is rejected before it ever sizes a
			// preallocation.
			const minBytesPerEntry = 8
			if count > uint64(r.Len())/minBytesPerEntry {
				return out, badStructure("entry count exceeds remaining payload length")
			}
			entries := make([][2][]byte, 0, count)
			for i := uint64(0); i < count; i++ {
				key, ok := readBytes()
				if !ok {
					return out, badStructure("truncated entry key")
				}
				val, ok := readBytes()
				if !ok {
					return out, badStructure("truncated entry value")
				}
				entries = append(entries, [2][]byte{key, val})
			}
			out.Entries = entries
		case tagEnd:
			if uint64(len(out.Entries)) != out.Size {
				return out, badStructure("size does not match entry count")
			}
			return out, nil
		default:
			return out, &shared.BadSnapshotError{Reason: shared.ReasonDisallowedTag, Detail: "unknown field tag"}
		}
	}
}
