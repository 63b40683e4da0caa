package snapshot

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/jguida941/adhash/shared"
)

// DumpOptions controls Dump's behavior.
type DumpOptions struct {
	// Compress gzip-compresses the payload and sets FlagGzip.
	Compress bool
}

// LoadOptions controls Load's behavior.
type LoadOptions struct {
	// MaxPayloadBytes bounds the payload size, checked both before and
	// after decompression (spec.md section 4.4's zip-bomb defense). Zero
	// means shared.DefaultMaxPayloadBytes.
	MaxPayloadBytes int64
}

// Dump serializes src as a framed, checksummed snapshot and writes it to
// w, returning the number of bytes written. Capture of src's state must
// happen behind a read barrier the caller holds for the duration of this
// call (spec.md section 4.4/5: "no concurrent mutation permitted during
// dump").
func Dump(w io.Writer, src Source, opts DumpOptions) (int64, error) {
	rawPayload := encodePayload(src)

	payload := rawPayload
	var flags byte
	if opts.Compress {
		var gz bytes.Buffer
		zw := gzip.NewWriter(&gz)
		if _, err := zw.Write(rawPayload); err != nil {
			return 0, err
		}
		if err := zw.Close(); err != nil {
			return 0, err
		}
		payload = gz.Bytes()
		flags |= FlagGzip
	}

	h := header{
		version:     Version,
		flags:       flags,
		checksumLen: checksumLen,
		payloadLen:  uint64(len(payload)),
		checksum:    checksum(payload),
	}

	headerBytes := h.encode()
	if err := writeFull(w, headerBytes); err != nil {
		return 0, err
	}
	if err := writeFull(w, payload); err != nil {
		return int64(len(headerBytes)), err
	}
	return int64(len(headerBytes) + len(payload)), nil
}

// Load reads a framed snapshot from r, verifying magic, version, flags,
// checksum, and the payload size cap before attempting to decode the
// restricted-allowlist payload.
func Load(r io.Reader, opts LoadOptions) (Loaded, error) {
	maxPayload := opts.MaxPayloadBytes
	if maxPayload == 0 {
		maxPayload = shared.DefaultMaxPayloadBytes
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return Loaded{}, &shared.BadSnapshotError{Reason: shared.ReasonStructure, Detail: "short header: " + err.Error()}
	}
	h, berr := decodeHeader(headerBytes)
	if berr != nil {
		return Loaded{}, berr
	}

	if int64(h.payloadLen) > maxPayload {
		return Loaded{}, &shared.BadSnapshotError{Reason: shared.ReasonPayloadSize, Detail: "payload exceeds cap before decompression"}
	}

	stored := make([]byte, h.payloadLen)
	if _, err := io.ReadFull(r, stored); err != nil {
		// A payload shorter than the header records cannot match its checksum.
		return Loaded{}, &shared.BadSnapshotError{Reason: shared.ReasonChecksum, Detail: "short payload: " + err.Error()}
	}

	got := checksum(stored)
	if !bytes.Equal(got[:], h.checksum[:]) {
		return Loaded{}, &shared.BadSnapshotError{Reason: shared.ReasonChecksum, Detail: "checksum mismatch"}
	}

	payload := stored
	if h.flags&FlagGzip != 0 {
		zr, err := gzip.NewReader(bytes.NewReader(stored))
		if err != nil {
			return Loaded{}, &shared.BadSnapshotError{Reason: shared.ReasonStructure, Detail: "bad gzip stream: " + err.Error()}
		}
		limited := io.LimitReader(zr, maxPayload+1)
		decompressed, err := io.ReadAll(limited)
		if err != nil {
			return Loaded{}, &shared.BadSnapshotError{Reason: shared.ReasonStructure, Detail: "gzip decode failed: " + err.Error()}
		}
		if int64(len(decompressed)) > maxPayload {
			return Loaded{}, &shared.BadSnapshotError{Reason: shared.ReasonPayloadSize, Detail: "payload exceeds cap after decompression"}
		}
		payload = decompressed
	}

	loaded, berr := decodePayload(payload, maxPayload)
	if berr != nil {
		return Loaded{}, berr
	}
	return loaded, nil
}
