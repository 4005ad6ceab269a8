package rtmp

import "encoding/binary"

// encodeBasicHeader serializes the 1/2/3-byte basic header for fmt and
// chunk-stream-id (spec.md §4.4). IDs 2..63 use the 1-byte form, 64..319
// the 2-byte extended form (cid = 64 + b[1]), and 320..65599 the 3-byte
// extended form (cid = 64 + b[1] + b[2]*256) — the full range spec.md
// §9 flags as "untested in the source"; this implementation supports
// it on both the encode and decode side.
func encodeBasicHeader(fmtType byte, cid uint32) []byte {
	switch {
	case cid >= 64+256:
		v := cid - 64
		return []byte{fmtType<<6 | 1, byte(v), byte(v >> 8)}
	case cid >= 64:
		return []byte{fmtType << 6, byte(cid - 64)}
	default:
		return []byte{fmtType<<6 | byte(cid)}
	}
}

// basicHeaderLen returns the total basic header length (1, 2, or 3
// bytes, including the byte already read), given its first byte.
func basicHeaderLen(firstByte byte) int {
	switch firstByte & 0x3f {
	case 0:
		return 2
	case 1:
		return 3
	default:
		return 1
	}
}

// decodeBasicHeader parses a complete basic header (1/2/3 bytes,
// already fully buffered by the caller) and returns fmt and cid.
func decodeBasicHeader(b []byte) (fmtType byte, cid uint32) {
	fmtType = b[0] >> 6
	switch len(b) {
	case 2:
		cid = 64 + uint32(b[1])
	case 3:
		cid = 64 + uint32(b[1]) + uint32(b[2])<<8
	default:
		cid = uint32(b[0] & 0x3f)
	}
	return fmtType, cid
}

// encodeMessageHeader writes the Type-0/1/2/3 message header fields
// (timestamp/delta, length, type id, and for Type-0 the little-endian
// stream id — spec.md §4.4's deliberate spec deviation). ts is the
// compact 3-byte field to write (callers pass extendedTimestampSentinel
// when the real value needs the extended-timestamp field).
func encodeMessageHeader(fmtType byte, ts uint32, msgLen uint32, msgTypeID byte, msgStreamID uint32) []byte {
	out := make([]byte, 0, 11)

	if fmtType <= ChunkType2 {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], ts)
		out = append(out, b[1:]...)
	}

	if fmtType <= ChunkType1 {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], msgLen)
		out = append(out, b[1:]...)
		out = append(out, msgTypeID)
	}

	if fmtType == ChunkType0 {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], msgStreamID)
		out = append(out, b[:]...)
	}

	return out
}

// decodeMessageHeader reads the Type-0/1/2/3 fields for fmtType out of
// b (which must be exactly chunkHeaderSize[fmtType] bytes), applying
// them onto cs. It returns the compact timestamp/delta field as read
// (the caller checks it against extendedTimestampSentinel).
func decodeMessageHeader(cs *ChunkStream, fmtType byte, b []byte) (compactTS uint32) {
	off := 0

	if fmtType <= ChunkType2 {
		compactTS = uint32(b[off])<<16 | uint32(b[off+1])<<8 | uint32(b[off+2])
		off += 3
		if fmtType == ChunkType0 {
			cs.InTimestamp = compactTS
		} else {
			cs.InTimestampDelta = compactTS
		}
	}

	if fmtType <= ChunkType1 {
		cs.InMsgLen = uint32(b[off])<<16 | uint32(b[off+1])<<8 | uint32(b[off+2])
		cs.InMsgTypeID = b[off+3]
		off += 4
	}

	if fmtType == ChunkType0 {
		cs.InMsgStreamID = binary.LittleEndian.Uint32(b[off : off+4])
	}

	return compactTS
}
