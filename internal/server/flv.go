package server

import "encoding/binary"

// FLV tag type ids (the first byte of a tag body).
const (
	flvTagAudio = 8
	flvTagVideo = 9
)

// buildFlvTag frames one audio/video payload as an FLV tag plus its
// trailing PreviousTagSize field, adapted from the teacher's
// createFlvTag in flv.go for an optional future recording/dump path.
func buildFlvTag(isVideo bool, timestamp uint32, payload []byte) []byte {
	tagType := byte(flvTagAudio)
	if isVideo {
		tagType = flvTagVideo
	}

	dataSize := uint32(len(payload))
	tagSize := 11 + dataSize
	out := make([]byte, tagSize+4)

	out[0] = tagType

	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], dataSize)
	out[1] = lenBytes[1]
	out[2] = lenBytes[2]
	out[3] = lenBytes[3]

	out[4] = byte(timestamp >> 16)
	out[5] = byte(timestamp >> 8)
	out[6] = byte(timestamp)
	out[7] = byte(timestamp >> 24)

	out[8], out[9], out[10] = 0, 0, 0

	copy(out[11:11+dataSize], payload)

	binary.BigEndian.PutUint32(out[tagSize:], tagSize)

	return out
}
