package server

import (
	"encoding/binary"
	"testing"
)

func TestBuildFlvTagAudio(t *testing.T) {
	payload := []byte{0xAF, 0x01, 0x02, 0x03}
	tag := buildFlvTag(false, 0x01020304, payload)

	if tag[0] != flvTagAudio {
		t.Fatalf("tag type = %d, want %d", tag[0], flvTagAudio)
	}

	dataSize := uint32(tag[1])<<16 | uint32(tag[2])<<8 | uint32(tag[3])
	if int(dataSize) != len(payload) {
		t.Fatalf("data size = %d, want %d", dataSize, len(payload))
	}

	ts := uint32(tag[4])<<16 | uint32(tag[5])<<8 | uint32(tag[6]) | uint32(tag[7])<<24
	if ts != 0x01020304 {
		t.Fatalf("timestamp = %#x, want %#x", ts, 0x01020304)
	}

	if string(tag[11:11+len(payload)]) != string(payload) {
		t.Fatalf("payload mismatch")
	}

	prevTagSize := binary.BigEndian.Uint32(tag[11+len(payload):])
	if int(prevTagSize) != 11+len(payload) {
		t.Fatalf("previous tag size = %d, want %d", prevTagSize, 11+len(payload))
	}
}

func TestBuildFlvTagVideo(t *testing.T) {
	tag := buildFlvTag(true, 0, []byte{0x17, 0x00})
	if tag[0] != flvTagVideo {
		t.Fatalf("tag type = %d, want %d", tag[0], flvTagVideo)
	}
}
