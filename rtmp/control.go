package rtmp

import "encoding/binary"

// Stream Status (User Control StreamBegin/EOF/etc.) event codes carried
// as the first 2 bytes of a MsgUserControl payload — see constants.go's
// UserControl* consts for the values themselves; this file builds the
// wire bytes.

// encodeAck builds the Protocol Control Acknowledgement message
// (spec.md §4.7), sent on chunk-stream 2, message stream 0, as a fixed
// 4-byte Type-0 chunk — small enough that building the literal bytes
// directly is simpler than routing it through the general serializer.
func encodeAck(bytesReceived uint32) []byte {
	b := []byte{
		0x02, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x04, MsgAck,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	binary.BigEndian.PutUint32(b[12:16], bytesReceived)
	return b
}

// encodeWindowAckSize builds the Window Acknowledgement Size message.
func encodeWindowAckSize(size uint32) []byte {
	b := []byte{
		0x02, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x04, MsgWindowAckSize,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	binary.BigEndian.PutUint32(b[12:16], size)
	return b
}

// Peer bandwidth limit types (spec.md §4.7).
const (
	LimitHard    = 0
	LimitSoft    = 1
	LimitDynamic = 2
)

// encodeSetPeerBandwidth builds the Set Peer Bandwidth message.
func encodeSetPeerBandwidth(size uint32, limitType byte) []byte {
	b := []byte{
		0x02, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x05, MsgSetPeerBandwidth,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00,
	}
	binary.BigEndian.PutUint32(b[12:16], size)
	b[16] = limitType
	return b
}

// encodeStreamStatus builds a User Control StreamBegin/StreamEOF/etc.
// message (spec.md §4.8) for the given event and message-stream-id.
func encodeStreamStatus(event uint16, msgStreamID uint32) []byte {
	b := []byte{
		0x02, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x06, MsgUserControl,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	binary.BigEndian.PutUint16(b[12:14], event)
	binary.BigEndian.PutUint32(b[14:18], msgStreamID)
	return b
}

// encodePingRequest builds a PingRequest User Control message stamped
// with the connection-relative timestamp (spec.md §4.8; big-endian, per
// DESIGN.md's Open Question decision — the teacher's own PingRequest
// encode is already big-endian and conformant).
func encodePingRequest(timestamp uint32) []byte {
	b := []byte{
		0x02, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x06, MsgUserControl,
		0x00, 0x00, 0x00, 0x00,
		0x00, UserControlPingRequest,
		0x00, 0x00, 0x00, 0x00,
	}
	binary.BigEndian.PutUint32(b[14:18], timestamp)
	return b
}

// encodePingResponse builds a PingResponse User Control message echoing
// the timestamp carried by the PingRequest it answers (spec.md §4.8).
func encodePingResponse(timestamp uint32) []byte {
	b := []byte{
		0x02, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x06, MsgUserControl,
		0x00, 0x00, 0x00, 0x00,
		0x00, UserControlPingResponse,
		0x00, 0x00, 0x00, 0x00,
	}
	binary.BigEndian.PutUint32(b[14:18], timestamp)
	return b
}

// isPingResponse reports whether a decoded User Control event/data pair
// is the PingResponse to a PingRequest this engine sent (spec.md §4.8
// keepalive bookkeeping).
func isPingResponse(event uint16) bool {
	return event == UserControlPingResponse
}

// isPingRequest reports whether a decoded User Control event is an
// inbound PingRequest this engine must answer with PingResponse
// (spec.md §4.8).
func isPingRequest(event uint16) bool {
	return event == UserControlPingRequest
}
