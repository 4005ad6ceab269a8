package rtmp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
)

// Handshake digest scheme selected by a C1 signature (spec.md §4.6).
const (
	schemePlain = iota // no digest found: fall back to the plain (unsigned) handshake
	scheme0            // digest offset at bytes [772:776]
	scheme1            // digest offset at bytes [8:12]
)

func calcHmac(message []byte, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	return h.Sum(nil)
}

func compareDigests(a, b []byte) bool {
	return hmac.Equal(a, b)
}

// digestOffsetScheme0 and digestOffsetScheme1 locate the 32-byte digest
// within a 1536-byte C1/S1 signature for each scheme (spec.md §4.6).
func digestOffsetScheme0(sig []byte) uint32 {
	sum := uint32(sig[772]) + uint32(sig[773]) + uint32(sig[774]) + uint32(sig[775])
	return (sum % 728) + 776
}

func digestOffsetScheme1(sig []byte) uint32 {
	sum := uint32(sig[8]) + uint32(sig[9]) + uint32(sig[10]) + uint32(sig[11])
	return (sum % 728) + 12
}

// digestMessage returns sig with its 32-byte digest field at offset
// removed, for feeding to calcHmac.
func digestMessage(sig []byte, offset uint32) []byte {
	msg := make([]byte, 0, len(sig)-sha256DigestLen)
	msg = append(msg, sig[:offset]...)
	msg = append(msg, sig[offset+sha256DigestLen:]...)
	return msg
}

// detectScheme inspects a C1 signature's digest at both candidate
// offsets (scheme 1 first, then scheme 0, per spec.md §4.6) and returns
// which one verifies against the Flash Player key, or schemePlain if
// neither does.
func detectScheme(c1 []byte) int {
	if off := digestOffsetScheme1(c1); verifyDigest(c1, off, GenuineFPKey) {
		return scheme1
	}
	if off := digestOffsetScheme0(c1); verifyDigest(c1, off, GenuineFPKey) {
		return scheme0
	}
	return schemePlain
}

func verifyDigest(sig []byte, offset uint32, key string) bool {
	if int(offset)+sha256DigestLen > len(sig) {
		return false
	}
	msg := digestMessage(sig, offset)
	computed := calcHmac(msg, []byte(key))
	provided := sig[offset : offset+sha256DigestLen]
	return compareDigests(computed, provided)
}

// generateServerS1 builds S1 (spec.md §4.6), signing it with the short
// 36-byte GenuineFMSConst at the same digest offset convention the
// detected scheme uses — S2's challenge-key HMAC is keyed with the full
// 68-byte GenuineFMSKey instead (generateServerS2 below); the two are
// not interchangeable.
func generateServerS1(scheme int) ([]byte, error) {
	s1 := make([]byte, handshakeSigSize)
	copy(s1[0:8], []byte{0, 0, 0, 0, 1, 2, 3, 4})
	if _, err := rand.Read(s1[8:]); err != nil {
		return nil, wrapProtocolError("handshake RNG failure", err)
	}

	var offset uint32
	if scheme == scheme1 {
		offset = digestOffsetScheme1(s1)
	} else {
		offset = digestOffsetScheme0(s1)
	}

	msg := digestMessage(s1, offset)
	sig := calcHmac(msg, GenuineFMSConst)
	copy(s1[offset:offset+sha256DigestLen], sig)

	return s1, nil
}

// generateServerS2 builds S2 (spec.md §4.6): a signed echo of the
// client's random handshake key, proving possession of GenuineFMSKey.
func generateServerS2(scheme int, c1 []byte) ([]byte, error) {
	s2 := make([]byte, handshakeSigSize)
	if _, err := rand.Read(s2); err != nil {
		return nil, wrapProtocolError("handshake RNG failure", err)
	}

	var offset uint32
	if scheme == scheme1 {
		offset = digestOffsetScheme1(c1)
	} else {
		offset = digestOffsetScheme0(c1)
	}
	challengeKey := c1[offset : offset+sha256DigestLen]

	tempKey := calcHmac(challengeKey, GenuineFMSKey)
	signature := calcHmac(s2[:handshakeSigSize-sha256DigestLen], tempKey)
	copy(s2[handshakeSigSize-sha256DigestLen:], signature)

	return s2, nil
}

// ServerHandshakeResult reports what the server handshake negotiated.
type ServerHandshakeResult struct {
	Scheme int // schemePlain, scheme0, or scheme1
}

// RunServerHandshake performs the S0/S1/S2 <-> C0/C1/C2 exchange for an
// inbound connection (spec.md §4.6). read must return exactly n bytes or
// an error; write must send all of b or return an error.
func RunServerHandshake(read func(n int) ([]byte, error), write func(b []byte) error) (ServerHandshakeResult, error) {
	c0, err := read(1)
	if err != nil {
		return ServerHandshakeResult{}, wrapProtocolError("reading C0", err)
	}
	if c0[0] != RTMPVersion {
		return ServerHandshakeResult{}, newProtocolError("unsupported handshake version")
	}

	c1, err := read(handshakeSigSize)
	if err != nil {
		return ServerHandshakeResult{}, wrapProtocolError("reading C1", err)
	}

	scheme := detectScheme(c1)

	s0 := []byte{RTMPVersion}
	if err := write(s0); err != nil {
		return ServerHandshakeResult{}, wrapProtocolError("writing S0", err)
	}

	if scheme == schemePlain {
		// Plain handshake: S1 is an unsigned echo shape, S2 echoes C1 verbatim.
		s1 := make([]byte, handshakeSigSize)
		copy(s1[0:8], []byte{0, 0, 0, 0, 1, 2, 3, 4})
		if _, err := rand.Read(s1[8:]); err != nil {
			return ServerHandshakeResult{}, wrapProtocolError("handshake RNG failure", err)
		}
		if err := write(s1); err != nil {
			return ServerHandshakeResult{}, wrapProtocolError("writing S1", err)
		}
		if err := write(c1); err != nil {
			return ServerHandshakeResult{}, wrapProtocolError("writing S2", err)
		}
	} else {
		s1, err := generateServerS1(scheme)
		if err != nil {
			return ServerHandshakeResult{}, err
		}
		s2, err := generateServerS2(scheme, c1)
		if err != nil {
			return ServerHandshakeResult{}, err
		}
		if err := write(s1); err != nil {
			return ServerHandshakeResult{}, wrapProtocolError("writing S1", err)
		}
		if err := write(s2); err != nil {
			return ServerHandshakeResult{}, wrapProtocolError("writing S2", err)
		}
	}

	if _, err := read(handshakeSigSize); err != nil { // C2, not validated: spec.md §9 Open Question
		return ServerHandshakeResult{}, wrapProtocolError("reading C2", err)
	}

	return ServerHandshakeResult{Scheme: scheme}, nil
}

// RunClientHandshake performs the handshake from the connecting-client
// side (spec.md §4.6's client role, used when this engine originates an
// outbound publish/play connection rather than accepting one).
func RunClientHandshake(read func(n int) ([]byte, error), write func(b []byte) error) error {
	c1 := make([]byte, handshakeSigSize)
	copy(c1[0:8], []byte{0, 0, 0, 0, 1, 2, 3, 4})
	if _, err := rand.Read(c1[8:]); err != nil {
		return wrapProtocolError("handshake RNG failure", err)
	}

	offset := digestOffsetScheme1(c1)
	msg := digestMessage(c1, offset)
	sig := calcHmac(msg, []byte(GenuineFPKey))
	copy(c1[offset:offset+sha256DigestLen], sig)

	if err := write(append([]byte{RTMPVersion}, c1...)); err != nil {
		return wrapProtocolError("writing C0C1", err)
	}

	s0, err := read(1)
	if err != nil {
		return wrapProtocolError("reading S0", err)
	}
	if s0[0] != RTMPVersion {
		return newProtocolError("unsupported handshake version")
	}

	s1, err := read(handshakeSigSize)
	if err != nil {
		return wrapProtocolError("reading S1", err)
	}

	if err := write(s1); err != nil { // C2 echoes S1, like the plain handshake path
		return wrapProtocolError("writing C2", err)
	}

	if _, err := read(handshakeSigSize); err != nil { // S2
		return wrapProtocolError("reading S2", err)
	}

	return nil
}
