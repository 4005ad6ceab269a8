package rtmp

// timestampGreater reports whether a is "later" than b under RTMP's
// 32-bit wraparound timestamp arithmetic: a > b iff (a - b) mod 2^32
// lies in (0, 2^31), i.e. a naive a > b comparison is wrong once either
// value wraps past 0xFFFFFFFF. Grounded on original_source/moment's
// timestampGreater; the teacher never needed this because it always
// emits Type-0 headers and never compares timestamps across messages.
func timestampGreater(a, b uint32) bool {
	d := a - b
	return d != 0 && d < 0x80000000
}

// outboundTimestampMangler rebases outbound timestamps so that the
// first non-zero timestamp submitted on a connection becomes zero
// (spec.md §4.1). It is connection-wide, not per chunk-stream.
type outboundTimestampMangler struct {
	armed bool
	base  uint32
}

// mangle returns the rebased timestamp for t, arming the rebase on the
// first non-zero call. A call with t == 0 before arming returns 0
// without arming the rebase, matching spec.md's stated behavior.
func (m *outboundTimestampMangler) mangle(t uint32) uint32 {
	if !m.armed {
		if t == 0 {
			return 0
		}
		m.base = t
		m.armed = true
		return 0
	}
	if t >= m.base {
		return t - m.base
	}
	return 0
}
