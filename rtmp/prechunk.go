package rtmp

// prechunkContext tracks the fragment offset for one in-flight
// prechunking pass (spec.md §3 PrechunkContext). Its lifetime is a
// single message; it is never shared between messages (spec.md §8
// scenario S6).
type prechunkContext struct {
	offset  uint32 // in [0, size)
	started bool   // true once the first byte of the message has been emitted
}

// prechunk splits mem into chunkSize-byte fragments, inserting a
// single-byte Type-3 continuation header (spec.md §4.3) before every
// fragment after the first when firstChunk is true. It assumes
// 2 <= chunkStreamID <= 63 for the continuation header byte — wider
// IDs are a known simplification inherited from spec.md §4.3/§9.
//
// The disabled "uniform prechunking" path (a 5-byte continuation
// header carrying an extended timestamp) is intentionally not
// implemented; messages whose timestamp would require it go through
// the serializer's fix-header workaround instead (serializer.go).
func prechunk(pool *PagePool, out *PageList, ctx *prechunkContext, chunkStreamID uint32, chunkSize uint32, mem []byte, firstChunk bool) {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}

	continuationHeader := []byte{0xC0 | byte(chunkStreamID&0x3f)}

	total := 0
	for total < len(mem) {
		if ctx.offset == 0 && ctx.started && firstChunk {
			out.Append(pool, continuationHeader)
		}

		room := int(chunkSize - ctx.offset)
		remaining := len(mem) - total
		n := room
		if n > remaining {
			n = remaining
		}

		out.Append(pool, mem[total:total+n])
		total += n
		ctx.started = true

		ctx.offset = (ctx.offset + uint32(n)) % chunkSize
	}
}
