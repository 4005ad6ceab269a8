package rtmp

import "sync/atomic"

// Page is a single fixed-capacity buffer owned by a PagePool. It is the
// external page-pool collaborator spec.md §5 describes: reference
// counted so a prechunked payload can be shared across subscribers
// without copying. The teacher has no equivalent (it keeps plain
// []byte payloads and copies them per subscriber in RTMPPacket.CreateChunks);
// this follows original_source/moment's PagePool/msg_ref/msg_unref contract.
type Page struct {
	Data []byte // Data[:Len] is the valid region
	Len  int

	pool *PagePool
	refs int32
}

// Ref increments the page's reference count. Callers that retain a
// page without transferring ownership (the take_ownership=false case
// in spec.md §5) must call Ref.
func (p *Page) Ref() {
	atomic.AddInt32(&p.refs, 1)
}

// Unref decrements the reference count, returning the page to the pool
// once it reaches zero.
func (p *Page) Unref() {
	if atomic.AddInt32(&p.refs, -1) == 0 && p.pool != nil {
		p.pool.put(p)
	}
}

// PageList is an ordered, owned chain of pages making up one message's
// payload (or a prechunked byte stream including continuation
// headers). A nil PageList is valid and represents zero bytes.
type PageList struct {
	pages []*Page
}

// Len returns the total number of valid bytes across all pages.
func (l *PageList) Len() int {
	n := 0
	for _, p := range l.pages {
		n += p.Len
	}
	return n
}

// Append copies b into the list, pulling pages from pool as needed.
func (l *PageList) Append(pool *PagePool, b []byte) {
	for len(b) > 0 {
		last := l.lastPageWithRoom()
		if last == nil {
			last = pool.get()
			l.pages = append(l.pages, last)
		}
		n := copy(last.Data[last.Len:], b)
		last.Len += n
		b = b[n:]
	}
}

func (l *PageList) lastPageWithRoom() *Page {
	if len(l.pages) == 0 {
		return nil
	}
	last := l.pages[len(l.pages)-1]
	if last.Len < len(last.Data) {
		return last
	}
	return nil
}

// Bytes flattens the list into a single contiguous slice. The inbound
// demultiplexer uses it for every completed message's payload and
// prechunked copy, and the outbound path uses it to hand serialized
// chunks to the Transport.
func (l *PageList) Bytes() []byte {
	out := make([]byte, 0, l.Len())
	for _, p := range l.pages {
		out = append(out, p.Data[:p.Len]...)
	}
	return out
}

// UnrefAll releases every page in the list.
func (l *PageList) UnrefAll() {
	for _, p := range l.pages {
		p.Unref()
	}
	l.pages = nil
}

// PagePool allocates fixed-size, reference-counted Pages. It is
// unbounded and GC-backed, and one pool may be shared across
// connections. It is a concrete type, not an interface: NewConnection
// and the demultiplexer take a *PagePool, so no other pool
// implementation can be plugged in.
type PagePool struct {
	pageSize int
}

// NewPagePool creates a pool that hands out pages of pageSize bytes.
func NewPagePool(pageSize int) *PagePool {
	if pageSize <= 0 {
		pageSize = 4096
	}
	return &PagePool{pageSize: pageSize}
}

func (pp *PagePool) get() *Page {
	return &Page{Data: make([]byte, pp.pageSize), refs: 1, pool: pp}
}

func (pp *PagePool) put(p *Page) {
	p.Len = 0
	// No freelist: left to the garbage collector. A production page
	// pool would return p.Data to a sync.Pool keyed by pp.pageSize;
	// omitted here because spec.md treats the pool as an external
	// collaborator and this reference implementation only needs to be
	// correct, not allocation-free.
}
